package models

import (
	"math"
	"net/url"
	"strings"
)

// Output kinds the render fleet supports.
const (
	OutputKindReel   = "reel"
	OutputKindStory  = "story"
	OutputKindSquare = "square"
)

// Spec limits. Durations are in seconds.
const (
	MaxDurationSeconds = 180
	DefaultFPS         = 30
	MaxFPS             = 60

	// costBlockSeconds is the billing granularity: one credit per started
	// block of rendered video.
	costBlockSeconds = 15

	// hdPixelThreshold doubles the cost above 720p output.
	hdPixelThreshold = 1280 * 720
)

// RenderSpec describes what to render. It is set at admission and never
// mutated afterwards; Params is passed through to the fleet opaquely.
type RenderSpec struct {
	SourceAssetURL  string         `json:"source_asset_url"`
	OutputKind      string         `json:"output_kind"`
	DurationSeconds float64        `json:"duration_seconds"`
	FPS             int            `json:"fps,omitempty"`
	Width           int            `json:"width,omitempty"`
	Height          int            `json:"height,omitempty"`
	ImageURLs       []string       `json:"image_urls,omitempty"`
	AudioURL        string         `json:"audio_url,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
}

// Validate checks the structural envelope of the spec. It returns a field
// name and message for the first violation found, or ok=true.
func (s *RenderSpec) Validate() (field string, msg string, ok bool) {
	if strings.TrimSpace(s.SourceAssetURL) == "" {
		return "source_asset_url", "source asset is required", false
	}
	if u, err := url.Parse(s.SourceAssetURL); err != nil || u.Scheme == "" || u.Host == "" {
		return "source_asset_url", "source asset must be an absolute URL", false
	}
	switch s.OutputKind {
	case OutputKindReel, OutputKindStory, OutputKindSquare:
	default:
		return "output_kind", "unsupported output kind", false
	}
	if s.DurationSeconds <= 0 {
		return "duration_seconds", "duration must be positive", false
	}
	if s.DurationSeconds > MaxDurationSeconds {
		return "duration_seconds", "duration exceeds the maximum", false
	}
	if s.FPS < 0 || s.FPS > MaxFPS {
		return "fps", "fps out of range", false
	}
	for _, img := range s.ImageURLs {
		if u, err := url.Parse(img); err != nil || u.Scheme == "" || u.Host == "" {
			return "image_urls", "image references must be absolute URLs", false
		}
	}
	return "", "", true
}

// EffectiveFPS returns the frame rate the fleet will render at.
func (s *RenderSpec) EffectiveFPS() int {
	if s.FPS == 0 {
		return DefaultFPS
	}
	return s.FPS
}

// FrameCount returns the total frames this spec produces.
func (s *RenderSpec) FrameCount() int {
	return int(math.Ceil(s.DurationSeconds * float64(s.EffectiveFPS())))
}

// Cost returns the deterministic credit cost of rendering this spec: one
// credit per started 15-second block, doubled above 720p output.
func (s *RenderSpec) Cost() int64 {
	blocks := int64(math.Ceil(s.DurationSeconds / costBlockSeconds))
	if blocks < 1 {
		blocks = 1
	}
	if s.Width*s.Height > hdPixelThreshold {
		blocks *= 2
	}
	return blocks
}

// FramePartition is one bounded chunk of rendering work assigned to the
// fleet. End is exclusive.
type FramePartition struct {
	Index int `json:"index"`
	Start int `json:"start_frame"`
	End   int `json:"end_frame"`
}

// PartitionFrames splits totalFrames into fixed-size chunks of at most
// chunkSize frames. The chunk size is a configuration constant so worker
// invocation cost stays predictable.
func PartitionFrames(totalFrames, chunkSize int) []FramePartition {
	if totalFrames <= 0 || chunkSize <= 0 {
		return nil
	}

	parts := make([]FramePartition, 0, (totalFrames+chunkSize-1)/chunkSize)
	for start, i := 0, 0; start < totalFrames; start, i = start+chunkSize, i+1 {
		end := start + chunkSize
		if end > totalFrames {
			end = totalFrames
		}
		parts = append(parts, FramePartition{Index: i, Start: start, End: end})
	}
	return parts
}
