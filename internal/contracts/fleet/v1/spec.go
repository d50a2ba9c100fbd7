// Package v1 defines the wire contract between the orchestrator and the
// render fleet.
package v1

// FramePartition is one frame-range chunk of the submitted plan.
type FramePartition struct {
	Index      int `json:"index"`
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`
}

// RenderSubmission is the single invocation covering a whole job. The fleet
// executes the partitions in parallel internally and reports aggregate
// status through the poll endpoint.
type RenderSubmission struct {
	JobID          string           `json:"job_id"`
	SourceAssetURL string           `json:"source_asset_url"`
	ImageURLs      []string         `json:"image_urls,omitempty"`
	AudioURL       string           `json:"audio_url,omitempty"`
	OutputKind     string           `json:"output_kind"`
	FPS            int              `json:"fps"`
	Params         map[string]any   `json:"params,omitempty"`
	Partitions     []FramePartition `json:"partitions"`
	Output         struct {
		VideoObjectKey string `json:"video_object_key"`
	} `json:"output"`
}

// RenderAck acknowledges a submission with the tracking handle used by all
// subsequent polls.
type RenderAck struct {
	RenderID  string `json:"render_id"`
	StatusURL string `json:"status_url"`
}

// RenderStatus is the fleet's aggregate view of a running render.
type RenderStatus struct {
	Done            bool    `json:"done"`
	Progress        float64 `json:"progress"`
	OutputKey       string  `json:"output_key,omitempty"`
	OutputSizeBytes int64   `json:"output_size_bytes,omitempty"`
	Error           string  `json:"error,omitempty"`
}
