package models

import "testing"

func validSpec() RenderSpec {
	return RenderSpec{
		SourceAssetURL:  "https://cdn.example.com/poster/p1.json",
		OutputKind:      OutputKindReel,
		DurationSeconds: 30,
		FPS:             30,
		Width:           1080,
		Height:          1920,
	}
}

func TestSpecValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s := validSpec()
		if field, msg, ok := s.Validate(); !ok {
			t.Errorf("expected valid spec, got %s: %s", field, msg)
		}
	})

	tests := []struct {
		name   string
		mutate func(*RenderSpec)
		field  string
	}{
		{"missing source", func(s *RenderSpec) { s.SourceAssetURL = "" }, "source_asset_url"},
		{"relative source", func(s *RenderSpec) { s.SourceAssetURL = "/local/file.json" }, "source_asset_url"},
		{"unknown kind", func(s *RenderSpec) { s.OutputKind = "billboard" }, "output_kind"},
		{"zero duration", func(s *RenderSpec) { s.DurationSeconds = 0 }, "duration_seconds"},
		{"negative duration", func(s *RenderSpec) { s.DurationSeconds = -5 }, "duration_seconds"},
		{"over max duration", func(s *RenderSpec) { s.DurationSeconds = MaxDurationSeconds + 1 }, "duration_seconds"},
		{"fps too high", func(s *RenderSpec) { s.FPS = MaxFPS + 1 }, "fps"},
		{"relative image url", func(s *RenderSpec) { s.ImageURLs = []string{"img/logo.png"} }, "image_urls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			tt.mutate(&s)
			field, _, ok := s.Validate()
			if ok {
				t.Fatal("expected validation to fail")
			}
			if field != tt.field {
				t.Errorf("expected field=%s, got %s", tt.field, field)
			}
		})
	}
}

func TestSpecCost(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		width    int
		height   int
		want     int64
	}{
		{"short clip one block", 5, 1080, 608, 1},
		{"exact block boundary", 15, 1080, 608, 1},
		{"just over a block", 15.1, 1080, 608, 2},
		{"two blocks", 30, 1080, 608, 2},
		{"hd doubles", 30, 1920, 1080, 4},
		{"portrait hd doubles", 30, 1080, 1920, 4},
		{"at threshold not doubled", 16, 1280, 720, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSpec()
			s.DurationSeconds = tt.duration
			s.Width = tt.width
			s.Height = tt.height
			if got := s.Cost(); got != tt.want {
				t.Errorf("Cost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSpecCostIsDeterministic(t *testing.T) {
	s := validSpec()
	first := s.Cost()
	for i := 0; i < 5; i++ {
		if s.Cost() != first {
			t.Fatal("cost must be stable for the same spec")
		}
	}
}

func TestFrameCount(t *testing.T) {
	s := validSpec()
	s.DurationSeconds = 10
	s.FPS = 30
	if got := s.FrameCount(); got != 300 {
		t.Errorf("FrameCount() = %d, want 300", got)
	}

	s.FPS = 0 // defaults to 30
	if got := s.FrameCount(); got != 300 {
		t.Errorf("FrameCount() with default fps = %d, want 300", got)
	}

	s.DurationSeconds = 1.5
	s.FPS = 24
	if got := s.FrameCount(); got != 36 {
		t.Errorf("FrameCount() = %d, want 36", got)
	}
}

func TestPartitionFrames(t *testing.T) {
	t.Run("even split", func(t *testing.T) {
		parts := PartitionFrames(300, 100)
		if len(parts) != 3 {
			t.Fatalf("expected 3 partitions, got %d", len(parts))
		}
		for i, p := range parts {
			if p.Index != i {
				t.Errorf("partition %d has index %d", i, p.Index)
			}
			if p.End-p.Start != 100 {
				t.Errorf("partition %d has size %d", i, p.End-p.Start)
			}
		}
	})

	t.Run("remainder", func(t *testing.T) {
		parts := PartitionFrames(250, 100)
		if len(parts) != 3 {
			t.Fatalf("expected 3 partitions, got %d", len(parts))
		}
		last := parts[len(parts)-1]
		if last.Start != 200 || last.End != 250 {
			t.Errorf("last partition = [%d,%d), want [200,250)", last.Start, last.End)
		}
	})

	t.Run("covers every frame exactly once", func(t *testing.T) {
		parts := PartitionFrames(1234, 150)
		next := 0
		for _, p := range parts {
			if p.Start != next {
				t.Fatalf("gap or overlap at frame %d", p.Start)
			}
			next = p.End
		}
		if next != 1234 {
			t.Errorf("partitions end at %d, want 1234", next)
		}
	})

	t.Run("degenerate inputs", func(t *testing.T) {
		if PartitionFrames(0, 100) != nil {
			t.Error("expected nil for zero frames")
		}
		if PartitionFrames(100, 0) != nil {
			t.Error("expected nil for zero chunk size")
		}
	})
}
