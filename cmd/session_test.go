package cmd

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestRenderMeter(t *testing.T) {
	tests := []struct {
		db         float64
		wantFilled int
		wantLabel  string
	}{
		{0, meterWidth, "0.0 dB"},
		{-30, meterWidth / 2, "-30.0 dB"},
		{-60, 0, "-inf dB"},
		{-160, 0, "-inf dB"},
		{3, meterWidth, "3.0 dB"},
	}

	for _, tt := range tests {
		got := renderMeter(tt.db)
		if filled := strings.Count(got, "#"); filled != tt.wantFilled {
			t.Errorf("renderMeter(%v) filled = %d, want %d (%q)", tt.db, filled, tt.wantFilled, got)
		}
		if !strings.HasSuffix(got, tt.wantLabel) {
			t.Errorf("renderMeter(%v) = %q, want suffix %q", tt.db, got, tt.wantLabel)
		}
	}
}

func TestValidatePipeline(t *testing.T) {
	defer func(old string) { pipeline = old }(pipeline)

	for _, valid := range []string{"", "r", "rp", "RRP", "p"} {
		pipeline = valid
		if err := validatePipeline(); err != nil {
			t.Errorf("validatePipeline(%q) returned error: %v", valid, err)
		}
	}

	for _, invalid := range []string{"m", "rmp", "x"} {
		pipeline = invalid
		if err := validatePipeline(); err == nil {
			t.Errorf("validatePipeline(%q) expected error", invalid)
		}
	}
}

func TestExecutePipelineWithoutStep(t *testing.T) {
	defer func(old string) { pipeline = old }(pipeline)

	pipeline = "p"
	if err := executePipeline(nil, 'r'); err == nil {
		t.Error("expected error when the pipeline does not contain the starting step")
	}

	pipeline = "r"
	if err := executePipeline(nil, 'r'); err != nil {
		t.Errorf("expected no remaining steps, got %v", err)
	}
}

func TestLineWatcherServesConsecutiveRecordings(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	watcher := newLineWatcher(r)

	// Each recording waits on the same reader; the second Enter must reach
	// the second recording.
	for i := 0; i < 2; i++ {
		enter := watcher.C()
		watcher.reset()
		go w.Write([]byte("\n"))

		select {
		case <-enter:
		case <-time.After(time.Second):
			t.Fatalf("recording %d did not see Enter", i+1)
		}
	}
}

func TestLineWatcherResetDropsStaleLine(t *testing.T) {
	watcher := newLineWatcher(strings.NewReader("\n"))
	enter := watcher.C()

	deadline := time.After(time.Second)
	for len(enter) == 0 {
		select {
		case <-deadline:
			t.Fatal("line was never read")
		case <-time.After(time.Millisecond):
		}
	}

	watcher.reset()
	select {
	case <-enter:
		t.Fatal("stale line stopped the next recording")
	case <-time.After(20 * time.Millisecond):
	}
}
