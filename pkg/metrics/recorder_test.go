package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRecorderExportsTextFormat(t *testing.T) {
	recorder := NewRecorder()
	recorder.RecordGeneration("MMBench_DEV_EN", 12, 500*time.Millisecond)
	recorder.RecordGeneration("MMBench_DEV_EN", 8, 250*time.Millisecond)
	recorder.RecordGeneration("MME", 3, 100*time.Millisecond)
	recorder.RecordFailure("MME")

	var out strings.Builder
	if err := recorder.WriteTo(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := out.String()

	for _, want := range []string{
		`llava_generations_total{dataset="MMBench_DEV_EN"} 2`,
		`llava_generations_total{dataset="MME"} 1`,
		`llava_generation_failures_total{dataset="MME"} 1`,
		`llava_generated_chars_total{dataset="MMBench_DEV_EN"} 20`,
		`llava_generation_seconds_total{dataset="MMBench_DEV_EN"} 0.75`,
		"# TYPE llava_generations_total counter",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRecorderEmpty(t *testing.T) {
	var out strings.Builder
	if err := NewRecorder().WriteTo(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
}
