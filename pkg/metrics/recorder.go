// Package metrics records per-dataset generation statistics and renders
// them in Prometheus text exposition format, suitable for a textfile
// collector or for inclusion in evaluation reports.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

type datasetStats struct {
	generations float64
	failures    float64
	chars       float64
	seconds     float64
}

// Recorder accumulates generation statistics keyed by dataset. It is safe
// for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	datasets map[string]*datasetStats
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{datasets: make(map[string]*datasetStats)}
}

func (r *Recorder) stats(dataset string) *datasetStats {
	stats, ok := r.datasets[dataset]
	if !ok {
		stats = &datasetStats{}
		r.datasets[dataset] = stats
	}
	return stats
}

// RecordGeneration records one successful generation.
func (r *Recorder) RecordGeneration(dataset string, chars int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats(dataset)
	stats.generations++
	stats.chars += float64(chars)
	stats.seconds += latency.Seconds()
}

// RecordFailure records one failed generation.
func (r *Recorder) RecordFailure(dataset string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats(dataset).failures++
}

// WriteTo renders the accumulated statistics in Prometheus text format.
func (r *Recorder) WriteTo(w io.Writer) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	collect := func(value func(*datasetStats) float64) []*dto.Metric {
		metrics := make([]*dto.Metric, 0, len(names))
		for _, name := range names {
			metrics = append(metrics, &dto.Metric{
				Label: []*dto.LabelPair{{
					Name:  proto.String("dataset"),
					Value: proto.String(name),
				}},
				Counter: &dto.Counter{Value: proto.Float64(value(r.datasets[name]))},
			})
		}
		return metrics
	}
	families := []*dto.MetricFamily{
		counterFamily("llava_generations_total",
			"Completed generations per dataset.",
			collect(func(s *datasetStats) float64 { return s.generations })),
		counterFamily("llava_generation_failures_total",
			"Failed generations per dataset.",
			collect(func(s *datasetStats) float64 { return s.failures })),
		counterFamily("llava_generated_chars_total",
			"Characters of generated text per dataset.",
			collect(func(s *datasetStats) float64 { return s.chars })),
		counterFamily("llava_generation_seconds_total",
			"Wall-clock generation time per dataset.",
			collect(func(s *datasetStats) float64 { return s.seconds })),
	}
	r.mu.Unlock()

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return fmt.Errorf("encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}

func counterFamily(name, help string, metrics []*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: metrics,
	}
}
