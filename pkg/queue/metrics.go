package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type queueMetrics struct {
	fills          prometheus.Counter
	subjectsDrawn  prometheus.Counter
	patchesSampled prometheus.Counter
	passes         prometheus.Counter
	buffered       prometheus.Gauge
	fillDuration   prometheus.Histogram
}

// newQueueMetrics creates the queue collectors. With a nil registerer the
// collectors still count but are not exported.
func newQueueMetrics(reg prometheus.Registerer, name string) *queueMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"queue": name}
	return &queueMetrics{
		fills: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "volpatch",
			Subsystem:   "queue",
			Name:        "fills_total",
			Help:        "Number of times the patch buffer was refilled.",
			ConstLabels: labels,
		}),
		subjectsDrawn: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "volpatch",
			Subsystem:   "queue",
			Name:        "subjects_drawn_total",
			Help:        "Subjects taken from the loader to fill the buffer.",
			ConstLabels: labels,
		}),
		patchesSampled: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "volpatch",
			Subsystem:   "queue",
			Name:        "patches_sampled_total",
			Help:        "Patches handed out to the consumer.",
			ConstLabels: labels,
		}),
		passes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "volpatch",
			Subsystem:   "queue",
			Name:        "subject_passes_total",
			Help:        "Passes started over the subject collection.",
			ConstLabels: labels,
		}),
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "volpatch",
			Subsystem:   "queue",
			Name:        "buffered_patches",
			Help:        "Patches currently waiting in the buffer.",
			ConstLabels: labels,
		}),
		fillDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "volpatch",
			Subsystem:   "queue",
			Name:        "fill_duration_seconds",
			Help:        "Time spent loading subjects and extracting patches per fill.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}
