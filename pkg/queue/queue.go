// Package queue implements the patch queue used for patch-based training.
//
// A Queue keeps a buffer of patches. When the buffer runs dry it draws a
// batch of subjects from the dataset, extracts a fixed number of patches from
// each with a sampler, optionally shuffles the buffer, and goes on serving
// patches one at a time. Subject loading can run on a pool of goroutines; the
// sampling and the buffer itself live on the consumer's goroutine.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"volpatch/pkg/sampler"
	"volpatch/pkg/volume"
)

var (
	// ErrInvalidParams is returned by New for unusable parameters.
	ErrInvalidParams = errors.New("invalid queue parameters")

	// ErrEmpty is returned when a fill produces no patch at all.
	ErrEmpty = errors.New("queue is empty")

	// ErrClosed is returned by Get after Close.
	ErrClosed = errors.New("queue is closed")
)

// Params configures a Queue.
type Params struct {
	// MaxLength is the number of patches a fill aims for. It is a soft
	// target: subjects are drawn in whole multiples of SamplesPerVolume.
	MaxLength int

	// SamplesPerVolume is the number of patches extracted from each subject.
	SamplesPerVolume int

	// NumWorkers is the number of goroutines loading subjects. 0 loads them
	// synchronously inside Get.
	NumWorkers int

	// ShuffleSubjects draws subjects in a new random order on every pass.
	ShuffleSubjects bool

	// ShufflePatches permutes the buffer after each fill.
	ShufflePatches bool

	// Rand is the random source for both shuffles. When nil, one is seeded
	// from Seed.
	Rand *rand.Rand
	Seed uint64

	// Name labels the queue's metrics.
	Name string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the queue metrics. Nil keeps them unexported.
	Registerer prometheus.Registerer
}

// State is the phase of the current fill cycle.
type State int

const (
	StateEmpty State = iota
	StateDrawingSubjects
	StateShuffling
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateDrawingSubjects:
		return "drawing-subjects"
	case StateShuffling:
		return "shuffling"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Queue is a self-refilling patch buffer.
//
// Get must be called from one goroutine at a time; concurrent calls need
// external locking. Parallelism happens only in subject loading.
type Queue struct {
	dataset volume.Dataset
	sampler sampler.Sampler
	params  Params
	rng     *rand.Rand
	logger  *slog.Logger
	metrics *queueMetrics

	ctx    context.Context
	cancel context.CancelFunc
	cursor *subjectCursor

	patches    []*sampler.Patch
	state      State
	numSampled int
	numFills   int
}

// New creates a queue over dataset. Nothing is loaded until the first Get.
func New(dataset volume.Dataset, s sampler.Sampler, params Params) (*Queue, error) {
	if dataset == nil || s == nil {
		return nil, errors.Wrap(ErrInvalidParams, "dataset and sampler are required")
	}
	if params.SamplesPerVolume <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "samples per volume must be positive, got %d",
			params.SamplesPerVolume)
	}
	if params.MaxLength < params.SamplesPerVolume {
		return nil, errors.Wrapf(ErrInvalidParams,
			"max length (%d) must be at least the number of samples per volume (%d)",
			params.MaxLength, params.SamplesPerVolume)
	}
	if params.NumWorkers < 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "number of workers must not be negative, got %d",
			params.NumWorkers)
	}
	if params.Name == "" {
		params.Name = "default"
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("queue", params.Name)

	rng := params.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15))
	}

	if params.MaxLength%params.SamplesPerVolume != 0 {
		logger.Warn("queue: length not divisible by the number of patches per volume",
			"max_length", params.MaxLength,
			"samples_per_volume", params.SamplesPerVolume)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		dataset: dataset,
		sampler: s,
		params:  params,
		rng:     rng,
		logger:  logger,
		metrics: newQueueMetrics(params.Registerer, params.Name),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.cursor = &subjectCursor{
		ctx:     ctx,
		dataset: dataset,
		workers: params.NumWorkers,
		shuffle: params.ShuffleSubjects,
		rng:     rng,
		logger:  logger,
		onPass:  q.metrics.passes.Inc,
	}
	return q, nil
}

// Len is the number of patches a consumer should draw per epoch: every
// subject times SamplesPerVolume. The queue keeps serving past it.
func (q *Queue) Len() int {
	return q.IterationsPerEpoch()
}

// Get returns the next patch, filling the buffer first if it is empty. The
// index is ignored; it only exists so the queue can stand in for an indexed
// sample list.
func (q *Queue) Get(_ int) (*sampler.Patch, error) {
	if err := q.ctx.Err(); err != nil {
		return nil, ErrClosed
	}
	if len(q.patches) == 0 {
		q.logger.Debug("queue: patches list is empty")
		if err := q.fill(); err != nil {
			return nil, err
		}
		if len(q.patches) == 0 {
			return nil, errors.Wrap(ErrEmpty, "fill produced no patches")
		}
	}

	patch := q.patches[0]
	q.patches[0] = nil
	q.patches = q.patches[1:]
	if len(q.patches) == 0 {
		q.state = StateEmpty
	}
	q.numSampled++
	q.metrics.patchesSampled.Inc()
	q.metrics.buffered.Set(float64(len(q.patches)))
	return patch, nil
}

// fill draws min(subjects, MaxLength/SamplesPerVolume) subjects and appends
// SamplesPerVolume patches from each to the buffer.
func (q *Queue) fill() error {
	start := time.Now()
	q.state = StateDrawingSubjects

	numSubjects := min(q.dataset.Len(), q.params.MaxLength/q.params.SamplesPerVolume)
	q.logger.Debug("queue: filling", "subjects", numSubjects)

	for i := 0; i < numSubjects; i++ {
		subject, err := q.cursor.next()
		if err != nil {
			q.settle()
			return err
		}
		q.metrics.subjectsDrawn.Inc()

		patches, err := q.sampler.Sample(subject)
		if err != nil {
			q.settle()
			return errors.Wrapf(err, "sampling subject %s", subject.ID)
		}
		taken := 0
		for patch := range patches {
			q.patches = append(q.patches, patch)
			taken++
			if taken == q.params.SamplesPerVolume {
				break
			}
		}
	}

	if q.params.ShufflePatches {
		q.state = StateShuffling
		q.rng.Shuffle(len(q.patches), func(i, j int) {
			q.patches[i], q.patches[j] = q.patches[j], q.patches[i]
		})
	}

	q.numFills++
	q.settle()
	q.metrics.fills.Inc()
	q.metrics.fillDuration.Observe(time.Since(start).Seconds())
	q.logger.Debug("queue: filled",
		"patches", len(q.patches),
		"subjects", numSubjects,
		"elapsed", time.Since(start))
	return nil
}

func (q *Queue) settle() {
	if len(q.patches) == 0 {
		q.state = StateEmpty
	} else {
		q.state = StateReady
	}
	q.metrics.buffered.Set(float64(len(q.patches)))
}

// Close stops any subject loaders. Get fails with ErrClosed afterwards.
func (q *Queue) Close() error {
	q.cancel()
	q.cursor.close()
	q.patches = nil
	q.state = StateEmpty
	return nil
}

// NumSubjects is the size of the dataset.
func (q *Queue) NumSubjects() int { return q.dataset.Len() }

// NumPatches is the number of patches currently buffered.
func (q *Queue) NumPatches() int { return len(q.patches) }

// NumSampled is the number of patches returned by Get so far.
func (q *Queue) NumSampled() int { return q.numSampled }

// NumFills is the number of completed fills.
func (q *Queue) NumFills() int { return q.numFills }

// NumPasses is the number of passes started over the dataset.
func (q *Queue) NumPasses() int { return q.cursor.passes }

// State reports the fill-cycle phase.
func (q *Queue) State() State { return q.state }

// IterationsPerEpoch is NumSubjects times SamplesPerVolume.
func (q *Queue) IterationsPerEpoch() int {
	return q.NumSubjects() * q.params.SamplesPerVolume
}

func (q *Queue) String() string {
	attributes := []string{
		fmt.Sprintf("max_length=%d", q.params.MaxLength),
		fmt.Sprintf("num_subjects=%d", q.NumSubjects()),
		fmt.Sprintf("num_patches=%d", q.NumPatches()),
		fmt.Sprintf("samples_per_volume=%d", q.params.SamplesPerVolume),
		fmt.Sprintf("num_sampled_patches=%d", q.NumSampled()),
		fmt.Sprintf("iterations_per_epoch=%d", q.IterationsPerEpoch()),
	}
	return "Queue(" + strings.Join(attributes, ", ") + ")"
}
