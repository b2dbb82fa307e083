// Package testutil provides shared test helpers: a log handler that records
// what components report, and small subject fixtures.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"volpatch/pkg/volume"
)

// LogRecorder is a slog.Handler keeping every record it receives.
type LogRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

// NewLogger returns a logger writing into a fresh recorder.
func NewLogger() (*slog.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	return slog.New(rec), rec
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec.Clone())
	return nil
}

// WithAttrs and WithGroup drop the extra context; tests only look at levels
// and messages.
func (r *LogRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Count returns how many records at level contain substr in their message.
func (r *LogRecorder) Count(level slog.Level, substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Level == level && strings.Contains(rec.Message, substr) {
			n++
		}
	}
	return n
}

// Reset forgets every recorded entry.
func (r *LogRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

// ConstantSubject builds a subject with one single-channel float32 image
// named "img" whose voxels all equal value.
func ConstantSubject(t testing.TB, id string, shape volume.Triplet, value float64) *volume.Subject {
	t.Helper()
	img := volume.NewImage(1, shape, volume.Float32)
	img.Fill(value)
	s := volume.NewSubject(id)
	if err := s.Add("img", img); err != nil {
		t.Fatalf("adding image: %v", err)
	}
	return s
}
