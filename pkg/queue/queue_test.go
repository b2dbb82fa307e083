package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tu "volpatch/internal/testutil"
	"volpatch/pkg/sampler"
	"volpatch/pkg/volume"
)

func makeSubjects(t *testing.T, n int, shape volume.Triplet) volume.Subjects {
	t.Helper()
	subjects := make(volume.Subjects, n)
	for i := range subjects {
		subjects[i] = tu.ConstantSubject(t, fmt.Sprintf("s%d", i), shape, float64(i))
	}
	return subjects
}

func uniform(t *testing.T, size int) sampler.Sampler {
	t.Helper()
	s, err := sampler.NewUniformSampler(volume.Triplet{size, size, size}, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	return s
}

func quietLogger() *slog.Logger {
	logger, _ := tu.NewLogger()
	return logger
}

func TestLen(t *testing.T) {
	q, err := New(makeSubjects(t, 5, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        6,
		SamplesPerVolume: 3,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 15, q.Len())
	assert.Equal(t, 15, q.IterationsPerEpoch())
	assert.Equal(t, 5, q.NumSubjects())
	assert.Equal(t, StateEmpty, q.State())
}

func TestNewRejectsBadParams(t *testing.T) {
	subjects := makeSubjects(t, 2, volume.Triplet{4, 4, 4})
	s := uniform(t, 2)

	for _, p := range []Params{
		{MaxLength: 10, SamplesPerVolume: 0},
		{MaxLength: 2, SamplesPerVolume: 3},
		{MaxLength: 10, SamplesPerVolume: 2, NumWorkers: -1},
	} {
		_, err := New(subjects, s, p)
		assert.True(t, errors.Is(err, ErrInvalidParams), "params %+v", p)
	}
	_, err := New(nil, s, Params{MaxLength: 1, SamplesPerVolume: 1})
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestNonDivisibleLengthWarns(t *testing.T) {
	logger, rec := tu.NewLogger()
	_, err := New(makeSubjects(t, 2, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        7,
		SamplesPerVolume: 3,
		Logger:           logger,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count(slog.LevelWarn, "not divisible"))

	rec.Reset()
	_, err = New(makeSubjects(t, 2, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        6,
		SamplesPerVolume: 3,
		Logger:           logger,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count(slog.LevelWarn, "not divisible"))
}

func TestRefillOnlyWhenEmpty(t *testing.T) {
	q, err := New(makeSubjects(t, 4, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        6,
		SamplesPerVolume: 2,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	for i := 1; i <= 20; i++ {
		wantFills := (i + 5) / 6
		_, err := q.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i, q.NumSampled())
		assert.Equal(t, wantFills, q.NumFills(), "after %d gets", i)
		assert.Equal(t, 6*wantFills-i, q.NumPatches(), "after %d gets", i)
	}
}

func TestUnshuffledOrderAndPassRestart(t *testing.T) {
	q, err := New(makeSubjects(t, 4, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        6,
		SamplesPerVolume: 2,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	// Three subjects per fill over a dataset of four: the second fill takes
	// the last subject of pass one and starts pass two from the beginning.
	want := []string{
		"s0", "s0", "s1", "s1", "s2", "s2",
		"s3", "s3", "s0", "s0", "s1", "s1",
		"s2", "s2", "s3", "s3", "s0", "s0",
	}
	var got []string
	for i := range want {
		p, err := q.Get(i)
		require.NoError(t, err)
		got = append(got, p.SubjectID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, q.NumFills())
	assert.Equal(t, 3, q.NumPasses())
}

func TestPatchesComeFromTheirSubject(t *testing.T) {
	q, err := New(makeSubjects(t, 3, volume.Triplet{5, 5, 5}), uniform(t, 3), Params{
		MaxLength:        9,
		SamplesPerVolume: 3,
		ShuffleSubjects:  true,
		ShufflePatches:   true,
		Seed:             11,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		p, err := q.Get(i)
		require.NoError(t, err)
		img := p.Image("img")
		require.NotNil(t, img)
		assert.Equal(t, volume.Triplet{3, 3, 3}, img.Shape)
		assert.Equal(t, fmt.Sprintf("s%d", int(img.Data[0])), p.SubjectID)
		assert.True(t, p.Location.Within(volume.Triplet{5, 5, 5}))
	}
}

func TestShuffleIsSeeded(t *testing.T) {
	subjects := makeSubjects(t, 6, volume.Triplet{4, 4, 4})
	run := func(seed uint64) []string {
		g, err := sampler.NewGridSampler(volume.Triplet{2, 2, 2}, volume.Triplet{})
		require.NoError(t, err)
		q, err := New(subjects, g, Params{
			MaxLength:        12,
			SamplesPerVolume: 4,
			ShuffleSubjects:  true,
			ShufflePatches:   true,
			Seed:             seed,
			Logger:           quietLogger(),
		})
		require.NoError(t, err)
		var out []string
		for i := 0; i < 24; i++ {
			p, err := q.Get(i)
			require.NoError(t, err)
			out = append(out, fmt.Sprintf("%s%v", p.SubjectID, p.Location))
		}
		return out
	}
	assert.Equal(t, run(5), run(5))
}

func TestEveryPassVisitsEverySubject(t *testing.T) {
	subjects := makeSubjects(t, 5, volume.Triplet{4, 4, 4})
	q, err := New(subjects, uniform(t, 2), Params{
		MaxLength:        5,
		SamplesPerVolume: 1,
		ShuffleSubjects:  true,
		Seed:             3,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	for pass := 0; pass < 4; pass++ {
		seen := map[string]int{}
		for i := 0; i < 5; i++ {
			p, err := q.Get(i)
			require.NoError(t, err)
			seen[p.SubjectID]++
		}
		assert.Len(t, seen, 5, "pass %d", pass)
	}
}

func TestGridSamplerTakesWhatIsAvailable(t *testing.T) {
	// 2x2x2 tiles of a 4x4x4 volume: eight patches, fewer than requested.
	g, err := sampler.NewGridSampler(volume.Triplet{2, 2, 2}, volume.Triplet{})
	require.NoError(t, err)
	q, err := New(makeSubjects(t, 1, volume.Triplet{4, 4, 4}), g, Params{
		MaxLength:        10,
		SamplesPerVolume: 10,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	_, err = q.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 7, q.NumPatches())
	assert.Equal(t, StateReady, q.State())
}

func TestSamplerErrorPropagates(t *testing.T) {
	q, err := New(makeSubjects(t, 2, volume.Triplet{4, 4, 4}), uniform(t, 5), Params{
		MaxLength:        4,
		SamplesPerVolume: 2,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	p, err := q.Get(0)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, sampler.ErrPatchTooLarge))
	assert.Equal(t, 0, q.NumPatches())
	assert.Equal(t, 0, q.NumSampled())
}

func TestLoadErrorPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	ds := volume.LoaderFunc{N: 3, Load: func(i int) (*volume.Subject, error) {
		if i == 1 {
			return nil, boom
		}
		return tu.ConstantSubject(t, fmt.Sprintf("s%d", i), volume.Triplet{4, 4, 4}, 0), nil
	}}
	for _, workers := range []int{0, 2} {
		q, err := New(ds, uniform(t, 2), Params{
			MaxLength:        3,
			SamplesPerVolume: 1,
			NumWorkers:       workers,
			Logger:           quietLogger(),
		})
		require.NoError(t, err)

		var loadErr error
		for i := 0; i < 3 && loadErr == nil; i++ {
			_, loadErr = q.Get(i)
		}
		assert.True(t, errors.Is(loadErr, boom), "workers=%d: %v", workers, loadErr)
		require.NoError(t, q.Close())
	}
}

func TestParallelLoading(t *testing.T) {
	var loads atomic.Int64
	subjects := makeSubjects(t, 8, volume.Triplet{4, 4, 4})
	ds := volume.LoaderFunc{N: len(subjects), Load: func(i int) (*volume.Subject, error) {
		loads.Add(1)
		return subjects[i], nil
	}}

	q, err := New(ds, uniform(t, 2), Params{
		MaxLength:        8,
		SamplesPerVolume: 2,
		NumWorkers:       3,
		ShuffleSubjects:  true,
		Seed:             9,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	// Two fills of four subjects complete one pass; results may arrive in any
	// order but every subject shows up exactly once.
	seen := map[string]int{}
	for i := 0; i < 16; i++ {
		p, err := q.Get(i)
		require.NoError(t, err)
		seen[p.SubjectID]++
	}
	assert.Len(t, seen, 8)
	for id, n := range seen {
		assert.Equal(t, 2, n, "subject %s", id)
	}

	// Keep going into the next pass, then shut the loaders down.
	for i := 0; i < 5; i++ {
		_, err := q.Get(i)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, q.NumPasses())
	require.NoError(t, q.Close())

	_, err = q.Get(0)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.GreaterOrEqual(t, loads.Load(), int64(12))
}

func TestEmptyDataset(t *testing.T) {
	q, err := New(volume.Subjects{}, uniform(t, 2), Params{
		MaxLength:        4,
		SamplesPerVolume: 2,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
	_, err = q.Get(0)
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	q, err := New(makeSubjects(t, 2, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        4,
		SamplesPerVolume: 2,
		Name:             "train",
		Registerer:       reg,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := q.Get(i)
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(q.metrics.fills))
	assert.Equal(t, 5.0, testutil.ToFloat64(q.metrics.patchesSampled))
	assert.Equal(t, 4.0, testutil.ToFloat64(q.metrics.subjectsDrawn))
	assert.Equal(t, 3.0, testutil.ToFloat64(q.metrics.buffered))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestString(t *testing.T) {
	q, err := New(makeSubjects(t, 2, volume.Triplet{4, 4, 4}), uniform(t, 2), Params{
		MaxLength:        4,
		SamplesPerVolume: 2,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)
	_, err = q.Get(0)
	require.NoError(t, err)
	assert.Equal(t,
		"Queue(max_length=4, num_subjects=2, num_patches=3, samples_per_volume=2, num_sampled_patches=1, iterations_per_epoch=4)",
		q.String())
}
