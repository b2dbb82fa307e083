package synth

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volpatch/pkg/volume"
)

func TestSubjectIsReproducible(t *testing.T) {
	opts := Options{Shape: volume.Triplet{12, 10, 8}, Seed: 7, Noise: 0.05}
	a, err := Subject(3, opts)
	require.NoError(t, err)
	b, err := Subject(3, opts)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Empty(t, cmp.Diff(a.Image(IntensityName).Data, b.Image(IntensityName).Data))
	assert.Empty(t, cmp.Diff(a.Image(LabelName).Data, b.Image(LabelName).Data))

	c, err := Subject(4, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, cmp.Diff(a.Image(IntensityName).Data, c.Image(IntensityName).Data))
}

func TestLabelMatchesSphere(t *testing.T) {
	s, err := Subject(0, Options{Shape: volume.Triplet{16, 16, 16}})
	require.NoError(t, err)

	shape, err := s.SpatialShape()
	require.NoError(t, err)
	assert.Equal(t, volume.Triplet{16, 16, 16}, shape)

	intensity, label := s.Image(IntensityName), s.Image(LabelName)
	assert.Equal(t, volume.Float32, intensity.DType)
	assert.Equal(t, volume.Int16, label.DType)

	inside := 0
	for i, l := range label.Data {
		// Without noise the background stays below 0.3 and the sphere above 0.7.
		if l == 1 {
			inside++
			assert.Greater(t, intensity.Data[i], 0.65)
		} else {
			assert.Less(t, intensity.Data[i], 0.35)
		}
	}
	assert.Positive(t, inside)
	assert.Less(t, inside, len(label.Data))
}

func TestDataset(t *testing.T) {
	ds := Dataset(3, Options{Shape: volume.Triplet{4, 4, 4}, Seed: 1})
	require.Equal(t, 3, ds.Len())
	s, err := ds.Subject(2)
	require.NoError(t, err)
	assert.Equal(t, "synth-002", s.ID)
	_, err = ds.Subject(3)
	assert.Error(t, err)
}

func TestInvalidShape(t *testing.T) {
	_, err := Subject(0, Options{Shape: volume.Triplet{4, 0, 4}})
	assert.Error(t, err)
}
