// Package synth generates reproducible synthetic subjects: a bright sphere
// on a ramp background with a matching integer label map.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"volpatch/pkg/volume"
)

// Image names used for every generated subject.
const (
	IntensityName = "t1"
	LabelName     = "label"
)

// Options controls generation.
type Options struct {
	Shape volume.Triplet
	Seed  uint64

	// Noise is the standard deviation of Gaussian noise added to the
	// intensity image.
	Noise float64
}

// Subject generates subject i. The same (Seed, i) pair always yields the
// same subject.
func Subject(i int, opts Options) (*volume.Subject, error) {
	shape := opts.Shape
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 {
		return nil, errors.Errorf("synthetic shape must be positive, got %v", shape)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))

	smallest := min(shape[0], shape[1], shape[2])
	radius := float64(smallest) * (0.15 + 0.15*rng.Float64())
	var center [3]float64
	for a := range center {
		center[a] = float64(shape[a]) * (0.25 + 0.5*rng.Float64())
	}

	intensity := volume.NewImage(1, shape, volume.Float32)
	label := volume.NewImage(1, shape, volume.Int16)
	for x := 0; x < shape[0]; x++ {
		for y := 0; y < shape[1]; y++ {
			for z := 0; z < shape[2]; z++ {
				dx := float64(x) - center[0]
				dy := float64(y) - center[1]
				dz := float64(z) - center[2]
				v := 0.1 + 0.2*float64(x)/float64(shape[0])
				if math.Sqrt(dx*dx+dy*dy+dz*dz) <= radius {
					v += 0.6
					label.Set(0, x, y, z, 1)
				}
				if opts.Noise > 0 {
					v += opts.Noise * rng.NormFloat64()
				}
				intensity.Set(0, x, y, z, v)
			}
		}
	}

	s := volume.NewSubject(fmt.Sprintf("synth-%03d", i))
	if err := s.Add(IntensityName, intensity); err != nil {
		return nil, err
	}
	if err := s.Add(LabelName, label); err != nil {
		return nil, err
	}
	return s, nil
}

// Dataset returns n synthetic subjects generated on demand.
func Dataset(n int, opts Options) volume.Dataset {
	return volume.LoaderFunc{
		N:    n,
		Load: func(i int) (*volume.Subject, error) { return Subject(i, opts) },
	}
}
