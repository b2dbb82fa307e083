package sampler

import (
	"iter"
	"math/rand/v2"

	"github.com/pkg/errors"

	"volpatch/pkg/volume"
)

// UniformSampler extracts patches at uniformly random positions.
type UniformSampler struct {
	patchSize volume.Triplet
	rng       *rand.Rand
}

// NewUniformSampler creates a sampler drawing positions from rng. Passing the
// same seeded rng makes the patch stream reproducible.
func NewUniformSampler(patchSize volume.Triplet, rng *rand.Rand) (*UniformSampler, error) {
	if err := validatePatchSize(patchSize); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("uniform sampler needs a random source")
	}
	return &UniformSampler{patchSize: patchSize, rng: rng}, nil
}

func (u *UniformSampler) Kind() Kind { return KindUniform }

func (u *UniformSampler) PatchSize() volume.Triplet { return u.patchSize }

// Sample returns an endless sequence of random patches. Every lower corner
// is drawn per axis from [0, shape-patch] inclusive.
func (u *UniformSampler) Sample(subject *volume.Subject) (iter.Seq[*Patch], error) {
	shape, err := checkSubject(subject, u.patchSize)
	if err != nil {
		return nil, err
	}
	validRange := shape.Sub(u.patchSize)

	return func(yield func(*Patch) bool) {
		for {
			var start volume.Triplet
			for a := range start {
				start[a] = u.rng.IntN(validRange[a] + 1)
			}
			loc := volume.NewLocation(start, u.patchSize)
			cropped, err := subject.Crop(loc)
			if err != nil {
				// Unreachable: loc lies inside the validated shape.
				panic(err)
			}
			patch := &Patch{Subject: cropped, Location: loc, SubjectID: subject.ID, Index: -1}
			if !yield(patch) {
				return
			}
		}
	}, nil
}
