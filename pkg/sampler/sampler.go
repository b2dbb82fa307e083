// Package sampler extracts fixed-size patches from subjects.
//
// Two strategies share the Sampler interface: UniformSampler draws patches at
// random positions forever, GridSampler tiles the whole volume once in a
// fixed order so the patches can be stitched back together.
package sampler

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/pkg/errors"

	"volpatch/pkg/volume"
)

var (
	// ErrPatchTooLarge is returned when the patch does not fit in the subject.
	ErrPatchTooLarge = errors.New("patch size larger than image size")

	// ErrInvalidPatchSize is returned for non-positive patch sizes.
	ErrInvalidPatchSize = errors.New("invalid patch size")

	// ErrInvalidOverlap is returned when the overlap is negative or not
	// smaller than the patch size.
	ErrInvalidOverlap = errors.New("invalid patch overlap")
)

// Kind identifies a sampling strategy.
type Kind int

const (
	KindUniform Kind = iota
	KindGrid
)

func (k Kind) String() string {
	switch k {
	case KindUniform:
		return "uniform"
	case KindGrid:
		return "grid"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "uniform":
		return KindUniform, nil
	case "grid":
		return KindGrid, nil
	default:
		return 0, errors.Errorf("unknown sampler kind %q (want uniform or grid)", s)
	}
}

// Patch is a sub-volume cut out of a subject.
type Patch struct {
	// Subject holds the cropped images under their original names
	Subject *volume.Subject

	// Location is the bounding box in the source subject
	Location volume.Location

	// SubjectID identifies the source subject
	SubjectID string

	// Index is the position in the grid enumeration, or -1 for random patches
	Index int
}

// Image is a shortcut for p.Subject.Image(name).
func (p *Patch) Image(name string) *volume.Image {
	return p.Subject.Image(name)
}

// Sampler produces patches from one subject.
//
// Sample validates the subject before returning, so configuration problems
// are reported before any patch is extracted. The returned sequence may be
// infinite; callers decide how many patches to take.
type Sampler interface {
	Kind() Kind
	PatchSize() volume.Triplet
	Sample(subject *volume.Subject) (iter.Seq[*Patch], error)
}

// Config describes a sampler.
type Config struct {
	Kind      Kind
	PatchSize volume.Triplet
	Overlap   volume.Triplet
}

// New builds the sampler described by cfg. rng is only used by the uniform
// strategy and must not be shared with other goroutines.
func New(cfg Config, rng *rand.Rand) (Sampler, error) {
	switch cfg.Kind {
	case KindUniform:
		return NewUniformSampler(cfg.PatchSize, rng)
	case KindGrid:
		return NewGridSampler(cfg.PatchSize, cfg.Overlap)
	default:
		return nil, errors.Errorf("unknown sampler kind %v", cfg.Kind)
	}
}

func validatePatchSize(patchSize volume.Triplet) error {
	for a, v := range patchSize {
		if v <= 0 {
			return errors.Wrapf(ErrInvalidPatchSize, "axis %d has size %d in %v", a, v, patchSize)
		}
	}
	return nil
}

// checkSubject returns the subject's shape after making sure the images agree
// and the patch fits.
func checkSubject(subject *volume.Subject, patchSize volume.Triplet) (volume.Triplet, error) {
	shape, err := subject.SpatialShape()
	if err != nil {
		return volume.Triplet{}, err
	}
	if patchSize.AnyGreater(shape) {
		return volume.Triplet{}, errors.Wrapf(ErrPatchTooLarge,
			"patch size %v cannot be larger than image size %v", patchSize, shape)
	}
	return shape, nil
}
