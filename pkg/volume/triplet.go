// Package volume provides the in-memory containers the patch pipeline works on:
// multi-channel 3D images, subjects grouping co-registered images, and the
// datasets that hand subjects out by index.
//
// Voxel data is stored as a flat []float64 in (channel, x, y, z) row-major
// order, so the z axis is contiguous in memory. Integer data types are kept as
// a tag on the image; their values are still stored as float64.
package volume

import (
	"fmt"

	"github.com/pkg/errors"
)

// Triplet holds one integer per spatial axis (x, y, z).
type Triplet [3]int

// NewTriplet builds a triplet from either a single value, broadcast to all
// three axes, or exactly three values.
func NewTriplet(values ...int) (Triplet, error) {
	switch len(values) {
	case 1:
		return Triplet{values[0], values[0], values[0]}, nil
	case 3:
		return Triplet{values[0], values[1], values[2]}, nil
	default:
		return Triplet{}, errors.Errorf("triplet needs 1 or 3 values, got %d", len(values))
	}
}

// Sub returns t - o per axis.
func (t Triplet) Sub(o Triplet) Triplet {
	return Triplet{t[0] - o[0], t[1] - o[1], t[2] - o[2]}
}

// Add returns t + o per axis.
func (t Triplet) Add(o Triplet) Triplet {
	return Triplet{t[0] + o[0], t[1] + o[1], t[2] + o[2]}
}

// AnyGreater reports whether t exceeds o on at least one axis.
func (t Triplet) AnyGreater(o Triplet) bool {
	return t[0] > o[0] || t[1] > o[1] || t[2] > o[2]
}

// Prod returns the number of voxels spanned by t.
func (t Triplet) Prod() int {
	return t[0] * t[1] * t[2]
}

func (t Triplet) String() string {
	return fmt.Sprintf("(%d, %d, %d)", t[0], t[1], t[2])
}

// Location is a half-open voxel bounding box (i0, j0, k0, i1, j1, k1) in the
// coordinate frame of the subject a patch was taken from.
type Location [6]int

// NewLocation builds the bounding box starting at start with the given size.
func NewLocation(start, size Triplet) Location {
	end := start.Add(size)
	return Location{start[0], start[1], start[2], end[0], end[1], end[2]}
}

// Start is the inclusive lower corner.
func (l Location) Start() Triplet { return Triplet{l[0], l[1], l[2]} }

// End is the exclusive upper corner.
func (l Location) End() Triplet { return Triplet{l[3], l[4], l[5]} }

// Size is End - Start.
func (l Location) Size() Triplet { return l.End().Sub(l.Start()) }

// Empty reports whether the box contains no voxel.
func (l Location) Empty() bool {
	s := l.Size()
	return s[0] <= 0 || s[1] <= 0 || s[2] <= 0
}

// Within reports whether the box lies inside [0, shape) on every axis.
func (l Location) Within(shape Triplet) bool {
	for a := 0; a < 3; a++ {
		if l[a] < 0 || l[a+3] > shape[a] || l[a] > l[a+3] {
			return false
		}
	}
	return true
}

func (l Location) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d, %d:%d]", l[0], l[3], l[1], l[4], l[2], l[5])
}
