package volume

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInconsistentShape is returned when the images of one subject do not
	// share a spatial shape.
	ErrInconsistentShape = errors.New("inconsistent spatial shape")

	// ErrOutOfBounds is returned when a region does not fit inside an image.
	ErrOutOfBounds = errors.New("region out of bounds")

	// ErrDataSize is returned when a buffer length does not match the shape
	// it is supposed to describe.
	ErrDataSize = errors.New("data size does not match shape")
)

// DType tags the numeric type the voxel values originally had.
type DType int

const (
	Float64 DType = iota
	Float32
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
)

// IsInteger reports whether values of this type cannot hold fractions.
func (d DType) IsInteger() bool {
	return d != Float32 && d != Float64
}

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Image is a multi-channel 3D volume with its voxel-to-world affine.
type Image struct {
	// Channels is the number of values stored per voxel
	Channels int

	// Shape is the spatial size along x, y and z
	Shape Triplet

	// Affine maps voxel indices to world coordinates (4x4)
	Affine *mat.Dense

	// DType is the type the values are meant to have
	DType DType

	// Data holds Channels*X*Y*Z values, z varying fastest
	Data []float64
}

// NewImage allocates a zero-filled image with an identity affine.
func NewImage(channels int, shape Triplet, dtype DType) *Image {
	return &Image{
		Channels: channels,
		Shape:    shape,
		Affine:   identityAffine(),
		DType:    dtype,
		Data:     make([]float64, channels*shape.Prod()),
	}
}

// NewImageFromData wraps an existing buffer. The buffer is not copied.
func NewImageFromData(channels int, shape Triplet, dtype DType, data []float64) (*Image, error) {
	if channels <= 0 {
		return nil, errors.Errorf("channels must be positive, got %d", channels)
	}
	if want := channels * shape.Prod(); len(data) != want {
		return nil, errors.Wrapf(ErrDataSize, "got %d values for %d channels of %v (want %d)",
			len(data), channels, shape, want)
	}
	return &Image{
		Channels: channels,
		Shape:    shape,
		Affine:   identityAffine(),
		DType:    dtype,
		Data:     data,
	}, nil
}

func identityAffine() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Index returns the offset of voxel (x, y, z) of channel c in Data.
func (im *Image) Index(c, x, y, z int) int {
	return ((c*im.Shape[0]+x)*im.Shape[1]+y)*im.Shape[2] + z
}

// At returns the value of voxel (x, y, z) in channel c.
func (im *Image) At(c, x, y, z int) float64 {
	return im.Data[im.Index(c, x, y, z)]
}

// Set stores v at voxel (x, y, z) in channel c.
func (im *Image) Set(c, x, y, z int, v float64) {
	im.Data[im.Index(c, x, y, z)] = v
}

// Fill sets every voxel of every channel to v.
func (im *Image) Fill(v float64) {
	for i := range im.Data {
		im.Data[i] = v
	}
}

// Scale multiplies every value by f.
func (im *Image) Scale(f float64) {
	floats.Scale(f, im.Data)
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	data := make([]float64, len(im.Data))
	copy(data, im.Data)
	return &Image{
		Channels: im.Channels,
		Shape:    im.Shape,
		Affine:   mat.DenseCopyOf(im.Affine),
		DType:    im.DType,
		Data:     data,
	}
}

// Spacing returns the voxel size along each axis, taken from the norms of
// the affine's first three columns.
func (im *Image) Spacing() [3]float64 {
	var spacing [3]float64
	col := make([]float64, 4)
	for j := 0; j < 3; j++ {
		mat.Col(col, j, im.Affine)
		spacing[j] = floats.Norm(col[:3], 2)
	}
	return spacing
}

// Crop copies the voxels inside loc into a new image. The affine of the new
// image is translated so its voxel (0, 0, 0) lands where loc.Start() was.
func (im *Image) Crop(loc Location) (*Image, error) {
	if !loc.Within(im.Shape) || loc.Empty() {
		return nil, errors.Wrapf(ErrOutOfBounds, "crop %v of image with shape %v", loc, im.Shape)
	}
	size := loc.Size()
	out := NewImage(im.Channels, size, im.DType)
	start := loc.Start()
	for c := 0; c < im.Channels; c++ {
		for x := 0; x < size[0]; x++ {
			for y := 0; y < size[1]; y++ {
				src := im.Index(c, start[0]+x, start[1]+y, start[2])
				dst := out.Index(c, x, y, 0)
				copy(out.Data[dst:dst+size[2]], im.Data[src:src+size[2]])
			}
		}
	}

	translation := identityAffine()
	translation.Set(0, 3, float64(start[0]))
	translation.Set(1, 3, float64(start[1]))
	translation.Set(2, 3, float64(start[2]))
	out.Affine.Mul(im.Affine, translation)
	return out, nil
}
