// Package visualization renders orthogonal slices of a volume to 16-bit
// grayscale images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"volpatch/pkg/volume"
)

// Viewer extracts slices from one channel of an image. Values are mapped
// linearly from the [low, high] window onto the full 16-bit range.
type Viewer struct {
	// img holds the volume being displayed
	img *volume.Image

	// channel selects which channel is rendered
	channel int

	// intensity window
	low  float64
	high float64
}

// NewViewer creates a viewer for one channel of img. The intensity window
// defaults to [0, 1].
func NewViewer(img *volume.Image, channel int) (*Viewer, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if channel < 0 || channel >= img.Channels {
		return nil, errors.Errorf("channel %d out of range for %d channels", channel, img.Channels)
	}
	return &Viewer{img: img, channel: channel, low: 0, high: 1}, nil
}

// SetWindow sets the intensity window.
func (v *Viewer) SetWindow(low, high float64) error {
	if !(high > low) {
		return errors.Errorf("invalid window [%g, %g]", low, high)
	}
	v.low, v.high = low, high
	return nil
}

// AutoWindow sets the window to the channel's value range. A constant
// channel keeps the current window.
func (v *Viewer) AutoWindow() {
	n := v.img.Shape.Prod()
	values := v.img.Data[v.channel*n : (v.channel+1)*n]
	lo, hi := floats.Min(values), floats.Max(values)
	if hi > lo {
		v.low, v.high = lo, hi
	}
}

// Window returns the current intensity window.
func (v *Viewer) Window() (float64, float64) { return v.low, v.high }

func (v *Viewer) gray(value float64) color.Gray16 {
	t := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Round(t*65535))))}
}

func axisIndex(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D slice perpendicular to axis. The x slice is
// laid out (z, y), the y slice (x, z) and the z slice (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	shape := v.img.Shape
	if position >= shape[a] {
		return nil, fmt.Errorf("position %d exceeds size %d along %s", position, shape[a], axis)
	}

	var img *image.Gray16
	switch a {
	case 0:
		// YZ plane
		img = image.NewGray16(image.Rect(0, 0, shape[2], shape[1]))
		for y := 0; y < shape[1]; y++ {
			for z := 0; z < shape[2]; z++ {
				img.SetGray16(z, y, v.gray(v.img.At(v.channel, position, y, z)))
			}
		}
	case 1:
		// XZ plane
		img = image.NewGray16(image.Rect(0, 0, shape[0], shape[2]))
		for z := 0; z < shape[2]; z++ {
			for x := 0; x < shape[0]; x++ {
				img.SetGray16(x, z, v.gray(v.img.At(v.channel, x, position, z)))
			}
		}
	default:
		// XY plane
		img = image.NewGray16(image.Rect(0, 0, shape[0], shape[1]))
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[0]; x++ {
				img.SetGray16(x, y, v.gray(v.img.At(v.channel, x, y, position)))
			}
		}
	}
	return img, nil
}

// ExtractRegion extracts a 3D subregion of the volume.
func (v *Viewer) ExtractRegion(loc volume.Location) (*volume.Image, error) {
	if loc.Empty() {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	return v.img.Crop(loc)
}

// SaveSlice saves an extracted slice. Files ending in .png are written as
// PNG and everything else as JPEG.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(filename), ".png") {
		return png.Encode(file, img)
	}
	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along axis into
// outputDir using the given extension ("jpg" or "png").
func (v *Viewer) SaveSliceSequence(axis, outputDir, ext string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < v.img.Shape[a]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", axis, pos, ext))
		if err := v.SaveSlice(img, filename); err != nil {
			return errors.Wrapf(err, "saving %s", filename)
		}
	}

	return nil
}
