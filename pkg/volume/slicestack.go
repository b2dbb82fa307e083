package volume

import (
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LoadSliceStack reads a directory of 2D greyscale slices (JPEG or PNG) and
// stacks them into a single-channel float32 image. Slices are ordered by the
// number embedded in their file names and become the z axis; pixel columns
// and rows become x and y. Values are normalised to [0, 1] from 16-bit grey.
//
// All slices must have the same dimensions.
func LoadSliceStack(dir string) (*Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading slice directory")
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no JPEG or PNG slices found in %s", dir)
	}

	// Keep anatomical order: slice_2 before slice_10.
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var (
		img           *Image
		width, height int
	)
	for z, name := range files {
		slice, err := decodeSlice(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "loading slice %s", name)
		}
		bounds := slice.Bounds()
		if img == nil {
			width, height = bounds.Dx(), bounds.Dy()
			img = NewImage(1, Triplet{width, height, len(files)}, Float32)
		} else if bounds.Dx() != width || bounds.Dy() != height {
			return nil, errors.Wrapf(ErrInconsistentShape, "slice %s is %dx%d, expected %dx%d",
				name, bounds.Dx(), bounds.Dy(), width, height)
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, _, _, _ := slice.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				img.Set(0, x, y, z, float64(r)/65535.0)
			}
		}
	}
	return img, nil
}

func decodeSlice(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".png") {
		return png.Decode(file)
	}
	return jpeg.Decode(file)
}

// extractNumber concatenates the digits of a file name. Names without
// digits sort first.
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}
