// Package aggregator stitches patches produced by a grid back into a full
// volume.
//
// In crop mode each tile only writes the part of itself it owns once every
// overlap has been split between the neighbours, so writes never collide. In
// average mode each tile is accumulated in full and every voxel is divided by
// the number of tiles that covered it when the output is read.
package aggregator

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"volpatch/pkg/sampler"
	"volpatch/pkg/volume"
)

var (
	// ErrLocationOutOfBounds is returned when a location does not fit in the
	// aggregated volume, which usually means the patches came from another
	// grid.
	ErrLocationOutOfBounds = errors.New("location out of bounds")

	// ErrBatchMismatch is returned when data and locations do not line up.
	ErrBatchMismatch = errors.New("batch mismatch")

	// ErrNotGridCorner is returned in crop mode for a location that is not a
	// tile of the grid.
	ErrNotGridCorner = errors.New("location is not a grid tile")
)

// OverlapMode selects how overlapping tiles are combined.
type OverlapMode int

const (
	ModeCrop OverlapMode = iota
	ModeAverage
)

func (m OverlapMode) String() string {
	switch m {
	case ModeCrop:
		return "crop"
	case ModeAverage:
		return "average"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps "crop" or "average" to a mode.
func ParseMode(s string) (OverlapMode, error) {
	switch s {
	case "crop":
		return ModeCrop, nil
	case "average":
		return ModeAverage, nil
	default:
		return 0, errors.Errorf("unknown overlap mode %q (want crop or average)", s)
	}
}

// Option configures a GridAggregator.
type Option func(*GridAggregator)

// WithLogger sets the logger receiving precision warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(a *GridAggregator) {
		a.logger = logger
	}
}

// GridAggregator rebuilds one volume from the tiles of a sampler.Grid.
//
// An aggregator owns its buffers for one volume. It is not safe for
// concurrent use; call Reset to aggregate another volume of the same grid.
type GridAggregator struct {
	grid   *sampler.Grid
	shape  volume.Triplet
	mode   OverlapMode
	logger *slog.Logger

	// allocated on the first write, sized from the first patch's channels
	output   *volume.Image
	counts   []float64
	channels int
	dtype    volume.DType
	written  bool

	integerWarnings int
}

// New creates an aggregator for the volume tiled by grid.
func New(grid *sampler.Grid, mode OverlapMode, opts ...Option) (*GridAggregator, error) {
	if grid == nil {
		return nil, errors.New("aggregator needs a grid")
	}
	if mode != ModeCrop && mode != ModeAverage {
		return nil, errors.Errorf("unknown overlap mode %v", mode)
	}
	a := &GridAggregator{
		grid:   grid,
		shape:  grid.SpatialShape(),
		mode:   mode,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Mode returns the overlap mode.
func (a *GridAggregator) Mode() OverlapMode { return a.mode }

// IntegerWarnings counts the AddBatch calls that averaged integer data.
func (a *GridAggregator) IntegerWarnings() int { return a.integerWarnings }

// Add writes a single patch.
func (a *GridAggregator) Add(data *volume.Image, location volume.Location) error {
	return a.AddBatch([]*volume.Image{data}, []volume.Location{location})
}

// AddBatch writes data[i] at locations[i] for every i. The whole batch is
// checked before anything is written, so a failing batch leaves the
// aggregator unchanged.
//
// Averaging integer data logs one warning per call: values are accumulated
// as float64 and the output holds the true mean, not an integer.
func (a *GridAggregator) AddBatch(data []*volume.Image, locations []volume.Location) error {
	if len(data) != len(locations) {
		return errors.Wrapf(ErrBatchMismatch, "%d patches but %d locations", len(data), len(locations))
	}
	if len(data) == 0 {
		return nil
	}

	channels := a.channels
	if !a.written {
		if data[0] == nil {
			return errors.Wrap(ErrBatchMismatch, "patch 0 is nil")
		}
		channels = data[0].Channels
	}
	regions := make([]volume.Location, len(data))
	integer := false
	for i, patch := range data {
		if patch == nil {
			return errors.Wrapf(ErrBatchMismatch, "patch %d is nil", i)
		}
		loc := locations[i]
		if !loc.Within(a.shape) || loc.Empty() {
			return errors.Wrapf(ErrLocationOutOfBounds, "location %v does not fit volume %v", loc, a.shape)
		}
		if patch.Shape != loc.Size() {
			return errors.Wrapf(ErrBatchMismatch, "patch %d has shape %v but location %v spans %v",
				i, patch.Shape, loc, loc.Size())
		}
		if patch.Channels != channels {
			return errors.Wrapf(ErrBatchMismatch, "patch %d has %d channels, expected %d",
				i, patch.Channels, channels)
		}
		regions[i] = loc
		if a.mode == ModeCrop {
			region, err := a.grid.CropRegion(loc)
			if err != nil {
				return errors.Wrap(ErrNotGridCorner, err.Error())
			}
			regions[i] = region
		}
		if patch.DType.IsInteger() {
			integer = true
		}
	}

	if !a.written {
		a.initialize(channels, data[0].DType)
	}
	if a.mode == ModeCrop {
		a.widenMixed(data)
	}
	if integer && a.mode == ModeAverage {
		a.integerWarnings++
		a.logger.Warn("aggregator: averaging integer patches, output will be float64",
			"patches", len(data),
			"dtype", a.firstIntegerType(data))
	}

	for i, patch := range data {
		switch a.mode {
		case ModeCrop:
			a.writeCrop(patch, locations[i], regions[i])
		case ModeAverage:
			a.accumulate(patch, locations[i])
		}
	}
	return nil
}

// widenMixed switches the crop output to float64 once patches of a
// different dtype than the first arrive.
func (a *GridAggregator) widenMixed(data []*volume.Image) {
	if a.dtype == volume.Float64 {
		return
	}
	for _, patch := range data {
		if patch.DType != a.dtype {
			a.logger.Debug("aggregator: mixed patch dtypes, output widened to float64",
				"first", a.dtype, "got", patch.DType)
			a.dtype = volume.Float64
			a.output.DType = volume.Float64
			return
		}
	}
}

func (a *GridAggregator) firstIntegerType(data []*volume.Image) volume.DType {
	for _, patch := range data {
		if patch.DType.IsInteger() {
			return patch.DType
		}
	}
	return volume.Float64
}

func (a *GridAggregator) initialize(channels int, dtype volume.DType) {
	a.channels = channels
	a.dtype = dtype
	if a.mode == ModeAverage {
		a.dtype = volume.Float64
	}
	a.counts = make([]float64, a.shape.Prod())
	a.output = volume.NewImage(channels, a.shape, a.dtype)
	if subject := a.grid.Subject(); subject != nil {
		if names := subject.Names(); len(names) > 0 {
			a.output.Affine.Copy(subject.Image(names[0]).Affine)
		}
	}
	a.written = true
}

// writeCrop copies the part of patch that falls inside region.
func (a *GridAggregator) writeCrop(patch *volume.Image, loc, region volume.Location) {
	if region.Empty() {
		return
	}
	size := region.Size()
	for c := 0; c < a.channels; c++ {
		for x := region[0]; x < region[3]; x++ {
			for y := region[1]; y < region[4]; y++ {
				src := patch.Index(c, x-loc[0], y-loc[1], region[2]-loc[2])
				dst := a.output.Index(c, x, y, region[2])
				copy(a.output.Data[dst:dst+size[2]], patch.Data[src:src+size[2]])
			}
		}
	}
	a.count(region)
}

// accumulate adds the whole patch and bumps the coverage counts.
func (a *GridAggregator) accumulate(patch *volume.Image, loc volume.Location) {
	n := loc[5] - loc[2]
	for c := 0; c < a.channels; c++ {
		for x := loc[0]; x < loc[3]; x++ {
			for y := loc[1]; y < loc[4]; y++ {
				src := patch.Index(c, x-loc[0], y-loc[1], 0)
				dst := a.output.Index(c, x, y, loc[2])
				floats.Add(a.output.Data[dst:dst+n], patch.Data[src:src+n])
			}
		}
	}
	a.count(loc)
}

// count adds one to the coverage of every voxel in region. In average mode
// these are the divisors used by Output.
func (a *GridAggregator) count(region volume.Location) {
	n := region[5] - region[2]
	for x := region[0]; x < region[3]; x++ {
		for y := region[1]; y < region[4]; y++ {
			off := (x*a.shape[1]+y)*a.shape[2] + region[2]
			floats.AddConst(1, a.counts[off:off+n])
		}
	}
}

// Output returns the reconstructed volume. In average mode every voxel is
// divided by its coverage count; voxels no tile reached stay zero. Crop
// output keeps the dtype of the patches, or float64 when they were mixed. The
// aggregator keeps its buffers, so more batches may follow and Output may be
// called again.
func (a *GridAggregator) Output() (*volume.Image, error) {
	if !a.written {
		return nil, errors.New("no patches were added")
	}
	out := a.output.Clone()
	if a.mode == ModeAverage {
		voxels := a.shape.Prod()
		for c := 0; c < a.channels; c++ {
			values := out.Data[c*voxels : (c+1)*voxels]
			for i, n := range a.counts {
				if n > 0 {
					values[i] /= n
				}
			}
		}
	}
	return out, nil
}

// Coverage is the fraction of voxels written at least once.
func (a *GridAggregator) Coverage() float64 {
	if !a.written {
		return 0
	}
	covered := 0
	for _, n := range a.counts {
		if n > 0 {
			covered++
		}
	}
	return float64(covered) / float64(len(a.counts))
}

// Reset drops the accumulated data so the aggregator can serve a new volume
// of the same grid.
func (a *GridAggregator) Reset() {
	a.output = nil
	a.counts = nil
	a.channels = 0
	a.written = false
	a.integerWarnings = 0
}
