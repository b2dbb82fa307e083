package sampler

import (
	"iter"

	"github.com/pkg/errors"

	"volpatch/pkg/volume"
)

// GridSampler tiles a volume with patches spaced by patchSize-overlap.
type GridSampler struct {
	patchSize volume.Triplet
	overlap   volume.Triplet
}

// NewGridSampler validates the tiling parameters. Each overlap component must
// be non-negative and strictly smaller than the patch size on that axis.
func NewGridSampler(patchSize, overlap volume.Triplet) (*GridSampler, error) {
	if err := validatePatchSize(patchSize); err != nil {
		return nil, err
	}
	for a := range overlap {
		if overlap[a] < 0 || overlap[a] >= patchSize[a] {
			return nil, errors.Wrapf(ErrInvalidOverlap,
				"overlap %v must be non-negative and smaller than patch size %v", overlap, patchSize)
		}
	}
	return &GridSampler{patchSize: patchSize, overlap: overlap}, nil
}

func (g *GridSampler) Kind() Kind { return KindGrid }

func (g *GridSampler) PatchSize() volume.Triplet { return g.patchSize }

// Overlap returns the configured overlap between neighbouring patches.
func (g *GridSampler) Overlap() volume.Triplet { return g.overlap }

// Grid plans the tiling of one subject.
func (g *GridSampler) Grid(subject *volume.Subject) (*Grid, error) {
	shape, err := checkSubject(subject, g.patchSize)
	if err != nil {
		return nil, err
	}
	grid := &Grid{
		subject:   subject,
		shape:     shape,
		patchSize: g.patchSize,
		overlap:   g.overlap,
	}
	for a := 0; a < 3; a++ {
		grid.starts[a] = axisStarts(shape[a], g.patchSize[a], g.patchSize[a]-g.overlap[a])
		grid.bounds[a] = axisBounds(shape[a], g.patchSize[a], grid.starts[a])
		grid.index[a] = make(map[int]int, len(grid.starts[a]))
		for i, s := range grid.starts[a] {
			grid.index[a][s] = i
		}
	}
	for _, i := range grid.starts[0] {
		for _, j := range grid.starts[1] {
			for _, k := range grid.starts[2] {
				grid.locations = append(grid.locations,
					volume.NewLocation(volume.Triplet{i, j, k}, g.patchSize))
			}
		}
	}
	return grid, nil
}

// Sample returns every tile of the subject in grid order. The sequence is
// finite and yields the same patches each time it is ranged over.
func (g *GridSampler) Sample(subject *volume.Subject) (iter.Seq[*Patch], error) {
	grid, err := g.Grid(subject)
	if err != nil {
		return nil, err
	}
	return grid.All(), nil
}

// axisStarts lists the lower corners along one axis. The last tile is moved
// back so that it ends exactly at size.
func axisStarts(size, patch, stride int) []int {
	var starts []int
	for s := 0; s+patch <= size; s += stride {
		starts = append(starts, s)
	}
	if last := starts[len(starts)-1]; last+patch != size {
		starts = append(starts, size-patch)
	}
	return starts
}

// axisBounds returns len(starts)+1 boundaries. Tile i owns [b[i], b[i+1])
// once its overlap with each neighbour has been split at the midpoint.
func axisBounds(size, patch int, starts []int) []int {
	bounds := make([]int, len(starts)+1)
	for i := 1; i < len(starts); i++ {
		prevEnd := starts[i-1] + patch
		bounds[i] = starts[i] + (prevEnd-starts[i])/2
	}
	bounds[len(starts)] = size
	return bounds
}

// Grid is the tiling of one subject produced by a GridSampler.
type Grid struct {
	subject   *volume.Subject
	shape     volume.Triplet
	patchSize volume.Triplet
	overlap   volume.Triplet
	starts    [3][]int
	bounds    [3][]int
	index     [3]map[int]int
	locations []volume.Location
}

// Subject returns the tiled subject.
func (g *Grid) Subject() *volume.Subject { return g.subject }

// SpatialShape is the shape of the tiled volume.
func (g *Grid) SpatialShape() volume.Triplet { return g.shape }

// PatchSize is the size of every tile.
func (g *Grid) PatchSize() volume.Triplet { return g.patchSize }

// Overlap is the nominal overlap between neighbouring tiles.
func (g *Grid) Overlap() volume.Triplet { return g.overlap }

// Len is the number of tiles.
func (g *Grid) Len() int { return len(g.locations) }

// Location returns the bounding box of tile i.
func (g *Grid) Location(i int) volume.Location { return g.locations[i] }

// Locations returns a copy of all bounding boxes in grid order.
func (g *Grid) Locations() []volume.Location {
	out := make([]volume.Location, len(g.locations))
	copy(out, g.locations)
	return out
}

// Patch extracts tile i.
func (g *Grid) Patch(i int) (*Patch, error) {
	if i < 0 || i >= len(g.locations) {
		return nil, errors.Errorf("tile %d out of range [0, %d)", i, len(g.locations))
	}
	loc := g.locations[i]
	cropped, err := g.subject.Crop(loc)
	if err != nil {
		return nil, err
	}
	return &Patch{Subject: cropped, Location: loc, SubjectID: g.subject.ID, Index: i}, nil
}

// All yields every tile in grid order.
func (g *Grid) All() iter.Seq[*Patch] {
	return func(yield func(*Patch) bool) {
		for i := range g.locations {
			patch, err := g.Patch(i)
			if err != nil {
				// Unreachable: grid locations are inside the checked shape.
				panic(err)
			}
			if !yield(patch) {
				return
			}
		}
	}
}

// CropRegion returns the part of the tile at loc that it owns once overlaps
// are split between neighbours. The regions of all tiles partition the
// volume. loc must be a location produced by this grid.
func (g *Grid) CropRegion(loc volume.Location) (volume.Location, error) {
	var region volume.Location
	for a := 0; a < 3; a++ {
		i, ok := g.index[a][loc[a]]
		if !ok || loc[a+3]-loc[a] != g.patchSize[a] {
			return volume.Location{}, errors.Errorf("location %v is not a tile of this grid", loc)
		}
		region[a] = g.bounds[a][i]
		region[a+3] = g.bounds[a][i+1]
	}
	return region, nil
}
