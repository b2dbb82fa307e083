package cli

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"volpatch/internal/synth"
	"volpatch/pkg/aggregator"
	"volpatch/pkg/config"
	"volpatch/pkg/metrics"
	"volpatch/pkg/sampler"
	"volpatch/pkg/visualization"
	"volpatch/pkg/volume"
)

type inferOptions struct {
	input     string
	imageName string
	outDir    string
	format    string
	auto      bool
}

func newInferCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var opts inferOptions
	inferCmd := &cobra.Command{
		Use:   "infer",
		Short: "Tile one subject, run each tile through a model and stitch the result.",
		Long: `infer samples the subject in --input (or a synthetic subject) with a
grid sampler, passes the tiles through an identity model in batches
and aggregates them back into a volume. The reconstruction is compared
with the input and, with --out, saved as slices along every axis.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			return runInfer(cmd.OutOrStdout(), cfg, logger, opts)
		},
	}
	flags := inferCmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "Slice stack directory (default: a synthetic subject)")
	flags.StringVar(&opts.imageName, "image", "", "Image of the subject to reconstruct (default: the first)")
	flags.StringVarP(&opts.outDir, "out", "o", "", "Directory to save reconstructed slices to")
	flags.StringVar(&opts.format, "format", "jpg", "Slice file format: jpg or png")
	flags.BoolVar(&opts.auto, "auto-window", false, "Scale slices to the reconstructed value range")
	return inferCmd
}

func runInfer(out io.Writer, cfg *config.Config, logger *slog.Logger, opts inferOptions) error {
	subject, err := inferSubject(cfg, opts.input)
	if err != nil {
		return err
	}
	name := opts.imageName
	if name == "" {
		name = subject.Names()[0]
	}
	original := subject.Image(name)
	if original == nil {
		return errors.Errorf("subject %s has no image %q", subject.ID, name)
	}

	sc, err := cfg.SamplerConfig()
	if err != nil {
		return err
	}
	if sc.Kind != sampler.KindGrid {
		logger.Info("infer: using a grid sampler", "configured", sc.Kind.String())
	}
	gs, err := sampler.NewGridSampler(sc.PatchSize, sc.Overlap)
	if err != nil {
		return err
	}
	grid, err := gs.Grid(subject)
	if err != nil {
		return err
	}
	mode, err := aggregator.ParseMode(cfg.Aggregator.Mode)
	if err != nil {
		return err
	}
	agg, err := aggregator.New(grid, mode, aggregator.WithLogger(logger))
	if err != nil {
		return err
	}

	startTime := time.Now()
	batchSize := cfg.Aggregator.BatchSize
	data := make([]*volume.Image, 0, batchSize)
	locations := make([]volume.Location, 0, batchSize)
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		if err := agg.AddBatch(identityModel(data), locations); err != nil {
			return err
		}
		data, locations = data[:0], locations[:0]
		return nil
	}
	for patch := range grid.All() {
		data = append(data, patch.Image(name))
		locations = append(locations, patch.Location)
		if len(data) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	reconstructed, err := agg.Output()
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	fidelity, err := metrics.Compare(original, reconstructed)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Reconstructed %s/%s from %d tiles in %.2f seconds\n\n",
		subject.ID, name, grid.Len(), processingTime.Seconds())
	fmt.Fprintf(out, "Grid: shape %v, patch %v, overlap %v, mode %s\n",
		grid.SpatialShape(), grid.PatchSize(), grid.Overlap(), mode)
	fmt.Fprintf(out, "Coverage: %.2f%%\n\n", agg.Coverage()*100)
	fmt.Fprintf(out, "Fidelity Metrics:\n")
	fmt.Fprintf(out, "=================\n")
	fmt.Fprintf(out, "Root Mean Square Error (RMSE): %.6f\n", fidelity.RMSE)
	fmt.Fprintf(out, "Mean Absolute Error (MAE): %.6f\n", fidelity.MAE)
	fmt.Fprintf(out, "Max Absolute Error: %.6f\n", fidelity.MaxAbsError)
	fmt.Fprintf(out, "Correlation: %.6f\n", fidelity.Correlation)
	fmt.Fprintf(out, "Exact: %t\n", fidelity.Exact)
	if n := agg.IntegerWarnings(); n > 0 {
		fmt.Fprintf(out, "Integer batches averaged: %d\n", n)
	}

	if opts.outDir == "" {
		return nil
	}
	return saveSlices(out, reconstructed, opts)
}

func inferSubject(cfg *config.Config, input string) (*volume.Subject, error) {
	if input != "" {
		return loadSubject(input)
	}
	shape, err := cfg.SyntheticShape()
	if err != nil {
		return nil, err
	}
	return synth.Subject(0, synthOptions(cfg, shape))
}

// identityModel stands in for a network: every output tile is a copy of its
// input tile.
func identityModel(batch []*volume.Image) []*volume.Image {
	out := make([]*volume.Image, len(batch))
	for i, img := range batch {
		out[i] = img.Clone()
	}
	return out
}

func saveSlices(out io.Writer, img *volume.Image, opts inferOptions) error {
	viewer, err := visualization.NewViewer(img, 0)
	if err != nil {
		return err
	}
	if opts.auto {
		viewer.AutoWindow()
	}

	fmt.Fprintf(out, "\nExtracting reconstructed slices along all axes...\n")
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(opts.outDir, axis)
		fmt.Fprintf(out, "Saving %s-axis slices to: %s\n", axis, axisDir)
		if err := viewer.SaveSliceSequence(axis, axisDir, opts.format); err != nil {
			return errors.Wrapf(err, "saving %s-axis slices", axis)
		}
	}
	fmt.Fprintf(out, "Slice extraction completed!\n")
	return nil
}
