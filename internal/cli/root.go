// Package cli implements the volpatch command tree.
package cli

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"volpatch/internal/synth"
	"volpatch/pkg/config"
	"volpatch/pkg/volume"
)

// NewRootCommand builds the volpatch command with all subcommands attached.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "volpatch",
		Short: "Patch-based processing of 3D volumes.",
		Long: `volpatch extracts patches from 3D volumes for training and inference.

train streams random or grid patches from many subjects through a
self-refilling queue. infer tiles one subject with an overlapping
grid, runs every tile through a model and stitches the results back
into a full volume.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.PersistentFlags().StringP("config", "c", "volpatch.yaml", "Configuration file to read from.")

	rc.AddCommand(newTrainCommand(stdin, stdout, stderr))
	rc.AddCommand(newInferCommand(stdin, stdout, stderr))
	rc.AddCommand(newConfigCommand(stdin, stdout, stderr))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setup loads the configuration named by --config and builds a logger that
// writes to stderr.
func setup(cmd *cobra.Command, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting config flag")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler
	if cfg.Output.LogFormat == "json" {
		handler = slog.NewJSONHandler(stderr, opts)
	} else {
		handler = slog.NewTextHandler(stderr, opts)
	}
	logger := slog.New(handler)
	logger.Debug("cli: configuration loaded", "path", path)
	return cfg, logger, nil
}

// loadSubject reads a slice stack directory as a one-image subject named
// after the directory.
func loadSubject(dir string) (*volume.Subject, error) {
	img, err := volume.LoadSliceStack(dir)
	if err != nil {
		return nil, err
	}
	s := volume.NewSubject(filepath.Base(filepath.Clean(dir)))
	if err := s.Add(synth.IntensityName, img); err != nil {
		return nil, err
	}
	return s, nil
}

// dataset returns the slice stacks in dirs, or synthetic subjects when dirs
// is empty.
func dataset(cfg *config.Config, dirs []string) (volume.Dataset, error) {
	if len(dirs) > 0 {
		return volume.LoaderFunc{
			N:    len(dirs),
			Load: func(i int) (*volume.Subject, error) { return loadSubject(dirs[i]) },
		}, nil
	}
	shape, err := cfg.SyntheticShape()
	if err != nil {
		return nil, err
	}
	return synth.Dataset(cfg.Data.SyntheticSubjects, synthOptions(cfg, shape)), nil
}

func synthOptions(cfg *config.Config, shape volume.Triplet) synth.Options {
	return synth.Options{Shape: shape, Seed: cfg.Queue.Seed, Noise: 0.02}
}
