package cli

import (
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"volpatch/pkg/queue"
	"volpatch/pkg/sampler"
)

func newTrainCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		inputs      []string
		iterations  int
		showMetrics bool
	)
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Stream patches from a queue as a training loop would.",
		Long: `train builds a patch queue over the subjects in --input (one slice
stack directory per subject) or over synthetic subjects, and draws
--iterations patches from it. With no --iterations one epoch is drawn.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, stderr)
			if err != nil {
				return err
			}
			ds, err := dataset(cfg, inputs)
			if err != nil {
				return err
			}
			sc, err := cfg.SamplerConfig()
			if err != nil {
				return err
			}
			seed := cfg.Queue.Seed
			s, err := sampler.New(sc, rand.New(rand.NewPCG(seed, seed+1)))
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			q, err := queue.New(ds, s, queue.Params{
				MaxLength:        cfg.Queue.MaxLength,
				SamplesPerVolume: cfg.Queue.SamplesPerVolume,
				NumWorkers:       cfg.Queue.NumWorkers,
				ShuffleSubjects:  cfg.Queue.ShuffleSubjects,
				ShufflePatches:   cfg.Queue.ShufflePatches,
				Seed:             seed,
				Name:             "train",
				Logger:           logger,
				Registerer:       reg,
			})
			if err != nil {
				return err
			}
			defer q.Close()

			if iterations <= 0 {
				iterations = q.Len()
			}
			logger.Info("train: starting", "queue", q.String(), "iterations", iterations)

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			startTime := time.Now()
			means := make([]float64, 0, iterations)
			seen := make(map[string]int)
			for i := 0; i < iterations; i++ {
				if ctx != nil && ctx.Err() != nil {
					logger.Warn("train: interrupted", "iterations", i)
					break
				}
				patch, err := q.Get(i)
				if err != nil {
					return err
				}
				seen[patch.SubjectID]++
				names := patch.Subject.Names()
				means = append(means, stat.Mean(patch.Image(names[0]).Data, nil))
			}
			elapsed := time.Since(startTime)

			fmt.Fprintf(out, "Drew %d patches in %.2f seconds\n\n", len(means), elapsed.Seconds())
			fmt.Fprintf(out, "Queue Statistics:\n")
			fmt.Fprintf(out, "=================\n")
			fmt.Fprintf(out, "Subjects in dataset: %d\n", q.NumSubjects())
			fmt.Fprintf(out, "Subjects sampled: %d\n", len(seen))
			fmt.Fprintf(out, "Patches drawn: %d\n", q.NumSampled())
			fmt.Fprintf(out, "Iterations per epoch: %d\n", q.IterationsPerEpoch())
			fmt.Fprintf(out, "Fills: %d\n", q.NumFills())
			fmt.Fprintf(out, "Passes over dataset: %d\n", q.NumPasses())
			if len(means) > 1 {
				mean, std := stat.MeanStdDev(means, nil)
				fmt.Fprintf(out, "Patch mean intensity: %.4f (std %.4f)\n", mean, std)
			}

			if showMetrics {
				return printMetrics(out, reg)
			}
			return nil
		},
	}
	flags := trainCmd.Flags()
	flags.StringSliceVarP(&inputs, "input", "i", nil, "Slice stack directory (repeatable, one per subject)")
	flags.IntVarP(&iterations, "iterations", "n", 0, "Number of patches to draw (default one epoch)")
	flags.BoolVar(&showMetrics, "metrics", false, "Print the queue's Prometheus metrics when done")
	return trainCmd
}

// printMetrics writes every gathered counter, gauge and histogram count.
func printMetrics(out io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nMetrics:\n")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "%s %g\n", mf.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(out, "%s %g\n", mf.GetName(), m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(out, "%s_count %d\n", mf.GetName(), m.GetHistogram().GetSampleCount())
			}
		}
	}
	return nil
}
