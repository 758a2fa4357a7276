package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/justin4957/latency-anomaly-detector/internal/artifact"
	"github.com/justin4957/latency-anomaly-detector/internal/dataset"
	"github.com/justin4957/latency-anomaly-detector/internal/evaluation"
	"github.com/justin4957/latency-anomaly-detector/internal/registry"
	"github.com/justin4957/latency-anomaly-detector/internal/selection"
	"github.com/justin4957/latency-anomaly-detector/internal/synth"
	"github.com/justin4957/latency-anomaly-detector/internal/training"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newPrepareCommand(ctx *commandContext) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Drop missing latencies and cap outliers at the 99th percentile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				in = ctx.conf.Dataset.InputPath
			}
			if out == "" {
				out = ctx.conf.Dataset.CleanedPath
			}
			cleaned, res, err := dataset.Prepare(in, out, ctx.conf.Dataset.CapQuantile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned data: %d rows (dropped %d, capped %d at %.3f)\n",
				cleaned.Len(), res.Dropped, res.Capped, res.Cap)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "input", "", "Raw dataset CSV (defaults to dataset.input_path)")
	cmd.Flags().StringVar(&out, "output", "", "Cleaned dataset CSV (defaults to dataset.cleaned_path)")
	return cmd
}

func openRegistry(ctx context.Context, path string) (*registry.Store, error) {
	if path == "" {
		return nil, nil
	}
	return registry.Open(ctx, path)
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Select the best contamination and save the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := cmd.Context()
			conf := ctx.conf

			opts := training.Options{}
			if !noProgress {
				bar := progressbar.Default(int64(len(conf.Training.Contaminations)), "sweeping contamination")
				opts.OnCandidate = func(selection.Candidate) { bar.Add(1) }
			}

			store, err := openRegistry(runCtx, conf.Registry.Path)
			if err != nil {
				// training does not depend on the registry
				log.Error().Err(err).Str("path", conf.Registry.Path).Msg("Training registry unavailable")
			} else if store != nil {
				defer store.Close()
				opts.Recorder = store
			}

			res, err := training.Run(runCtx, conf, opts)
			if err != nil {
				return err
			}

			f1 := "n/a"
			if res.Model.F1 != nil {
				f1 = strconv.FormatFloat(*res.Model.F1, 'f', 4, 64)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Best contamination: %v (F1 %s)\nModel saved to %s\n",
				res.Model.Contamination, f1, conf.Artifact.Path)
			if res.Selection.Degraded {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning: no candidate could be scored, kept the first one")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Hide the progress bar")
	return cmd
}

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var dataPath, modelPath string
	var digits int
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Print the classification report of a saved model on a labelled dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataPath == "" {
				dataPath = ctx.conf.Dataset.CleanedPath
			}
			if modelPath == "" {
				modelPath = ctx.conf.Artifact.Path
			}
			model, err := artifact.Load(modelPath)
			if err != nil {
				return err
			}
			ds, err := dataset.Load(dataPath)
			if err != nil {
				return err
			}
			report, err := evaluation.Evaluate(model, ds)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), evaluation.RenderReport(report, digits))
			return nil
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "Labelled dataset CSV (defaults to dataset.cleaned_path)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model artifact (defaults to artifact.path)")
	cmd.Flags().IntVar(&digits, "digits", 2, "Decimal places in the report")
	return cmd
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	opts := synth.DefaultOptions()
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic labelled latency dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = ctx.conf.Dataset.InputPath
			}
			if opts.NullFraction < 0 || opts.NullFraction >= 1 {
				return errors.New("--null-fraction must be in [0, 1)")
			}
			ds, err := synth.WriteFile(out, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", ds.Len(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output CSV (defaults to dataset.input_path)")
	cmd.Flags().IntVar(&opts.NormalCount, "normal", opts.NormalCount, "Number of normal readings")
	cmd.Flags().Float64Var(&opts.NormalMean, "normal-mean", opts.NormalMean, "Mean of normal readings (ms)")
	cmd.Flags().Float64Var(&opts.NormalStd, "normal-std", opts.NormalStd, "Standard deviation of normal readings")
	cmd.Flags().IntVar(&opts.AnomalyCount, "anomalies", opts.AnomalyCount, "Number of anomalous readings")
	cmd.Flags().Float64Var(&opts.AnomalyMean, "anomaly-mean", opts.AnomalyMean, "Mean of anomalous readings (ms)")
	cmd.Flags().Float64Var(&opts.AnomalyStd, "anomaly-std", opts.AnomalyStd, "Standard deviation of anomalous readings")
	cmd.Flags().Float64Var(&opts.NullFraction, "null-fraction", 0, "Fraction of rows without a latency")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	return cmd
}

func formatF1(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.conf.Registry.Path == "" {
				return errors.New("training registry is disabled (registry.path is empty)")
			}
			store, err := registry.Open(cmd.Context(), ctx.conf.Registry.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				run, err := store.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(run.Candidates))
				for _, c := range run.Candidates {
					rows = append(rows, []string{strconv.Itoa(c.Position), strconv.FormatFloat(c.Contamination, 'g', -1, 64), formatF1(c.F1)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s: selected %v, dataset %s\n", run.ID, run.Contamination, run.DatasetPath)
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "Contamination", "F1"}, rows, []columnAlignment{alignRight, alignRight, alignRight}))
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No training runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				capValue := "-"
				if !math.IsNaN(r.Cap) {
					capValue = strconv.FormatFloat(r.Cap, 'f', 2, 64)
				}
				rows = append(rows, []string{
					r.ID,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					strconv.Itoa(r.RawRows),
					strconv.Itoa(r.CleanedRows),
					capValue,
					strconv.FormatFloat(r.Contamination, 'g', -1, 64),
					formatF1(r.F1),
					strconv.FormatBool(r.Degraded),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Started", "Raw", "Cleaned", "Cap", "Contamination", "F1", "Degraded"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&runID, "id", "", "Show the candidates of a single run")
	return cmd
}
