package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagJob      string
	flagStart    string
	flagEnd      string
	flagDuration float64
	flagSuccess  bool
	flagUsage    map[string]string
	flagLimit    int
)

func parseTime(name, raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected RFC3339 timestamp: %w", name, err)
	}
	return t, nil
}

func parseUsage(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("usage %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "append one observed job execution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		start, err := parseTime("--start", flagStart, time.Now().UTC())
		if err != nil {
			return err
		}
		usage, err := parseUsage(flagUsage)
		if err != nil {
			return err
		}
		rec, err := e.adv.RecordExecution(cmd.Context(), flagJob, start, flagDuration, flagSuccess, usage)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <job> [job...]",
	Short: "recommend schedules for one or more jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		if len(args) == 1 {
			pred, err := e.adv.Predict(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(pred)
		}
		preds, err := e.adv.PredictBatch(cmd.Context(), args)
		if err != nil {
			return err
		}
		return printJSON(preds)
	},
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "report an outcome and compare it against the prediction",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		start, err := parseTime("--start", flagStart, time.Time{})
		if err != nil {
			return err
		}
		end, err := parseTime("--end", flagEnd, time.Now().UTC())
		if err != nil {
			return err
		}
		usage, err := parseUsage(flagUsage)
		if err != nil {
			return err
		}
		cmp, err := e.adv.TrackExecution(cmd.Context(), flagJob, start, end, flagSuccess, usage)
		if err != nil {
			return err
		}
		return printJSON(cmp)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "print the meta-learning report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		report, err := e.adv.MetaLearningReport(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var accuracyCmd = &cobra.Command{
	Use:   "accuracy",
	Short: "print prediction accuracy metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		metrics, err := e.adv.AccuracyMetrics(cmd.Context(), flagJob)
		if err != nil {
			return err
		}
		if err := printJSON(metrics); err != nil {
			return err
		}
		if flagLimit > 0 {
			worst, err := e.adv.WorstPredictions(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			return printJSON(worst)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "write the meta-learning report to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()
		return e.adv.ExportMetrics(cmd.Context(), args[0])
	},
}

var adaptCmd = &cobra.Command{
	Use:   "adapt [strategy]",
	Short: "score and adapt strategies (all, or one by name)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		if len(args) == 1 {
			s, err := e.adv.AdaptStrategy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(s)
		}
		return e.adv.Adapt(cmd.Context())
	},
}

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "run one generation of strategy evolution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.adv.Evolve(cmd.Context()); err != nil {
			return err
		}
		report, err := e.adv.MetaLearningReport(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	for _, c := range []*cobra.Command{recordCmd, trackCmd} {
		c.Flags().StringVar(&flagJob, "job", "", "job identifier")
		c.Flags().StringVar(&flagStart, "start", "", "start time (RFC3339)")
		c.Flags().BoolVar(&flagSuccess, "success", true, "whether the run succeeded")
		c.Flags().StringToStringVar(&flagUsage, "usage", nil, "resource usage, e.g. --usage cpu=42,memory=60")
		_ = c.MarkFlagRequired("job")
	}
	recordCmd.Flags().Float64Var(&flagDuration, "duration", 0, "duration in seconds")
	trackCmd.Flags().StringVar(&flagEnd, "end", "", "end time (RFC3339, default now)")
	_ = trackCmd.MarkFlagRequired("start")

	accuracyCmd.Flags().StringVar(&flagJob, "job", "", "restrict to one job")
	accuracyCmd.Flags().IntVar(&flagLimit, "worst", 0, "also list the N worst predictions")
}
