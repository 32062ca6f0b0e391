package main

import (
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	pwio "github.com/hed1ad/procurewatch/pkg/io"
	pwcsv "github.com/hed1ad/procurewatch/pkg/io/csv"
	"github.com/hed1ad/procurewatch/pkg/io/xlsx"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		model       modelFlags
		out         string
		topN        int
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "score <contracts.csv>",
		Short: "Score a contract batch and write the assessed records",
		Long: "Score a contract batch with a trained model. Output is CSV, or an Excel\n" +
			"workbook with a summary sheet when the output file ends in .xlsx.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			batch, err := readBatch(args[0])
			if err != nil {
				return err
			}
			engine, reg, err := a.engine()
			if err != nil {
				return err
			}
			m, err := model.load(ctx, a, engine)
			if err != nil {
				return err
			}

			results, err := engine.Score(ctx, m, batch)
			if err != nil {
				return err
			}
			summary := pipeline.Summarize(results, topN)
			flags := len(engine.Config().Rules) > 0

			var w pwio.Writer
			switch {
			case strings.EqualFold(filepath.Ext(out), ".xlsx"):
				if w, err = xlsx.NewWriter(out, xlsx.WithFlags(flags)); err != nil {
					return err
				}
			case out == "-":
				w = pwcsv.NewWriter(cmd.OutOrStdout(), pwcsv.WithFlags(flags))
			default:
				if w, err = pwcsv.Create(out, pwcsv.WithFlags(flags)); err != nil {
					return err
				}
			}
			if err := writeResults(w, results, summary); err != nil {
				return err
			}

			a.logger.Info("scoring summary", "model", m.ID, "summary", summary)

			if metricsFile != "" {
				return prometheus.WriteToTextfile(metricsFile, reg)
			}
			return nil
		},
	}

	model.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file (.csv or .xlsx), - for CSV on stdout")
	cmd.Flags().IntVar(&topN, "top", 10, "entries per ranked list in the summary; 0 keeps all")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics to this textfile")
	return cmd
}

// summaryWriter is a results writer that can also render the batch summary.
type summaryWriter interface {
	pwio.Writer
	WriteSummary(s pipeline.Summary) error
}

// writeResults writes results, plus the summary when w renders one. w is
// closed on every path.
func writeResults(w pwio.Writer, results []pipeline.Result, summary pipeline.Summary) (err error) {
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	if err := w.WriteAll(results); err != nil {
		return err
	}
	if sw, ok := w.(summaryWriter); ok {
		return sw.WriteSummary(summary)
	}
	return nil
}
