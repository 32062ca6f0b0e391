package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	pwcsv "github.com/hed1ad/procurewatch/pkg/io/csv"
	"github.com/hed1ad/procurewatch/pkg/procurement"
)

func newGenerateCmd(a *app) *cobra.Command {
	gen := procurement.DefaultGenerateConfig()
	var (
		rate float64
		out  string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic contract batch with injected anomalies as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rate < 0 || rate > 1 {
				return fmt.Errorf("anomaly rate must be in [0, 1], got %v", rate)
			}
			batch := procurement.Generate(gen)
			injected := procurement.InjectAnomalies(batch, rate, gen.Seed+1)

			var dst io.Writer = cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			if err := pwcsv.WriteBatch(dst, batch); err != nil {
				return err
			}

			a.logger.Info("batch generated",
				"records", batch.Len(),
				"injected", len(injected),
				"out", out,
			)
			return nil
		},
	}

	cmd.Flags().IntVarP(&gen.Records, "records", "n", gen.Records, "number of contracts")
	cmd.Flags().Int64Var(&gen.Seed, "seed", gen.Seed, "random seed")
	cmd.Flags().IntVar(&gen.Vendors, "vendors", gen.Vendors, "number of distinct vendors")
	cmd.Flags().IntVar(&gen.Authorities, "authorities", gen.Authorities, "number of distinct authorities")
	cmd.Flags().Float64Var(&rate, "anomaly-rate", 0.05, "share of records perturbed into anomalies")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output CSV file, - for stdout")
	return cmd
}
