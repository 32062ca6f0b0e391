package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newImportanceCmd(a *app) *cobra.Command {
	var (
		model modelFlags
		topN  int
	)

	cmd := &cobra.Command{
		Use:   "importance <contracts.csv>",
		Short: "Rank features by how much shuffling them moves the risk score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			batch, err := readBatch(args[0])
			if err != nil {
				return err
			}
			engine, _, err := a.engine()
			if err != nil {
				return err
			}
			m, err := model.load(ctx, a, engine)
			if err != nil {
				return err
			}

			ranked, err := engine.Importance(ctx, m, batch, topN)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FEATURE\tIMPORTANCE")
			for _, fi := range ranked {
				fmt.Fprintf(tw, "%s\t%.4f\n", fi.Feature, fi.Importance)
			}
			return tw.Flush()
		},
	}

	model.register(cmd)
	cmd.Flags().IntVar(&topN, "top", 0, "number of features to list; 0 lists all")
	return cmd
}
