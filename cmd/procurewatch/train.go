package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/procurewatch/pkg/store"
)

func newTrainCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "train <contracts.csv>",
		Short: "Train a model on a contract batch and save the artifact",
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
			model, err := engine.Train(ctx, batch)
			if err != nil {
				return err
			}

			if out != "" {
				if err := store.WriteFile(out, model); err != nil {
					return err
				}
			} else {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				if err := st.Put(ctx, model); err != nil {
					return err
				}
			}

			info := model.Info()
			a.logger.Info("model saved",
				"model", info.ID,
				"features", info.Features,
				"dropped", info.Dropped,
				"iso_threshold", info.IsoThreshold,
				"lof_threshold", info.LOFThreshold,
			)
			fmt.Fprintln(cmd.OutOrStdout(), info.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the artifact to this file instead of the store")
	return cmd
}
