package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/hed1ad/procurewatch/pkg/api"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/store"
)

func newServeCmd(a *app) *cobra.Command {
	var model modelFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, reg, err := a.engine()
			if err != nil {
				return err
			}

			// The service starts without a model when the store is empty;
			// one can be uploaded later through PUT /v1/model.
			var m *pipeline.Model
			m, err = model.load(ctx, a, engine)
			switch {
			case errors.Is(err, store.ErrNotFound) && model.path == "":
				a.logger.Warn("no model in store, waiting for an upload", "store", a.cfg.Store.Kind)
			case err != nil:
				return err
			default:
				a.logger.Info("model loaded", "model", m.ID, "features", m.Features)
			}

			h := api.NewHandler(engine, m, api.WithGatherer(reg), api.WithLogger(a.logger))
			srv := api.NewServer(a.cfg.Server, h)

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("procurewatch is ready", "addr", a.cfg.Server.Addr)
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}

	model.register(cmd)
	return cmd
}
