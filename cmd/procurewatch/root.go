package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/procurewatch/pkg/config"
	pwcsv "github.com/hed1ad/procurewatch/pkg/io/csv"
	"github.com/hed1ad/procurewatch/pkg/metrics"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/store"
	"github.com/hed1ad/procurewatch/pkg/telemetry"
)

// app carries state shared by every subcommand once the root pre-run has loaded it.
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "procurewatch",
		Short:         "Corruption-risk scoring for public procurement awards",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newGenerateCmd(a),
		newTrainCmd(a),
		newScoreCmd(a),
		newImportanceCmd(a),
		newServeCmd(a),
	)

	a.wrap(root)
	return root
}

// wrap logs command failures through slog instead of cobra's printer and
// flushes pending spans once a command returns.
func (a *app) wrap(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		run := cmd.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if err != nil {
				slog.Error("command failed", "command", cmd.Name(), "error", err)
			}
			if a.shutdown != nil {
				if serr := a.shutdown(context.Background()); serr != nil {
					slog.Warn("telemetry shutdown failed", "error", serr)
				}
			}
			return err
		}
	}
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logger, err := cfg.Logging.Logger(os.Stderr)
	if err != nil {
		slog.Error("invalid logging config", "error", err)
		return err
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(cfg.Tracing, os.Stderr, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		return err
	}

	a.cfg = cfg
	a.shutdown = shutdown
	a.logger = logger
	return nil
}

// engine builds a scoring engine whose metrics land in a fresh registry.
func (a *app) engine() (*pipeline.Engine, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, nil, err
	}
	e, err := pipeline.New(a.cfg.Model.Pipeline(),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(m),
	)
	if err != nil {
		return nil, nil, err
	}
	return e, reg, nil
}

func (a *app) openStore() (store.Store, error) {
	switch a.cfg.Store.Kind {
	case "sql":
		return store.OpenSQL(a.cfg.Store.SQL)
	default:
		return store.NewFileStore(a.cfg.Store.Dir)
	}
}

// modelFlags selects the artifact a command scores with.
type modelFlags struct {
	path string
	id   string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "model", "m", "", "model artifact file; defaults to the store")
	cmd.Flags().StringVar(&f.id, "model-id", "", "model id in the store; defaults to the latest")
}

// load reads the artifact from a file when one is given, otherwise from the
// configured store, and checks it against engine.
func (f *modelFlags) load(ctx context.Context, a *app, engine *pipeline.Engine) (*pipeline.Model, error) {
	m, err := f.read(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := engine.CheckModel(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *modelFlags) read(ctx context.Context, a *app) (*pipeline.Model, error) {
	if f.path != "" {
		return store.ReadFile(f.path)
	}

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var m *pipeline.Model
	if f.id != "" {
		m, err = st.Get(ctx, f.id)
	} else {
		m, err = st.Latest(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no model in the %s store; run train first: %w", a.cfg.Store.Kind, err)
	}
	return m, err
}

func readBatch(path string) (*procurement.Batch, error) {
	r, err := pwcsv.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}
