package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "none", cfg: Config{Exporter: ExporterNone, SampleRatio: 1}},
		{name: "stdout", cfg: Config{Exporter: ExporterStdout, SampleRatio: 0.5}},
		{name: "unknown exporter", cfg: Config{Exporter: "jaeger", SampleRatio: 1}, wantErr: true},
		{name: "ratio above one", cfg: Config{Exporter: ExporterStdout, SampleRatio: 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, riskerr.ErrConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSetupStdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := Setup(Config{Exporter: ExporterStdout, SampleRatio: 1}, &buf, logger)
	require.NoError(t, err)

	_, span := otel.Tracer("procurewatch/test").Start(context.Background(), "pipeline.Score")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "pipeline.Score")
	assert.Contains(t, buf.String(), ServiceName)
}

func TestSetupNone(t *testing.T) {
	shutdown, err := Setup(Config{Exporter: ExporterNone}, io.Discard, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
