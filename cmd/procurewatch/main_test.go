package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pwcsv "github.com/hed1ad/procurewatch/pkg/io/csv"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "procurewatch.yaml")
	body := "model:\n  trees: 10\n  neighbors: 5\n" +
		"logging:\n  level: error\n" +
		"store:\n  kind: file\n  dir: " + filepath.Join(dir, "models") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGenerateTrainScore(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	data := filepath.Join(dir, "contracts.csv")
	scored := filepath.Join(dir, "scored.csv")
	prom := filepath.Join(dir, "metrics.prom")

	_, err := execute(t, "--config", cfg, "generate", "-n", "200", "-o", data)
	require.NoError(t, err)

	id, err := execute(t, "--config", cfg, "train", data)
	require.NoError(t, err)
	id = strings.TrimSpace(id)
	require.NotEmpty(t, id)

	_, err = execute(t, "--config", cfg, "score", data, "-o", scored, "--metrics-file", prom)
	require.NoError(t, err)

	f, err := os.Open(scored)
	require.NoError(t, err)
	defer f.Close()
	batch, err := pwcsv.FromReader(f).Read()
	require.NoError(t, err)
	assert.Equal(t, 200, batch.Len())

	metrics, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "procurewatch_records_scored_total 200")

	out, err := execute(t, "--config", cfg, "importance", data, "--model-id", id, "--top", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "FEATURE"))
}

func TestScoreXLSX(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	data := filepath.Join(dir, "contracts.csv")
	artifact := filepath.Join(dir, "model.bin")
	report := filepath.Join(dir, "report.xlsx")

	_, err := execute(t, "--config", cfg, "generate", "-n", "120", "-o", data)
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "train", data, "-o", artifact)
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "score", data, "-m", artifact, "-o", report)
	require.NoError(t, err)

	info, err := os.Stat(report)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestScoreWithoutModel(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	data := filepath.Join(dir, "contracts.csv")

	_, err := execute(t, "--config", cfg, "generate", "-n", "50", "-o", data)
	require.NoError(t, err)

	_, err = execute(t, "--config", cfg, "score", data)
	assert.ErrorContains(t, err, "run train first")
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  contamination: 1.5\n"), 0o644))

	_, err := execute(t, "--config", path, "generate", "-n", "10", "-o", filepath.Join(dir, "x.csv"))
	assert.Error(t, err)
}

type stubWriter struct {
	allErr     error
	summaryErr error
	summaries  int
	closed     int
}

func (w *stubWriter) Write(pipeline.Result) error { return w.allErr }
func (w *stubWriter) WriteAll([]pipeline.Result) error { return w.allErr }
func (w *stubWriter) WriteSummary(pipeline.Summary) error {
	w.summaries++
	return w.summaryErr
}

func (w *stubWriter) Close() error {
	w.closed++
	return nil
}

func TestWriteResultsClosesWriter(t *testing.T) {
	failed := errors.New("disk full")

	tests := []struct {
		name          string
		w             *stubWriter
		wantErr       error
		wantSummaries int
	}{
		{name: "success", w: &stubWriter{}, wantSummaries: 1},
		{name: "results fail", w: &stubWriter{allErr: failed}, wantErr: failed},
		{name: "summary fails", w: &stubWriter{summaryErr: failed}, wantErr: failed, wantSummaries: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := writeResults(tt.w, nil, pipeline.Summary{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, tt.w.closed)
			assert.Equal(t, tt.wantSummaries, tt.w.summaries)
		})
	}
}
