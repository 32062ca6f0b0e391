package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

func trainModels(t *testing.T, n int) []*pipeline.Model {
	t.Helper()

	gen := procurement.DefaultGenerateConfig()
	gen.Records = 60
	batch := procurement.Generate(gen)

	cfg := pipeline.DefaultConfig()
	cfg.Trees = 10
	cfg.Neighbors = 5
	e, err := pipeline.New(cfg)
	require.NoError(t, err)

	models := make([]*pipeline.Model, n)
	for i := range models {
		models[i], err = e.Train(context.Background(), batch)
		require.NoError(t, err)
		// distinct, ordered creation times
		models[i].CreatedAt = time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC)
	}
	return models
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)

	sqlStore, err := OpenSQL(SQLConfig{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "db", "models.db")})
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{"file": fs, "sqlite": sqlStore}
}

func TestStores(t *testing.T) {
	models := trainModels(t, 3)
	ctx := context.Background()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Latest(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			for _, m := range models {
				require.NoError(t, s.Put(ctx, m))
			}
			assert.ErrorIs(t, s.Put(ctx, models[0]), ErrExists)

			got, err := s.Get(ctx, models[1].ID)
			require.NoError(t, err)
			assert.Equal(t, models[1].ID, got.ID)
			assert.Equal(t, models[1].Features, got.Features)
			assert.Equal(t, models[1].Info().LOFThreshold, got.Info().LOFThreshold)

			latest, err := s.Latest(ctx)
			require.NoError(t, err)
			assert.Equal(t, models[2].ID, latest.ID)

			entries, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, models[2].ID, entries[0].ID)
			assert.Equal(t, models[0].ID, entries[2].ID)
			assert.True(t, entries[0].CreatedAt.Equal(models[2].CreatedAt))

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLListCarriesMetadata(t *testing.T) {
	models := trainModels(t, 1)
	s, err := OpenSQL(SQLConfig{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "models.db")})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Put(context.Background(), models[0]))

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models[0].Features, entries[0].Features)
	assert.Equal(t, 60, entries[0].Records)
}

func TestWriteReadFile(t *testing.T) {
	m := trainModels(t, 1)[0]
	path := filepath.Join(t.TempDir(), "nested", "model.bin")

	require.NoError(t, WriteFile(path, m))
	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".artifact-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temporary files are cleaned up")

	_, err = ReadFile(filepath.Join(t.TempDir(), "absent.bin"))
	assert.ErrorIs(t, err, ErrNotFound)

	garbage := filepath.Join(t.TempDir(), "garbage.bin")
	require.NoError(t, os.WriteFile(garbage, []byte("junk"), 0o644))
	_, err = ReadFile(garbage)
	assert.ErrorIs(t, err, riskerr.ErrModelState)
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc-def.model"), []byte("x"), 0o644))

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenSQLUnsupportedDriver(t *testing.T) {
	_, err := OpenSQL(SQLConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
