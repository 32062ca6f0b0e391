package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/procurewatch/pkg/pipeline"
)

const artifactExt = ".model"

// WriteFile atomically writes m to path: the artifact is written to a
// temporary file in the same directory, synced and renamed into place.
func WriteFile(path string, m *pipeline.Model) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temporary artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install artifact: %w", err)
	}
	return nil
}

// ReadFile loads the artifact at path.
func ReadFile(path string) (*pipeline.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	return pipeline.LoadModel(f)
}

// FileStore keeps one artifact file per model in a directory. File names
// start with the creation time so listing needs no decoding.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) name(m *pipeline.Model) string {
	return fmt.Sprintf("%020d-%s%s", m.CreatedAt.UnixNano(), m.ID, artifactExt)
}

// Put writes m unless an artifact with its ID exists.
func (s *FileStore) Put(ctx context.Context, m *pipeline.Model) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.find(m.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, m.ID)
	}
	return WriteFile(filepath.Join(s.dir, s.name(m)), m)
}

// Get loads the model with the given ID.
func (s *FileStore) Get(ctx context.Context, id string) (*pipeline.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return ReadFile(path)
}

// Latest loads the newest model in the directory.
func (s *FileStore) Latest(ctx context.Context) (*pipeline.Model, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: store %s is empty", ErrNotFound, s.dir)
	}
	return s.Get(ctx, entries[0].ID)
}

// List returns the stored artifacts, newest first. Features and record
// counts are not filled in.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var out []Entry
	for _, f := range files {
		e, ok := parseName(f.Name())
		if !ok || f.IsDir() {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) find(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*-"+id+artifactExt))
	if err != nil {
		return "", fmt.Errorf("search store: %w", err)
	}
	for _, path := range matches {
		if e, ok := parseName(filepath.Base(path)); ok && e.ID == id {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func parseName(name string) (Entry, bool) {
	base, ok := strings.CutSuffix(name, artifactExt)
	if !ok {
		return Entry{}, false
	}
	stamp, id, ok := strings.Cut(base, "-")
	if !ok || id == "" {
		return Entry{}, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{ID: id, CreatedAt: time.Unix(0, nanos).UTC()}, true
}

var _ Store = (*FileStore)(nil)
