// Package store persists trained model artifacts on the local filesystem or
// in a SQL database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hed1ad/procurewatch/pkg/pipeline"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrExists   = errors.New("artifact already stored")
)

// Entry describes a stored artifact without decoding it.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Features  []string  `json:"features,omitempty"`
	Records   int       `json:"training_records"`
}

// Store keeps model artifacts addressed by model ID.
type Store interface {
	// Put stores a model; storing the same ID twice fails with ErrExists.
	Put(ctx context.Context, m *pipeline.Model) error

	// Get loads the model with the given ID.
	Get(ctx context.Context, id string) (*pipeline.Model, error)

	// Latest loads the most recently created model.
	Latest(ctx context.Context) (*pipeline.Model, error)

	// List returns stored artifacts, newest first.
	List(ctx context.Context) ([]Entry, error)

	Close() error
}
