package pipeline

import (
	"encoding/gob"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/hed1ad/procurewatch/pkg/detectors/iforest"
	"github.com/hed1ad/procurewatch/pkg/detectors/lof"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/scaler"
)

// ArtifactVersion is the model artifact format written by Save.
const ArtifactVersion = 1

// Model is a trained scaler plus both outlier models, bound to the feature
// list they were fitted on.
type Model struct {
	ID        string
	CreatedAt time.Time
	Features  []string
	Dropped   []string
	Records   int

	scaler *scaler.Robust
	iso    *iforest.IsolationForest
	local  *lof.LocalOutlierFactor
}

// Info describes a model artifact.
type Info struct {
	ID           string    `json:"id"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	Features     []string  `json:"features"`
	Dropped      []string  `json:"dropped_features,omitempty"`
	Records      int       `json:"training_records"`
	IsoThreshold float64   `json:"iso_threshold"`
	LOFThreshold float64   `json:"lof_threshold"`
	Neighbors    int       `json:"neighbors"`
}

// Info returns the model metadata.
func (m *Model) Info() Info {
	return Info{
		ID:           m.ID,
		Version:      ArtifactVersion,
		CreatedAt:    m.CreatedAt,
		Features:     m.Features,
		Dropped:      m.Dropped,
		Records:      m.Records,
		IsoThreshold: m.iso.Threshold(),
		LOFThreshold: m.local.Threshold(),
		Neighbors:    m.local.Neighbors(),
	}
}

type artifact struct {
	Version   int
	ID        string
	CreatedAt time.Time
	Features  []string
	Dropped   []string
	Records   int
	Scaler    scaler.Params
	IsoForest []byte
	LOF       []byte
}

// Save writes the model as a versioned gob artifact.
func (m *Model) Save(w io.Writer) error {
	params, err := m.scaler.Params()
	if err != nil {
		return err
	}
	iso, err := m.iso.Save()
	if err != nil {
		return err
	}
	local, err := m.local.Save()
	if err != nil {
		return err
	}

	err = gob.NewEncoder(w).Encode(artifact{
		Version:   ArtifactVersion,
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Features:  m.Features,
		Dropped:   m.Dropped,
		Records:   m.Records,
		Scaler:    params,
		IsoForest: iso,
		LOF:       local,
	})
	if err != nil {
		return fmt.Errorf("encode model artifact: %w", err)
	}
	return nil
}

// LoadModel reads an artifact written by Save. Unknown versions and
// internally inconsistent artifacts fail with riskerr.ErrModelState.
func LoadModel(r io.Reader) (*Model, error) {
	var a artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode model artifact: %w", riskerr.ErrModelState, err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("%w: unsupported artifact version %d, want %d", riskerr.ErrModelState, a.Version, ArtifactVersion)
	}
	if len(a.Features) == 0 || len(a.Scaler.Center) != len(a.Features) {
		return nil, fmt.Errorf("%w: artifact scaler covers %d features, artifact lists %d",
			riskerr.ErrModelState, len(a.Scaler.Center), len(a.Features))
	}

	sc, err := scaler.FromParams(a.Scaler)
	if err != nil {
		return nil, err
	}
	iso, err := iforest.New()
	if err != nil {
		return nil, err
	}
	if err := iso.Load(a.IsoForest); err != nil {
		return nil, err
	}
	local, err := lof.New()
	if err != nil {
		return nil, err
	}
	if err := local.Load(a.LOF); err != nil {
		return nil, err
	}
	if iso.Width() != len(a.Features) || local.Width() != len(a.Features) {
		return nil, fmt.Errorf("%w: artifact lists %d features, isolation forest expects %d, local outlier model %d",
			riskerr.ErrModelState, len(a.Features), iso.Width(), local.Width())
	}

	return &Model{
		ID:        a.ID,
		CreatedAt: a.CreatedAt,
		Features:  a.Features,
		Dropped:   a.Dropped,
		Records:   a.Records,
		scaler:    sc,
		iso:       iso,
		local:     local,
	}, nil
}

// CheckModel fails with riskerr.ErrModelState unless m was trained on the
// features this engine builds. Features the model dropped for missing
// columns still count as requested.
func (e *Engine) CheckModel(m *Model) error {
	if m == nil {
		return fmt.Errorf("%w: no model", riskerr.ErrModelState)
	}
	want := e.builder.Names()
	kept := slices.DeleteFunc(slices.Clone(want), func(name string) bool {
		return slices.Contains(m.Dropped, name)
	})
	if !slices.Equal(kept, m.Features) || len(kept)+len(m.Dropped) != len(want) {
		return fmt.Errorf("%w: model features %v (dropped %v) do not match engine features %v",
			riskerr.ErrModelState, m.Features, m.Dropped, want)
	}
	return nil
}

// LoadModel reads an artifact and checks it against the engine's features.
func (e *Engine) LoadModel(r io.Reader) (*Model, error) {
	m, err := LoadModel(r)
	if err != nil {
		return nil, err
	}
	if err := e.CheckModel(m); err != nil {
		return nil, err
	}
	return m, nil
}
