package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// DefaultTopN bounds the ranked lists in a score response summary.
const DefaultTopN = 10

// ScoreResponse is the body returned by POST /v1/score.
type ScoreResponse struct {
	ModelID string            `json:"model_id"`
	Results []pipeline.Result `json:"results"`
	Summary pipeline.Summary  `json:"summary"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelID     string `json:"model_id,omitempty"`
}

// Handler serves scoring requests against the currently loaded model.
type Handler struct {
	engine   *pipeline.Engine
	model    atomic.Pointer[pipeline.Model]
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithGatherer sets the registry exposed on /metrics.
func WithGatherer(g prometheus.Gatherer) HandlerOption {
	return func(h *Handler) {
		h.gatherer = g
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler returns a handler scoring with engine. model may be nil until one
// is uploaded through PUT /v1/model.
func NewHandler(engine *pipeline.Engine, model *pipeline.Model, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:   engine,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if model != nil {
		h.model.Store(model)
	}
	return h
}

// Model returns the model currently used for scoring, or nil.
func (h *Handler) Model() *pipeline.Model {
	return h.model.Load()
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if m := h.Model(); m != nil {
		resp.ModelLoaded = true
		resp.ModelID = m.ID
	}
	render.JSON(w, r, resp)
}

// Metrics returns the prometheus exposition handler.
func (h *Handler) Metrics() http.Handler {
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}

// GetModel handles GET /v1/model.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m := h.Model()
	if m == nil {
		h.writeError(w, r, fmt.Errorf("%w: no model loaded", riskerr.ErrModelState))
		return
	}
	render.JSON(w, r, m.Info())
}

// PutModel handles PUT /v1/model. The body is a model artifact; it replaces
// the current model for subsequent requests.
func (h *Handler) PutModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.LoadModel(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.model.Store(m)
	h.logger.InfoContext(r.Context(), "model replaced", "model", m.ID, "features", m.Features)
	render.JSON(w, r, m.Info())
}

// Score handles POST /v1/score. The body is a batch of contract records; when
// it does not list its columns every source column is assumed present.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	topN, err := topParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	m := h.Model()
	if m == nil {
		h.writeError(w, r, fmt.Errorf("%w: no model loaded", riskerr.ErrModelState))
		return
	}

	var batch procurement.Batch
	if err := render.DecodeJSON(r.Body, &batch); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: decode batch: %w", errBadRequest, err))
		return
	}
	if len(batch.Columns) == 0 {
		batch.Columns = procurement.AllColumns()
	}

	results, err := h.engine.Score(r.Context(), m, &batch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, ScoreResponse{
		ModelID: m.ID,
		Results: results,
		Summary: pipeline.Summarize(results, topN),
	})
}

func topParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("top")
	if raw == "" {
		return DefaultTopN, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: top must be a non-negative integer, got %q", errBadRequest, raw)
	}
	return n, nil
}
