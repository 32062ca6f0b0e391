package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// errBadRequest marks bodies that could not be decoded.
var errBadRequest = errors.New("bad request")

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Trace  string `json:"trace_id,omitempty"`
}

// Render implements render.Renderer.
func (p *Problem) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, p.Status)
	return nil
}

// problemFor maps err onto a problem with the matching status code. An
// oversized body wins over whatever error the truncated read produced.
func problemFor(err error) *Problem {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return &Problem{Type: "/errors/too-large", Title: "Request Entity Too Large", Status: http.StatusRequestEntityTooLarge}
	case errors.Is(err, riskerr.ErrSchema):
		return &Problem{Type: "/errors/schema", Title: "Schema Error", Status: http.StatusUnprocessableEntity}
	case errors.Is(err, riskerr.ErrDataQuality):
		return &Problem{Type: "/errors/data-quality", Title: "Data Quality Error", Status: http.StatusUnprocessableEntity}
	case errors.Is(err, riskerr.ErrModelState):
		return &Problem{Type: "/errors/model-state", Title: "Model State Error", Status: http.StatusConflict}
	case errors.Is(err, riskerr.ErrConfig):
		return &Problem{Type: "/errors/config", Title: "Configuration Error", Status: http.StatusBadRequest}
	case errors.Is(err, errBadRequest):
		return &Problem{Type: "/errors/bad-request", Title: "Bad Request", Status: http.StatusBadRequest}
	default:
		return &Problem{Type: "/errors/internal", Title: "Internal Server Error", Status: http.StatusInternalServerError}
	}
}

// writeError logs err and renders it as a problem.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	p.Detail = err.Error()
	p.Trace = GetTraceID(r.Context())
	if p.Status >= http.StatusInternalServerError {
		p.Detail = "an unexpected error occurred"
		h.logger.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	} else {
		h.logger.WarnContext(r.Context(), "request rejected", "error", err, "status", p.Status, "path", r.URL.Path)
	}
	render.Render(w, r, p)
}
