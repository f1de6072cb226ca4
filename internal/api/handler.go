package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cliprecall/internal/clips"
	"github.com/kalambet/cliprecall/internal/media"
	"github.com/kalambet/cliprecall/internal/search"
)

// ClipIndex is the read side of the clip store.
type ClipIndex interface {
	Snapshot() []clips.Clip
	Find(id string) (clips.Clip, bool)
	Version() uint64
	Subscribe() (<-chan uint64, func())
}

// Searcher answers free-text queries.
type Searcher interface {
	Search(ctx context.Context, query string) (search.Result, bool)
	ScoreAll(ctx context.Context, query string) []search.Scored
}

// MediaOpener streams a clip's stored payload.
type MediaOpener interface {
	Open(ref string) (io.ReadCloser, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Clips    ClipIndex
	Searcher Searcher
	Media    MediaOpener  // optional; if nil, /clips/{id}/media returns 404
	Metrics  http.Handler // optional; if nil, /metrics is not mounted
	Running  func() bool  // optional; reported by /health
	Token    string       // optional; if empty, auth is disabled
	Logger   *slog.Logger
}

// SearchResponse is the body of GET /search.
type SearchResponse struct {
	Found  bool           `json:"found"`
	Result *search.Result `json:"result,omitempty"`
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Clips   int    `json:"clips"`
	Version uint64 `json:"version"`
}

// NewHandler returns the cliprecall HTTP API. /health and /metrics are never
// behind auth.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/search", handleSearch(deps))
		r.Get("/search/debug", handleSearchDebug(deps))
		r.Get("/clips", handleListClips(deps))
		r.Get("/clips/events", handleClipEvents(deps))
		r.Get("/clips/{id}", handleGetClip(deps))
		r.Get("/clips/{id}/media", handleGetClipMedia(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := Health{
			Status:  "ok",
			Clips:   len(deps.Clips.Snapshot()),
			Version: deps.Clips.Version(),
		}
		if deps.Running != nil {
			h.Running = deps.Running()
		}
		writeJSON(w, h)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := deps.Searcher.Search(r.Context(), r.URL.Query().Get("q"))
		resp := SearchResponse{Found: ok}
		if ok {
			resp.Result = &res
		}
		writeJSON(w, resp)
	}
}

func handleSearchDebug(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 0, 0)
		scored := deps.Searcher.ScoreAll(r.Context(), r.URL.Query().Get("q"))
		if limit > 0 && len(scored) > limit {
			scored = scored[:limit]
		}
		if scored == nil {
			scored = []search.Scored{}
		}
		writeJSON(w, scored)
	}
}

func handleListClips(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Clips.Snapshot()
		if snap == nil {
			snap = []clips.Clip{}
		}
		writeJSON(w, snap)
	}
}

func handleGetClip(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := deps.Clips.Find(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "clip not found")
			return
		}
		writeJSON(w, c)
	}
}

func handleGetClipMedia(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := deps.Clips.Find(chi.URLParam(r, "id"))
		if !ok || deps.Media == nil {
			httpError(w, http.StatusNotFound, "not_found", "clip not found")
			return
		}

		rc, err := deps.Media.Open(c.MediaRef)
		if errors.Is(err, media.ErrNotFound) {
			// Evicted between Find and Open.
			httpError(w, http.StatusNotFound, "not_found", "clip media not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open clip media: %v", err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", media.ContentType)
		if _, err := io.Copy(w, rc); err != nil {
			deps.Logger.Debug("streaming clip media interrupted", "clip", c.ID, "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
