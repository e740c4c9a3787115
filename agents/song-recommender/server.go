package songrecommender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/monitoring"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const sourceInitial = "initial"

// Service is what the HTTP surface needs from the engine.
type Service interface {
	Channels(ctx context.Context) ([]models.Channel, error)
	ChannelSongs(ctx context.Context, name string, req ChannelRequest) (ChannelResult, error)
	CachedSongsForChannel(ctx context.Context, name string, count int) ([]models.Song, error)
	Search(ctx context.Context, query string, excludeIDs []string, initial bool) (SearchResult, error)
	RecordPlay(ctx context.Context, videoID, listener string) error
}

// NewRouter exposes svc over HTTP. monitor may be nil.
func NewRouter(svc Service, monitor *monitoring.Monitor, logger zerolog.Logger) http.Handler {
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	if monitor != nil {
		monitoring.Mount(r, monitor)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/channels", h.listChannels)
		r.Get("/channels/{name}/songs", h.channelSongs)
		r.Get("/channels/{name}/cached", h.cachedSongs)
		r.Get("/search", h.search)
		r.Post("/songs/played", h.recordPlay)
	})
	return r
}

type handler struct {
	svc    Service
	logger zerolog.Logger
}

func (h *handler) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.svc.Channels(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *handler) channelSongs(w http.ResponseWriter, r *http.Request) {
	exclude, err := parseExcludeIDs(r.URL.Query().Get("exclude"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.svc.ChannelSongs(r.Context(), chi.URLParam(r, "name"), ChannelRequest{
		ExcludeIDs: exclude,
		Listener:   listenerID(r),
		Initial:    r.URL.Query().Get("source") == sourceInitial,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) cachedSongs(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(w, r, ErrInvalidInput)
			return
		}
		count = n
	}

	songs, err := h.svc.CachedSongsForChannel(r.Context(), chi.URLParam(r, "name"), count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exclude, err := parseExcludeIDs(q.Get("exclude"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.svc.Search(r.Context(), q.Get("q"), exclude, q.Get("source") == sourceInitial)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type playRequest struct {
	VideoID string `json:"videoId"`
}

func (h *handler) recordPlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.fail(w, r, ErrInvalidInput)
		return
	}
	if err := h.svc.RecordPlay(r.Context(), req.VideoID, listenerID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrChannelNotFound), errors.Is(err, ErrSongNotFound):
		status = http.StatusNotFound
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseExcludeIDs accepts a JSON array or a comma-separated list.
func parseExcludeIDs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, ErrInvalidInput
		}
		return ids, nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func listenerID(r *http.Request) string {
	if id := r.Header.Get("X-Listener-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("listener")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := logger.Info()
			if status >= 500 {
				evt = logger.Error()
			} else if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
