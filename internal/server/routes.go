package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"flowsmith/internal/runlog"
)

// Routes configures NewMux. Nil fields disable their endpoints.
type Routes struct {
	Events http.Handler
	Runs   runlog.Reader
	Logger *zap.Logger
}

func NewMux(r Routes) http.Handler {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if r.Events != nil {
		mux.Handle("GET /events", r.Events)
	}
	if r.Runs != nil {
		h := &runsHandler{runs: r.Runs, logger: r.Logger}
		mux.HandleFunc("GET /runs", h.list)
		mux.HandleFunc("GET /runs/{id}", h.get)
	}
	return CORS(mux)
}

type runsHandler struct {
	runs   runlog.Reader
	logger *zap.Logger
}

func (h *runsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Warn("list runs failed", zap.Error(err))
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []runlog.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *runsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	e, err := h.runs.Get(r.Context(), id)
	switch {
	case errors.Is(err, runlog.ErrNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case err != nil:
		h.logger.Warn("get run failed", zap.String("run_id", id), zap.Error(err))
		http.Error(w, "get run failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
