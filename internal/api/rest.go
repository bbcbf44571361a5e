package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/betterdb/anomaly-engine/internal/models"
	"github.com/betterdb/anomaly-engine/internal/storage"
)

// Querier is the read surface shared by the REST and gRPC transports.
type Querier interface {
	Events(ctx context.Context, q storage.EventQuery) ([]models.AnomalyEvent, error)
	Groups(ctx context.Context, q storage.GroupQuery) ([]models.CorrelatedAnomalyGroup, error)
	Group(ctx context.Context, correlationID string) (models.CorrelatedAnomalyGroup, error)
	Summary(ctx context.Context, since int64) (models.Summary, error)
	Buffers() []models.BufferStats
	Ticks() models.TickStats
}

type errorResponse struct {
	Error string `json:"error"`
}

type restHandler struct {
	querier Querier
	logger  *slog.Logger
}

// NewRouter exposes the anomaly read API, a liveness endpoint and, when
// metricsHandler is set, Prometheus metrics.
func NewRouter(querier Querier, metricsHandler http.Handler, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &restHandler{querier: querier, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	anomalies := router.PathPrefix("/api/anomaly").Subrouter()
	anomalies.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	anomalies.HandleFunc("/groups", h.listGroups).Methods(http.MethodGet)
	anomalies.HandleFunc("/groups/{correlationId}", h.getGroup).Methods(http.MethodGet)
	anomalies.HandleFunc("/summary", h.summary).Methods(http.MethodGet)
	anomalies.HandleFunc("/buffers", h.buffers).Methods(http.MethodGet)
	return router
}

func (h *restHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Tick: h.querier.Ticks()})
}

func (h *restHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	q, err := ParseEventQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.querier.Events(r.Context(), q)
	if err != nil {
		h.internalError(w, "list events", err)
		return
	}
	respondJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

func (h *restHandler) listGroups(w http.ResponseWriter, r *http.Request) {
	q, err := ParseGroupQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	groups, err := h.querier.Groups(r.Context(), q)
	if err != nil {
		h.internalError(w, "list groups", err)
		return
	}
	respondJSON(w, http.StatusOK, GroupsResponse{Groups: groups, Count: len(groups)})
}

func (h *restHandler) getGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["correlationId"]
	group, err := h.querier.Group(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "correlation group not found")
		return
	}
	if err != nil {
		h.internalError(w, "get group", err)
		return
	}
	respondJSON(w, http.StatusOK, group)
}

func (h *restHandler) summary(w http.ResponseWriter, r *http.Request) {
	since, err := ParseSince(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.querier.Summary(r.Context(), since)
	if err != nil {
		h.internalError(w, "summary", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *restHandler) buffers(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, BuffersResponse{Buffers: h.querier.Buffers(), Tick: h.querier.Ticks()})
}

func (h *restHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("rest request failed", slog.String("op", op), slog.Any("error", err))
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
