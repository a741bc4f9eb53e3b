package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/faultline-io/faultline/internal/engine"
	"github.com/faultline-io/faultline/internal/models"
	"github.com/faultline-io/faultline/internal/services"
	"github.com/faultline-io/faultline/internal/utils"
)

// Handler routes intake and query requests to the engine and query facade.
type Handler struct {
	logger  *slog.Logger
	engine  *engine.Engine
	queries *services.QueryService
}

// NewHandler constructs the HTTP handler set.
func NewHandler(logger *slog.Logger, eng *engine.Engine, queries *services.QueryService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		engine:  eng,
		queries: queries,
	}
}

// Routes builds the request mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", h.handleIngest)
	mux.HandleFunc("POST /api/v1/alarms/{id}/acknowledge", h.handleAcknowledge)
	mux.HandleFunc("POST /api/v1/alarms/{id}/resolve", h.handleResolve)
	mux.HandleFunc("GET /api/v1/alarms", h.handleAlarms)
	mux.HandleFunc("GET /api/v1/groups", h.handleGroups)
	mux.HandleFunc("GET /api/v1/sla/compliance", h.handleCompliance)
	mux.HandleFunc("GET /api/v1/stats", h.handleStats)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := h.engine.Ingest(r.Context(), event); err != nil {
		if utils.IsKind(err, utils.KindValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("event intake failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "event not accepted")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type actionRequest struct {
	At time.Time `json:"at"`
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.engine.Acknowledge)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.engine.Resolve)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, action func(string, time.Time) (models.Alarm, error)) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "alarm id required")
		return
	}

	var req actionRequest
	if r.Body != nil {
		// Body is optional; an empty one means "now".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	alarm, err := action(id, at)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alarm)
}

func (h *Handler) handleAlarms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alarms": h.queries.ActiveAlarms()})
}

func (h *Handler) handleGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"groups": h.queries.OpenGroups()})
}

func (h *Handler) handleCompliance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": h.queries.ComplianceSnapshots()})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.EngineStats())
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "SERVING"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
