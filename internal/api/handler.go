package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resilienthike/clinical-swarm/internal/metrics"
	"github.com/resilienthike/clinical-swarm/internal/record"
	"github.com/resilienthike/clinical-swarm/internal/swarm"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	store record.Store
	disp  *swarm.Dispatcher
	mux   *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(store record.Store, disp *swarm.Dispatcher) http.Handler {
	h := &Handler{store: store, disp: disp, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /api/submit-event", h.submitEvent)
	h.mux.HandleFunc("GET /api/events/{id}", h.getEvent)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

type submitRequest struct {
	PatientID  string `json:"patient_id"`
	ReportText string `json:"report_text"`
}

// POST /api/submit-event — create the record and detach the pipeline.
// The response never reflects pipeline outcome; callers poll the record.
func (h *Handler) submitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.PatientID == "" || req.ReportText == "" {
		writeError(w, http.StatusBadRequest, "patient_id and report_text are required.")
		return
	}

	eventID := fmt.Sprintf("event_%s_%s", req.PatientID, uuid.New().String())

	// Claim the queue slot before persisting: a rejected submission must
	// leave no record behind, or it would sit pending forever.
	commit, abort, ok := h.disp.Reserve(eventID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "triage queue full, try again later")
		return
	}
	rec := record.New(eventID, req.PatientID, req.ReportText)
	if err := h.store.Insert(r.Context(), rec); err != nil {
		abort()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	commit()
	metrics.EventsSubmitted.Inc()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":  "Event accepted. Analysis is in progress.",
		"event_id": eventID,
	})
}

// GET /api/events/{id} — read the full record, including audit trail.
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, record.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such event")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /healthz — always 200 while the process is up.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if dispatch queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.disp.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
