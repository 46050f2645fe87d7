// Package handlers provides HTTP handlers for the dispatch API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/api/middleware"
	"github.com/vitaqr/go-eds/internal/dispatch"
	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/domain/profile"
)

// AlertHandler handles panic alert endpoints
type AlertHandler struct {
	orch   *dispatch.Orchestrator
	logger *zap.Logger
}

// NewAlertHandler creates a new handler
func NewAlertHandler(orch *dispatch.Orchestrator, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{orch: orch, logger: logger}
}

// Routes returns the handler routes
func (h *AlertHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Trigger)
	r.Get("/active", h.ListActive)
	r.Get("/history", h.ListHistory)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

// TriggerRequest is the request body for triggering a panic alert
type TriggerRequest struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Trigger handles POST /alerts
func (h *AlertHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("alert-handler")
	ctx, span := tracer.Start(ctx, "trigger_alert")
	defer span.End()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.orch.Activate(ctx, dispatch.TriggerInput{
		UserID:   userID,
		Lat:      req.Lat,
		Lng:      req.Lng,
		Accuracy: req.Accuracy,
		Message:  req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, alert.ErrInvalidLocation):
			h.jsonError(w, "invalid location coordinates", http.StatusBadRequest)
		case errors.Is(err, profile.ErrUserNotFound):
			h.jsonError(w, "user not found", http.StatusNotFound)
		default:
			h.logger.Error("trigger failed",
				zap.String("user_id", userID.String()),
				zap.String("request_id", middleware.GetRequestID(ctx)),
				zap.Error(err))
			h.jsonError(w, "failed to dispatch alert", http.StatusInternalServerError)
		}
		return
	}

	span.SetAttributes(attribute.String("alert_id", res.Alert.ID.String()))
	h.logger.Info("alert triggered",
		zap.String("alert_id", res.Alert.ID.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	h.writeJSON(w, http.StatusCreated, res)
}

// Cancel handles POST /alerts/{id}/cancel
func (h *AlertHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "invalid alert id", http.StatusBadRequest)
		return
	}

	if err := h.orch.Cancel(ctx, id, userID); err != nil {
		if errors.Is(err, alert.ErrNotFoundOrInactive) {
			// One status for missing, foreign, and already-cancelled alerts.
			h.jsonError(w, "alert not found or not active", http.StatusNotFound)
			return
		}
		h.logger.Error("cancel failed", zap.String("alert_id", id.String()), zap.Error(err))
		h.jsonError(w, "failed to cancel alert", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": string(alert.StatusCancelled),
	})
}

// Get handles GET /alerts/{id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, "invalid alert id", http.StatusBadRequest)
		return
	}

	a, err := h.orch.GetByID(r.Context(), id, userID)
	if err != nil {
		h.jsonError(w, "alert not found or not active", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// ListActive handles GET /alerts/active
func (h *AlertHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	alerts, err := h.orch.ListActive(r.Context(), userID)
	if err != nil {
		h.logger.Error("list active failed", zap.Error(err))
		h.jsonError(w, "failed to list alerts", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": emptyIfNil(alerts)})
}

// ListHistory handles GET /alerts/history
func (h *AlertHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	alerts, err := h.orch.ListHistory(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list history failed", zap.Error(err))
		h.jsonError(w, "failed to list alerts", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": emptyIfNil(alerts)})
}

// userID reads the authenticated user from the X-User-ID header set by the
// auth gateway.
func (h *AlertHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		h.jsonError(w, "missing user identity", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.jsonError(w, "invalid user identity", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return id, true
}

func (h *AlertHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *AlertHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func emptyIfNil(alerts []*alert.PanicAlert) []*alert.PanicAlert {
	if alerts == nil {
		return []*alert.PanicAlert{}
	}
	return alerts
}
