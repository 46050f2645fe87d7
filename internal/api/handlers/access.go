package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/dispatch"
	"github.com/vitaqr/go-eds/internal/domain/profile"
)

// AccessHandler notifies representatives when a medical profile is viewed.
type AccessHandler struct {
	orch   *dispatch.Orchestrator
	logger *zap.Logger
}

// NewAccessHandler creates a new handler
func NewAccessHandler(orch *dispatch.Orchestrator, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{orch: orch, logger: logger}
}

// Routes returns the handler routes
func (h *AccessHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{userID}/notify", h.Notify)
	return r
}

// NotifyRequest carries who viewed the profile. An empty accessor name is
// allowed; the message composer substitutes a placeholder.
type NotifyRequest struct {
	AccessorName string `json:"accessor_name"`
}

// Notify handles POST /access/{userID}/notify
func (h *AccessHandler) Notify(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.jsonError(w, "invalid user id", http.StatusBadRequest)
		return
	}

	var req NotifyRequest
	if r.Body != nil {
		// Body is optional for scan-and-view flows.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	results, err := h.orch.NotifyAccess(r.Context(), userID, req.AccessorName)
	if err != nil {
		if errors.Is(err, profile.ErrUserNotFound) {
			h.jsonError(w, "user not found", http.StatusNotFound)
			return
		}
		h.logger.Error("access notification failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		h.jsonError(w, "failed to notify representatives", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{"notified": results})
}

func (h *AccessHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
