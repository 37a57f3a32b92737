package prescriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/models"
)

// Store is the surface the HTTP layer needs from the service.
type Store interface {
	Create(ctx context.Context, payload models.PrescriptionPayload) (models.Prescription, error)
	GetByID(ctx context.Context, id uuid.UUID) (models.Prescription, error)
	GetByBookingID(ctx context.Context, bookingID string) (models.Prescription, error)
	ListAuditEntries(ctx context.Context, bookingID string, limit int) ([]models.PrescriptionAuditEntry, error)
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/prescriptions", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/prescriptions/{id}", h.handleGetByID).Methods(http.MethodGet)
	r.HandleFunc("/prescriptions/booking/{booking_id}", h.handleGetByBookingID).Methods(http.MethodGet)
	r.HandleFunc("/prescriptions/booking/{booking_id}/audit", h.handleListAuditEntries).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload models.PrescriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	created, err := h.store.Create(r.Context(), payload)
	if errors.Is(err, ErrMissingBookingID) || errors.Is(err, ErrInvalidCreatedAt) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to store prescription")
		http.Error(w, "failed to store prescription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, models.PrescriptionResponse{
		ID:        created.ID.String(),
		BookingID: created.BookingID,
		CreatedAt: created.CreatedAt,
	})
}

func (h *Handler) handleGetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid prescription id", http.StatusBadRequest)
		return
	}
	prescription, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "prescription not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to get prescription")
		http.Error(w, "failed to get prescription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prescription)
}

func (h *Handler) handleGetByBookingID(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]
	prescription, err := h.store.GetByBookingID(r.Context(), bookingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, "prescription not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to get prescription by booking")
		http.Error(w, "failed to get prescription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prescription)
}

func (h *Handler) handleListAuditEntries(w http.ResponseWriter, r *http.Request) {
	bookingID := mux.Vars(r)["booking_id"]
	entries, err := h.store.ListAuditEntries(r.Context(), bookingID, parseLimit(r, 50))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list audit entries")
		http.Error(w, "failed to list audit entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
