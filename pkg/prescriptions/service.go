package prescriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/models"
)

var (
	ErrMissingBookingID = errors.New("booking_id is required")
	ErrInvalidCreatedAt = errors.New("created_at must match YYYY-MM-DD-HH-MM-SS")
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and stores a canonical record. The created_at stamp is
// kept verbatim; only its pattern is checked.
func (s *Service) Create(ctx context.Context, payload models.PrescriptionPayload) (models.Prescription, error) {
	if payload.BookingID == "" {
		return models.Prescription{}, ErrMissingBookingID
	}
	if _, err := time.Parse(models.CreatedAtLayout, payload.CreatedAt); err != nil {
		return models.Prescription{}, ErrInvalidCreatedAt
	}
	if payload.ExtractedDataAI.PrescribedTests == nil {
		payload.ExtractedDataAI.PrescribedTests = []models.MappedTest{}
	}

	created, err := s.repo.Create(ctx, payload)
	if err != nil {
		return models.Prescription{}, err
	}
	logger.WithFields(map[string]interface{}{
		"prescription_id": created.ID,
		"booking_id":      created.BookingID,
	}).Info("Prescription stored")
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (models.Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByBookingID(ctx context.Context, bookingID string) (models.Prescription, error) {
	return s.repo.GetByBookingID(ctx, bookingID)
}

func (s *Service) ListAuditEntries(ctx context.Context, bookingID string, limit int) ([]models.PrescriptionAuditEntry, error) {
	return s.repo.ListAuditEntries(ctx, bookingID, limit)
}

// RecordEvent is the bus consumer handler. Extraction lifecycle events
// land in the audit table keyed by booking; unrelated event types are
// acknowledged and skipped so the consumer group keeps moving.
func (s *Service) RecordEvent(ctx context.Context, event models.Event) error {
	if event.Type != "prescription.extracted" && event.Type != "prescription.failed" {
		return nil
	}
	bookingID, _ := event.Data["booking_id"].(string)
	if bookingID == "" {
		logger.WithField("event_id", event.ID).Warn("Audit event without booking_id")
		return nil
	}
	return s.repo.AppendAuditEntry(ctx, models.PrescriptionAuditEntry{
		BookingID: bookingID,
		EventType: event.Type,
		Source:    event.Source,
		Payload:   event.Data,
	})
}
