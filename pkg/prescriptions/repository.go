package prescriptions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/scripta-ai/platform/pkg/common/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type prescriptionModel struct {
	ID             uuid.UUID      `gorm:"primaryKey;column:id"`
	BookingID      string         `gorm:"column:booking_id;index"`
	Payload        datatypes.JSON `gorm:"column:extracted_data_ai"`
	CreatedByUser  string         `gorm:"column:created_by_user"`
	CreatedByCRN   string         `gorm:"column:created_by_crn"`
	CreatedAtStamp string         `gorm:"column:created_at_stamp"`
	StoredAt       time.Time      `gorm:"column:stored_at"`
}

func (prescriptionModel) TableName() string { return "prescriptions" }

type auditEntryModel struct {
	ID        int64          `gorm:"primaryKey;column:id"`
	BookingID string         `gorm:"column:booking_id;index"`
	EventType string         `gorm:"column:event_type"`
	Source    string         `gorm:"column:source"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditEntryModel) TableName() string { return "prescription_audit_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&prescriptionModel{},
		&auditEntryModel{},
	)
}

func (r *Repository) Create(ctx context.Context, payload models.PrescriptionPayload) (models.Prescription, error) {
	data, err := json.Marshal(payload.ExtractedDataAI)
	if err != nil {
		return models.Prescription{}, err
	}
	row := &prescriptionModel{
		ID:             uuid.New(),
		BookingID:      payload.BookingID,
		Payload:        datatypes.JSON(data),
		CreatedByUser:  payload.CreatedBy.UserID,
		CreatedByCRN:   payload.CreatedBy.CRNID,
		CreatedAtStamp: payload.CreatedAt,
		StoredAt:       time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Prescription{}, err
	}
	return buildPrescription(row), nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (models.Prescription, error) {
	var row prescriptionModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return models.Prescription{}, err
	}
	return buildPrescription(&row), nil
}

// GetByBookingID returns the most recent record when a booking was
// extracted more than once.
func (r *Repository) GetByBookingID(ctx context.Context, bookingID string) (models.Prescription, error) {
	var row prescriptionModel
	if err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("stored_at DESC").First(&row).Error; err != nil {
		return models.Prescription{}, err
	}
	return buildPrescription(&row), nil
}

func (r *Repository) AppendAuditEntry(ctx context.Context, entry models.PrescriptionAuditEntry) error {
	payload, _ := json.Marshal(entry.Payload)
	row := &auditEntryModel{
		BookingID: entry.BookingID,
		EventType: entry.EventType,
		Source:    entry.Source,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) ListAuditEntries(ctx context.Context, bookingID string, limit int) ([]models.PrescriptionAuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []auditEntryModel
	if err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.PrescriptionAuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.PrescriptionAuditEntry{
			ID:        row.ID,
			BookingID: row.BookingID,
			EventType: row.EventType,
			Source:    row.Source,
			Payload:   jsonMap(row.Payload),
			CreatedAt: row.CreatedAt,
		})
	}
	return entries, nil
}

func buildPrescription(row *prescriptionModel) models.Prescription {
	p := models.Prescription{
		ID:        row.ID,
		BookingID: row.BookingID,
		CreatedBy: models.CreatedBy{UserID: row.CreatedByUser, CRNID: row.CreatedByCRN},
		CreatedAt: row.CreatedAtStamp,
		StoredAt:  row.StoredAt,
	}
	if len(row.Payload) > 0 {
		_ = json.Unmarshal(row.Payload, &p.Extracted)
	}
	return p
}

func jsonMap(data datatypes.JSON) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}
