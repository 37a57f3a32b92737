package prescriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/models"
)

func init() {
	logger.Init()
}

type fakeStore struct {
	prescriptions map[string]models.Prescription
	created       []models.PrescriptionPayload
}

func newFakeStore() *fakeStore {
	return &fakeStore{prescriptions: make(map[string]models.Prescription)}
}

func (f *fakeStore) Create(ctx context.Context, payload models.PrescriptionPayload) (models.Prescription, error) {
	if payload.BookingID == "" {
		return models.Prescription{}, ErrMissingBookingID
	}
	f.created = append(f.created, payload)
	p := models.Prescription{
		ID:        uuid.New(),
		BookingID: payload.BookingID,
		Extracted: payload.ExtractedDataAI,
		CreatedBy: payload.CreatedBy,
		CreatedAt: payload.CreatedAt,
	}
	f.prescriptions[payload.BookingID] = p
	return p, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (models.Prescription, error) {
	for _, p := range f.prescriptions {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Prescription{}, gorm.ErrRecordNotFound
}

func (f *fakeStore) GetByBookingID(ctx context.Context, bookingID string) (models.Prescription, error) {
	if p, ok := f.prescriptions[bookingID]; ok {
		return p, nil
	}
	return models.Prescription{}, gorm.ErrRecordNotFound
}

func (f *fakeStore) ListAuditEntries(ctx context.Context, bookingID string, limit int) ([]models.PrescriptionAuditEntry, error) {
	return nil, nil
}

func newTestRouter(store Store) *mux.Router {
	router := mux.NewRouter()
	NewHandler(store).Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func samplePayload(bookingID string) models.PrescriptionPayload {
	return models.PrescriptionPayload{
		ExtractedDataAI: models.ExtractedDataAI{
			PtName: "Jane Doe",
			PrescribedTests: []models.MappedTest{
				{ExtractedTestName: "CBC", MappedTestName: "Complete Blood Count", MappedTestCode: "CBC001"},
			},
		},
		CreatedBy: models.CreatedBy{UserID: "user_id", CRNID: "crn_id"},
		CreatedAt: "2024-11-13-10-30-00",
		BookingID: bookingID,
	}
}

func TestCreatePrescription(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)

	body, _ := json.Marshal(samplePayload("bk-1"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.PrescriptionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.BookingID != "bk-1" || resp.ID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(store.created))
	}
}

func TestCreatePrescriptionRejectsMissingBooking(t *testing.T) {
	router := newTestRouter(newFakeStore())

	body, _ := json.Marshal(samplePayload(""))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreatePrescriptionRejectsBadJSON(t *testing.T) {
	router := newTestRouter(newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetPrescriptionByBookingID(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)
	if _, err := store.Create(context.Background(), samplePayload("bk-7")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/booking/bk-7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got models.Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Extracted.PtName != "Jane Doe" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestGetPrescriptionNotFound(t *testing.T) {
	router := newTestRouter(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/booking/no-such", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetPrescriptionRejectsBadID(t *testing.T) {
	router := newTestRouter(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(NewRepository(nil))

	payload := samplePayload("bk-1")
	payload.CreatedAt = "2024/11/13 10:30:00"
	if _, err := svc.Create(context.Background(), payload); err != ErrInvalidCreatedAt {
		t.Fatalf("expected ErrInvalidCreatedAt, got %v", err)
	}

	payload = samplePayload("")
	if _, err := svc.Create(context.Background(), payload); err != ErrMissingBookingID {
		t.Fatalf("expected ErrMissingBookingID, got %v", err)
	}
}

func TestRecordEventSkipsUnrelatedTypes(t *testing.T) {
	svc := NewService(NewRepository(nil))

	err := svc.RecordEvent(context.Background(), models.Event{ID: "e1", Type: "study.created"})
	if err != nil {
		t.Fatalf("unrelated event must be acknowledged, got %v", err)
	}

	err = svc.RecordEvent(context.Background(), models.Event{
		ID:   "e2",
		Type: "prescription.extracted",
		Data: map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("event without booking_id must be skipped, got %v", err)
	}
}
