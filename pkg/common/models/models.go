package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractRequest is the inbound JSON payload for a pipeline run. Exactly
// one of URL or Path must be set; the multipart upload route carries the
// image bytes directly instead of this payload.
type ExtractRequest struct {
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
	BookingID string `json:"booking_id"`
}

// MatchResult is the outcome of mapping one free-text label against a
// catalog. MatchedName/Code/Type are empty when the best score fell below
// the threshold; that is "no confident match", not an error.
type MatchResult struct {
	Query       string  `json:"query"`
	MatchedName string  `json:"matched_name,omitempty"`
	MatchedCode string  `json:"matched_code,omitempty"`
	MatchedType string  `json:"matched_type,omitempty"`
	Score       float64 `json:"score"`
}

// Matched reports whether the result carries a confident catalog match.
func (m MatchResult) Matched() bool {
	return m.MatchedName != ""
}

// ExtractedData is the normalized output of the extraction provider. All
// fields default to the empty string; PrescribedTests preserves the order
// the provider returned.
type ExtractedData struct {
	Date             string   `json:"date"`
	PatientAddress   string   `json:"patient_address"`
	PatientAge       string   `json:"patient_age"`
	PatientAgePeriod string   `json:"patient_age_period"`
	PatientContact   string   `json:"patient_contact"`
	PatientName      string   `json:"patient_name"`
	PatientSex       string   `json:"patient_sex"`
	PatientTitle     string   `json:"patient_title"`
	ReferrerName     string   `json:"referrer_name"`
	ReferrerType     string   `json:"referrer_type"`
	Remark           string   `json:"remark"`
	UHID             string   `json:"uhid"`
	PrescribedTests  []string `json:"prescribed_tests"`
}

// MappedTest pairs an extracted test name with its catalog mapping.
type MappedTest struct {
	ExtractedTestName string `json:"extracted_test_name"`
	MappedTestName    string `json:"mapped_test_name"`
	MappedTestCode    string `json:"mapped_test_code"`
}

// ExtractedDataAI is the persistence-ready canonical record.
type ExtractedDataAI struct {
	DocDate         string       `json:"doc_date"`
	PtAddress       string       `json:"pt_address"`
	PtAge           string       `json:"pt_age"`
	PtAgePeriod     string       `json:"pt_age_period"`
	PtContact       string       `json:"pt_contact"`
	PtName          string       `json:"pt_name"`
	PtSex           string       `json:"pt_sex"`
	PtTitle         string       `json:"pt_title"`
	RefName         string       `json:"ref_name"`
	RefType         string       `json:"ref_type"`
	MappedRefName   string       `json:"mapped_ref_name"`
	MappedRefType   string       `json:"mapped_ref_type"`
	MappedRefCode   string       `json:"mapped_ref_code"`
	Remark          string       `json:"remark"`
	UHID            string       `json:"uhid_id"`
	PrescribedTests []MappedTest `json:"prescribed_tests"`
}

// CreatedBy identifies the actor recorded on a prescription entry.
type CreatedBy struct {
	UserID string `json:"userId"`
	CRNID  string `json:"CRNID"`
}

// PrescriptionPayload is the request body for the prescription API.
// CreatedAt uses the YYYY-MM-DD-HH-MM-SS pattern.
type PrescriptionPayload struct {
	ExtractedDataAI ExtractedDataAI `json:"extracted_data_AI"`
	CreatedBy       CreatedBy       `json:"created_by"`
	CreatedAt       string          `json:"created_at"`
	BookingID       string          `json:"booking_id"`
}

// CreatedAtLayout is the timestamp layout the prescription API accepts.
const CreatedAtLayout = "2006-01-02-15-04-05"

// PrescriptionResponse is what the prescription API returns on creation.
type PrescriptionResponse struct {
	ID        string `json:"id"`
	BookingID string `json:"booking_id"`
	CreatedAt string `json:"created_at"`
}

// PipelineResult is the terminal output of one extraction run.
type PipelineResult struct {
	BookingID      string          `json:"booking_id"`
	PrescriptionID string          `json:"prescription_id"`
	Extracted      ExtractedDataAI `json:"extracted_data_AI"`
	PersistedAt    string          `json:"persisted_at"`
}

// Prescription is a stored canonical record. CreatedAt is the submission
// stamp in the YYYY-MM-DD-HH-MM-SS pattern; StoredAt is the database write
// time.
type Prescription struct {
	ID        uuid.UUID       `json:"id"`
	BookingID string          `json:"booking_id"`
	Extracted ExtractedDataAI `json:"extracted_data_AI"`
	CreatedBy CreatedBy       `json:"created_by"`
	CreatedAt string          `json:"created_at"`
	StoredAt  time.Time       `json:"stored_at"`
}

// PrescriptionAuditEntry records an extraction lifecycle event against a
// booking. Entries come from the event bus, not from API callers.
type PrescriptionAuditEntry struct {
	ID        int64                  `json:"id"`
	BookingID string                 `json:"booking_id"`
	EventType string                 `json:"event_type"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Event is the envelope published to the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // prescription.extracted, prescription.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// ExtractionStatus is the per-booking progress record kept in Redis.
type ExtractionStatus struct {
	BookingID string    `json:"booking_id"`
	Status    string    `json:"status"` // processing, done, failed
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
