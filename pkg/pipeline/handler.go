package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/models"
	"github.com/scripta-ai/platform/pkg/imaging"
	"github.com/scripta-ai/platform/pkg/observability/metrics"
)

// Runner executes one extraction run. Satisfied by *Pipeline.
type Runner interface {
	Run(ctx context.Context, src imaging.Source, bookingID string) (models.PipelineResult, error)
}

// EventPublisher pushes lifecycle events onto the bus. Satisfied by
// *kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

const (
	eventSource    = "extraction-service"
	publishTimeout = 5 * time.Second
)

// Handler is the HTTP surface of the extraction service. Runs are
// synchronous; the status store lets late pollers see the outcome after the
// response has gone out.
type Handler struct {
	runner   Runner
	status   *StatusStore
	producer EventPublisher
}

func NewHandler(runner Runner, status *StatusStore, producer EventPublisher) *Handler {
	return &Handler{runner: runner, status: status, producer: producer}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ExtractData", h.handleExtract).Methods(http.MethodPost)
	r.HandleFunc("/ExtractData/upload", h.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/ExtractData/status/{booking_id}", h.handleStatus).Methods(http.MethodGet)
}

func (h *Handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req models.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.BookingID == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}
	if (req.URL == "") == (req.Path == "") {
		http.Error(w, "exactly one of url or path is required", http.StatusBadRequest)
		return
	}

	h.run(w, r, imaging.Source{URL: req.URL, Path: req.Path}, req.BookingID)
}

// handleUpload accepts the image itself as a multipart form file instead of
// a reference to fetch. Everything past input resolution is the same run.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	bookingID := r.FormValue("booking_id")
	if bookingID == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		http.Error(w, "failed to read uploaded file", http.StatusBadRequest)
		return
	}

	h.run(w, r, imaging.Source{Bytes: data}, bookingID)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, src imaging.Source, bookingID string) {
	ctx := r.Context()
	h.recordStatus(ctx, bookingID, "processing", "", "")
	metrics.IncStarted()

	result, err := h.runner.Run(ctx, src, bookingID)
	if err != nil {
		stage := ""
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			stage = string(stageErr.Stage)
		}
		metrics.IncFailed(stage)
		h.recordStatus(ctx, bookingID, "failed", stage, err.Error())
		h.publish(bookingID, "prescription.failed", map[string]interface{}{
			"booking_id": bookingID,
			"stage":      stage,
			"error":      err.Error(),
		})
		logger.WithField("booking_id", bookingID).WithError(err).Error("Extraction run failed")
		http.Error(w, err.Error(), statusForStage(stageErr))
		return
	}

	metrics.IncCompleted()
	metrics.ObserveMatches(countMatches(result.Extracted))
	h.recordStatus(ctx, bookingID, "done", "", "")
	h.publish(bookingID, "prescription.extracted", map[string]interface{}{
		"booking_id":      bookingID,
		"prescription_id": result.PrescriptionID,
		"tests":           len(result.Extracted.PrescribedTests),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.Error(w, "status tracking disabled", http.StatusNotFound)
		return
	}
	bookingID := mux.Vars(r)["booking_id"]
	status, err := h.status.Get(r.Context(), bookingID)
	if errors.Is(err, ErrStatusNotFound) {
		http.Error(w, "no extraction for booking", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to read extraction status")
		http.Error(w, "failed to read status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handler) recordStatus(ctx context.Context, bookingID, state, stage, errMsg string) {
	if h.status == nil {
		return
	}
	err := h.status.Set(ctx, models.ExtractionStatus{
		BookingID: bookingID,
		Status:    state,
		Stage:     stage,
		Error:     errMsg,
	})
	if err != nil {
		logger.Log.WithError(err).Warn("failed to record extraction status")
	}
}

func (h *Handler) publish(bookingID, eventType string, data map[string]interface{}) {
	if h.producer == nil {
		return
	}
	// Publishing is fire-and-forget relative to the HTTP response.
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.producer.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.WithField("booking_id", bookingID).WithError(err).Warn("Failed to publish lifecycle event")
	}
}

// statusForStage maps a failed stage to an HTTP status: input problems are
// the caller's fault, everything downstream is an upstream dependency.
func statusForStage(stageErr *StageError) int {
	if stageErr == nil {
		return http.StatusInternalServerError
	}
	switch stageErr.Stage {
	case StageFetching, StageValidating:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func countMatches(data models.ExtractedDataAI) (matched, unmatched int) {
	for _, test := range data.PrescribedTests {
		if test.MappedTestCode != "" {
			matched++
		} else {
			unmatched++
		}
	}
	return matched, unmatched
}
