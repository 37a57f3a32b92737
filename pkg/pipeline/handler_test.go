package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/scripta-ai/platform/pkg/common/models"
	"github.com/scripta-ai/platform/pkg/imaging"
)

type fakeRunner struct {
	result models.PipelineResult
	err    error
	calls  int
	src    imaging.Source
}

func (f *fakeRunner) Run(ctx context.Context, src imaging.Source, bookingID string) (models.PipelineResult, error) {
	f.calls++
	f.src = src
	if f.err != nil {
		return models.PipelineResult{}, f.err
	}
	result := f.result
	result.BookingID = bookingID
	return result, nil
}

type capturedEvent struct {
	eventType string
	data      map[string]interface{}
}

type fakePublisher struct {
	events []capturedEvent
}

func (f *fakePublisher) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	f.events = append(f.events, capturedEvent{eventType: eventType, data: data})
	return nil
}

func newHandlerRouter(runner Runner, producer EventPublisher) *mux.Router {
	router := mux.NewRouter()
	NewHandler(runner, nil, producer).Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func postExtract(t *testing.T, router *mux.Router, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ExtractData", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleExtractSuccess(t *testing.T) {
	runner := &fakeRunner{result: models.PipelineResult{PrescriptionID: "rx-9"}}
	producer := &fakePublisher{}
	router := newHandlerRouter(runner, producer)

	rec := postExtract(t, router, `{"url":"http://images.local/rx.png","booking_id":"bk-9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result models.PipelineResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.BookingID != "bk-9" || result.PrescriptionID != "rx-9" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(producer.events) != 1 || producer.events[0].eventType != "prescription.extracted" {
		t.Fatalf("expected one extracted event, got %+v", producer.events)
	}
}

func TestHandleExtractRequiresBookingID(t *testing.T) {
	runner := &fakeRunner{}
	router := newHandlerRouter(runner, nil)

	rec := postExtract(t, router, `{"url":"http://images.local/rx.png"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatal("pipeline must not run without a booking id")
	}
}

func TestHandleExtractRequiresExactlyOneSource(t *testing.T) {
	runner := &fakeRunner{}
	router := newHandlerRouter(runner, nil)

	for _, body := range []string{
		`{"booking_id":"bk-1"}`,
		`{"booking_id":"bk-1","url":"http://a/b.png","path":"/tmp/b.png"}`,
	} {
		rec := postExtract(t, router, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
	if runner.calls != 0 {
		t.Fatal("pipeline must not run on ambiguous input")
	}
}

func TestHandleExtractFailurePublishesFailedEvent(t *testing.T) {
	runner := &fakeRunner{err: fail(StageExtracting, context.DeadlineExceeded)}
	producer := &fakePublisher{}
	router := newHandlerRouter(runner, producer)

	rec := postExtract(t, router, `{"url":"http://images.local/rx.png","booking_id":"bk-2"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for provider failure, got %d", rec.Code)
	}
	if len(producer.events) != 1 || producer.events[0].eventType != "prescription.failed" {
		t.Fatalf("expected one failed event, got %+v", producer.events)
	}
	if producer.events[0].data["stage"] != "extracting" {
		t.Fatalf("event must carry the failed stage, got %+v", producer.events[0].data)
	}
}

func TestHandleExtractInputFailureIsBadRequest(t *testing.T) {
	runner := &fakeRunner{err: fail(StageFetching, context.DeadlineExceeded)}
	router := newHandlerRouter(runner, nil)

	rec := postExtract(t, router, `{"url":"http://images.local/rx.png","booking_id":"bk-3"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for fetch failure, got %d", rec.Code)
	}
}

func multipartUpload(t *testing.T, bookingID string, fileBytes []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if bookingID != "" {
		if err := mw.WriteField("booking_id", bookingID); err != nil {
			t.Fatalf("failed to write booking field: %v", err)
		}
	}
	if fileBytes != nil {
		part, err := mw.CreateFormFile("file", "rx.png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(fileBytes); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func TestHandleUploadRunsPipelineOnBytes(t *testing.T) {
	runner := &fakeRunner{result: models.PipelineResult{PrescriptionID: "rx-10"}}
	producer := &fakePublisher{}
	router := newHandlerRouter(runner, producer)

	body, contentType := multipartUpload(t, "bk-10", []byte("image-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ExtractData/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if runner.calls != 1 {
		t.Fatalf("expected one pipeline run, got %d", runner.calls)
	}
	if string(runner.src.Bytes) != "image-bytes" || runner.src.URL != "" || runner.src.Path != "" {
		t.Fatalf("upload must run on the posted bytes, got %+v", runner.src)
	}
	if len(producer.events) != 1 || producer.events[0].eventType != "prescription.extracted" {
		t.Fatalf("expected one extracted event, got %+v", producer.events)
	}
}

func TestHandleUploadRequiresFileAndBooking(t *testing.T) {
	runner := &fakeRunner{}
	router := newHandlerRouter(runner, nil)

	noFile, noFileType := multipartUpload(t, "bk-11", nil)
	noBooking, noBookingType := multipartUpload(t, "", []byte("image-bytes"))
	for _, tc := range []struct {
		body        *bytes.Buffer
		contentType string
	}{
		{noFile, noFileType},
		{noBooking, noBookingType},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ExtractData/upload", tc.body)
		req.Header.Set("Content-Type", tc.contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	}
	if runner.calls != 0 {
		t.Fatal("pipeline must not run on incomplete uploads")
	}
}

func TestStatusEndpointWithoutStoreReturnsNotFound(t *testing.T) {
	router := newHandlerRouter(&fakeRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ExtractData/status/bk-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
