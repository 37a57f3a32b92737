package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scripta-ai/platform/pkg/catalog"
	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/models"
	"github.com/scripta-ai/platform/pkg/imaging"
	"github.com/scripta-ai/platform/pkg/matching"
)

func init() {
	logger.Init()
}

type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float64{0, 0, 1}, nil
}

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Extract(ctx context.Context, imageData []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakePersister struct {
	payloads []models.PrescriptionPayload
	err      error
}

func (f *fakePersister) Create(ctx context.Context, payload models.PrescriptionPayload) (models.PrescriptionResponse, error) {
	if f.err != nil {
		return models.PrescriptionResponse{}, f.err
	}
	f.payloads = append(f.payloads, payload)
	return models.PrescriptionResponse{ID: "rx-1", BookingID: payload.BookingID, CreatedAt: payload.CreatedAt}, nil
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func testCatalogs(t *testing.T) (*catalog.Index, *catalog.Index) {
	t.Helper()
	tests, err := catalog.NewIndex([]catalog.Record{
		{Code: "CBC001", Name: "Complete Blood Count", Embedding: []float64{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("failed to build test catalog: %v", err)
	}
	refs, err := catalog.NewIndex([]catalog.Record{
		{Code: "D001", Name: "Dr. Smith", Type: "Doctor", Embedding: []float64{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("failed to build referrer catalog: %v", err)
	}
	return tests, refs
}

const providerJSON = `{
	"date": "2024-11-13",
	"patient_name": "Jane Doe",
	"patient_age": 42,
	"referrer_name": "Smith",
	"ID": "UH1",
	"prescribed_tests": ["CBC"]
}`

func newTestPipeline(t *testing.T, threshold float64, provider *fakeProvider, persister *fakePersister) *Pipeline {
	t.Helper()
	tests, refs := testCatalogs(t)
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		// cosine 0.95 against the CBC catalog vector
		"CBC": {0.95, 0.3122, 0},
		// exact match for the referrer
		"Smith": {0, 1, 0},
	}}
	return New(Options{
		Resolver:        imaging.NewResolver(&http.Client{Timeout: 2 * time.Second}),
		Provider:        provider,
		Matcher:         matching.NewMatcher(embedder, threshold),
		TestCatalog:     tests,
		ReferrerCatalog: refs,
		Persister:       persister,
		MaxImageBytes:   1024 * 1024,
		CreatedBy:       models.CreatedBy{UserID: "user_id", CRNID: "crn_id"},
	})
}

func TestRunMatchesAboveThreshold(t *testing.T) {
	img := testImageBytes(t)
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer imageServer.Close()

	provider := &fakeProvider{response: providerJSON}
	persister := &fakePersister{}
	p := newTestPipeline(t, 0.8, provider, persister)

	result, err := p.Run(context.Background(), imaging.Source{URL: imageServer.URL}, "bk-1")
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if result.PrescriptionID != "rx-1" {
		t.Fatalf("unexpected prescription id %q", result.PrescriptionID)
	}
	if len(result.Extracted.PrescribedTests) != 1 {
		t.Fatalf("expected 1 mapped test, got %d", len(result.Extracted.PrescribedTests))
	}
	mapped := result.Extracted.PrescribedTests[0]
	if mapped.MappedTestCode != "CBC001" {
		t.Fatalf("expected CBC001, got %q", mapped.MappedTestCode)
	}
	if result.Extracted.MappedRefCode != "D001" || result.Extracted.MappedRefType != "Doctor" {
		t.Fatalf("unexpected referrer mapping %+v", result.Extracted)
	}
	if len(persister.payloads) != 1 {
		t.Fatalf("expected one persistence call, got %d", len(persister.payloads))
	}
}

func TestRunNoMatchBelowThreshold(t *testing.T) {
	img := testImageBytes(t)
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer imageServer.Close()

	provider := &fakeProvider{response: providerJSON}
	persister := &fakePersister{}
	p := newTestPipeline(t, 0.97, provider, persister)

	result, err := p.Run(context.Background(), imaging.Source{URL: imageServer.URL}, "bk-2")
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	mapped := result.Extracted.PrescribedTests[0]
	if mapped.MappedTestName != "" || mapped.MappedTestCode != "" {
		t.Fatalf("expected no confident match at 0.97, got %+v", mapped)
	}
	if mapped.ExtractedTestName != "CBC" {
		t.Fatalf("extracted name must survive unmatched, got %q", mapped.ExtractedTestName)
	}
}

func TestRunMalformedExtractionStopsBeforePersist(t *testing.T) {
	img := testImageBytes(t)
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer imageServer.Close()

	provider := &fakeProvider{response: "sorry, I could not read the image"}
	persister := &fakePersister{}
	p := newTestPipeline(t, 0.8, provider, persister)

	_, err := p.Run(context.Background(), imaging.Source{URL: imageServer.URL}, "bk-3")
	if err == nil {
		t.Fatal("expected pipeline failure for malformed provider response")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageExtracting {
		t.Fatalf("expected failure at extracting, got %v", err)
	}
	if len(persister.payloads) != 0 {
		t.Fatal("nothing must be persisted after an extraction failure")
	}
}

func TestRunUnreachableURLFailsAtFetching(t *testing.T) {
	provider := &fakeProvider{response: providerJSON}
	persister := &fakePersister{}
	p := newTestPipeline(t, 0.8, provider, persister)

	_, err := p.Run(context.Background(), imaging.Source{URL: "http://127.0.0.1:1/rx.png"}, "bk-4")
	if err == nil {
		t.Fatal("expected pipeline failure for unreachable URL")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageFetching {
		t.Fatalf("expected failure at fetching, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatal("extraction provider must not be called after a fetch failure")
	}
	if len(persister.payloads) != 0 {
		t.Fatal("nothing must be persisted after a fetch failure")
	}
}

func TestRunInvalidImageFailsBeforeExtraction(t *testing.T) {
	provider := &fakeProvider{response: providerJSON}
	persister := &fakePersister{}
	p := newTestPipeline(t, 0.8, provider, persister)

	_, err := p.Run(context.Background(), imaging.Source{Bytes: []byte("not an image")}, "bk-5")
	if err == nil {
		t.Fatal("expected pipeline failure for undecodable bytes")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageFetching {
		t.Fatalf("expected failure at fetching, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatal("extraction provider must not be called for invalid input")
	}
}

func TestRunPersistFailureSurfacesStage(t *testing.T) {
	img := testImageBytes(t)
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer imageServer.Close()

	provider := &fakeProvider{response: providerJSON}
	persister := &fakePersister{err: errors.New("db down")}
	p := newTestPipeline(t, 0.8, provider, persister)

	_, err := p.Run(context.Background(), imaging.Source{URL: imageServer.URL}, "bk-6")
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePersisting {
		t.Fatalf("expected failure at persisting, got %v", err)
	}
}
