package pipeline

import (
	"context"
	"time"

	"github.com/scripta-ai/platform/pkg/catalog"
	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/models"
	"github.com/scripta-ai/platform/pkg/extraction"
	"github.com/scripta-ai/platform/pkg/imaging"
	"github.com/scripta-ai/platform/pkg/matching"
)

// Persister submits the canonical record to the prescription API.
type Persister interface {
	Create(ctx context.Context, payload models.PrescriptionPayload) (models.PrescriptionResponse, error)
}

// Options wires a Pipeline. Catalogs and the matcher threshold are loaded
// once at startup and shared read-only across all runs.
type Options struct {
	Resolver        *imaging.Resolver
	Provider        extraction.Provider
	Matcher         *matching.Matcher
	TestCatalog     *catalog.Index
	ReferrerCatalog *catalog.Index
	Persister       Persister
	MaxImageBytes   int
	ArtifactDir     string
	CreatedBy       models.CreatedBy
	MaxConcurrent   int
}

// Pipeline runs one extraction request through
// fetch → validate → compress → extract → match → persist.
// Stages are sequential within a run; independent runs share nothing
// mutable and may execute fully in parallel. Extraction-provider calls are
// bounded by a semaphore so a burst of requests cannot pile onto the model.
type Pipeline struct {
	opts Options
	sem  chan struct{}
}

func New(opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	return &Pipeline{
		opts: opts,
		sem:  make(chan struct{}, opts.MaxConcurrent),
	}
}

// Run executes the pipeline for one image source. On failure it returns a
// *StageError naming the failing stage; nothing partial is persisted.
func (p *Pipeline) Run(ctx context.Context, src imaging.Source, bookingID string) (models.PipelineResult, error) {
	log := logger.WithField("booking_id", bookingID)

	// Fetching
	raw, err := p.opts.Resolver.Resolve(ctx, src)
	if err != nil {
		return models.PipelineResult{}, fail(StageFetching, err)
	}
	img, err := imaging.Decode(raw)
	if err != nil {
		return models.PipelineResult{}, fail(StageFetching, err)
	}
	log.WithField("format", img.Format).Info("Image loaded")

	// Validating
	img, err = imaging.Validate(img)
	if err != nil {
		return models.PipelineResult{}, fail(StageValidating, err)
	}

	// Compressing
	compressed, withinBudget, err := imaging.Compress(img, p.opts.MaxImageBytes)
	if err != nil {
		return models.PipelineResult{}, fail(StageCompressing, err)
	}
	if !withinBudget {
		log.WithField("size", len(compressed)).Warn("Compressed image exceeds byte budget at floor quality")
	}
	imaging.WriteArtifact(p.opts.ArtifactDir, compressed)

	// Extracting
	rawResponse, err := p.extract(ctx, compressed)
	if err != nil {
		return models.PipelineResult{}, fail(StageExtracting, err)
	}
	extracted, err := extraction.ParseResponse(rawResponse)
	if err != nil {
		return models.PipelineResult{}, fail(StageExtracting, err)
	}
	log.WithField("tests", len(extracted.PrescribedTests)).Info("Extraction response normalized")

	// Matching
	canonical, err := p.matchAll(ctx, extracted)
	if err != nil {
		return models.PipelineResult{}, fail(StageMatching, err)
	}

	// Persisting
	payload := models.PrescriptionPayload{
		ExtractedDataAI: canonical,
		CreatedBy:       p.opts.CreatedBy,
		CreatedAt:       time.Now().Format(models.CreatedAtLayout),
		BookingID:       bookingID,
	}
	created, err := p.opts.Persister.Create(ctx, payload)
	if err != nil {
		return models.PipelineResult{}, fail(StagePersisting, err)
	}
	log.WithField("prescription_id", created.ID).Info("Prescription persisted")

	return models.PipelineResult{
		BookingID:      bookingID,
		PrescriptionID: created.ID,
		Extracted:      canonical,
		PersistedAt:    payload.CreatedAt,
	}, nil
}

func (p *Pipeline) extract(ctx context.Context, imageData []byte) (string, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.opts.Provider.Extract(ctx, imageData)
}

// matchAll maps every prescribed test name against the test catalog and
// the referrer name against the referrer catalog. Any matching failure
// aborts the run so half-mapped codes are never persisted; a low score is
// not a failure, it just leaves the mapped fields empty.
func (p *Pipeline) matchAll(ctx context.Context, data models.ExtractedData) (models.ExtractedDataAI, error) {
	canonical := models.ExtractedDataAI{
		DocDate:         data.Date,
		PtAddress:       data.PatientAddress,
		PtAge:           data.PatientAge,
		PtAgePeriod:     data.PatientAgePeriod,
		PtContact:       data.PatientContact,
		PtName:          data.PatientName,
		PtSex:           data.PatientSex,
		PtTitle:         data.PatientTitle,
		RefName:         data.ReferrerName,
		RefType:         data.ReferrerType,
		Remark:          data.Remark,
		UHID:            data.UHID,
		PrescribedTests: make([]models.MappedTest, 0, len(data.PrescribedTests)),
	}

	for _, testName := range data.PrescribedTests {
		result, err := p.opts.Matcher.Match(ctx, testName, p.opts.TestCatalog)
		if err != nil {
			return models.ExtractedDataAI{}, err
		}
		canonical.PrescribedTests = append(canonical.PrescribedTests, models.MappedTest{
			ExtractedTestName: testName,
			MappedTestName:    result.MatchedName,
			MappedTestCode:    result.MatchedCode,
		})
	}

	refResult, err := p.opts.Matcher.Match(ctx, data.ReferrerName, p.opts.ReferrerCatalog)
	if err != nil {
		return models.ExtractedDataAI{}, err
	}
	canonical.MappedRefName = refResult.MatchedName
	canonical.MappedRefCode = refResult.MatchedCode
	canonical.MappedRefType = refResult.MatchedType

	return canonical, nil
}
