package matching

import (
	"context"
	"strings"

	"github.com/scripta-ai/platform/pkg/catalog"
	"github.com/scripta-ai/platform/pkg/common/models"
	"github.com/scripta-ai/platform/pkg/embedding"
)

// Matcher maps free-text labels onto catalog records by embedding-space
// nearest neighbor with a confidence threshold. The threshold is fixed at
// construction and shared read-only across requests.
type Matcher struct {
	embedder  embedding.Embedder
	threshold float64
}

func NewMatcher(embedder embedding.Embedder, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &Matcher{embedder: embedder, threshold: threshold}
}

// Threshold returns the configured minimum accepted similarity.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match embeds text and looks up its nearest catalog record. Empty or
// whitespace-only text returns an unmatched result without calling the
// embedding provider. Embedding and catalog errors propagate unchanged.
func (m *Matcher) Match(ctx context.Context, text string, ix *catalog.Index) (models.MatchResult, error) {
	result := models.MatchResult{Query: text}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return result, err
	}

	record, score, err := ix.NearestNeighbor(vector)
	if err != nil {
		return result, err
	}

	result.Score = score
	if score >= m.threshold {
		result.MatchedName = record.Name
		result.MatchedCode = record.Code
		result.MatchedType = record.Type
	}
	return result, nil
}
