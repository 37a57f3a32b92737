package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrEmptyCatalog = errors.New("catalog has no records")

// LoadError reports a catalog file that could not be turned into an index.
// It is startup-fatal; a service must not serve traffic without its catalogs.
type LoadError struct {
	Path string
	Row  int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("catalog %s row %d: %v", e.Path, e.Row, e.Err)
	}
	return fmt.Sprintf("catalog %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Record is one canonical catalog entry with its precomputed embedding.
type Record struct {
	Code      string
	Name      string
	Type      string
	Embedding []float64
}

// Columns names the CSV header columns a catalog file uses. TypeColumn is
// optional; referrer catalogs carry it, test catalogs do not.
type Columns struct {
	Code      string
	Name      string
	Type      string
	Embedding string
}

// TestCatalogColumns matches the offline-generated test catalog export.
var TestCatalogColumns = Columns{
	Code:      "TestCode",
	Name:      "TestName",
	Embedding: "TestNameEmbedding",
}

// ReferrerCatalogColumns matches the offline-generated referrer catalog export.
var ReferrerCatalogColumns = Columns{
	Code:      "RefCode",
	Name:      "RefName",
	Type:      "RefType",
	Embedding: "RefNameEmbedding",
}

// Index is an immutable in-memory catalog supporting exact nearest-neighbor
// lookup by cosine similarity. Records keep file order; ties resolve to the
// earliest record. Safe for concurrent readers once loaded.
type Index struct {
	records   []Record
	dimension int
}

// Load parses a CSV catalog export into an Index. Every row's embedding
// column must decode to the same dimension.
func Load(path string, cols Columns) (*Index, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("read header: %w", err)}
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	codeCol, ok := idx[cols.Code]
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("missing column %q", cols.Code)}
	}
	nameCol, ok := idx[cols.Name]
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("missing column %q", cols.Name)}
	}
	embCol, ok := idx[cols.Embedding]
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("missing column %q", cols.Embedding)}
	}
	typeCol := -1
	if cols.Type != "" {
		if c, ok := idx[cols.Type]; ok {
			typeCol = c
		} else {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("missing column %q", cols.Type)}
		}
	}

	index := &Index{}
	row := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		// A CSV syntax error is a corrupt catalog, not end of input;
		// loading must fail rather than serve a truncated index.
		if err != nil {
			return nil, &LoadError{Path: path, Row: row + 1, Err: err}
		}
		row++
		if embCol >= len(fields) || codeCol >= len(fields) || nameCol >= len(fields) {
			return nil, &LoadError{Path: path, Row: row, Err: errors.New("short row")}
		}

		embedding, err := parseEmbedding(fields[embCol])
		if err != nil {
			return nil, &LoadError{Path: path, Row: row, Err: err}
		}
		if index.dimension == 0 {
			index.dimension = len(embedding)
		} else if len(embedding) != index.dimension {
			return nil, &LoadError{Path: path, Row: row, Err: fmt.Errorf(
				"embedding dimension %d, want %d", len(embedding), index.dimension)}
		}

		record := Record{
			Code:      strings.TrimSpace(fields[codeCol]),
			Name:      strings.TrimSpace(fields[nameCol]),
			Embedding: embedding,
		}
		if typeCol >= 0 && typeCol < len(fields) {
			record.Type = strings.TrimSpace(fields[typeCol])
		}
		index.records = append(index.records, record)
	}

	if len(index.records) == 0 {
		return nil, &LoadError{Path: path, Err: ErrEmptyCatalog}
	}

	return index, nil
}

// parseEmbedding decodes the serialized list form "[0.1, -0.2, ...]".
func parseEmbedding(raw string) ([]float64, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, errors.New("embedding not a bracketed list")
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if s == "" {
		return nil, errors.New("embedding list empty")
	}

	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("embedding element %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// NewIndex builds an Index from already-decoded records, preserving order.
// Used by catalogs assembled in code (fixtures, seeds) rather than CSV files.
func NewIndex(records []Record) (*Index, error) {
	if len(records) == 0 {
		return nil, ErrEmptyCatalog
	}
	dim := len(records[0].Embedding)
	for i, r := range records {
		if len(r.Embedding) != dim {
			return nil, fmt.Errorf("record %d: embedding dimension %d, want %d", i, len(r.Embedding), dim)
		}
	}
	return &Index{records: records, dimension: dim}, nil
}

// Len returns the number of records.
func (ix *Index) Len() int { return len(ix.records) }

// Dimension returns the embedding dimension shared by all records.
func (ix *Index) Dimension() int { return ix.dimension }

// NearestNeighbor scans every record and returns the one with maximal cosine
// similarity to query, along with that score. The first-loaded record wins
// ties, so results are deterministic across runs.
func (ix *Index) NearestNeighbor(query []float64) (Record, float64, error) {
	if len(ix.records) == 0 {
		return Record{}, 0, ErrEmptyCatalog
	}

	best := ix.records[0]
	bestScore := CosineSimilarity(query, best.Embedding)
	for _, r := range ix.records[1:] {
		if score := CosineSimilarity(query, r.Embedding); score > bestScore {
			best = r
			bestScore = score
		}
	}
	return best, bestScore, nil
}

// CosineSimilarity is dot(a,b) / (||a||*||b||). A zero-norm or
// length-mismatched pair scores 0 so the ordering stays total.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
