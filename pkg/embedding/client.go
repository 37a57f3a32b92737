package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scripta-ai/platform/pkg/common/httpclient"
)

// Embedder converts a text string into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ServiceError wraps any failure talking to the embedding provider. It is
// never recovered locally; callers decide whether one failed embedding
// aborts a whole extraction.
type ServiceError struct {
	Model string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service (%s): %v", e.Model, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client calls an OpenAI-compatible /embeddings endpoint. One input per
// call, no retry, no caching; runtime query text is rarely repeated so a
// cache would only mask provider failures.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpclient.New(timeout),
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embeddingRequest{Input: []string{text}, Model: c.model})
	if err != nil {
		return nil, &ServiceError{Model: c.model, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewBuffer(payload))
	if err != nil {
		return nil, &ServiceError{Model: c.model, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Model: c.model, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Model: c.model, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Model: c.model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ServiceError{Model: c.model, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, &ServiceError{Model: c.model, Err: fmt.Errorf("empty embedding in response")}
	}

	return parsed.Data[0].Embedding, nil
}

// Ping issues a throwaway embedding request to verify the provider is
// reachable. Used once at startup, behind the caller's retry policy.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping")
	return err
}
