package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scripta-ai/platform/pkg/common/httpclient"
)

// Provider sends an image plus the fixed instruction to the multimodal
// extraction model and returns its raw text response.
type Provider interface {
	Extract(ctx context.Context, imageData []byte) (string, error)
}

// ServiceError wraps failures talking to the extraction provider.
type ServiceError struct {
	Model string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("extraction service (%s): %v", e.Model, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client calls an OpenAI-compatible chat completions endpoint with the
// image inlined as a base64 data URL. Timeouts are long; latency is
// dominated by model inference.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	prompt     PromptTemplate
	httpClient *http.Client
}

func NewClient(apiKey, baseURL, model string, prompt PromptTemplate, timeout time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		prompt:     prompt,
		httpClient: httpclient.New(timeout),
	}
}

func (c *Client) Extract(ctx context.Context, imageData []byte) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)

	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role":    "system",
				"content": c.prompt.System,
			},
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": c.prompt.Instruction},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
		"temperature": c.prompt.Temperature,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", &ServiceError{Model: c.model, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", &ServiceError{Model: c.model, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ServiceError{Model: c.model, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ServiceError{Model: c.model, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Model: c.model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &ServiceError{Model: c.model, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(result.Choices) == 0 {
		return "", &ServiceError{Model: c.model, Err: fmt.Errorf("no choices in response")}
	}

	return result.Choices[0].Message.Content, nil
}
