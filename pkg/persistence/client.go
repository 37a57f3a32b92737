package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/scripta-ai/platform/pkg/common/httpclient"
	"github.com/scripta-ai/platform/pkg/common/models"
)

// Error wraps failures from the prescription persistence API. Non-2xx is a
// hard failure; the pipeline never persists partial records.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("prescription api status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("prescription api: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Credentials configures optional client-credentials auth for the
// prescription API. Zero value disables auth.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Client posts canonical prescription records to the persistence service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration, creds Credentials) *Client {
	client := httpclient.New(timeout)
	if creds.ClientID != "" && creds.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
		}
		// Token-injecting transport over the tuned base client.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = cc.Client(ctx)
		client.Timeout = timeout
	}
	return &Client{baseURL: baseURL, httpClient: client}
}

// Create submits a canonical record and returns the generated identifier.
func (c *Client) Create(ctx context.Context, payload models.PrescriptionPayload) (models.PrescriptionResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.PrescriptionResponse{}, &Error{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/prescriptions", bytes.NewBuffer(body))
	if err != nil {
		return models.PrescriptionResponse{}, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PrescriptionResponse{}, &Error{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.PrescriptionResponse{}, &Error{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return models.PrescriptionResponse{}, &Error{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", respBody),
		}
	}

	var created models.PrescriptionResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return models.PrescriptionResponse{}, &Error{Status: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return created, nil
}
