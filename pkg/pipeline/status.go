package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scripta-ai/platform/pkg/common/models"
)

// ErrStatusNotFound means no pipeline run has been recorded for a booking.
var ErrStatusNotFound = errors.New("no extraction status for booking")

// StatusStore keeps the latest pipeline status per booking in Redis so
// callers can poll progress without holding the extraction request open.
type StatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusStore(client *redis.Client, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{client: client, ttl: ttl}
}

func statusKey(bookingID string) string {
	return "extraction:status:" + bookingID
}

func (s *StatusStore) Set(ctx context.Context, status models.ExtractionStatus) error {
	status.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return s.client.Set(ctx, statusKey(status.BookingID), data, s.ttl).Err()
}

func (s *StatusStore) Get(ctx context.Context, bookingID string) (models.ExtractionStatus, error) {
	data, err := s.client.Get(ctx, statusKey(bookingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ExtractionStatus{}, ErrStatusNotFound
	}
	if err != nil {
		return models.ExtractionStatus{}, err
	}

	var status models.ExtractionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return models.ExtractionStatus{}, fmt.Errorf("unmarshal status: %w", err)
	}
	return status, nil
}
