package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/apiquest-collab/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const bufferPrefix = "collab:buffer:"

// BufferStore keeps live code buffers in Redis. The TTL only guards against
// buffers orphaned by a crash; ended sessions delete theirs explicitly.
type BufferStore struct {
	client *Client
	ttl    time.Duration
}

// NewBufferStore creates a new buffer store
func NewBufferStore(client *Client, ttl time.Duration) *BufferStore {
	return &BufferStore{client: client, ttl: ttl}
}

func bufferKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s%s", bufferPrefix, sessionID.String())
}

// Get retrieves the buffer of a session, nil when none is stored
func (s *BufferStore) Get(ctx context.Context, sessionID uuid.UUID) (*domain.CodeBuffer, error) {
	data, err := s.client.rdb.Get(ctx, bufferKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get code buffer: %w", err)
	}

	var buffer domain.CodeBuffer
	if err := json.Unmarshal(data, &buffer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code buffer: %w", err)
	}

	return &buffer, nil
}

// Save replaces the buffer of a session
func (s *BufferStore) Save(ctx context.Context, buffer *domain.CodeBuffer) error {
	data, err := json.Marshal(buffer)
	if err != nil {
		return fmt.Errorf("failed to marshal code buffer: %w", err)
	}

	if err := s.client.rdb.Set(ctx, bufferKey(buffer.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save code buffer: %w", err)
	}
	return nil
}

// Delete discards the buffer of a session
func (s *BufferStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	return s.client.rdb.Del(ctx, bufferKey(sessionID)).Err()
}
