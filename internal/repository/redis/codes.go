package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const codePrefix = "collab:code:"

// CodeReserver maps active session codes to their session ids
type CodeReserver struct {
	client *Client
}

// NewCodeReserver creates a new code reserver
func NewCodeReserver(client *Client) *CodeReserver {
	return &CodeReserver{client: client}
}

func codeKey(code string) string {
	return codePrefix + strings.ToUpper(code)
}

// Reserve claims a code for a session; false means another active session holds it
func (r *CodeReserver) Reserve(ctx context.Context, code string, sessionID uuid.UUID) (bool, error) {
	ok, err := r.client.rdb.SetNX(ctx, codeKey(code), sessionID.String(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve session code: %w", err)
	}
	return ok, nil
}

// Lookup resolves a code to its session id, uuid.Nil when unreserved
func (r *CodeReserver) Lookup(ctx context.Context, code string) (uuid.UUID, error) {
	val, err := r.client.rdb.Get(ctx, codeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to look up session code: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt session code entry %q: %w", val, err)
	}
	return id, nil
}

// Release frees a code for reuse
func (r *CodeReserver) Release(ctx context.Context, code string) error {
	if err := r.client.rdb.Del(ctx, codeKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to release session code: %w", err)
	}
	return nil
}
