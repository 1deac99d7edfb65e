package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notification-dispatcher/internal/repository"
)

// BounceKey is the set of email addresses that hard bounced
const BounceKey = "bounces:email"

type bounceRepository struct {
	client redis.UniversalClient
	key    string
}

func NewBounceRepository(client redis.UniversalClient) repository.BounceRepository {
	return &bounceRepository{client: client, key: BounceKey}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *bounceRepository) IsBounced(ctx context.Context, email string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, normalizeEmail(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check bounce history: %w", err)
	}
	return ok, nil
}

func (r *bounceRepository) RecordBounce(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if err := r.client.SAdd(ctx, r.key, email).Err(); err != nil {
		return fmt.Errorf("failed to record bounce: %w", err)
	}
	return nil
}
