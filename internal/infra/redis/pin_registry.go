package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// PINRegistry claims join codes across instances with SET NX, so two
// processes cannot hand out the same live PIN.
type PINRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPINRegistry(client *redis.Client, ttl time.Duration) *PINRegistry {
	return &PINRegistry{client: client, ttl: ttl}
}

func (r *PINRegistry) Reserve(ctx context.Context, pin, sessionID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(pin), sessionID, r.ttl).Result()
}

func (r *PINRegistry) Lookup(ctx context.Context, pin string) (string, bool, error) {
	sessionID, err := r.client.Get(ctx, r.key(pin)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sessionID, true, nil
}

func (r *PINRegistry) Release(ctx context.Context, pin string) error {
	return r.client.Del(ctx, r.key(pin)).Err()
}

func (r *PINRegistry) key(pin string) string {
	return "quiz:pin:" + domain.NormalizePIN(pin)
}
