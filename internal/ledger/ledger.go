// Package ledger tracks revoked refresh tokens.
//
// Revocation entries live in Redis with a TTL equal to the token's
// remaining lifetime, so the ledger garbage-collects itself: once a
// token would have expired anyway, its entry disappears.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trysts/auth-core/internal/infrastructure/config"
)

// keyPrefix namespaces revocation entries in Redis.
const keyPrefix = "authcore:revoked:"

// Ledger is a Redis-backed revocation ledger.
type Ledger struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*Ledger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Ledger{client: client}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests with a
// miniredis-backed client.
func NewWithClient(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// Revoke records a token as revoked until its natural expiry.
//
// Tokens already past expiry are not recorded; verification rejects
// them on its own and the entry would only be dead weight.
func (l *Ledger) Revoke(ctx context.Context, tokenString string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := l.client.Set(ctx, key(tokenString), "1", ttl).Err(); err != nil {
		return fmt.Errorf("recording revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token has been revoked.
func (l *Ledger) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	n, err := l.client.Exists(ctx, key(tokenString)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}

// HealthCheck verifies Redis connectivity.
func (l *Ledger) HealthCheck(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ledger health check: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (l *Ledger) Close() error {
	return l.client.Close()
}

// key derives the Redis key for a token. The token itself is hashed so
// the ledger never stores usable credentials.
func key(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return keyPrefix + hex.EncodeToString(sum[:])
}
