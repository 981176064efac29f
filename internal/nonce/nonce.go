// Package nonce implements the replay-protection ledger: a TTL-keyed set
// guaranteeing at-most-once acceptance of any nonce within its window.
package nonce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "nonce:"

// DefaultTTL must cover the verification timestamp tolerance: no accepted
// nonce may expire while its timestamp would still be fresh.
const DefaultTTL = 300 * time.Second

// Ledger records nonces with a TTL. Claim is a single atomic check-and-set:
// exactly one caller may observe ok=true for a given nonce within the window.
type Ledger interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// RedisLedger backs the ledger with a shared redis instance, the right choice
// for any deployment with more than one process.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// Claim relies on SET NX for atomicity: the first caller sets the key and
// wins, every concurrent or later caller within the TTL loses.
func (l *RedisLedger) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, keyPrefix+nonce, "1", ttl).Result()
}
