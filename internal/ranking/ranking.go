// Package ranking maintains the Redis sorted-set experience index serving
// rank lookups. The document store stays the source of truth; the index is
// rebuilt from it daily and cleared on period resets.
package ranking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
)

// Entry is one ranked member of the index.
type Entry struct {
	Email string
	Exp   float64
	Rank  int
}

// Index provides sorted-set experience rankings per period.
type Index struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg *config.RedisConfig, logger *slog.Logger) (*Index, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Index{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (i *Index) Close() error {
	return i.client.Close()
}

func key(p domain.Period) string {
	return fmt.Sprintf("rank:%s", p)
}

// AddExperience increments a user's period counter in the index.
func (i *Index) AddExperience(ctx context.Context, p domain.Period, email string, points float64) error {
	if err := i.client.ZIncrBy(ctx, key(p), points, email).Err(); err != nil {
		return fmt.Errorf("incrementing %s experience: %w", p, err)
	}
	return nil
}

// Rebuild atomically replaces the index for a period.
func (i *Index) Rebuild(ctx context.Context, p domain.Period, scores map[string]float64) error {
	pipe := i.client.TxPipeline()
	pipe.Del(ctx, key(p))
	if len(scores) > 0 {
		members := make([]redis.Z, 0, len(scores))
		for email, exp := range scores {
			members = append(members, redis.Z{Score: exp, Member: email})
		}
		pipe.ZAdd(ctx, key(p), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding %s index: %w", p, err)
	}
	return nil
}

// Clear drops the index for a period.
func (i *Index) Clear(ctx context.Context, p domain.Period) error {
	if err := i.client.Del(ctx, key(p)).Err(); err != nil {
		return fmt.Errorf("clearing %s index: %w", p, err)
	}
	return nil
}

// Top returns the highest-ranked members, best first.
func (i *Index) Top(ctx context.Context, p domain.Period, n int) ([]Entry, error) {
	results, err := i.client.ZRevRangeWithScores(ctx, key(p), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s top: %w", p, err)
	}

	entries := make([]Entry, 0, len(results))
	for idx, z := range results {
		email, _ := z.Member.(string)
		entries = append(entries, Entry{Email: email, Exp: z.Score, Rank: idx + 1})
	}
	return entries, nil
}
