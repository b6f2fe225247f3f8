package streaming

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMirror mirrors run events into a Redis Stream per run so external
// consumers can tail progress without holding an in-process subscription.
// Mirroring is best-effort: failures are logged and never block publishing.
type RedisMirror struct {
	client  *redis.Client
	logger  *zap.Logger
	maxLen  int64
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisMirror creates a mirror writing to streams named
// "concord:run:<run_id>:events".
func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{
		client:  client,
		logger:  logger,
		maxLen:  1024,
		ttl:     24 * time.Hour,
		timeout: 2 * time.Second,
	}
}

func streamKey(runID string) string {
	return "concord:run:" + runID + ":events"
}

// Publish implements Mirror.
func (rm *RedisMirror) Publish(runID string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), rm.timeout)
	defer cancel()

	key := streamKey(runID)
	if err := rm.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: rm.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":     evt.Seq,
			"type":    evt.Type,
			"payload": string(evt.Marshal()),
		},
	}).Err(); err != nil {
		rm.logger.Warn("Redis mirror publish failed",
			zap.String("run_id", runID),
			zap.Error(err),
		)
		return
	}
	// Expiry keeps abandoned run streams from accumulating.
	_ = rm.client.Expire(ctx, key, rm.ttl).Err()
}

// Tail reads events from a run's stream starting after the given ID ("0"
// for the beginning). Used by external consumers and tests.
func (rm *RedisMirror) Tail(ctx context.Context, runID, afterID string, count int64) ([]redis.XMessage, error) {
	start := "-"
	if afterID != "" && afterID != "0" {
		start = "(" + afterID
	}
	res, err := rm.client.XRangeN(ctx, streamKey(runID), start, "+", count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}
