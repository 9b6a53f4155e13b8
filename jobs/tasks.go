// Package jobs holds the background maintenance tasks run by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-app/gatehouse/internal/magic"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeMagicPurge drops one-time tokens past their audit window.
	TaskTypeMagicPurge = "magic:purge_expired"
	// TaskTypeStampInvalidate retries the stamp-cache eviction after a
	// rotate whose synchronous invalidation may have failed.
	TaskTypeStampInvalidate = "stamp:invalidate"
)

// StampInvalidatePayload names the identity whose cache entry must go.
type StampInvalidatePayload struct {
	IdentityID string `json:"identity_id"`
}

// NewMagicPurgeTask constructs the purge task.
func NewMagicPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTypeMagicPurge, nil)
}

// NewStampInvalidateTask constructs a cache eviction task.
func NewStampInvalidateTask(payload StampInvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeStampInvalidate, data), nil
}

// NewMagicPurgeHandler processes TaskTypeMagicPurge tasks.
func NewMagicPurgeHandler(store magic.Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		purged, err := store.PurgeExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		if purged > 0 {
			logger.Info("purged magic tokens", slog.Int64("count", purged))
		}
		return nil
	}
}

// Invalidator evicts one stamp-cache entry. Implemented by stampcache.Cache.
type Invalidator interface {
	Invalidate(ctx context.Context, identityID string) error
}

// NewStampInvalidateHandler processes TaskTypeStampInvalidate tasks.
func NewStampInvalidateHandler(cache Invalidator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StampInvalidatePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := cache.Invalidate(ctx, payload.IdentityID); err != nil {
			return err
		}
		logger.Debug("stamp cache invalidated", slog.String("identity", payload.IdentityID))
		return nil
	}
}
