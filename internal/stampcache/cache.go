// Package stampcache is the short-TTL read-through cache between the token
// verifier and the security stamp registry. The TTL is the worst-case bound
// on revocation propagation: a rotated stamp is observed by every verifier
// at most one TTL window after the rotate.
package stampcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-app/gatehouse/internal/identity"
)

// Source is the authoritative stamp lookup, implemented by identity.Registry.
type Source interface {
	CurrentStamp(ctx context.Context, identityID string) (identity.StampInfo, error)
}

// ErrUnavailable indicates the authoritative read did not complete inside
// its timeout. Callers must treat it as a denial, never as a pass.
var ErrUnavailable = errors.New("stampcache: registry unavailable")

type entryPayload struct {
	Stamp string `json:"stamp"`
	Role  string `json:"role"`
}

// Cache maps identity id to (stamp, role) with a fixed TTL, populating from
// the registry on miss. Concurrent misses for the same identity collapse
// into a single registry read.
type Cache struct {
	client  *redis.Client
	source  Source
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// New constructs a Cache.
func New(client *redis.Client, source Source, ttl, timeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, source: source, ttl: ttl, timeout: timeout, logger: logger}
}

// TTL exposes the configured staleness bound.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) key(identityID string) string {
	return "stamp:" + identityID
}

// Lookup returns the cached (stamp, role) for the identity, reading through
// to the registry on miss. Identities that do not resolve return
// identity.ErrNotFound; a registry read that exceeds the timeout returns
// ErrUnavailable.
func (c *Cache) Lookup(ctx context.Context, identityID string) (identity.StampInfo, error) {
	data, err := c.client.Get(ctx, c.key(identityID)).Bytes()
	if err == nil {
		var stored entryPayload
		if err := json.Unmarshal(data, &stored); err == nil {
			if role, err := identity.ParseRole(stored.Role); err == nil {
				return identity.StampInfo{Stamp: stored.Stamp, Role: role}, nil
			}
		}
		// Undecodable entry: drop it and fall through to the registry.
		_ = c.client.Del(ctx, c.key(identityID)).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("stamp cache read", slog.Any("error", err))
	}

	result, err, _ := c.readThrough(ctx, identityID)
	if err != nil {
		return identity.StampInfo{}, err
	}
	return result, nil
}

// readThrough collapses concurrent misses for one identity into a single
// registry read, bounded by the configured timeout.
func (c *Cache) readThrough(ctx context.Context, identityID string) (identity.StampInfo, error, bool) {
	ch := c.group.DoChan(c.key(identityID), func() (any, error) {
		// Detached from the first caller so one cancelled request does
		// not poison the shared flight.
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		info, err := c.source.CurrentStamp(readCtx, identityID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil, err
		}

		payload, err := json.Marshal(entryPayload{Stamp: info.Stamp, Role: string(info.Role)})
		if err == nil {
			if err := c.client.Set(readCtx, c.key(identityID), payload, c.ttl).Err(); err != nil {
				c.logger.Warn("stamp cache populate", slog.Any("error", err))
			}
		}
		return info, nil
	})

	select {
	case <-ctx.Done():
		return identity.StampInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err()), false
	case res := <-ch:
		if res.Err != nil {
			return identity.StampInfo{}, res.Err, res.Shared
		}
		return res.Val.(identity.StampInfo), nil, res.Shared
	}
}

// Invalidate evicts the entry for an identity after a stamp rotation.
func (c *Cache) Invalidate(ctx context.Context, identityID string) error {
	if err := c.client.Del(ctx, c.key(identityID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
