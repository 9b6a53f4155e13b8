package identity

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Invalidator evicts a cached stamp entry after a rotation. Implemented by
// the stamp cache; kept as an interface here so the registry stays a leaf.
type Invalidator interface {
	Invalidate(ctx context.Context, identityID string) error
}

// Fanout enqueues a background retry of the cache invalidation so a rotate
// still converges when the synchronous eviction fails.
type Fanout interface {
	EnqueueStampInvalidate(ctx context.Context, identityID string) error
}

// Registry is the security stamp registry: the durable per-identity
// revocation counter read by the issuer and (through the cache) the verifier.
type Registry struct {
	repo   Repository
	cache  Invalidator
	fanout Fanout
	logger *slog.Logger
}

// NewRegistry constructs a Registry. fanout may be nil.
func NewRegistry(repo Repository, fanout Fanout, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, fanout: fanout, logger: logger}
}

// AttachCache wires the stamp cache for post-rotate invalidation. The cache
// reads through the registry, so it is constructed second and attached here.
func (r *Registry) AttachCache(cache Invalidator) {
	r.cache = cache
}

// CurrentStamp returns the live stamp and role for an identity.
// Soft-deleted identities do not resolve.
func (r *Registry) CurrentStamp(ctx context.Context, identityID string) (StampInfo, error) {
	ident, err := r.repo.Find(ctx, identityID)
	if err != nil {
		return StampInfo{}, err
	}
	if ident.Deleted() {
		return StampInfo{}, ErrNotFound
	}
	return StampInfo{Stamp: ident.SecurityStamp, Role: ident.Role}, nil
}

// Rotate replaces the identity's security stamp with a fresh random value,
// invalidating every previously issued session token once the cache window
// elapses. Rotating an already-rotated identity is a plain second rotation;
// the operation never depends on the prior value.
func (r *Registry) Rotate(ctx context.Context, identityID string) (string, error) {
	stamp := uuid.NewString()
	if err := r.repo.UpdateStamp(ctx, identityID, stamp); err != nil {
		return "", err
	}

	// Best effort: the cache TTL bounds propagation even when both of
	// these fail.
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, identityID); err != nil {
			r.logger.Warn("stamp cache invalidate", slog.String("identity", idPrefix(identityID)), slog.Any("error", err))
		}
	}
	if r.fanout != nil {
		if err := r.fanout.EnqueueStampInvalidate(ctx, identityID); err != nil {
			r.logger.Warn("stamp invalidate fanout", slog.String("identity", idPrefix(identityID)), slog.Any("error", err))
		}
	}
	return stamp, nil
}

// idPrefix truncates an identity id for log lines.
func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
