package shared

import (
	"context"

	"github.com/gatehouse-app/gatehouse/internal/identity"
)

// Caller is the resolved identity attached to a request after the gateway
// verified its credential. Downstream handlers read it from context and
// never re-verify.
type Caller struct {
	ID    string
	Role  identity.Role
	Stamp string
}

type callerContextKey struct{}

// ContextWithCaller stores the resolved caller in context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the resolved caller, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}
