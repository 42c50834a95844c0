// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them, services read them, and the
// package stays free of net/http so domain code never imports transport.
package requestcontext

import (
	"context"
	"time"

	id "dhfcore/pkg/domain"
)

type (
	actorIDKey     struct{}
	rolesKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyActorID     = actorIDKey{}
	ContextKeyRoles       = rolesKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// ActorID retrieves the authenticated actor from the context.
// Returns the zero value if not set.
func ActorID(ctx context.Context) id.ActorID {
	if actor, ok := ctx.Value(ContextKeyActorID).(id.ActorID); ok {
		return actor
	}
	return id.ActorID{}
}

// WithActorID injects the authenticated actor into the context.
func WithActorID(ctx context.Context, actor id.ActorID) context.Context {
	return context.WithValue(ctx, ContextKeyActorID, actor)
}

// Roles retrieves the actor's role claims from the context.
func Roles(ctx context.Context) []string {
	if roles, ok := ctx.Value(ContextKeyRoles).([]string); ok {
		return roles
	}
	return nil
}

// WithRoles injects the actor's role claims into the context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, ContextKeyRoles, roles)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context, falling back to the
// wall clock. A single "now" per request keeps audit timestamps and domain
// timestamps consistent within one operation.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Tests use this to pin
// the clock.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
