// Package testutil provides common test utilities for handler and
// integration tests.
package testutil

import (
	"net/http"
	"time"

	id "dhfcore/pkg/domain"
	"dhfcore/pkg/requestcontext"
)

// WithActor adds an authenticated actor and role claims to the request
// context, simulating what the auth middleware does for a valid token.
func WithActor(req *http.Request, actor id.ActorID, roles ...string) *http.Request {
	ctx := requestcontext.WithActorID(req.Context(), actor)
	if len(roles) > 0 {
		ctx = requestcontext.WithRoles(ctx, roles)
	}
	return req.WithContext(ctx)
}

// WithRequestTime pins the request clock so timestamps are deterministic.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
