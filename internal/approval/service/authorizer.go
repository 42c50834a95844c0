package service

import (
	"context"

	id "dhfcore/pkg/domain"
	dErrors "dhfcore/pkg/domain-errors"
	"dhfcore/pkg/requestcontext"
)

// Authorizer decides whether an actor may record a gate decision on a
// project. Implementations may call out to an external policy service;
// failures are treated as denials.
type Authorizer interface {
	Authorize(ctx context.Context, actor id.ActorID, projectID id.ProjectID, action string) error
}

// Gate decision actions checked against the Authorizer.
const (
	ActionApprove = "gate.approve"
	ActionReject  = "gate.reject"
)

// RoleAuthorizer grants gate decisions to any actor whose token carries the
// approver role. Project-scoped role grants live with the identity provider;
// the token roles claim is the authority here.
type RoleAuthorizer struct {
	requiredRole string
}

// NewRoleAuthorizer builds the default claims-based authorizer.
func NewRoleAuthorizer(requiredRole string) *RoleAuthorizer {
	if requiredRole == "" {
		requiredRole = "approver"
	}
	return &RoleAuthorizer{requiredRole: requiredRole}
}

func (a *RoleAuthorizer) Authorize(ctx context.Context, actor id.ActorID, _ id.ProjectID, action string) error {
	if actor.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "gate decisions require an authenticated actor")
	}
	for _, role := range requestcontext.Roles(ctx) {
		if role == a.requiredRole {
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodeForbidden, "actor lacks the %s role required for %s", a.requiredRole, action)
}
