package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/models"
)

// ErrNoTenant means a tenant-scoped call ran without an authenticated
// tenant in its context.
var ErrNoTenant = errors.New("no tenant in context")

type (
	tenantKey struct{}
	userKey   struct{}
)

// WithTenant scopes ctx to t. The auth middleware sets it once per request.
func WithTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

func FromContext(ctx context.Context) *models.Tenant {
	t, _ := ctx.Value(tenantKey{}).(*models.Tenant)
	return t
}

func IDFromContext(ctx context.Context) uuid.UUID {
	if t := FromContext(ctx); t != nil {
		return t.ID
	}
	return uuid.Nil
}

// RequireID returns the tenant of ctx, or an ErrForbidden error when there
// is none, so a tenant-scoped query never runs against uuid.Nil.
func RequireID(ctx context.Context) (uuid.UUID, error) {
	id := IDFromContext(ctx)
	if id == uuid.Nil {
		return uuid.Nil, errors.Join(ErrNoTenant, apperr.ErrForbidden)
	}
	return id, nil
}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}
