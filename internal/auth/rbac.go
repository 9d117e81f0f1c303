package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

type Permission string

const (
	PermDocumentsRead     Permission = "documents:read"
	PermDocumentsGenerate Permission = "documents:generate"
	PermDocumentsPublish  Permission = "documents:publish"
	PermBatchesManage     Permission = "batches:manage"
	PermTemplatesRead     Permission = "templates:read"
	PermWebhooksManage    Permission = "webhooks:manage"
	PermAdminRead         Permission = "admin:read"
	PermWildcard          Permission = "*"
)

type RBAC struct {
	db database.DB
}

func NewRBAC(db database.DB) *RBAC {
	return &RBAC{db: db}
}

// RequirePermission admits API keys whose scopes grant perm and users whose
// role grants it.
func (r *RBAC) RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if scopes, ok := ScopesFromContext(req.Context()); ok {
				if !grants(scopes, perm) {
					writeError(w, http.StatusForbidden, "insufficient scope")
					return
				}
				next.ServeHTTP(w, req)
				return
			}

			user := tenant.UserFromContext(req.Context())
			if user == nil {
				writeError(w, http.StatusForbidden, "no user in context")
				return
			}

			if user.RoleID == nil {
				writeError(w, http.StatusForbidden, "no role assigned")
				return
			}

			has, err := r.userHasPermission(req.Context(), *user.RoleID, perm)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "permission check failed")
				return
			}
			if !has {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}

func (r *RBAC) userHasPermission(ctx context.Context, roleID uuid.UUID, perm Permission) (bool, error) {
	var permJSON json.RawMessage
	err := r.db.QueryRow(ctx,
		"SELECT permissions FROM roles WHERE id = $1", roleID,
	).Scan(&permJSON)
	if err != nil {
		return false, fmt.Errorf("load role %s: %w", roleID, err)
	}

	var perms []string
	if err := json.Unmarshal(permJSON, &perms); err != nil {
		return false, fmt.Errorf("decode role %s permissions: %w", roleID, err)
	}
	return grants(perms, perm), nil
}

func grants(perms []string, perm Permission) bool {
	for _, p := range perms {
		if Permission(p) == PermWildcard || Permission(p) == perm {
			return true
		}
	}
	return false
}
