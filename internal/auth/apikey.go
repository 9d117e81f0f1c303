package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

const apiKeyPrefix = "dik_"

// Directory resolves the tenant and user behind a credential.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type APIKeyMiddleware struct {
	db         database.DB
	headerName string
	directory  Directory
	now        func() time.Time
}

func NewAPIKeyMiddleware(db database.DB, headerName string, dir Directory) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		db:         db,
		headerName: headerName,
		directory:  dir,
		now:        time.Now,
	}
}

// Authenticate resolves an API key into tenant, user and scopes. Requests
// without a key pass through to the next authenticator.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(m.headerName)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		var ak models.APIKey
		var scopesJSON json.RawMessage
		err := m.db.QueryRow(r.Context(),
			`SELECT id, tenant_id, user_id, key_hash, name, scopes, expires_at, created_at
			 FROM api_keys WHERE key_hash = $1`, HashAPIKey(key),
		).Scan(&ak.ID, &ak.TenantID, &ak.UserID, &ak.KeyHash, &ak.Name, &scopesJSON, &ak.ExpiresAt, &ak.CreatedAt)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if err := json.Unmarshal(scopesJSON, &ak.Scopes); err != nil {
			writeError(w, http.StatusInternalServerError, "invalid scopes")
			return
		}

		if ak.Expired(m.now()) {
			writeError(w, http.StatusUnauthorized, "API key expired")
			return
		}

		go func(ctx context.Context) {
			if _, err := m.db.Exec(ctx, "UPDATE api_keys SET last_used_at = $1 WHERE id = $2", m.now(), ak.ID); err != nil {
				slog.Warn("update api key last use", "api_key_id", ak.ID, "error", err)
			}
		}(context.WithoutCancel(r.Context()))

		t, err := m.directory.GetByID(r.Context(), ak.TenantID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "tenant not found")
			return
		}

		ctx := tenant.WithTenant(r.Context(), t)
		ctx = withScopes(ctx, ak.Scopes)

		if ak.UserID != nil {
			user, err := m.directory.GetUserByID(r.Context(), *ak.UserID)
			if err == nil {
				ctx = tenant.WithUser(ctx, user)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateAPIKey returns a new key and the hash to store for it.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	key = apiKeyPrefix + hex.EncodeToString(b)
	return key, HashAPIKey(key), nil
}
