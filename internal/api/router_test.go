package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/auth"
	"github.com/nikhilbhutani/docissue/internal/config"
	"github.com/nikhilbhutani/docissue/internal/document"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/verify"
)

const testSecret = "router-secret"

type directory struct {
	tenant *models.Tenant
	user   *models.User
}

func (d directory) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	if id == d.tenant.ID {
		return d.tenant, nil
	}
	return nil, apperr.NotFound("tenant")
}

func (d directory) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if id == d.user.ID {
		return d.user, nil
	}
	return nil, apperr.NotFound("user")
}

type documents struct{}

func (documents) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Document, error) {
	return nil, apperr.NotFound("document")
}

func (documents) List(context.Context, uuid.UUID, document.ListFilter) ([]models.Document, error) {
	return []models.Document{{Title: "Provisional Certificate - Student A"}}, nil
}

type verifier struct{}

func (verifier) Verify(_ context.Context, token string) (*verify.PublicView, error) {
	if token == "published" {
		return &verify.PublicView{Title: "Provisional Certificate - Student A"}, nil
	}
	return nil, apperr.NotFound("document")
}

func newTestRouter(t *testing.T) (http.Handler, pgxmock.PgxPoolIface, string) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	roleID := uuid.New()
	tn := &models.Tenant{ID: uuid.New(), Name: "State University", Slug: "state-u"}
	u := &models.User{ID: uuid.New(), TenantID: tn.ID, RoleID: &roleID, Email: "clerk@example.edu"}
	dir := directory{tenant: tn, user: u}

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		Auth:   config.AuthConfig{JWTSecret: testSecret, APIKeyHeader: "X-API-Key"},
	}
	rt := NewRouter(cfg, Deps{
		Documents: documents{},
		Verifier:  verifier{},
		JWT:       auth.NewJWTMiddleware(testSecret, dir),
		APIKey:    auth.NewAPIKeyMiddleware(mock, "X-API-Key", dir),
		RBAC:      auth.NewRBAC(mock),
	})
	t.Cleanup(rt.Close)

	mock.ExpectQuery("SELECT permissions FROM roles").WithArgs(roleID).
		WillReturnRows(pgxmock.NewRows([]string{"permissions"}).AddRow(json.RawMessage(`["documents:read"]`)))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		Sub:      u.ID.String(),
		TenantID: tn.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	return rt.Setup(), mock, token
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicRoutes(t *testing.T) {
	h, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/verify/published", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/verify/unknown", "").Code)
}

func TestRouter_APIRequiresAuth(t *testing.T) {
	h, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/documents", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/documents", "garbage").Code)
}

func TestRouter_PermissionsPerRoute(t *testing.T) {
	h, mock, token := newTestRouter(t)

	rec := do(h, http.MethodGet, "/api/v1/documents", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Provisional Certificate")

	mock.ExpectQuery("SELECT permissions FROM roles").
		WillReturnRows(pgxmock.NewRows([]string{"permissions"}).AddRow(json.RawMessage(`["documents:read"]`)))
	rec = do(h, http.MethodPost, "/api/v1/documents/"+uuid.NewString()+"/publish", token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
