package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

func TestSign(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("whsec_x"))
	mac.Write([]byte(`{"a":1}`))
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), sign([]byte(`{"a":1}`), "whsec_x"))
}

func TestDispatch_DeliversSignedPayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		received <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tenantID, hookID := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, url, secret FROM webhooks").
		WithArgs(tenantID, `["document.published"]`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "secret"}).AddRow(hookID, srv.URL, "whsec_test"))
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WithArgs(hookID, EventDocumentPublished, pgxmock.AnyArg(), http.StatusNoContent, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(mock, NewDispatcher(mock))
	require.NoError(t, svc.Dispatch(context.Background(), tenantID, EventDocumentPublished, map[string]string{"title": "Degree"}))

	select {
	case r := <-received:
		body := <-bodies
		assert.JSONEq(t, `{"event":"document.published","data":{"title":"Degree"}}`, string(body))
		assert.Equal(t, EventDocumentPublished, r.Header.Get("X-Webhook-Event"))
		assert.Equal(t, sign(body, "whsec_test"), r.Header.Get("X-Webhook-Signature"))
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, 5*time.Second, 10*time.Millisecond)
}

func TestCreate_RejectsUnknownEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := tenant.WithTenant(context.Background(), &models.Tenant{ID: uuid.New()})
	_, err = NewService(mock, nil).Create(ctx, CreateRequest{URL: "https://hooks.example.edu", Events: []string{"document.deleted"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDelete_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM webhooks").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	ctx := tenant.WithTenant(context.Background(), &models.Tenant{ID: uuid.New()})
	assert.ErrorIs(t, NewService(mock, nil).Delete(ctx, uuid.New()), apperr.ErrNotFound)
}

func TestKnownEvent(t *testing.T) {
	assert.True(t, KnownEvent("batch.completed"))
	assert.False(t, KnownEvent("document.deleted"))
}

func TestDeliver_ErrorResponseIsReturned(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hookID := uuid.New()
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WithArgs(hookID, EventBatchCompleted, pgxmock.AnyArg(), http.StatusBadGateway, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	d := &Dispatcher{db: mock, httpClient: srv.Client()}
	err = d.Deliver(context.Background(), DeliveryRequest{
		WebhookID: hookID,
		URL:       srv.URL,
		Secret:    "whsec_test",
		Event:     EventBatchCompleted,
		Payload:   []byte(`{}`),
	})
	assert.ErrorContains(t, err, "502")
	assert.NoError(t, mock.ExpectationsWereMet())
}
