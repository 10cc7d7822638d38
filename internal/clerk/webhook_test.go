package clerk

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"
)

const testSigningSecret = "whsec_MfKjPTg2xYZUCrXgAUstriPeSvIXtEst"

type fakeProvisioner struct {
	users []User
	err   error
}

func (f *fakeProvisioner) HandleUserCreated(_ context.Context, user User) error {
	if f.err != nil {
		return f.err
	}
	f.users = append(f.users, user)
	return nil
}

func signedClerkRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	wh, err := svix.NewWebhook(secret)
	require.NoError(t, err)

	msgID := "msg_test_1"
	now := time.Now()
	signature, err := wh.Sign(msgID, now, []byte(payload))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", strings.NewReader(payload))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", signature)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestClerkWebhookProvisionsNewUser(t *testing.T) {
	provisioner := &fakeProvisioner{}
	handler, err := NewWebhookHandler(testSigningSecret, provisioner)
	require.NoError(t, err)

	payload := `{"type":"user.created","data":{"id":"user_abc","primary_email_address_id":"idn_1","email_addresses":[{"id":"idn_1","email_address":"new@example.com"}]}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedClerkRequest(t, testSigningSecret, payload))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, provisioner.users, 1)
	assert.Equal(t, "user_abc", provisioner.users[0].ID)
	assert.Equal(t, "new@example.com", provisioner.users[0].PrimaryEmail())
}

func TestClerkWebhookRejectsTamperedBody(t *testing.T) {
	provisioner := &fakeProvisioner{}
	handler, err := NewWebhookHandler(testSigningSecret, provisioner)
	require.NoError(t, err)

	payload := `{"type":"user.created","data":{"id":"user_abc"}}`
	req := signedClerkRequest(t, testSigningSecret, payload)
	req.Body = io.NopCloser(strings.NewReader(`{"type":"user.created","data":{"id":"user_mallory"}}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, provisioner.users, "unverified delivery must not reach the provisioner")
}

func TestClerkWebhookRejectsMissingSignatureHeaders(t *testing.T) {
	handler, err := NewWebhookHandler(testSigningSecret, &fakeProvisioner{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", strings.NewReader(`{"type":"user.created","data":{"id":"user_abc"}}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClerkWebhookAcksUnhandledTypes(t *testing.T) {
	provisioner := &fakeProvisioner{}
	handler, err := NewWebhookHandler(testSigningSecret, provisioner)
	require.NoError(t, err)

	payload := `{"type":"session.created","data":{"id":"sess_1"}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedClerkRequest(t, testSigningSecret, payload))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, provisioner.users)
}

func TestClerkWebhookReturns500OnProvisionerFailure(t *testing.T) {
	provisioner := &fakeProvisioner{err: errors.New("stripe unavailable")}
	handler, err := NewWebhookHandler(testSigningSecret, provisioner)
	require.NoError(t, err)

	payload := `{"type":"user.created","data":{"id":"user_abc"}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedClerkRequest(t, testSigningSecret, payload))

	// 500 makes Clerk redeliver; provisioning is idempotent on retry.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClerkWebhookMethodNotAllowed(t *testing.T) {
	handler, err := NewWebhookHandler(testSigningSecret, &fakeProvisioner{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhooks/clerk", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
