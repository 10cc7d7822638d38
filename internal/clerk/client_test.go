package clerk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		baseURL:    srv.URL,
		secretKey:  "sk_test_secret",
		httpClient: srv.Client(),
	}
}

func TestGetUser(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users/user_abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "user_abc",
			"primary_email_address_id": "idn_1",
			"email_addresses": [{"id": "idn_1", "email_address": "user@example.com"}],
			"public_metadata": {"plan": "pro", "stripeCustomerId": "cus_123"}
		}`))
	})

	user, err := client.GetUser(context.Background(), "user_abc")
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk_test_secret", gotAuth)
	assert.Equal(t, "user_abc", user.ID)
	assert.Equal(t, "user@example.com", user.PrimaryEmail())
	assert.Equal(t, "pro", user.PublicMetadata.Plan)
	assert.Equal(t, "cus_123", user.PublicMetadata.StripeCustomerID)
}

func TestGetUserRequiresID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := client.GetUser(context.Background(), "  ")
	require.Error(t, err)
}

func TestMergeUserMetadataSendsMergePatch(t *testing.T) {
	var gotBody map[string]json.RawMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/users/user_abc/metadata", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user_abc"}`))
	})

	err := client.MergeUserMetadata(context.Background(), "user_abc", PublicMetadata{
		Plan:             "pro",
		StripeCustomerID: "cus_123",
	})
	require.NoError(t, err)

	require.Contains(t, gotBody, "public_metadata")
	assert.JSONEq(t, `{"plan":"pro","stripeCustomerId":"cus_123"}`, string(gotBody["public_metadata"]))
}

func TestMergeUserMetadataOmitsUnsetFields(t *testing.T) {
	var gotMetadata string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &body))
		gotMetadata = string(body["public_metadata"])
		_, _ = w.Write([]byte(`{}`))
	})

	// Writing only the customer linkage must not clear an existing plan:
	// Clerk merges the patch, and omitted keys are not sent at all.
	err := client.MergeUserMetadata(context.Background(), "user_abc", PublicMetadata{
		StripeCustomerID: "cus_123",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stripeCustomerId":"cus_123"}`, gotMetadata)
}

func TestAPIErrorCarriesClerkMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"message":"User not found"}]}`))
	})

	_, err := client.GetUser(context.Background(), "user_ghost")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "User not found", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "HTTP 404")
}

func TestAPIErrorFallsBackToRawBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := client.GetUser(context.Background(), "user_abc")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream exploded", apiErr.Message)
}
