package stripe

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestWebhookProcessesSubscriptionUpdated(t *testing.T) {
	identity := &fakeIdentity{}
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(identity, &fakeStripe{}))

	eventJSON := `{"id":"evt_1","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","customer":"cus_123","status":"active","metadata":{"clerkUserId":"user_abc"}}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(identity.patches) != 1 || identity.patches[0].Plan != string(PlanPro) {
		t.Fatalf("expected one pro entitlement write, got %+v", identity.patches)
	}
}

func TestWebhookRejectsTamperedPayload(t *testing.T) {
	identity := &fakeIdentity{}
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(identity, &fakeStripe{}))

	eventJSON := `{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_123","status":"canceled","metadata":{"clerkUserId":"user_abc"}}}}`
	req := signedWebhookRequest(t, testWebhookSecret, eventJSON)

	// Replace the body after signing; the signature no longer matches.
	tampered := []byte(`{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_123","status":"active","metadata":{"clerkUserId":"user_mallory"}}}}`)
	req.Body = io.NopCloser(bytes.NewReader(tampered))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if len(identity.patches) != 0 {
		t.Fatalf("tampered delivery must not touch provider state, got %+v", identity.patches)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(&fakeIdentity{}, &fakeStripe{}))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookUnavailableWithoutSecret(t *testing.T) {
	handler := NewWebhookHandler("", newTestReconciler(&fakeIdentity{}, &fakeStripe{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(&fakeIdentity{}, &fakeStripe{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/webhooks/stripe", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWebhookAcksUnhandledEventTypes(t *testing.T) {
	identity := &fakeIdentity{}
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(identity, &fakeStripe{}))

	eventJSON := `{"id":"evt_3","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(identity.patches) != 0 {
		t.Fatalf("unhandled event must not write state, got %+v", identity.patches)
	}
}

func TestWebhookRetriesFailedProcessing(t *testing.T) {
	identity := &fakeIdentity{}
	billing := &fakeStripe{} // no customers: the metadata fallback lookup fails
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(identity, billing))

	eventJSON := `{"id":"evt_4","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","customer":"cus_unknown99","status":"active"}}}`

	// Failed processing returns 500 so Stripe redelivers; a duplicate delivery
	// must retry rather than short-circuit as already handled.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("delivery %d status=%d, want=%d, body=%q", i+1, rec.Code, http.StatusInternalServerError, rec.Body.String())
		}
	}
}
