package stripe

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/chatmockup/entitlementd/internal/entmetrics"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
)

const sessionRequestBodyLimit = 64 * 1024

// Ad-hoc price used when no STRIPE_PRICE_ID is configured.
const fallbackUnitAmountCents = 699

// SessionConfig carries the settings the checkout/portal endpoints need.
type SessionConfig struct {
	BaseURL     string // app origin for success/cancel/return redirects
	PriceID     string // optional; empty means inline ad-hoc monthly price
	ProductName string
}

// SessionHandlers serves the user-facing checkout and billing portal
// endpoints. Both are thin pass-throughs to Stripe: the webhook reconciler
// owns all entitlement state.
type SessionHandlers struct {
	cfg   SessionConfig
	users IdentityAPI

	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewSessionHandlers creates handlers backed by the real Stripe API.
func NewSessionHandlers(cfg SessionConfig, users IdentityAPI) *SessionHandlers {
	return &SessionHandlers{
		cfg:                   cfg,
		users:                 users,
		createCheckoutSession: checkoutsession.New,
		createPortalSession:   portalsession.New,
	}
}

type checkoutRequest struct {
	ClerkUserID string `json:"clerkUserId"`
	Email       string `json:"email"`
}

type portalRequest struct {
	ClerkUserID string `json:"clerkUserId"`
}

type sessionURLResponse struct {
	URL string `json:"url"`
}

// HandleCreateCheckoutSession creates a subscription checkout session for a
// user. A user with a linked customer reuses it; otherwise Stripe creates a
// customer from the email and the checkout.session.completed handler
// completes the linkage asynchronously.
func (h *SessionHandlers) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, sessionRequestBodyLimit)

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid request body"})
		return
	}
	userID := strings.TrimSpace(req.ClerkUserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing clerkUserId"})
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		entmetrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("user_id", userID).Msg("Checkout session: user lookup failed")
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "unable to look up user"})
		return
	}
	customerID := strings.TrimSpace(user.PublicMetadata.StripeCustomerID)

	params := &stripelib.CheckoutSessionParams{
		Mode:              stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:        stripelib.String(buildAppURL(h.cfg.BaseURL, "/", url.Values{"success": {"true"}})),
		CancelURL:         stripelib.String(buildAppURL(h.cfg.BaseURL, "/pricing", url.Values{"canceled": {"true"}})),
		ClientReferenceID: stripelib.String(userID),
		LineItems:         []*stripelib.CheckoutSessionLineItemParams{h.lineItem()},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metadataUserIDKey: userID},
		},
	}
	params.Context = r.Context()

	// Stripe requires a stable customer per user. Creating a second customer
	// would break the one-customer-per-user linkage, so reuse when known.
	if customerID != "" {
		params.Customer = stripelib.String(customerID)
	} else if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripelib.String(email)
	}

	session, err := h.createCheckoutSession(params)
	if err != nil {
		entmetrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("user_id", userID).Msg("Checkout session creation failed")
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "unable to create checkout session"})
		return
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		entmetrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "stripe returned empty checkout URL"})
		return
	}

	entmetrics.CheckoutSessionsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, sessionURLResponse{URL: strings.TrimSpace(session.URL)})
}

// HandleCreatePortalSession creates a billing portal session for a user with
// a linked Stripe customer.
func (h *SessionHandlers) HandleCreatePortalSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, sessionRequestBodyLimit)

	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid request body"})
		return
	}
	userID := strings.TrimSpace(req.ClerkUserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing clerkUserId"})
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Portal session: user lookup failed")
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "unable to look up user"})
		return
	}
	customerID := strings.TrimSpace(user.PublicMetadata.StripeCustomerID)
	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "no billing customer linked to this user"})
		return
	}

	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(buildAppURL(h.cfg.BaseURL, "/pricing", nil)),
	}
	params.Context = r.Context()

	session, err := h.createPortalSession(params)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("customer_id", customerID).Msg("Portal session creation failed")
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "unable to create portal session"})
		return
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		writeJSON(w, http.StatusBadGateway, webhookErrorResponse{Error: "stripe returned empty portal URL"})
		return
	}

	writeJSON(w, http.StatusOK, sessionURLResponse{URL: strings.TrimSpace(session.URL)})
}

func (h *SessionHandlers) lineItem() *stripelib.CheckoutSessionLineItemParams {
	if priceID := strings.TrimSpace(h.cfg.PriceID); priceID != "" {
		return &stripelib.CheckoutSessionLineItemParams{
			Price:    stripelib.String(priceID),
			Quantity: stripelib.Int64(1),
		}
	}
	return &stripelib.CheckoutSessionLineItemParams{
		PriceData: &stripelib.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripelib.String(string(stripelib.CurrencyUSD)),
			UnitAmount: stripelib.Int64(fallbackUnitAmountCents),
			ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripelib.String(h.cfg.ProductName),
			},
			Recurring: &stripelib.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripelib.String(string(stripelib.PriceRecurringIntervalMonth)),
			},
		},
		Quantity: stripelib.Int64(1),
	}
}

func buildAppURL(baseURL, path string, query url.Values) string {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return ""
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	if len(query) > 0 {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
