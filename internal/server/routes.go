package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/chatmockup/entitlementd/internal/stripe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config        *Config
	ClerkWebhook  http.Handler
	StripeWebhook http.Handler
	Sessions      *stripe.SessionHandlers
	Version       string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz)

	// Metrics are private by default.
	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", AdminKeyMiddleware(deps.Config.AdminKey, metricsHandler))
	}

	// Webhooks (signature-authenticated). These handlers read the raw body
	// themselves; nothing in front of them may consume or reparse it.
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/webhooks/clerk", webhookLimiter.Middleware(deps.ClerkWebhook))
	mux.Handle("/api/webhooks/stripe", webhookLimiter.Middleware(deps.StripeWebhook))

	// User-facing session endpoints, called from the browser app.
	origin := appOrigin(deps.Config.AppBaseURL)
	mux.Handle("/api/create-checkout-session",
		CORSMiddleware(origin, http.HandlerFunc(deps.Sessions.HandleCreateCheckoutSession)))
	mux.Handle("/api/create-portal-session",
		CORSMiddleware(origin, http.HandlerFunc(deps.Sessions.HandleCreatePortalSession)))
}

// appOrigin reduces the app base URL to its origin (scheme://host) for CORS.
func appOrigin(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}
