package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatmockup/entitlementd/internal/clerk"
	"github.com/chatmockup/entitlementd/internal/logging"
	"github.com/chatmockup/entitlementd/internal/stripe"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
)

// Run starts the entitlement service HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "entitlementd",
	})

	log.Info().Str("version", version).Msg("Starting entitlement service")

	// The session/customer helpers go through stripe-go's default client.
	stripelib.Key = cfg.StripeSecretKey

	users := clerk.NewClient(cfg.ClerkSecretKey)
	reconciler := stripe.NewReconciler(users)

	clerkWebhook, err := clerk.NewWebhookHandler(cfg.ClerkWebhookSecret, reconciler)
	if err != nil {
		return fmt.Errorf("init clerk webhook handler: %w", err)
	}
	stripeWebhook := stripe.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler)
	sessions := stripe.NewSessionHandlers(stripe.SessionConfig{
		BaseURL:     cfg.AppBaseURL,
		PriceID:     cfg.StripePriceID,
		ProductName: cfg.ProductName,
	}, users)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:        cfg,
		ClerkWebhook:  clerkWebhook,
		StripeWebhook: stripeWebhook,
		Sessions:      sessions,
		Version:       version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		log.Info().Str("addr", addr).Msg("Entitlement service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Entitlement service stopped")
	return nil
}
