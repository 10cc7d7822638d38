package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatmockup/entitlementd/internal/clerk"
	"github.com/chatmockup/entitlementd/internal/entmetrics"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
)

// metadataUserIDKey is the Stripe-side metadata key carrying the Clerk user id
// on customers, subscriptions, and checkout sessions.
const metadataUserIDKey = "clerkUserId"

// IdentityAPI is the slice of the Clerk backend API the reconciler needs.
// *clerk.Client implements it; tests substitute fakes.
type IdentityAPI interface {
	GetUser(ctx context.Context, userID string) (*clerk.User, error)
	MergeUserMetadata(ctx context.Context, userID string, meta clerk.PublicMetadata) error
}

// Reconciler derives the plan entitlement from observed Stripe state and
// writes it back onto the Clerk user record. All durable state lives in the
// two providers; every handler is safe to re-run on a duplicate delivery.
type Reconciler struct {
	users IdentityAPI

	newCustomer    func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	getCustomer    func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error)
	updateCustomer func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error)
}

// NewReconciler creates a Reconciler backed by the real Stripe customer API.
func NewReconciler(users IdentityAPI) *Reconciler {
	return &Reconciler{
		users:          users,
		newCustomer:    customer.New,
		getCustomer:    customer.Get,
		updateCustomer: customer.Update,
	}
}

// HandleUserCreated provisions a Stripe customer for a new Clerk user and
// links the two records in both directions. The customer is tagged first so a
// failed metadata patch can be repaired later from the Stripe side.
func (r *Reconciler) HandleUserCreated(ctx context.Context, user clerk.User) error {
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return fmt.Errorf("user.created event missing user id")
	}

	// Deliveries are at-least-once; a retry must not mint a second customer.
	current, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", userID, err)
	}
	if existing := strings.TrimSpace(current.PublicMetadata.StripeCustomerID); existing != "" {
		log.Info().
			Str("user_id", userID).
			Str("customer_id", existing).
			Msg("User already linked to a Stripe customer, skipping provisioning")
		return nil
	}

	params := &stripelib.CustomerParams{}
	params.Context = ctx
	if email := user.PrimaryEmail(); email != "" {
		params.Email = stripelib.String(email)
	}
	params.AddMetadata(metadataUserIDKey, userID)

	cust, err := r.newCustomer(params)
	if err != nil {
		return fmt.Errorf("create stripe customer for user %s: %w", userID, err)
	}

	if err := r.users.MergeUserMetadata(ctx, userID, clerk.PublicMetadata{StripeCustomerID: cust.ID}); err != nil {
		// The customer exists and carries the user id in its metadata, so the
		// checkout and subscription handlers can still recover the linkage.
		return fmt.Errorf("link user %s to customer %s: %w", userID, cust.ID, err)
	}

	log.Info().
		Str("user_id", userID).
		Str("customer_id", cust.ID).
		Msg("Stripe customer created for new user")
	return nil
}

// userIDLookup is one strategy for recovering the Clerk user a billing event
// belongs to. Strategies run in order; the first non-empty result wins.
type userIDLookup struct {
	source string
	find   func(ctx context.Context) (string, error)
}

func staticLookup(value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return strings.TrimSpace(value), nil
	}
}

func (r *Reconciler) customerMetadataLookup(customerID string) userIDLookup {
	return userIDLookup{
		source: "customer_metadata",
		find: func(ctx context.Context) (string, error) {
			if customerID == "" {
				return "", nil
			}
			params := &stripelib.CustomerParams{}
			params.Context = ctx
			cust, err := r.getCustomer(customerID, params)
			if err != nil {
				return "", fmt.Errorf("fetch customer %s: %w", customerID, err)
			}
			return strings.TrimSpace(cust.Metadata[metadataUserIDKey]), nil
		},
	}
}

// resolveUserID runs the ordered lookup strategies. An empty user id with a
// nil error means the event is unlinkable; lookup errors are upstream
// failures and must surface as retryable.
func (r *Reconciler) resolveUserID(ctx context.Context, lookups []userIDLookup) (userID, source string, err error) {
	for _, lookup := range lookups {
		id, err := lookup.find(ctx)
		if err != nil {
			return "", "", err
		}
		if id != "" {
			return id, lookup.source, nil
		}
	}
	return "", "", nil
}

// HandleCheckoutCompleted promotes the user to pro as soon as checkout
// completes, without waiting for the subscription webhook that follows. The
// subscription events are authoritative and correct the plan if payment later
// falls through.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	customerID := strings.TrimSpace(session.Customer)
	if customerID == "" {
		// Retrying cannot make a customer id appear on the session; treat it
		// like any other unlinkable event and acknowledge.
		entmetrics.LinkageFailuresTotal.WithLabelValues("checkout.session.completed").Inc()
		log.Warn().
			Str("session_id", session.ID).
			Msg("checkout.session.completed: no customer on session, acknowledging without changes")
		return nil
	}
	if !IsSafeStripeID(customerID) {
		return fmt.Errorf("invalid stripe customer id: %s", customerID)
	}

	userID, source, err := r.resolveUserID(ctx, []userIDLookup{
		{source: "client_reference_id", find: staticLookup(session.ClientReferenceID)},
		{source: "session_metadata", find: staticLookup(session.Metadata[metadataUserIDKey])},
		r.customerMetadataLookup(customerID),
	})
	if err != nil {
		return err
	}
	if userID == "" {
		entmetrics.LinkageFailuresTotal.WithLabelValues("checkout.session.completed").Inc()
		log.Warn().
			Str("session_id", session.ID).
			Str("customer_id", customerID).
			Msg("checkout.session.completed: no user reference found, acknowledging without changes")
		return nil
	}

	// Backfill the customer-side linkage unless we just read it from there.
	// Best effort: the user-side write below is what gates access.
	if source != "customer_metadata" {
		params := &stripelib.CustomerParams{}
		params.Context = ctx
		params.AddMetadata(metadataUserIDKey, userID)
		if _, err := r.updateCustomer(customerID, params); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID).
				Str("customer_id", customerID).
				Msg("Failed to backfill customer metadata")
		}
	}

	if err := r.writeEntitlement(ctx, userID, PlanPro, customerID); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Str("customer_id", customerID).
		Str("session_id", session.ID).
		Msg("Checkout completed, pro access provisioned")
	return nil
}

// HandleSubscriptionUpdated syncs the plan when a subscription changes.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, sub Subscription) error {
	return r.syncSubscription(ctx, "customer.subscription.updated", sub)
}

// HandleSubscriptionDeleted revokes pro access on cancellation.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, sub Subscription) error {
	return r.syncSubscription(ctx, "customer.subscription.deleted", sub)
}

func (r *Reconciler) syncSubscription(ctx context.Context, eventType string, sub Subscription) error {
	customerID := strings.TrimSpace(sub.Customer)
	if customerID == "" {
		entmetrics.LinkageFailuresTotal.WithLabelValues(eventType).Inc()
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("type", eventType).
			Msg("Subscription event has no customer, acknowledging without changes")
		return nil
	}
	if !IsSafeStripeID(customerID) {
		return fmt.Errorf("invalid stripe customer id: %s", customerID)
	}

	userID, _, err := r.resolveUserID(ctx, []userIDLookup{
		{source: "subscription_metadata", find: staticLookup(sub.Metadata[metadataUserIDKey])},
		r.customerMetadataLookup(customerID),
	})
	if err != nil {
		return err
	}
	if userID == "" {
		entmetrics.LinkageFailuresTotal.WithLabelValues(eventType).Inc()
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("customer_id", customerID).
			Str("type", eventType).
			Msg("Subscription event has no user reference, acknowledging without changes")
		return nil
	}

	plan := PlanForSubscriptionStatus(sub.Status)
	if err := r.writeEntitlement(ctx, userID, plan, customerID); err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Str("customer_id", customerID).
		Str("status", sub.Status).
		Str("plan", string(plan)).
		Msg("Subscription state synced")
	return nil
}

// writeEntitlement patches only the plan and customer linkage fields on the
// user's public metadata. Applying the same patch twice converges to the same
// state, so duplicate deliveries are harmless.
func (r *Reconciler) writeEntitlement(ctx context.Context, userID string, plan Plan, customerID string) error {
	err := r.users.MergeUserMetadata(ctx, userID, clerk.PublicMetadata{
		Plan:             string(plan),
		StripeCustomerID: customerID,
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	entmetrics.EntitlementWritesTotal.WithLabelValues(string(plan), outcome).Inc()

	if err != nil {
		return fmt.Errorf("write entitlement for user %s: %w", userID, err)
	}
	return nil
}

// RepairResult reports what a manual reconciliation pass found and did.
type RepairResult struct {
	UserID         string
	CustomerID     string
	Before         clerk.PublicMetadata
	SubscriptionID string
	Status         string
	Plan           Plan
	Applied        bool
}

// Repair re-derives one user's plan from authoritative Stripe subscription
// state and writes it back. Downgrades to free are only applied when
// applyFree is set; by default the pass reports but does not revoke.
func (r *Reconciler) Repair(ctx context.Context, userID string, applyFree bool) (*RepairResult, error) {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", userID, err)
	}

	customerID := strings.TrimSpace(user.PublicMetadata.StripeCustomerID)
	if customerID == "" {
		return nil, fmt.Errorf("user %s has no linked stripe customer", userID)
	}

	params := &stripelib.CustomerParams{}
	params.Context = ctx
	params.AddExpand("subscriptions")
	cust, err := r.getCustomer(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("fetch customer %s: %w", customerID, err)
	}

	result := &RepairResult{
		UserID:     userID,
		CustomerID: customerID,
		Before:     user.PublicMetadata,
		Plan:       PlanFree,
	}
	if cust.Subscriptions != nil {
		for _, sub := range cust.Subscriptions.Data {
			status := string(sub.Status)
			if result.SubscriptionID == "" {
				result.SubscriptionID = sub.ID
				result.Status = status
			}
			if PlanForSubscriptionStatus(status) == PlanPro {
				result.SubscriptionID = sub.ID
				result.Status = status
				result.Plan = PlanPro
				break
			}
		}
	}

	if result.Plan == PlanFree && !applyFree {
		return result, nil
	}
	if err := r.writeEntitlement(ctx, userID, result.Plan, customerID); err != nil {
		return nil, err
	}
	result.Applied = true
	return result, nil
}
