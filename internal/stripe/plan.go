package stripe

import "strings"

// Plan is the entitlement tier cached on the Clerk user record.
type Plan string

const (
	PlanPro  Plan = "pro"
	PlanFree Plan = "free"
)

// PlanForSubscriptionStatus maps a Stripe subscription status to the plan it
// grants. Unknown statuses fail closed: ambiguous billing state never grants
// paid access.
func PlanForSubscriptionStatus(status string) Plan {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return PlanPro
	default:
		// past_due, canceled, unpaid, incomplete, incomplete_expired, paused,
		// and anything Stripe introduces later.
		return PlanFree
	}
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key before it is sent back to the Stripe API.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
