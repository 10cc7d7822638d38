package clerk

import "strings"

// EmailAddress is one entry of a Clerk user's email_addresses array.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// PublicMetadata is the slice of Clerk public metadata this service owns.
// The Clerk metadata endpoint merge-patches server-side, so omitted fields
// leave any other metadata keys untouched.
type PublicMetadata struct {
	Plan             string `json:"plan,omitempty"`
	StripeCustomerID string `json:"stripeCustomerId,omitempty"`
}

// User is a minimal representation of a Clerk user record. The same shape
// arrives as the data payload of user.* webhook events.
type User struct {
	ID                    string         `json:"id"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PublicMetadata        PublicMetadata `json:"public_metadata"`
}

// PrimaryEmail returns the user's primary email address, falling back to the
// first listed address when the primary pointer is missing or dangling.
func (u *User) PrimaryEmail() string {
	if id := strings.TrimSpace(u.PrimaryEmailAddressID); id != "" {
		for _, addr := range u.EmailAddresses {
			if addr.ID == id {
				return strings.TrimSpace(addr.EmailAddress)
			}
		}
	}
	if len(u.EmailAddresses) > 0 {
		return strings.TrimSpace(u.EmailAddresses[0].EmailAddress)
	}
	return ""
}
