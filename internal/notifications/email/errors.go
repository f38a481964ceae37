// Package email renders and sends the onboarding welcome email.
package email

import (
	"errors"

	"carepath/internal/types"
)

// ErrRecipientBlocked indicates the provider suppressed the recipient.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the recipient is on the
// provider's suppression list. Retrying such a send cannot succeed.
func IsBlocklistError(err error) bool {
	return errors.Is(err, ErrRecipientBlocked) || types.IsCode(err, types.ErrCodeEmailBlocked)
}
