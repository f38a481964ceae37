package external

import (
	"encoding/json"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"carepath/internal/types"
)

// EventCheckoutCompleted is the Stripe event that seeds onboarding tasks.
const EventCheckoutCompleted = "checkout.session.completed"

// subjectMetadataKey is the checkout session metadata key carrying the
// subject's profile ID.
const subjectMetadataKey = "subject_id"

// PaymentEvent is the part of a verified Stripe event the webhook acts on.
type PaymentEvent struct {
	ID        string
	Type      string
	SessionID string
	// SubjectID is empty when the event is not a completed checkout or the
	// session carries no subject.
	SubjectID     string
	PaymentStatus string
}

// StripeVerifier verifies webhook signatures and decodes the event.
type StripeVerifier struct {
	secret types.SecretString
}

func NewStripeVerifier(secret types.SecretString) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify checks the Stripe-Signature header, including timestamp tolerance,
// and extracts the subject from completed checkout sessions. A signature
// failure is reported as validation_invalid_webhook_signature.
func (v *StripeVerifier) Verify(payload []byte, header string) (*PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret.Unmask(),
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationWebhookSignature, "invalid Stripe signature", err)
	}

	out := &PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutCompleted || event.Data == nil {
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "decode checkout session", err)
	}
	out.SessionID = session.ID
	out.PaymentStatus = string(session.PaymentStatus)
	out.SubjectID = strings.TrimSpace(session.Metadata[subjectMetadataKey])
	if out.SubjectID == "" {
		out.SubjectID = strings.TrimSpace(session.ClientReferenceID)
	}
	return out, nil
}

var _ WebhookVerifier = (*StripeVerifier)(nil)
