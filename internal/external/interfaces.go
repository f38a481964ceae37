package external

import "context"

// SenderIdentity is the From line of an outgoing email.
type SenderIdentity struct {
	Name    string
	Address string
}

// SendInput is a fully rendered email.
type SendInput struct {
	To       string
	From     SenderIdentity
	Subject  string
	BodyHTML string
	BodyText string
	// Tags are attached to the message for delivery tracking.
	Tags map[string]string
}

// EmailProvider transmits pre-rendered email and returns the provider's
// message ID.
type EmailProvider interface {
	Send(ctx context.Context, input SendInput) (string, error)
}

// WebhookVerifier authenticates an inbound payment webhook.
type WebhookVerifier interface {
	Verify(payload []byte, header string) (*PaymentEvent, error)
}
