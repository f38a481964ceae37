package email

import (
	"context"

	"carepath/internal/external"
	"carepath/internal/types"
)

// WelcomeSender renders and sends welcome emails. It implements the welcome
// task's notifier.
type WelcomeSender struct {
	provider external.EmailProvider
	renderer *Renderer
	from     external.SenderIdentity
	logger   types.Logger
}

// WelcomeSenderConfig holds WelcomeSender dependencies.
type WelcomeSenderConfig struct {
	Provider external.EmailProvider
	Renderer *Renderer
	From     external.SenderIdentity
	Logger   types.Logger
}

func NewWelcomeSender(cfg WelcomeSenderConfig) *WelcomeSender {
	return &WelcomeSender{
		provider: cfg.Provider,
		renderer: cfg.Renderer,
		from:     cfg.From,
		logger:   cfg.Logger,
	}
}

// SendWelcomeNotification renders n and sends it. A suppressed recipient is
// reported as not delivered rather than as an error; every other provider
// failure is returned.
func (s *WelcomeSender) SendWelcomeNotification(ctx context.Context, n types.WelcomeNotification) (*types.DeliveryReceipt, error) {
	rendered, err := s.renderer.Render(n)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "render welcome email", err)
	}

	msgID, err := s.provider.Send(ctx, external.SendInput{
		To:       n.RecipientEmail,
		From:     s.from,
		Subject:  rendered.Subject,
		BodyHTML: rendered.BodyHTML,
		BodyText: rendered.BodyText,
		Tags: map[string]string{
			"template":   string(n.Template),
			"subject_id": n.SubjectID,
		},
	})
	if err != nil {
		if IsBlocklistError(err) {
			s.logger.Warn("welcome email recipient blocked",
				"dest", RedactEmail(n.RecipientEmail),
				"subject_id", n.SubjectID,
			)
			return &types.DeliveryReceipt{Delivered: false}, nil
		}
		return nil, err
	}

	s.logger.Info("welcome email sent",
		"dest", RedactEmail(n.RecipientEmail),
		"template", string(n.Template),
		"provider_message_id", msgID,
	)
	return &types.DeliveryReceipt{Delivered: true, ProviderMessageID: msgID}, nil
}
