package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carepath/internal/types"
)

// recordTimeout bounds the delivery record write, which outlives the
// handler's own deadline once the provider has accepted the message.
const recordTimeout = 5 * time.Second

// WelcomeHandler sends the role-appropriate welcome notification once per
// subject.
type WelcomeHandler struct {
	profiles   ProfileReader
	careTeam   CareTeamStore
	deliveries WelcomeLedger
	notifier   WelcomeNotifier
	logger     types.Logger
	now        func() time.Time
}

// NewWelcomeHandler creates a WelcomeHandler.
func NewWelcomeHandler(profiles ProfileReader, careTeam CareTeamStore, deliveries WelcomeLedger, notifier WelcomeNotifier, logger types.Logger) *WelcomeHandler {
	return &WelcomeHandler{
		profiles:   profiles,
		careTeam:   careTeam,
		deliveries: deliveries,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// TaskType implements orchestrator.Handler.
func (h *WelcomeHandler) TaskType() types.TaskType { return types.TaskSendWelcomeNotification }

// Handle returns the recorded delivery if the subject was already welcomed.
// Otherwise it resolves the recipient, and for patients their care team,
// dispatches the notification and records the delivery.
func (h *WelcomeHandler) Handle(ctx context.Context, subjectID string, _ types.RegistrationTask) (*types.TaskResult, error) {
	prior, err := h.deliveries.GetWelcomeDelivery(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("check welcome delivery: %w", err)
	}
	if prior != nil {
		return welcomeResult(prior.Template, prior.ProviderMessageID, true), nil
	}

	profile, err := h.profiles.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve profile: %w", err)
	}
	if strings.TrimSpace(profile.Email) == "" {
		return nil, types.NewAppError(types.ErrCodePreconditionNoContact,
			"subject has no email address on file", nil)
	}

	n := types.WelcomeNotification{
		SubjectID:      subjectID,
		Template:       types.WelcomeTemplateProfessional,
		RecipientName:  profile.FullName,
		RecipientEmail: profile.Email,
		Role:           profile.Role,
	}

	if profile.Role.IsPatient() {
		n.Template = types.WelcomeTemplatePatient
		if err := h.resolveCareTeam(ctx, subjectID, &n); err != nil {
			return nil, err
		}
	}

	receipt, err := h.notifier.SendWelcomeNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("send welcome notification: %w", err)
	}
	if receipt == nil || !receipt.Delivered {
		return nil, types.NewAppError(types.ErrCodePreconditionNotDelivered,
			"welcome notification was not delivered", nil)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err = h.deliveries.RecordWelcomeDelivery(recordCtx, types.WelcomeDelivery{
		SubjectID:         subjectID,
		Template:          n.Template,
		ProviderMessageID: receipt.ProviderMessageID,
		SentAt:            h.now().UTC(),
	})
	if err != nil {
		// The message is out; failing here would only resend it. The
		// completed task result still carries the provider message ID.
		h.logger.Error("failed to record welcome delivery",
			"subject_id", subjectID,
			"provider_message_id", receipt.ProviderMessageID,
			"error", err,
		)
	}

	h.logger.Info("welcome notification sent",
		"subject_id", subjectID,
		"template", string(n.Template),
		"provider_message_id", receipt.ProviderMessageID,
	)
	return welcomeResult(n.Template, receipt.ProviderMessageID, false), nil
}

func welcomeResult(template types.WelcomeTemplate, messageID string, already bool) *types.TaskResult {
	return &types.TaskResult{
		TaskType: types.TaskSendWelcomeNotification,
		Welcome: &types.WelcomeResult{
			Template:          template,
			Delivered:         true,
			AlreadySent:       already,
			ProviderMessageID: messageID,
		},
	}
}

func (h *WelcomeHandler) resolveCareTeam(ctx context.Context, subjectID string, n *types.WelcomeNotification) error {
	assignment, err := h.careTeam.GetAssignment(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if assignment == nil {
		return types.NewAppError(types.ErrCodePreconditionNoAssignment,
			"patient has no care team assignment yet", nil)
	}

	doctor, err := h.profiles.GetProfile(ctx, assignment.DoctorID)
	if err != nil {
		return fmt.Errorf("resolve doctor profile: %w", err)
	}
	n.DoctorName = doctor.FullName

	if assignment.NutritionistID != nil {
		nutritionist, err := h.profiles.GetProfile(ctx, *assignment.NutritionistID)
		if err != nil {
			return fmt.Errorf("resolve nutritionist profile: %w", err)
		}
		n.NutritionistName = nutritionist.FullName
	}
	return nil
}
