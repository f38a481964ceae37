package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carepath/internal/core"
	"carepath/internal/external"
	"carepath/internal/types"
)

// maxWebhookBodySize caps Stripe payloads at 64 KB.
const maxWebhookBodySize = 64 * 1024

// paidStatuses are the checkout payment states that start onboarding.
var paidStatuses = map[string]bool{
	"paid":                true,
	"no_payment_required": true,
}

// TaskSeeder creates a subject's registration tasks if they do not exist yet.
type TaskSeeder interface {
	EnsureTasks(ctx context.Context, subjectID string, taskTypes []types.TaskType) (int, error)
}

// StripeWebhookHandler seeds onboarding tasks when a checkout completes and
// queues the subject for its first run. It is not behind any auth
// middleware; the Stripe signature authenticates the caller.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	seeder   TaskSeeder
	queue    Enqueuer
	logger   *slog.Logger
}

func NewStripeWebhookHandler(verifier external.WebhookVerifier, seeder TaskSeeder, queue Enqueuer, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		seeder:   seeder,
		queue:    queue,
		logger:   logger,
	}
}

// RegisterRoutes mounts POST /v1/webhooks/stripe.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies the event and acknowledges it. A bad signature is a 400 so
// Stripe surfaces it; every verified event gets a 200, including ones whose
// processing failed, which are logged for follow-up instead of redelivered.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookSignature, "missing Stripe-Signature header", nil))
		return
	}

	event, err := h.verifier.Verify(payload, sigHeader)
	if err != nil {
		h.logger.WarnContext(ctx, "stripe webhook rejected", "error", err)
		if types.IsCode(err, types.ErrCodeValidationWebhookSignature) {
			core.Error(w, r, err)
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookSignature, "webhook event could not be verified", err))
		return
	}

	log := h.logger.With("event_id", event.ID, "event_type", event.Type)
	if err := h.route(ctx, log, event); err != nil {
		log.ErrorContext(ctx, "stripe webhook processing failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) route(ctx context.Context, log *slog.Logger, event *external.PaymentEvent) error {
	if event.Type != external.EventCheckoutCompleted {
		log.DebugContext(ctx, "ignoring stripe event")
		return nil
	}
	if !paidStatuses[event.PaymentStatus] {
		log.InfoContext(ctx, "checkout completed without payment, not seeding", "payment_status", event.PaymentStatus)
		return nil
	}
	if _, err := uuid.Parse(event.SubjectID); err != nil {
		log.WarnContext(ctx, "checkout session carries no usable subject id",
			"session_id", event.SessionID,
			"subject_id", event.SubjectID,
		)
		return nil
	}

	created, err := h.seeder.EnsureTasks(ctx, event.SubjectID, types.AllTaskTypes)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "registration tasks seeded", "subject_id", event.SubjectID, "created", created)

	return h.queue.Enqueue(ctx, event.SubjectID, types.TriggerSourcePayment)
}
