// Package main is the Lambda entry point that consumes the onboarding queue.
// Each SQS message names one subject; the worker runs the trigger surface for
// it and reports failed messages back to SQS for redelivery.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"carepath/internal/app"
	"carepath/internal/queue"
	"carepath/internal/telemetry"
	"carepath/internal/types"
)

// Processor runs the trigger surface.
type Processor interface {
	Process(ctx context.Context, req types.TriggerRequest) (*types.RunSummary, error)
}

// Handler processes SQS batches.
type Handler struct {
	processor Processor
	logger    types.Logger
}

// Handle runs every record independently. Records whose run could not be
// carried out are returned as batch item failures; malformed records and
// invalid subjects are acknowledged because redelivery cannot fix them.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	resp := events.SQSEventResponse{}
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("onboarding message failed, returning to queue",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeOnboardingMessage(record.Body)
	if err != nil {
		h.logger.Error("dropping malformed onboarding message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}

	log := h.logger.With(
		"message_id", record.MessageId,
		"subject_id", msg.SubjectID,
		"source", string(msg.Source),
		"trace_id", msg.TraceID,
	)

	summary, err := h.processor.Process(ctx, types.TriggerRequest{SubjectID: msg.SubjectID, Source: msg.Source})
	if err != nil {
		if types.CodeOf(err).HTTPStatus() < 500 {
			log.Warn("onboarding message rejected", "error", err.Error())
			return nil
		}
		return err
	}

	if summary.Skipped != "" {
		log.Info("subject run skipped", "reason", string(summary.Skipped))
		return nil
	}
	log.Info("subject run finished",
		"processed", summary.ProcessedTasks,
		"succeeded", summary.SuccessfulTasks,
		"failed", summary.FailedTasks,
		"converged", summary.Converged,
	)
	return nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, "onboarding-worker")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	h := &Handler{processor: a.Service, logger: telemetry.NewSlogAdapter(logger)}
	lambda.Start(h.Handle)
}
