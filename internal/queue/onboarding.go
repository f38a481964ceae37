// Package queue publishes onboarding trigger messages to SQS and decodes
// them on the worker side.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"carepath/internal/types"
)

// maxBatchEntries is the SQS SendMessageBatch limit.
const maxBatchEntries = 10

// SQSSender is the subset of the SQS client the publisher needs.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// OnboardingPublisher enqueues subjects for an orchestration run.
type OnboardingPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	now      func() time.Time
}

func NewOnboardingPublisher(client SQSSender, queueURL string, logger *slog.Logger) *OnboardingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnboardingPublisher{client: client, queueURL: queueURL, logger: logger, now: time.Now}
}

// Enqueue sends one trigger message for subjectID.
func (p *OnboardingPublisher) Enqueue(ctx context.Context, subjectID string, source types.TriggerSource) error {
	body, err := p.encode(subjectID, source)
	if err != nil {
		return err
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: sourceAttribute(source),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("enqueue subject %s", subjectID), err)
	}
	p.logger.InfoContext(ctx, "onboarding message sent", "subject_id", subjectID, "source", string(source))
	return nil
}

// EnqueueBatch sends one message per subject in SQS batches of ten. It
// returns the subjects that could not be enqueued; the error is non-nil only
// if a whole batch call failed.
func (p *OnboardingPublisher) EnqueueBatch(ctx context.Context, subjectIDs []string, source types.TriggerSource) ([]string, error) {
	var failed []string
	for start := 0; start < len(subjectIDs); start += maxBatchEntries {
		chunk := subjectIDs[start:min(start+maxBatchEntries, len(subjectIDs))]

		entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(chunk))
		for i, id := range chunk {
			body, err := p.encode(id, source)
			if err != nil {
				return append(failed, subjectIDs[start:]...), err
			}
			entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i)),
				MessageBody:       aws.String(body),
				MessageAttributes: sourceAttribute(source),
			})
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			failed = append(failed, subjectIDs[start:]...)
			return failed, types.NewAppError(types.ErrCodeUpstreamQueue, "send onboarding batch", err)
		}
		for _, f := range out.Failed {
			i, convErr := strconv.Atoi(aws.ToString(f.Id))
			if convErr != nil || i < 0 || i >= len(chunk) {
				continue
			}
			failed = append(failed, chunk[i])
			p.logger.WarnContext(ctx, "onboarding message rejected",
				"subject_id", chunk[i],
				"code", aws.ToString(f.Code),
				"sender_fault", f.SenderFault,
			)
		}
	}
	return failed, nil
}

func (p *OnboardingPublisher) encode(subjectID string, source types.TriggerSource) (string, error) {
	body, err := json.Marshal(types.OnboardingMessage{
		SubjectID:  subjectID,
		Source:     source,
		EnqueuedAt: p.now().UTC(),
		TraceID:    uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("queue: marshal onboarding message: %w", err)
	}
	return string(body), nil
}

func sourceAttribute(source types.TriggerSource) map[string]sqstypes.MessageAttributeValue {
	return map[string]sqstypes.MessageAttributeValue{
		"source": {DataType: aws.String("String"), StringValue: aws.String(string(source))},
	}
}

// DecodeOnboardingMessage parses a message body produced by the publisher.
func DecodeOnboardingMessage(body string) (types.OnboardingMessage, error) {
	var msg types.OnboardingMessage
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&msg); err != nil {
		return msg, types.NewAppError(types.ErrCodeValidationInvalidJSON, "decode onboarding message", err)
	}
	if strings.TrimSpace(msg.SubjectID) == "" {
		return msg, types.NewAppError(types.ErrCodeValidationMissingField, "onboarding message has no subject_id", nil)
	}
	return msg, nil
}
