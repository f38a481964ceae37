package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"carepath/internal/types"
)

type mockSESAPI struct {
	sendEmailFunc func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

func (m *mockSESAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return m.sendEmailFunc(ctx, params, optFns...)
}

func TestSESSend_Success(t *testing.T) {
	var captured *sesv2.SendEmailInput
	api := &mockSESAPI{sendEmailFunc: func(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		captured = params
		return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
	}}
	client := NewSESClientWithAPI(api, SESClientConfig{ConfigSetName: "onboarding"})

	id, err := client.Send(context.Background(), SendInput{
		To:       "ana@example.com",
		From:     SenderIdentity{Name: "CarePath", Address: "hello@carepath.example"},
		Subject:  "Welcome",
		BodyHTML: "<p>Hi</p>",
		BodyText: "Hi",
		Tags:     map[string]string{"template": "welcome_patient"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ses-1" {
		t.Errorf("message id = %q", id)
	}
	if got := aws.ToString(captured.FromEmailAddress); got != "CarePath <hello@carepath.example>" {
		t.Errorf("from = %q", got)
	}
	if got := aws.ToString(captured.ConfigurationSetName); got != "onboarding" {
		t.Errorf("configuration set = %q", got)
	}
	if captured.Content.Simple.Body.Html == nil || captured.Content.Simple.Body.Text == nil {
		t.Error("expected both html and text bodies")
	}
	if len(captured.EmailTags) != 1 || aws.ToString(captured.EmailTags[0].Value) != "welcome_patient" {
		t.Errorf("tags = %+v", captured.EmailTags)
	}
}

func TestSESSend_BareAddressAndTextOnly(t *testing.T) {
	var captured *sesv2.SendEmailInput
	api := &mockSESAPI{sendEmailFunc: func(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		captured = params
		return &sesv2.SendEmailOutput{}, nil
	}}
	client := NewSESClientWithAPI(api, SESClientConfig{})

	if _, err := client.Send(context.Background(), SendInput{
		To: "a@example.com", From: SenderIdentity{Address: "noreply@example.com"}, Subject: "s", BodyText: "t",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(captured.FromEmailAddress); got != "noreply@example.com" {
		t.Errorf("from = %q", got)
	}
	if captured.Content.Simple.Body.Html != nil {
		t.Error("html body should be omitted")
	}
	if captured.ConfigurationSetName != nil {
		t.Error("configuration set should be omitted")
	}
}

func TestSESSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"rejected", &sestypes.MessageRejected{Message: aws.String("blocked")}, types.ErrCodeEmailBlocked},
		{"throttled", &sestypes.TooManyRequestsException{Message: aws.String("slow down")}, types.ErrCodeUpstreamRateLimited},
		{"paused", &sestypes.SendingPausedException{Message: aws.String("paused")}, types.ErrCodeUpstreamUnavailable},
		{"other", errors.New("network unreachable"), types.ErrCodeUpstreamEmailProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockSESAPI{sendEmailFunc: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
				return nil, tt.err
			}}
			_, err := NewSESClientWithAPI(api, SESClientConfig{}).Send(context.Background(), SendInput{To: "a@example.com"})
			if got := types.CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("mapped error should wrap the SES error")
			}
		})
	}
}
