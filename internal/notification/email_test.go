package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender(t *testing.T) {
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "care@example.com"}, nil)

	id, err := sender.Send(context.Background(), EmailMessage{
		To:      "pat@example.com",
		Subject: "Appointment Scheduled",
		Body:    "plain",
		HTML:    "<p>plain</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	assert.Equal(t, "Healthcare Scheduling <care@example.com>", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"pat@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "plain", aws.ToString(api.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>plain</p>", aws.ToString(api.input.Content.Simple.Body.Html.Data))

	api.err = errors.New("throttled")
	_, err = sender.Send(context.Background(), EmailMessage{To: "pat@example.com"})
	assert.ErrorContains(t, err, "throttled")
}

func TestNewSendGridSender_RequiresKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}, nil))
	assert.NotNil(t, NewSendGridSender(SendGridConfig{APIKey: "SG.x", FromEmail: "a@example.com"}, nil))
}

func TestStubEmailSender(t *testing.T) {
	id, err := NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "x@example.com"})
	assert.NoError(t, err)
	assert.Empty(t, id)
}
