package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"letterdesk/pkg/circuitbreaker"
)

type recorder struct {
	sent []Message
	err  error
}

func (r *recorder) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestRenderTopic(t *testing.T) {
	msg, err := Render(Message{
		Channel: ChannelSMS,
		Topic:   TopicMailNudge,
		Data:    map[string]string{"bureau": "Equifax", "round": "R1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Did your dispute letter go out?", msg.Subject)
	assert.Contains(t, msg.Body, "Equifax dispute letter (R1)")

	msg, err = Render(Message{Topic: TopicPasswordReset, Data: map[string]string{"code": "123456", "minutes": "15"}})
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "123456")
	assert.Contains(t, msg.Body, "15 minutes")

	_, err = Render(Message{Topic: "unknown"})
	assert.Error(t, err)

	kept, err := Render(Message{Topic: "unknown", Body: "as is"})
	require.NoError(t, err)
	assert.Equal(t, "as is", kept.Body)
}

func TestRouterDispatchesByChannel(t *testing.T) {
	email, sms := &recorder{}, &recorder{}
	r := NewRouter(zap.NewNop()).
		Handle(ChannelEmail, email, circuitbreaker.DefaultConfig()).
		Handle(ChannelSMS, sms, circuitbreaker.DefaultConfig())

	ctx := context.Background()
	require.NoError(t, r.Send(ctx, Message{Channel: ChannelSMS, To: "+15550100", Topic: TopicStatusCheck, Data: map[string]string{"bureau": "Experian"}}))
	require.NoError(t, r.Send(ctx, Message{Channel: ChannelEmail, To: "a@x.com", Subject: "hi", Body: "there"}))

	require.Len(t, sms.sent, 1)
	assert.Contains(t, sms.sent[0].Body, "Experian")
	require.Len(t, email.sent, 1)
	assert.Equal(t, "there", email.sent[0].Body)

	err := r.Send(ctx, Message{Channel: "pigeon", Body: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestRouterBreakerOpensAfterFailures(t *testing.T) {
	failing := &recorder{err: errors.New("provider down")}
	r := NewRouter(zap.NewNop()).Handle(ChannelEmail, failing, circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		HalfOpenMaxRequests: 1,
	})
	ctx := context.Background()
	msg := Message{Channel: ChannelEmail, To: "a@x.com", Body: "x"}

	assert.Error(t, r.Send(ctx, msg))
	assert.Error(t, r.Send(ctx, msg))
	assert.ErrorIs(t, r.Send(ctx, msg), circuitbreaker.ErrCircuitBreakerOpen)
	assert.Len(t, failing.sent, 2)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESNotifierBuildsSimpleMessage(t *testing.T) {
	api := &fakeSES{}
	n := NewSESNotifierWithClient(api, "no-reply@letterdesk.app", zap.NewNop())

	err := n.Send(context.Background(), Message{
		Channel: ChannelEmail,
		To:      "a@x.com",
		Subject: "Subject",
		Body:    "Body",
		Topic:   TopicMailNudge,
	})
	require.NoError(t, err)
	require.NotNil(t, api.input)
	assert.Equal(t, "no-reply@letterdesk.app", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"a@x.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Body", aws.ToString(api.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "topic", aws.ToString(api.input.EmailTags[0].Name))

	err = n.Send(context.Background(), Message{Channel: ChannelSMS, To: "+1"})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}
