// Package notify delivers reminder and account messages over email or SMS.
package notify

import (
	"context"
	"errors"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const (
	TopicMailNudge      = "mail_nudge"
	TopicStatusCheck    = "status_check"
	TopicNextRoundReady = "next_round_ready"
	TopicPasswordReset  = "password_reset"
)

var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// Message is one outbound notification. When Body is empty the Router
// renders Subject and Body from the Topic template and Data.
type Message struct {
	Channel string
	To      string
	Subject string
	Body    string
	Topic   string
	Data    map[string]string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
