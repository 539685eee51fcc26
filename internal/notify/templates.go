package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

type topicTemplate struct {
	subject *template.Template
	body    *template.Template
}

var topics = map[string]topicTemplate{
	TopicMailNudge: parse(
		"Did your dispute letter go out?",
		"Reminder: mail your {{.bureau}} dispute letter{{if .round}} ({{.round}}){{end}} by certified mail and keep the receipt.",
	),
	TopicStatusCheck: parse(
		"Check on your {{.bureau}} dispute",
		"It has been about two weeks since your {{.bureau}} letter{{if .round}} ({{.round}}){{end}}. Log in to record any response you received.",
	),
	TopicNextRoundReady: parse(
		"Your next round is ready",
		"The response window for your {{.bureau}} dispute has passed. You can start the next round now.",
	),
	TopicPasswordReset: parse(
		"Your letterdesk reset code",
		"Your one-time code is: {{.code}}\nIt expires in {{.minutes}} minutes.",
	),
}

func parse(subject, body string) topicTemplate {
	return topicTemplate{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// Render fills Subject and Body from the topic template when Body is empty.
func Render(msg Message) (Message, error) {
	if msg.Body != "" {
		return msg, nil
	}
	t, ok := topics[msg.Topic]
	if !ok {
		return msg, fmt.Errorf("no template for topic %q", msg.Topic)
	}
	data := map[string]string{}
	for k, v := range msg.Data {
		data[k] = v
	}

	var subj, body bytes.Buffer
	if err := t.subject.Execute(&subj, data); err != nil {
		return msg, fmt.Errorf("render %s subject: %w", msg.Topic, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return msg, fmt.Errorf("render %s body: %w", msg.Topic, err)
	}
	if msg.Subject == "" {
		msg.Subject = subj.String()
	}
	msg.Body = body.String()
	return msg, nil
}
