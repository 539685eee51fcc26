package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "letterdesk.events.dlq"
)

// declareDeadLetter declares the DLQ exchange and the <queueName>.dlq queue.
func declareDeadLetter(ch *amqp091.Channel, queueName string) error {
	if err := ch.ExchangeDeclare(DLQExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	dlq, err := ch.QueueDeclare(queueName+".dlq", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(dlq.Name, queueName, DLQExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return nil
}
