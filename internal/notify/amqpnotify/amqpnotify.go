// Package amqpnotify publishes payment notifications to RabbitMQ. The mailer
// consumes these queues; publishing happens after the payment transaction
// commits, so a broker outage can only lose a notification, never money.
package amqpnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/solsticecon/memberd/pkg/money"
)

const (
	QueuePaymentPaid       = "payment.paid"
	QueuePaymentInstalment = "payment.instalment"
	QueueSitePaid          = "payment.site_paid"

	contentTypeJSON = "application/json"
)

// payload is the wire form of a payment notification.
type payload struct {
	UserID           string `json:"user_id"`
	ChargeID         string `json:"charge_id"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
	OutstandingCents int64  `json:"outstanding_cents"`
}

// Publisher implements money.Notifier over a single AMQP connection.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to the broker and declares the notification queues.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	for _, queue := range []string{QueuePaymentPaid, QueuePaymentInstalment, QueueSitePaid} {
		if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = channel.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}
	return &Publisher{conn: conn, channel: channel}, nil
}

// Close releases the channel and connection.
func (publisher *Publisher) Close() error {
	if err := publisher.channel.Close(); err != nil {
		_ = publisher.conn.Close()
		return err
	}
	return publisher.conn.Close()
}

func (publisher *Publisher) PaymentPaid(ctx context.Context, notification money.PaymentNotification) error {
	return publisher.publish(ctx, QueuePaymentPaid, notification)
}

func (publisher *Publisher) PaymentInstalment(ctx context.Context, notification money.PaymentNotification) error {
	return publisher.publish(ctx, QueuePaymentInstalment, notification)
}

func (publisher *Publisher) SitePaid(ctx context.Context, notification money.PaymentNotification) error {
	return publisher.publish(ctx, QueueSitePaid, notification)
}

func (publisher *Publisher) publish(ctx context.Context, queue string, notification money.PaymentNotification) error {
	body, err := json.Marshal(payload{
		UserID:           notification.UserID.String(),
		ChargeID:         notification.ChargeID.String(),
		AmountCents:      notification.AmountCents.Int64(),
		Currency:         notification.Currency.String(),
		Description:      notification.Description,
		OutstandingCents: notification.OutstandingCents.Int64(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = publisher.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}
