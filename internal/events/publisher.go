package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/parkwise/pkg/ledger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange receives every reservation event; the routing key is the event type.
	DefaultExchange = "parkwise.reservations"
	exchangeKind    = "topic"
	contentTypeJSON = "application/json"
)

var errNilChannel = errors.New("amqp channel is nil")

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements ledger.EventPublisher over a RabbitMQ topic exchange.
type Publisher struct {
	channel  Channel
	exchange string
}

// NewPublisher declares a durable topic exchange on channel and returns a publisher for it.
func NewPublisher(channel Channel, exchange string) (*Publisher, error) {
	if channel == nil {
		return nil, errNilChannel
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{channel: channel, exchange: exchange}, nil
}

// Dial connects to url and returns a publisher plus a close func releasing the channel and connection.
func Dial(url string, exchange string) (*Publisher, func() error, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	publisher, err := NewPublisher(channel, exchange)
	if err != nil {
		_ = channel.Close()
		_ = connection.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		return errors.Join(channel.Close(), connection.Close())
	}
	return publisher, closeFn, nil
}

// PublishReservationEvent sends event as a persistent JSON message.
func (publisher *Publisher) PublishReservationEvent(ctx context.Context, event ledger.ReservationEvent) error {
	body, err := json.Marshal(newEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	message := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.Reservation.ID.String() + ":" + event.Type.String(),
		Timestamp:    event.OccurredAt.UTC(),
		Type:         event.Type.String(),
		Body:         body,
	}
	if err := publisher.channel.PublishWithContext(ctx, publisher.exchange, event.Type.String(), false, false, message); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Envelope is the message body consumers receive.
type Envelope struct {
	Type          string           `json:"type"`
	OccurredAt    time.Time        `json:"occurred_at"`
	ReservationID string           `json:"reservation_id"`
	ControlNumber string           `json:"control_number"`
	CustomerID    string           `json:"customer_id"`
	SpotID        string           `json:"spot_id"`
	VehicleID     string           `json:"vehicle_id"`
	Status        string           `json:"status"`
	StartAt       time.Time        `json:"start_at"`
	EndAt         time.Time        `json:"end_at"`
	AmountCents   int64            `json:"amount_cents"`
	Payment       *PaymentEnvelope `json:"payment,omitempty"`
}

// PaymentEnvelope carries payment details on reservation.paid events.
type PaymentEnvelope struct {
	PaymentID    string `json:"payment_id"`
	AmountCents  int64  `json:"amount_cents"`
	Method       string `json:"method"`
	Discount     string `json:"discount"`
	ContactEmail string `json:"contact_email,omitempty"`
}

func newEnvelope(event ledger.ReservationEvent) Envelope {
	reservation := event.Reservation
	envelope := Envelope{
		Type:          event.Type.String(),
		OccurredAt:    event.OccurredAt.UTC(),
		ReservationID: reservation.ID.String(),
		ControlNumber: reservation.ControlNumber(),
		CustomerID:    reservation.CustomerID.String(),
		SpotID:        reservation.SpotID.String(),
		VehicleID:     reservation.VehicleID.String(),
		Status:        reservation.Status.String(),
		StartAt:       reservation.Window.Start,
		EndAt:         reservation.Window.End,
		AmountCents:   reservation.Amount.Int64(),
	}
	if event.Payment != nil {
		envelope.Payment = &PaymentEnvelope{
			PaymentID:    event.Payment.ID.String(),
			AmountCents:  event.Payment.Amount.Int64(),
			Method:       event.Payment.Method.String(),
			Discount:     event.Payment.Discount.String(),
			ContactEmail: event.Payment.ContactEmail,
		}
	}
	return envelope
}
