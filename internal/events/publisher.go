package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Sequencer interface {
	Next(ctx context.Context, partitionKey string) (int64, error)
}

// Publisher emits checkout and stock events to the topic exchange. Events of
// one order share a partition and carry increasing sequence numbers.
type Publisher struct {
	ch       amqpChannel
	seq      Sequencer
	producer string
	now      func() time.Time
}

type PublisherOptions struct {
	Producer string
}

func NewPublisher(conn *amqp.Connection, seq Sequencer, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return newPublisher(ch, seq, opts), nil
}

func newPublisher(ch amqpChannel, seq Sequencer, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = "checkout-service"
	}
	return &Publisher{
		ch:       ch,
		seq:      seq,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) StockReserved(ctx context.Context, orderID int64, reservationID uuid.UUID, lines []inventory.Line) error {
	ts := p.now()
	payload := StockReservedPayload{OrderID: orderID, ReservationID: reservationID.String(), Timestamp: ts}
	for _, l := range lines {
		payload.Items = append(payload.Items, StockLine{VariantID: l.VariantID, Quantity: l.Quantity})
	}
	return p.publish(ctx, orderID, EventTypeStockReserved, stockReservedSchema, StockReservedRoutingKey, payload, ts)
}

func (p *Publisher) StockReleased(ctx context.Context, orderID int64, holds int64) error {
	ts := p.now()
	payload := StockHoldsPayload{OrderID: orderID, Holds: holds, Timestamp: ts}
	return p.publish(ctx, orderID, EventTypeStockReleased, stockReleasedSchema, StockReleasedRoutingKey, payload, ts)
}

func (p *Publisher) StockConsumed(ctx context.Context, orderID int64, holds int64) error {
	ts := p.now()
	payload := StockHoldsPayload{OrderID: orderID, Holds: holds, Timestamp: ts}
	return p.publish(ctx, orderID, EventTypeStockConsumed, stockConsumedSchema, StockConsumedRoutingKey, payload, ts)
}

func (p *Publisher) PaymentIntentCreated(ctx context.Context, orderID int64, intentID string, amountMinor int64, currency string) error {
	ts := p.now()
	payload := PaymentIntentCreatedPayload{
		OrderID:         orderID,
		PaymentIntentID: intentID,
		Amount:          amountMinor,
		Currency:        currency,
		Timestamp:       ts,
	}
	return p.publish(ctx, orderID, EventTypePaymentIntentCreated, paymentIntentCreatedSchema, PaymentIntentCreatedRoutingKey, payload, ts)
}

func (p *Publisher) CompensationFailed(ctx context.Context, orderID int64, step, reason string) error {
	ts := p.now()
	payload := CompensationFailedPayload{OrderID: orderID, Step: step, Reason: reason, Timestamp: ts}
	return p.publish(ctx, orderID, EventTypeCompensationFailed, compensationFailedSchema, CompensationFailedRoutingKey, payload, ts)
}

func (p *Publisher) publish(ctx context.Context, orderID int64, name, schema, routingKey string, payload any, ts time.Time) error {
	partition := strconv.FormatInt(orderID, 10)
	seq, err := p.seq.Next(ctx, partition)
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	ctx, cid := correlation.Ensure(ctx)
	meta := EventMeta{CorrelationID: cid, PartitionKey: partition}

	env, err := newEnvelope(name, schema, meta, seq, p.producer, payload, ts)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", name, err)
	}
	return p.publishJSON(ctx, routingKey, env.EventID, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey, messageID string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
		},
	)
}
