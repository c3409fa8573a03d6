package events

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one delivery body. Returning an error nacks the
// message without requeue, which routes it to the dead-letter queue.
type HandlerFunc func(ctx context.Context, body []byte) error

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type Consumer struct {
	conn   *amqp.Connection
	logger *log.Logger
}

func NewConsumer(conn *amqp.Connection, logger *log.Logger) *Consumer {
	return &Consumer{conn: conn, logger: logger}
}

// Subscribe binds a durable queue to routingKey and dispatches its deliveries
// to h until ctx is cancelled or the channel closes.
func (c *Consumer) Subscribe(ctx context.Context, routingKey string, h HandlerFunc) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}
	queue, err := declareQueue(ch, routingKey)
	if err != nil {
		return fmt.Errorf("declare queue for %s: %w", routingKey, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		checkoutServiceName, // consumer tag
		false,               // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				c.logger.Printf("stopping %s consumer", routingKey)
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Printf("%s delivery channel closed", routingKey)
					return
				}
				c.dispatch(ctx, routingKey, msg.Body, msg, h)
			}
		}
	}()

	c.logger.Printf("consuming %s from queue %s", routingKey, queue)
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, routingKey string, body []byte, ack acknowledger, h HandlerFunc) {
	if err := h(ctx, body); err != nil {
		c.logger.Printf("handle %s failed, dead-lettering: %v", routingKey, err)
		if nerr := ack.Nack(false, false); nerr != nil {
			c.logger.Printf("nack %s: %v", routingKey, nerr)
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		c.logger.Printf("ack %s: %v", routingKey, err)
	}
}
