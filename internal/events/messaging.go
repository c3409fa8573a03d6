package events

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange     = "ecommerce.events"
	DeadLetterExchange = "ecommerce.events.dlx"

	StockReservedRoutingKey        = "stock.reserved.v1"
	StockReleasedRoutingKey        = "stock.released.v1"
	StockConsumedRoutingKey        = "stock.consumed.v1"
	PaymentIntentCreatedRoutingKey = "payment.intent_created.v1"
	CompensationFailedRoutingKey   = "ops.compensation_failed.v1"
	PaymentSucceededRoutingKey     = "payment.succeeded.v1"
	PaymentFailedRoutingKey        = "payment.failed.v1"

	checkoutServiceName = "checkout-service-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func checkoutQueueName(routingKey string) string {
	return serviceQueue(checkoutServiceName, routingKey)
}

func deadLetterQueueName(routingKey string) string {
	return checkoutQueueName(routingKey) + ".dlq"
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// declareQueue declares the service queue for routingKey plus its dead-letter
// queue; nacked deliveries land in the latter.
func declareQueue(ch *amqp.Channel, routingKey string) (string, error) {
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return "", err
	}
	dlq := deadLetterQueueName(routingKey)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return "", err
	}
	if err := ch.QueueBind(dlq, routingKey, DeadLetterExchange, false, nil); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		checkoutQueueName(routingKey),
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange,
			"x-dead-letter-routing-key": routingKey,
		},
	)
	if err != nil {
		return "", err
	}
	if err := ch.QueueBind(q.Name, routingKey, EventsExchange, false, nil); err != nil {
		return "", err
	}
	return q.Name, nil
}
