package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DLQExchangeName 死信 exchange
const DLQExchangeName = "deals.dlq"

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		DLQExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DLQQueueName 返回某个 routing key 对应的死信队列名
func DLQQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// DeclareDLQQueue declares a dead letter queue for a specific routing key.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		DLQQueueName(routingKey),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// deadLetterHeaders 在原消息头上追加失败信息
func deadLetterHeaders(msg amqp091.Delivery, queue, errType string, cause error, attempts int64) amqp091.Table {
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-original-error"] = cause.Error()
	headers["x-error-type"] = errType
	headers["x-failed-queue"] = queue
	headers["x-attempts"] = attempts
	headers["x-failed-at"] = time.Now().UTC().Format(time.RFC3339)
	return headers
}

// publishToDLQ 把失败消息原样转发到死信 exchange
func publishToDLQ(ctx context.Context, ch *amqp091.Channel, msg amqp091.Delivery, headers amqp091.Table) error {
	return ch.PublishWithContext(ctx,
		DLQExchangeName,
		msg.RoutingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.MessageId,
			Timestamp:    msg.Timestamp,
			Headers:      headers,
		},
	)
}
