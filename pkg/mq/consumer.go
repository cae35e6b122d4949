package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"estatecrm/pkg/metrics"
	"estatecrm/pkg/otel"
	"estatecrm/pkg/trace"
	"estatecrm/pkg/util"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// ConsumerOption 配置 Consumer
type ConsumerOption func(*Consumer)

// WithDeadLetter 开启死信：不可重试的错误或失败次数超过 maxRetries 的消息转发到 DLQ
func WithDeadLetter(counter util.Counter, maxRetries int64) ConsumerOption {
	return func(c *Consumer) {
		c.retries = counter
		c.maxRetries = maxRetries
	}
}

// WithPrefetch 设置 channel 的 QoS
func WithPrefetch(n int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetch = n
	}
}

type Consumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	logger     *zap.Logger

	retries    util.Counter
	maxRetries int64
	prefetch   int

	publishMu sync.Mutex
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		routingKey: routingKey,
		logger:     logger,
		prefetch:   10,
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, ch, err := openChannel(url)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.channel = ch

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	c.queue = q

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	if c.retries != nil {
		if err := DeclareDLQExchange(ch); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to declare DLQ exchange: %w", err)
		}
		if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
			c.Close()
			return nil, err
		}
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
		zap.Bool("dead_letter", c.retries != nil),
	)
	return c, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// IsConnected reports whether the broker connection is still open.
func (c *Consumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
// Every message is either acked, requeued or moved to the DLQ.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"estatecrm."+c.queue.Name,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped", zap.String("queue", c.queue.Name))
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	ctx := otel.ExtractMQContext(parent, msg.Headers)
	ctx, span := otel.MQConsumeSpan(ctx, msg.RoutingKey, c.queue.Name)
	defer span.End()

	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	if !msg.Timestamp.IsZero() {
		metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(msg.Timestamp))
	}

	c.logger.Debug("Received message",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
		zap.String("message_id", msg.MessageId),
		zap.Int("message_size", len(msg.Body)),
	)

	err := c.invoke(ctx, msg.Body)
	if err == nil {
		if c.retries != nil {
			if err := c.retries.Reset(ctx, c.retryKey(msg)); err != nil {
				c.logger.Debug("Failed to reset retry count", zap.Error(err))
			}
		}
		c.ack(msg)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.fail(ctx, msg, err)
}

// invoke 调用 handler，并把 panic 转换成错误
func (c *Consumer) invoke(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, body)
}

func (c *Consumer) fail(ctx context.Context, msg amqp091.Delivery, cause error) {
	retryable, errType := util.IsRetryableError(cause)
	log := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
		zap.String("message_id", msg.MessageId),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(cause),
	)

	if c.retries == nil {
		log.Error("Handler error")
		// 没有 DLQ 时，可重试错误重新入队，其余丢弃
		c.nack(msg, retryable)
		return
	}

	attempts, err := c.retries.IncrementAndGet(ctx, c.retryKey(msg))
	if err != nil {
		log.Warn("Failed to increment retry count, assuming first attempt", zap.NamedError("counter_error", err))
		attempts = 1
	}

	if util.ShouldRetry(attempts, c.maxRetries, retryable) {
		log.Warn("Handler error, requeueing", zap.Int64("attempt", attempts))
		c.nack(msg, true)
		return
	}

	headers := deadLetterHeaders(msg, c.queue.Name, errType, cause, attempts)
	c.publishMu.Lock()
	err = publishToDLQ(ctx, c.channel, msg, headers)
	c.publishMu.Unlock()
	if err != nil {
		log.Error("Failed to publish to DLQ, requeueing", zap.NamedError("dlq_error", err))
		c.nack(msg, true)
		return
	}

	log.Error("Message moved to DLQ",
		zap.Int64("attempts", attempts),
		zap.String("dlq", DLQQueueName(msg.RoutingKey)),
	)
	_ = c.retries.Reset(ctx, c.retryKey(msg))
	c.ack(msg)
}

func (c *Consumer) ack(msg amqp091.Delivery) {
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err),
		)
	}
}

func (c *Consumer) nack(msg amqp091.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to nack message",
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err),
		)
	}
}

// retryKey 优先使用 MessageId，缺失时用消息体哈希
func (c *Consumer) retryKey(msg amqp091.Delivery) string {
	id := msg.MessageId
	if id == "" {
		h := fnv.New64a()
		_, _ = h.Write(msg.Body)
		id = strconv.FormatUint(h.Sum64(), 16)
	}
	return util.FormatRetryKey(c.queue.Name, id)
}
