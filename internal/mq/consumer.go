package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// errStreamClosed — брокер закрыл поток доставки (обычно при обрыве соединения).
var errStreamClosed = errors.New("deliveries stream closed")

// Handler обрабатывает одно сообщение. Ненулевая ошибка приводит к nack.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — распарсенное сообщение вместе с исходной AMQP-доставкой.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Ack подтверждает обработку.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение: requeue=true — назад в очередь,
// false — в DLQ (если она привязана).
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// ConsumerConfig — настройки подписки на очередь.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать в полёте
	// (по умолчанию 1).
	Prefetch int

	// RequeueOnError — возвращать ли сообщение в очередь при ошибке handler'а.
	// Для wake-up подсказок должно быть false: подсказка одноразовая,
	// её потерю компенсирует polling, а requeue устроил бы цикл redelivery.
	RequeueOnError bool
}

// Consumer читает одну очередь RabbitMQ и переживает обрывы соединения:
// после каждого реконнекта подписка открывается заново.
type Consumer struct {
	conn           *Connection
	logger         *slog.Logger
	queue          string
	handler        Handler
	prefetch       int
	requeueOnError bool

	cancel context.CancelFunc
}

// NewConsumer создаёт Consumer; подписка начинается в Start.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		conn:           conn,
		logger:         logger,
		queue:          cfg.Queue,
		handler:        cfg.Handler,
		prefetch:       prefetch,
		requeueOnError: cfg.RequeueOnError,
	}
}

// Start блокирующе потребляет сообщения до отмены контекста или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for {
		err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consume interrupted, waiting for reconnect",
			"queue", c.queue, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
			c.logger.Info("reconnected, resubscribing", "queue", c.queue)
		}
	}
}

// Stop прекращает потребление.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// consumeOnce открывает подписку на текущем канале и обрабатывает
// сообщения, пока брокер не закроет поток или не отменится контекст.
func (c *Consumer) consumeOnce(ctx context.Context) error {
	deliveries, err := c.openStream(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("consumer started", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errStreamClosed
			}
			c.handle(ctx, raw)
		}
	}
}

// openStream настраивает prefetch и запускает Consume на текущем канале.
func (c *Consumer) openStream(ctx context.Context) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		// auto-ack выключен: подтверждаем вручную после handler'а
		stream, err := ch.Consume(c.queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		deliveries = stream
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

// handle разбирает одно сообщение и завершает его ack/nack.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message",
			"queue", c.queue, "error", err, "body", string(raw.Body))
		// Повторная доставка не поможет — сразу в DLQ
		raw.Nack(false, false)
		return
	}

	c.logger.Debug("received message",
		"queue", c.queue, "message_id", msg.ID, "type", msg.Type)

	if err := c.handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		c.logger.Error("handler failed",
			"queue", c.queue, "message_id", msg.ID, "type", msg.Type, "error", err)
		raw.Nack(false, c.requeueOnError)
		return
	}

	raw.Ack(false)
}

// ParsePayload преобразует msg.Payload (уже раскодированный в map/слайс)
// в конкретный тип T через JSON-раунд-трип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
