package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

const (
	MessageTypeJobAvailable MessageType = "job.available"
	MessageTypeJobLifecycle MessageType = "job.lifecycle"
)

// Message — конверт сообщения: уникальный ID, тип, payload и время создания.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// JobAvailablePayload — payload подсказки о появившемся job.
//
// Подсказка будит робота и экономит цикл polling'а; владение job
// передаётся только атомарным claim'ом через HTTP. Потерянная или
// продублированная подсказка безвредна.
type JobAvailablePayload struct {
	JobID       uuid.UUID `json:"job_id"`
	Environment string    `json:"environment"`
	Priority    int       `json:"priority"`
}

// JobLifecyclePayload — payload события терминального статуса job.
type JobLifecyclePayload struct {
	JobID        uuid.UUID `json:"job_id"`
	WorkflowName string    `json:"workflow_name,omitempty"`
	Status       string    `json:"status"`
	RobotID      string    `json:"robot_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	RetryCount   int       `json:"retry_count"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// Publish сериализует msg и отправляет его в exchange с routing key.
// Сообщения публикуются persistent: переживают рестарт брокера.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, pub); err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJobAvailable публикует подсказку о job, готовом к claim.
// Потребитель: роботы.
func (p *Publisher) PublishJobAvailable(ctx context.Context, jobID uuid.UUID, environment string, priority int) error {
	payload := JobAvailablePayload{JobID: jobID, Environment: environment, Priority: priority}
	return p.Publish(ctx, ExchangeJobs, RoutingKeyAvailable, newMessage(MessageTypeJobAvailable, payload))
}

// PublishJobLifecycle публикует событие терминального статуса job.
// Потребитель: внешние интеграции.
func (p *Publisher) PublishJobLifecycle(ctx context.Context, payload JobLifecyclePayload) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyLifecycle, newMessage(MessageTypeJobLifecycle, payload))
}

// PublishJSON публикует произвольный payload с указанным типом.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.Publish(ctx, exchange, routingKey, newMessage(msgType, payload))
}
