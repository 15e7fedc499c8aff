package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeJobs Exchange = "conveyor.jobs"
	ExchangeDLQ  Exchange = "conveyor.dlq"
)

const (
	QueueJobsAvailable Queue = "jobs.available"
	QueueJobsLifecycle Queue = "jobs.lifecycle"
	QueueDLQJobs       Queue = "dlq.jobs"
)

const (
	RoutingKeyAvailable RoutingKey = "available"
	RoutingKeyLifecycle RoutingKey = "lifecycle"
	RoutingKeyDLQJobs   RoutingKey = "jobs"
)

// queueSpec описывает очередь вместе с её единственной привязкой.
type queueSpec struct {
	name     Queue
	exchange Exchange
	key      RoutingKey
	args     amqp.Table
}

// SetupTopology объявляет обменники, очереди и привязки. Вызывается
// каждым процессом при старте: повторный declare с теми же параметрами
// для RabbitMQ безвреден.
func SetupTopology(ctx context.Context, conn *Connection) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}

	queues := []queueSpec{
		// jobs.available — wake-up подсказки для роботов; без DLQ:
		// потеря подсказки безвредна, polling её компенсирует
		{QueueJobsAvailable, ExchangeJobs, RoutingKeyAvailable, nil},

		// jobs.lifecycle — события терминальных статусов; с DLQ
		{QueueJobsLifecycle, ExchangeJobs, RoutingKeyLifecycle, dlqArgs},

		// dlq.jobs — сама DLQ очередь
		{QueueDLQJobs, ExchangeDLQ, RoutingKeyDLQJobs, nil},
	}

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeJobs, ExchangeDLQ} {
			// direct, durable
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range queues {
			// durable, не auto-delete, не exclusive
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.key), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.jobs (direct)
    ├── jobs.available [routing: available]
    │       Consumer: Robots (wake-up hint; ownership only via HTTP claim)
    └── jobs.lifecycle [routing: lifecycle]
            Consumer: external integrations
            DLQ: dlq.jobs

    conveyor.dlq (direct)
    └── dlq.jobs [routing: jobs]
            Manual processing
  `
}
