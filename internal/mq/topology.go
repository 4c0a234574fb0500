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

// Обменники.
const (
	ExchangeWorkflows  Exchange = "harvest.workflows"
	ExchangeExecutions Exchange = "harvest.executions"
	ExchangeDLQ        Exchange = "harvest.dlq"
)

// Очереди.
const (
	QueueDecisions   Queue = "workflows.decisions"
	QueueCompleted   Queue = "workflows.completed"
	QueueUnpersisted Queue = "executions.unpersisted"
	QueueDLQ         Queue = "dlq.harvest"
)

// Ключи маршрутизации.
const (
	RoutingKeyDecision    RoutingKey = "decision"
	RoutingKeyCompleted   RoutingKey = "completed"
	RoutingKeyUnpersisted RoutingKey = "unpersisted"
	RoutingKeyDead        RoutingKey = "dead"
)

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
	deadLetter bool
}

// bindings — полная топология: каждая очередь и её привязка.
var bindings = []binding{
	{QueueDecisions, RoutingKeyDecision, ExchangeWorkflows, true},
	{QueueCompleted, RoutingKeyCompleted, ExchangeWorkflows, false},
	{QueueUnpersisted, RoutingKeyUnpersisted, ExchangeExecutions, true},
	{QueueDLQ, RoutingKeyDead, ExchangeDLQ, false},
}

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeWorkflows, ExchangeExecutions, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range bindings {
			var args amqp.Table
			if b.deadLetter {
				args = amqp.Table{
					"x-dead-letter-exchange":    string(ExchangeDLQ),
					"x-dead-letter-routing-key": string(RoutingKeyDead),
				}
			}

			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Harvest RabbitMQ topology:

    harvest.workflows (direct)
    ├── workflows.decisions [routing: decision]     consumer: orchestrator, DLQ
    └── workflows.completed [routing: completed]    consumer: downstream reporting

    harvest.executions (direct)
    └── executions.unpersisted [routing: unpersisted]  consumer: orchestrator replay, DLQ

    harvest.dlq (direct)
    └── dlq.harvest [routing: dead]                 manual processing
`
}
