package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Harvest/internal/telemetry"
)

// ErrReject — сообщение не может быть обработано никогда
// (отправляется в DLQ вместо возврата в очередь).
var ErrReject = errors.New("message rejected")

// Handler обрабатывает сообщение.
//
//	nil                 → ack
//	ошибка с ErrReject  → nack без requeue (DLQ)
//	другая ошибка       → nack с requeue
type Handler func(ctx context.Context, msg *Message) error

// Consumer потребляет сообщения из очереди.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// ConsumerConfig — настройки Consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сколько сообщений брать без ack (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   telemetry.OrDefault(logger).With("queue", string(cfg.Queue)),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start потребляет сообщения до отмены ctx. Переживает переподключения.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("subscribe failed, waiting for reconnect", "error", err)
		} else {
			c.logger.Info("consumer started")
			err := c.drain(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("delivery channel closed, waiting for reconnect", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.settle(raw, c.Handle(ctx, raw.Body))
		}
	}
}

// Outcome — как подтвердить доставку.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeReject
)

// Handle разбирает тело сообщения и вызывает обработчик.
func (c *Consumer) Handle(ctx context.Context, body []byte) Outcome {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "body", string(body))
		return OutcomeReject
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)
	logger.Debug("received message")

	err := c.handler(ctx, &msg)
	switch {
	case err == nil:
		return OutcomeAck
	case errors.Is(err, ErrReject):
		logger.Error("message rejected", "error", err)
		return OutcomeReject
	default:
		logger.Warn("handler failed, requeueing", "error", err)
		return OutcomeRequeue
	}
}

func (c *Consumer) settle(raw amqp.Delivery, o Outcome) {
	var err error
	switch o {
	case OutcomeAck:
		err = raw.Ack(false)
	case OutcomeRequeue:
		err = raw.Nack(false, true)
	case OutcomeReject:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("settle delivery failed", "error", err)
	}
}

// Decode разбирает payload сообщения в T.
// Ошибка разбора помечена ErrReject: такое сообщение не обработается и при повторе.
func Decode[T any](msg *Message) (T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: decode %s payload: %v", ErrReject, msg.Type, err)
	}
	return out, nil
}
