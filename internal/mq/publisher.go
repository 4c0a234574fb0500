package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Harvest/internal/domain"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeDecision    MessageType = "workflow.decision"
	MessageTypeCompleted   MessageType = "workflow.completed"
	MessageTypeUnpersisted MessageType = "execution.unpersisted"
)

// Message — конверт сообщения.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// CompletedPayload — итог выполнения решения.
type CompletedPayload struct {
	ExecutionID  uuid.UUID             `json:"execution_id"`
	WorkflowName string                `json:"workflow_name"`
	DecisionID   string                `json:"decision_id"`
	BusinessDate string                `json:"business_date,omitempty"`
	Status       domain.WorkflowStatus `json:"status"`
	Triggered    int                   `json:"scrapers_triggered"`
	Succeeded    int                   `json:"scrapers_succeeded"`
	Failed       int                   `json:"scrapers_failed"`
	Skipped      int                   `json:"scrapers_skipped"`
	DurationMs   int64                 `json:"duration_ms"`
	Persisted    bool                  `json:"persisted"`
}

// NewCompletedPayload собирает CompletedPayload из агрегата.
func NewCompletedPayload(d *domain.Decision, w *domain.WorkflowExecution, persisted bool) CompletedPayload {
	return CompletedPayload{
		ExecutionID:  w.ExecutionID,
		WorkflowName: w.WorkflowName,
		DecisionID:   w.DecisionID,
		BusinessDate: d.BusinessDate,
		Status:       w.Status,
		Triggered:    w.ScrapersTriggered,
		Succeeded:    w.ScrapersSucceeded,
		Failed:       w.ScrapersFailed,
		Skipped:      len(w.SkippedScrapers),
		DurationMs:   w.Duration.Milliseconds(),
		Persisted:    persisted,
	}
}

// Publisher публикует сообщения Harvest.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: telemetry.OrDefault(logger),
	}
}

// NewMessage упаковывает payload в конверт.
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Publish публикует сообщение (persistent) в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
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

func (p *Publisher) publishPayload(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, exchange, routingKey, msg)
}

// PublishDecision ставит решение в очередь на выполнение.
// Потребитель: orchestrator.
func (p *Publisher) PublishDecision(ctx context.Context, d *domain.Decision) error {
	return p.publishPayload(ctx, ExchangeWorkflows, RoutingKeyDecision, MessageTypeDecision, d)
}

// PublishCompleted публикует итог выполнения решения.
func (p *Publisher) PublishCompleted(ctx context.Context, payload CompletedPayload) error {
	return p.publishPayload(ctx, ExchangeWorkflows, RoutingKeyCompleted, MessageTypeCompleted, payload)
}

// PublishUnpersisted отправляет агрегат, который не удалось сохранить, на повторную запись.
func (p *Publisher) PublishUnpersisted(ctx context.Context, w *domain.WorkflowExecution) error {
	return p.publishPayload(ctx, ExchangeExecutions, RoutingKeyUnpersisted, MessageTypeUnpersisted, w)
}
