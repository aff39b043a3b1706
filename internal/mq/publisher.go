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

// Типы сообщений.
const (
	MessageTypeTaskPlanned       MessageType = "task.planned"
	MessageTypeStepReady         MessageType = "step.ready"
	MessageTypeStepCompleted     MessageType = "step.completed"
	MessageTypeCheckpointDecided MessageType = "checkpoint.decided"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskPlannedPayload — payload для сообщения о новом task от planner'а.
type TaskPlannedPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// StepReadyPayload — payload для шага, готового к выполнению агентом.
type StepReadyPayload struct {
	TaskID    uuid.UUID `json:"task_id"`
	StepID    string    `json:"step_id"`
	AgentType string    `json:"agent_type"`
}

// StepCompletedPayload — payload для результата выполнения шага.
type StepCompletedPayload struct {
	TaskID  uuid.UUID      `json:"task_id"`
	StepID  string         `json:"step_id"`
	Status  string         `json:"status"` // DONE или FAILED
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// CheckpointDecidedPayload — payload для решения по checkpoint'у.
type CheckpointDecidedPayload struct {
	CheckpointID uuid.UUID `json:"checkpoint_id"`
	TaskID       uuid.UUID `json:"task_id"`
	StepID       string    `json:"step_id"`
	Decision     string    `json:"decision"` // APPROVED или REJECTED
	DecidedBy    string    `json:"decided_by"`
	Feedback     string    `json:"feedback,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
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

// PublishTaskPlanned публикует событие о новом task, ожидающем запуска.
// Потребитель: Engine.
func (p *Publisher) PublishTaskPlanned(ctx context.Context, taskID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskPlanned,
		Payload:   TaskPlannedPayload{TaskID: taskID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyPlanned, msg)
}

// PublishStepReady публикует событие о шаге, готовом к выполнению.
// Потребитель: агенты.
func (p *Publisher) PublishStepReady(ctx context.Context, payload StepReadyPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStepReady,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeSteps, RoutingKeyReady, msg)
}

// PublishStepCompleted публикует результат выполнения шага.
// Потребитель: Engine.
func (p *Publisher) PublishStepCompleted(ctx context.Context, payload StepCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStepCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeSteps, RoutingKeyCompleted, msg)
}

// PublishCheckpointDecided публикует решение по checkpoint'у.
// Потребитель: Engine.
func (p *Publisher) PublishCheckpointDecided(ctx context.Context, payload CheckpointDecidedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeCheckpointDecided,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeCheckpoints, RoutingKeyDecided, msg)
}
