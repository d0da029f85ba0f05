package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Hivemind/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRequestSubmitted MessageType = "request.submitted"
	MessageTypeTaskDispatch     MessageType = "task.dispatch"
	MessageTypeTaskResult       MessageType = "task.result"
	MessageTypeProposalApproved MessageType = "proposal.approved"
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

// RequestSubmittedPayload — payload для сообщения о новом request.
type RequestSubmittedPayload struct {
	RequestID uuid.UUID `json:"request_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
}

// TaskDispatchPayload — payload задачи для department.
// Схема одного hop'а между уровнями иерархии.
type TaskDispatchPayload struct {
	RequestID  uuid.UUID         `json:"request_id"`
	TaskID     uuid.UUID         `json:"task_id"`
	TenantID   uuid.UUID         `json:"tenant_id"`
	Department domain.Department `json:"department"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Attempt    int               `json:"attempt"`
}

// TaskResultPayload — payload о терминальном статусе задачи.
// Supervisor сообщает только статус и краткую ошибку: orchestrator
// не инспектирует детали tier-3 уровня.
type TaskResultPayload struct {
	TaskID     uuid.UUID         `json:"task_id"`
	RequestID  uuid.UUID         `json:"request_id"`
	Department domain.Department `json:"department"`
	Status     string            `json:"status"` // COMPLETED или FAILED
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retry_count"`
}

// ProposalApprovedPayload — payload об одобренном действии.
type ProposalApprovedPayload struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	RequestID  uuid.UUID `json:"request_id"`
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

// PublishRequestSubmitted публикует событие о новом request.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRequestSubmitted(ctx context.Context, requestID, tenantID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRequestSubmitted,
		Payload:   RequestSubmittedPayload{RequestID: requestID, TenantID: tenantID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRequests, RoutingKeySubmitted, msg)
}

// PublishTaskDispatch публикует задачу в очередь её department.
// Потребитель: Department Supervisor.
func (p *Publisher) PublishTaskDispatch(ctx context.Context, payload TaskDispatchPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskDispatch,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, DepartmentRoutingKey(payload.Department), msg)
}

// PublishTaskResult публикует терминальный статус задачи.
// Потребитель: Orchestrator.
func (p *Publisher) PublishTaskResult(ctx context.Context, payload TaskResultPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskResult,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyResult, msg)
}

// PublishProposalApproved публикует событие об одобренном действии.
// Потребитель: Orchestrator.
func (p *Publisher) PublishProposalApproved(ctx context.Context, proposalID, requestID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeProposalApproved,
		Payload:   ProposalApprovedPayload{ProposalID: proposalID, RequestID: requestID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeProposals, RoutingKeyApproved, msg)
}
