// Package notify публикует уведомления о смене статусов в Redis Pub/Sub.
//
// Подписчики (UI, интеграции) получают события в реальном времени,
// не опрашивая API. Notifier деградирует мягко: без Redis уведомления
// просто не отправляются, ядро оркестрации от них не зависит.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Каналы уведомлений.
const (
	channelRequests  = "hivemind:requests"
	channelProposals = "hivemind:proposals"
)

// Event — событие смены статуса.
type Event struct {
	// Kind — тип сущности: "request" или "proposal".
	Kind string `json:"kind"`

	// ID — идентификатор сущности.
	ID uuid.UUID `json:"id"`

	// TenantID — владелец.
	TenantID uuid.UUID `json:"tenant_id"`

	// Status — новый статус.
	Status string `json:"status"`

	// Error — ошибка, если статус терминально-неуспешный.
	Error string `json:"error,omitempty"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`
}

// Notifier публикует события статусов.
//
// Nil-safe: методы на nil *Notifier — no-op. Это позволяет собирать
// orchestrator без Redis в окружениях, где уведомления не нужны.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

// New создаёт Notifier поверх Redis.
// Возвращает ошибку, если Redis недоступен на момент старта.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Notifier{client: client, logger: logger}, nil
}

// Close закрывает соединение с Redis.
func (n *Notifier) Close() error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Close()
}

// RequestStatus публикует смену статуса request.
func (n *Notifier) RequestStatus(ctx context.Context, requestID, tenantID uuid.UUID, status, errMsg string) {
	n.publish(ctx, channelRequests, Event{
		Kind:      "request",
		ID:        requestID,
		TenantID:  tenantID,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
}

// ProposalStatus публикует смену статуса proposal.
func (n *Notifier) ProposalStatus(ctx context.Context, proposalID, tenantID uuid.UUID, status string) {
	n.publish(ctx, channelProposals, Event{
		Kind:      "proposal",
		ID:        proposalID,
		TenantID:  tenantID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// publish сериализует и публикует событие.
// Ошибки публикации логируются, но не прерывают оркестрацию.
func (n *Notifier) publish(ctx context.Context, channel string, event Event) {
	if n == nil || n.client == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal notification", "error", err)
		return
	}

	// Канал сегментируется по tenant, чтобы подписчик видел только своё
	key := channel + ":" + event.TenantID.String()
	if err := n.client.Publish(ctx, key, body).Err(); err != nil {
		n.logger.Warn("failed to publish notification",
			"channel", key,
			"kind", event.Kind,
			"error", err,
		)
	}
}
