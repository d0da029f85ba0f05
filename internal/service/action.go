package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Hivemind/internal/faults"
)

const defaultActionTimeout = 30 * time.Second

// ActionCapability — исполнение одобренного действия.
//
// Вызывается orchestrator'ом после одобрения proposal человеком,
// никогда — напрямую из конвейера анализа.
//
// Input:
//
//	{
//	    "action_type": "trigger_webhook",
//	    "parameters": {"url": "...", ...}
//	}
//
// Действия notify_owner и schedule_review исполняются как запись
// в журнал (интеграции с внешними системами за пределами ядра);
// trigger_webhook выполняет HTTP POST с параметрами действия.
type ActionCapability struct {
	client *http.Client
}

// NewActionCapability создаёт новую ActionCapability.
func NewActionCapability() *ActionCapability {
	return &ActionCapability{
		client: &http.Client{
			Timeout: defaultActionTimeout,
		},
	}
}

// Name возвращает имя capability.
func (c *ActionCapability) Name() string {
	return CapabilityRunAction
}

// Invoke исполняет действие.
func (c *ActionCapability) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	actionType := InputString(inv.Input, "action_type")
	params, _ := inv.Input["parameters"].(map[string]any)

	switch actionType {
	case ActionTypeWebhook:
		return c.triggerWebhook(ctx, params)

	case ActionTypeNotify, ActionTypeReview:
		// Запись намерения; доставка — забота внешних систем
		return NewResult(map[string]any{
			"action_type": actionType,
			"recorded_at": time.Now().UTC().Format(time.RFC3339),
		}), nil

	default:
		return nil, faults.Permanentf("unknown action type: %q", actionType)
	}
}

// triggerWebhook выполняет HTTP POST на URL из параметров действия.
func (c *ActionCapability) triggerWebhook(ctx context.Context, params map[string]any) (*Result, error) {
	url := InputString(params, "url")
	if url == "" {
		return nil, faults.Permanent(fmt.Errorf("%w: webhook url is required", ErrInvalidInput))
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, faults.Permanent(fmt.Errorf("marshal webhook body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, faults.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, faults.Transient(fmt.Errorf("webhook call: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	switch {
	case resp.StatusCode >= 500:
		return nil, faults.Transientf("webhook returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, faults.Permanentf("webhook returned HTTP %d", resp.StatusCode)
	}

	return NewResult(map[string]any{
		"action_type": ActionTypeWebhook,
		"status_code": resp.StatusCode,
	}), nil
}
