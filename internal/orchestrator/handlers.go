package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/plan"
	"github.com/shaiso/Hivemind/internal/repo"
	"github.com/shaiso/Hivemind/internal/service"
	"github.com/shaiso/Hivemind/internal/telemetry"
)

// proposalExecuteTimeout — потолок выполнения одобренного действия.
const proposalExecuteTimeout = 60 * time.Second

// Публикация dispatch-сообщения повторяется с backoff ограниченное
// число раз; исчерпание попыток фейлит весь request.
const (
	dispatchPublishAttempts = 3
	dispatchPublishBackoff  = 500 * time.Millisecond
)

// handleRequestSubmitted обрабатывает сообщение о новом request.
func (o *Orchestrator) handleRequestSubmitted(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RequestSubmittedPayload](&msg.Message)
	if err != nil {
		o.logger.Error("invalid request submitted payload", "error", err)
		return mq.ErrDrop
	}

	logger := o.logger.With("request_id", payload.RequestID)
	logger.Info("request submitted")

	if o.isActive(payload.RequestID) {
		return nil
	}

	err = o.processRequest(ctx, payload.RequestID)
	switch {
	case err == nil:
		return nil
	case expectedClaimFailure(err):
		// Request забрал другой экземпляр или он уже терминален
		return nil
	case errors.Is(err, ErrRequestNotFound):
		logger.Warn("submitted request not found, dropping")
		return mq.ErrDrop
	default:
		return err
	}
}

// processRequest забирает PENDING request и начинает обработку.
//
// Порядок строго write-ahead: сначала CAS-захват с lease, затем план
// в checkpoint, и только потом публикация задач. Падение между шагами
// оставляет request восстановимым из checkpoint + task store.
func (o *Orchestrator) processRequest(ctx context.Context, requestID uuid.UUID) error {
	leaseUntil := time.Now().Add(o.leaseDuration)
	if err := o.requestRepo.ClaimPending(ctx, requestID, o.instanceID, leaseUntil); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrRequestNotFound
		}
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			return ErrRequestNotClaimable
		}
		return fmt.Errorf("claim request: %w", err)
	}

	req, err := o.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}

	state, err := NewRequestState(req)
	if err != nil {
		// Checkpoint несовместимой версии исполнять нельзя
		return o.failRequest(ctx, requestID, req.TenantID, err.Error())
	}

	if err := o.addActive(state); err != nil {
		return err
	}

	logger := o.logger.With("request_id", requestID, "kind", req.Kind)
	logger.Info("processing request")

	p, err := o.planner.Plan(req)
	if err != nil {
		logger.Error("planning failed", "error", err)
		return o.failRequest(ctx, requestID, req.TenantID, fmt.Sprintf("planning failed: %s", err))
	}

	if err := state.SetPlan(p); err != nil {
		return o.failRequest(ctx, requestID, req.TenantID, fmt.Sprintf("invalid plan: %s", err))
	}

	// План в checkpoint до первой публикации
	if err := o.saveCheckpoint(ctx, state); err != nil {
		o.removeActive(requestID)
		return err
	}

	logger.Info("plan persisted", "assignments", len(p.Assignments))

	return o.dispatchReady(ctx, state)
}

// resumeRequest перехватывает осиротевший PROCESSING request
// и продолжает обработку с последней фазы checkpoint.
func (o *Orchestrator) resumeRequest(ctx context.Context, requestID uuid.UUID) error {
	leaseUntil := time.Now().Add(o.leaseDuration)
	if err := o.requestRepo.ClaimStale(ctx, requestID, o.instanceID, time.Now(), leaseUntil); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrRequestNotFound
		}
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			return ErrRequestNotClaimable
		}
		return fmt.Errorf("claim stale request: %w", err)
	}

	req, err := o.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if req.IsFinished() {
		return nil
	}

	state, err := NewRequestState(req)
	if err != nil {
		return o.failRequest(ctx, requestID, req.TenantID, err.Error())
	}

	logger := o.logger.With("request_id", requestID)
	logger.Info("resuming request", "phase", state.Phase())

	if state.Checkpoint.Plan == nil {
		// Упали до персиста плана: планируем заново
		p, err := o.planner.Plan(req)
		if err != nil {
			return o.failRequest(ctx, requestID, req.TenantID, fmt.Sprintf("planning failed: %s", err))
		}
		if err := state.SetPlan(p); err != nil {
			return o.failRequest(ctx, requestID, req.TenantID, fmt.Sprintf("invalid plan: %s", err))
		}
		if err := o.saveCheckpoint(ctx, state); err != nil {
			return err
		}
	} else {
		if err := state.SetPlan(state.Checkpoint.Plan); err != nil {
			return o.failRequest(ctx, requestID, req.TenantID, fmt.Sprintf("corrupt checkpoint plan: %s", err))
		}
	}

	// Фактический прогресс — в task store
	tasks, err := o.taskRepo.ListByRequestID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	state.RestoreFromTasks(tasks)

	if err := o.addActive(state); err != nil {
		return err
	}

	stats := state.Stats()
	logger.Info("request state restored",
		"completed", stats.CompletedTasks,
		"inflight", stats.InflightTasks,
		"failed", stats.FailedTasks,
	)

	return o.advance(ctx, state)
}

// handleTaskResult обрабатывает терминальный статус задачи от supervisor.
func (o *Orchestrator) handleTaskResult(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskResultPayload](&msg.Message)
	if err != nil {
		o.logger.Error("invalid task result payload", "error", err)
		return mq.ErrDrop
	}

	logger := o.logger.With(
		"request_id", payload.RequestID,
		"task_id", payload.TaskID,
		"department", payload.Department,
	)

	state := o.getActive(payload.RequestID)
	if state == nil {
		// Request не наш: либо его держит другой экземпляр (ack и выходим),
		// либо он осиротел — пробуем перехватить, restore подтянет результат
		err := o.resumeRequest(ctx, payload.RequestID)
		if err != nil && !expectedClaimFailure(err) && !errors.Is(err, ErrRequestNotFound) {
			return err
		}
		return nil
	}

	// Статусы в БД авторитетны: payload несёт только уведомление
	task, err := o.taskRepo.GetByID(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("task result for unknown task, dropping")
			return mq.ErrDrop
		}
		return fmt.Errorf("get task: %w", err)
	}

	switch task.Status {
	case domain.TaskStatusCompleted:
		logger.Info("task completed", "retry_count", task.RetryCount)
		state.MarkCompleted(task.Department, task.Output)
	case domain.TaskStatusFailed:
		logger.Warn("task failed", "error", task.Error, "retry_count", task.RetryCount)
		state.MarkFailed(task.Department, task.Error)
	case domain.TaskStatusCancelled:
		return nil
	default:
		// Результат опередил запись статуса быть не может: supervisor
		// персистит до публикации. Это дубликат устаревшей доставки
		return nil
	}

	return o.advance(ctx, state)
}

// advance продвигает request после изменения состояния:
// провал — all-or-nothing отказ, полное завершение — финализация,
// иначе — диспетчеризация освободившихся назначений.
func (o *Orchestrator) advance(ctx context.Context, state *RequestState) error {
	if cancelled, err := o.checkCancelled(ctx, state); err != nil || cancelled {
		return err
	}

	if state.HasFailed() {
		return o.failRequestFromTasks(ctx, state)
	}

	if state.IsComplete() {
		return o.finalize(ctx, state)
	}

	return o.dispatchReady(ctx, state)
}

// dispatchReady диспетчеризует все назначения, чьи зависимости
// завершены. Подтверждение диспетчеризации попадает в checkpoint
// только после успешной публикации: падение между публикацией и
// checkpoint даёт при resume дубликат публикации (его гасит CAS
// supervisor'а), но никогда — потерянную задачу.
func (o *Orchestrator) dispatchReady(ctx context.Context, state *RequestState) error {
	for _, assignment := range state.Ready() {
		task, err := o.dispatchAssignment(ctx, state, assignment)
		if err != nil {
			return err
		}
		if task == nil {
			continue
		}

		o.logger.Info("task dispatched",
			"request_id", state.RequestID(),
			"task_id", task.ID,
			"department", task.Department,
		)
	}
	return nil
}

// dispatchAssignment создаёт задачу для назначения и публикует её
// в очередь department. Возвращает nil задачу, если назначение
// пропущено (задача уже терминальна).
func (o *Orchestrator) dispatchAssignment(ctx context.Context, state *RequestState, assignment *domain.Assignment) (*domain.Task, error) {
	input, err := plan.RenderInput(assignment.Input, state.Context)
	if err != nil {
		return nil, o.failRequest(ctx, state.RequestID(), state.TenantID(),
			fmt.Sprintf("render input for %s: %s", assignment.Department, err))
	}

	// Outputs зависимостей доступны задаче напрямую, без шаблонов
	if upstream := state.UpstreamOutputs(assignment.DependsOn); upstream != nil {
		if input == nil {
			input = make(map[string]any, 1)
		}
		input["upstream"] = upstream
	}

	now := time.Now().UTC()
	task := &domain.Task{
		ID:         uuid.New(),
		RequestID:  state.RequestID(),
		TenantID:   state.TenantID(),
		Department: assignment.Department,
		Sequence:   assignment.Sequence,
		DependsOn:  assignment.DependsOn,
		Status:     domain.TaskStatusPending,
		Input:      input,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := o.taskRepo.Create(ctx, task); err != nil {
		if !errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("create task: %w", err)
		}
		// Задача уже создана прошлой попыткой — переиспользуем её
		existing, err := o.taskRepo.GetByRequestAndDepartment(ctx, state.RequestID(), assignment.Department)
		if err != nil {
			return nil, fmt.Errorf("get existing task: %w", err)
		}
		if existing.IsFinished() {
			return nil, nil
		}
		task = existing
	}

	if err := o.publishDispatch(ctx, task); err != nil {
		return nil, o.failRequest(ctx, state.RequestID(), state.TenantID(),
			fmt.Sprintf("dispatch to %s: %s", task.Department, err))
	}

	// Публикация подтверждена — фиксируем в checkpoint, чтобы resume
	// не дослал задачу повторно
	state.MarkDispatched(task)
	if err := o.saveCheckpoint(ctx, state); err != nil {
		return nil, err
	}

	return task, nil
}

// publishDispatch публикует задачу в очередь её department,
// повторяя попытку с backoff при недоступности брокера.
func (o *Orchestrator) publishDispatch(ctx context.Context, task *domain.Task) error {
	if o.publisher == nil {
		return errors.New("message broker is not connected")
	}

	payload := mq.TaskDispatchPayload{
		RequestID:  task.RequestID,
		TaskID:     task.ID,
		TenantID:   task.TenantID,
		Department: task.Department,
		Payload:    task.Input,
		Attempt:    task.RetryCount + 1,
	}

	var err error
	for attempt := 1; attempt <= dispatchPublishAttempts; attempt++ {
		if err = o.publisher.PublishTaskDispatch(ctx, payload); err == nil {
			return nil
		}

		o.logger.Warn("publish task dispatch failed",
			"task_id", task.ID,
			"department", task.Department,
			"attempt", attempt,
			"error", err,
		)

		if attempt == dispatchPublishAttempts {
			break
		}

		select {
		case <-time.After(dispatchPublishBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("publish exhausted after %d attempts: %w", dispatchPublishAttempts, err)
}

// finalize завершает request: слияние результатов в порядке
// назначения, создание proposals из рекомендаций, терминальный статус.
func (o *Orchestrator) finalize(ctx context.Context, state *RequestState) error {
	requestID := state.RequestID()
	logger := o.logger.With("request_id", requestID)

	state.SetPhase(domain.PhaseAggregating)
	if err := o.saveCheckpoint(ctx, state); err != nil {
		return err
	}

	resultData := state.MergedResults()
	proposals := o.createProposals(ctx, state)

	state.SetPhase(domain.PhaseFinalizing)
	if err := o.saveCheckpoint(ctx, state); err != nil {
		return err
	}

	summary := buildSummary(state, proposals)
	if err := o.requestRepo.Complete(ctx, requestID, summary, resultData); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			// Кто-то уже довёл request до терминального статуса
			o.removeActive(requestID)
			return nil
		}
		return fmt.Errorf("complete request: %w", err)
	}

	telemetry.ObserveRequest(string(domain.RequestStatusCompleted), time.Since(state.Request.CreatedAt))
	o.notifier.RequestStatus(ctx, requestID, state.TenantID(), string(domain.RequestStatusCompleted), "")
	o.removeActive(requestID)

	logger.Info("request completed",
		"departments", state.Stats().CompletedTasks,
		"proposals", proposals,
	)
	return nil
}

// createProposals создаёт proposals из предложенных действий
// recommendation department. Возвращает количество созданных.
func (o *Orchestrator) createProposals(ctx context.Context, state *RequestState) int {
	output := state.Output(domain.DeptRecommendation)
	if output == nil {
		return 0
	}

	actions, ok := output["proposed_actions"].([]any)
	if !ok || len(actions) == 0 {
		return 0
	}

	created := 0
	now := time.Now().UTC()
	for _, raw := range actions {
		action, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		description, _ := action["description"].(string)
		actionType, _ := action["action_type"].(string)
		parameters, _ := action["parameters"].(map[string]any)
		if actionType == "" {
			continue
		}

		p := &domain.Proposal{
			ID:          uuid.New(),
			RequestID:   state.RequestID(),
			TenantID:    state.TenantID(),
			Description: description,
			ActionType:  actionType,
			Parameters:  parameters,
			Status:      domain.ProposalStatusProposed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := o.proposalRepo.Create(ctx, p); err != nil {
			o.logger.Error("failed to create proposal",
				"request_id", state.RequestID(),
				"action_type", actionType,
				"error", err,
			)
			continue
		}

		telemetry.ProposalsTotal.WithLabelValues(string(domain.ProposalStatusProposed)).Inc()
		o.notifier.ProposalStatus(ctx, p.ID, p.TenantID, string(domain.ProposalStatusProposed))
		created++
	}
	return created
}

// buildSummary строит текстовую сводку результата.
func buildSummary(state *RequestState, proposals int) string {
	stats := state.Stats()
	summary := fmt.Sprintf("%d of %d departments completed", stats.CompletedTasks, stats.TotalTasks)
	if proposals > 0 {
		summary += fmt.Sprintf(", %d actions proposed", proposals)
	}
	return summary
}

// failRequestFromTasks проваливает request по all-or-nothing:
// консолидированная ошибка из провалившихся задач (в порядке sequence),
// отмена всех нетерминальных задач.
func (o *Orchestrator) failRequestFromTasks(ctx context.Context, state *RequestState) error {
	parts := make([]string, 0, 1)
	for _, task := range state.FailedTasks() {
		parts = append(parts, fmt.Sprintf("task %s (%s) failed: %s", task.ID, task.Department, task.Error))
	}
	errMsg := strings.Join(parts, "; ")
	if errMsg == "" {
		errMsg = "request failed"
	}

	return o.failRequest(ctx, state.RequestID(), state.TenantID(), errMsg)
}

// failRequest переводит request в FAILED и отменяет нетерминальные
// задачи. Поздние результаты отменённых задач будут отброшены
// supervisor'ами на CAS.
func (o *Orchestrator) failRequest(ctx context.Context, requestID, tenantID uuid.UUID, errMsg string) error {
	errMsg = domain.TruncateError(errMsg)

	if err := o.requestRepo.Fail(ctx, requestID, errMsg); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			o.removeActive(requestID)
			return nil
		}
		return fmt.Errorf("fail request: %w", err)
	}

	cancelled, err := o.taskRepo.CancelNonTerminal(ctx, requestID)
	if err != nil {
		o.logger.Error("failed to cancel tasks of failed request",
			"request_id", requestID,
			"error", err,
		)
	}

	telemetry.RequestsTotal.WithLabelValues(string(domain.RequestStatusFailed)).Inc()
	o.notifier.RequestStatus(ctx, requestID, tenantID, string(domain.RequestStatusFailed), errMsg)
	o.removeActive(requestID)

	o.logger.Warn("request failed",
		"request_id", requestID,
		"error", errMsg,
		"cancelled_tasks", cancelled,
	)
	return nil
}

// checkCancelled проверяет кооперативную отмену на границе фазы.
// Если tenant отменил request, нетерминальные задачи отменяются
// и обработка прекращается.
func (o *Orchestrator) checkCancelled(ctx context.Context, state *RequestState) (bool, error) {
	status, err := o.requestRepo.GetStatus(ctx, state.RequestID())
	if err != nil {
		return false, fmt.Errorf("get request status: %w", err)
	}
	if status != domain.RequestStatusCancelled {
		return false, nil
	}

	requestID := state.RequestID()
	cancelled, err := o.taskRepo.CancelNonTerminal(ctx, requestID)
	if err != nil {
		o.logger.Error("failed to cancel tasks of cancelled request",
			"request_id", requestID,
			"error", err,
		)
	}

	telemetry.RequestsTotal.WithLabelValues(string(domain.RequestStatusCancelled)).Inc()
	o.notifier.RequestStatus(ctx, requestID, state.TenantID(), string(domain.RequestStatusCancelled), "")
	o.removeActive(requestID)

	o.logger.Info("request cancelled, stopping orchestration",
		"request_id", requestID,
		"cancelled_tasks", cancelled,
	)
	return true, nil
}

// handleProposalApproved обрабатывает одобренное действие.
func (o *Orchestrator) handleProposalApproved(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ProposalApprovedPayload](&msg.Message)
	if err != nil {
		o.logger.Error("invalid proposal approved payload", "error", err)
		return mq.ErrDrop
	}

	return o.executeProposal(ctx, payload.ProposalID)
}

// executeProposal выполняет одобренное действие через capability
// run_action. Захват EXECUTING — CAS: дубликат доставки получает
// ErrInvalidState и подтверждается без повторного выполнения.
func (o *Orchestrator) executeProposal(ctx context.Context, proposalID uuid.UUID) error {
	logger := o.logger.With("proposal_id", proposalID)

	p, err := o.proposalRepo.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn("approved proposal not found, dropping")
			return mq.ErrDrop
		}
		return fmt.Errorf("get proposal: %w", err)
	}

	if err := o.proposalRepo.ClaimExecuting(ctx, proposalID); err != nil {
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrTerminal) {
			return nil
		}
		return fmt.Errorf("claim proposal: %w", err)
	}

	o.notifier.ProposalStatus(ctx, proposalID, p.TenantID, string(domain.ProposalStatusExecuting))
	logger.Info("executing proposal", "action_type", p.ActionType)

	capability, err := o.registry.Get(service.CapabilityRunAction)
	if err != nil {
		return o.finishProposal(ctx, p, "", fmt.Errorf("no action capability registered: %w", err))
	}

	invokeCtx, cancel := context.WithTimeout(ctx, proposalExecuteTimeout)
	defer cancel()

	result, err := capability.Invoke(invokeCtx, &service.Invocation{
		TaskID:     p.ID,
		RequestID:  p.RequestID,
		TenantID:   p.TenantID,
		Department: domain.DeptRecommendation,
		Input: map[string]any{
			"action_type": p.ActionType,
			"parameters":  p.Parameters,
			"description": p.Description,
		},
		Attempt: 1,
		Timeout: proposalExecuteTimeout,
	})
	if err != nil {
		return o.finishProposal(ctx, p, "", err)
	}

	logs := fmt.Sprintf("action %s executed", p.ActionType)
	if result != nil && len(result.Output) > 0 {
		if status, ok := result.Output["status"].(string); ok {
			logs = fmt.Sprintf("action %s executed: %s", p.ActionType, status)
		}
	}
	return o.finishProposal(ctx, p, logs, nil)
}

// finishProposal фиксирует исход выполнения действия.
func (o *Orchestrator) finishProposal(ctx context.Context, p *domain.Proposal, logs string, execErr error) error {
	if execErr != nil {
		logs = domain.TruncateError(execErr.Error())
		if err := o.proposalRepo.MarkExecutionFailed(ctx, p.ID, logs); err != nil {
			return fmt.Errorf("mark proposal failed: %w", err)
		}

		telemetry.ProposalsTotal.WithLabelValues(string(domain.ProposalStatusFailed)).Inc()
		o.notifier.ProposalStatus(ctx, p.ID, p.TenantID, string(domain.ProposalStatusFailed))
		o.logger.Warn("proposal execution failed",
			"proposal_id", p.ID,
			"action_type", p.ActionType,
			"error", execErr,
		)
		return nil
	}

	if err := o.proposalRepo.MarkExecuted(ctx, p.ID, logs); err != nil {
		return fmt.Errorf("mark proposal executed: %w", err)
	}

	telemetry.ProposalsTotal.WithLabelValues(string(domain.ProposalStatusExecuted)).Inc()
	o.notifier.ProposalStatus(ctx, p.ID, p.TenantID, string(domain.ProposalStatusExecuted))
	o.logger.Info("proposal executed",
		"proposal_id", p.ID,
		"action_type", p.ActionType,
	)
	return nil
}

// saveCheckpoint персистит checkpoint request'а.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, state *RequestState) error {
	if err := o.requestRepo.SaveCheckpoint(ctx, state.RequestID(), state.Checkpoint); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
