package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/faults"
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/repo"
	"github.com/shaiso/Hivemind/internal/service"
	"github.com/shaiso/Hivemind/internal/telemetry"
)

// Константы backoff между попытками.
const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// handleDispatch обрабатывает сообщение task.dispatch из очереди department.
//
// Порядок строгий: сначала терминальный статус персистится в БД,
// затем публикуется task.result, и только потом сообщение ack'ается.
// Падение между персистенцией и ack даёт повторную доставку, которую
// CAS на статусе превращает в no-op.
func (s *Supervisor) handleDispatch(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskDispatchPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse task.dispatch payload", "error", err)
		return fmt.Errorf("%w: %v", mq.ErrDrop, err)
	}

	if payload.Department != s.department {
		// Ошибка маршрутизации — в DLQ, повтор не поможет
		s.logger.Error("task routed to wrong department queue",
			"task_id", payload.TaskID,
			"task_department", payload.Department,
		)
		return fmt.Errorf("%w: wrong department %s", mq.ErrDrop, payload.Department)
	}

	logger := telemetry.WithTaskID(s.logger, payload.TaskID.String())
	logger = telemetry.WithRequestID(logger, payload.RequestID.String())

	// Забираем задачу через CAS
	if err := s.taskRepo.ClaimRunning(ctx, payload.TaskID); err != nil {
		switch {
		case errors.Is(err, repo.ErrTerminal):
			// Дубликат доставки уже обработанной задачи — no-op
			logger.Debug("task already terminal, acking duplicate delivery")
			return nil
		case errors.Is(err, repo.ErrInvalidState):
			// Задачу уже выполняет другой supervisor
			logger.Debug("task already running elsewhere, acking duplicate delivery")
			return nil
		case errors.Is(err, repo.ErrNotFound):
			logger.Warn("dispatched task not found in store")
			return fmt.Errorf("%w: task %s not found", mq.ErrDrop, payload.TaskID)
		default:
			// БД недоступна — requeue
			return faults.Infrastructure(err)
		}
	}

	task, err := s.taskRepo.GetByID(ctx, payload.TaskID)
	if err != nil {
		return faults.Infrastructure(err)
	}

	return s.runTask(ctx, logger, task)
}

// runTask выполняет задачу с retry до успеха, терминального провала
// или исчерпания потолка попыток.
func (s *Supervisor) runTask(ctx context.Context, logger *slog.Logger, task *domain.Task) error {
	capability, err := s.registry.ForDepartment(task.Department)
	if err != nil {
		// Конфигурационная ошибка процесса, а не задачи — requeue,
		// чтобы задачу подобрал корректно сконфигурированный supervisor
		return faults.Infrastructure(err)
	}

	started := time.Now()

	for {
		attempt := task.RetryCount + 1

		logger.Info("task attempt started",
			"capability", capability.Name(),
			"attempt", attempt,
		)

		output, invokeErr := s.invoke(ctx, capability, task, attempt)

		if invokeErr == nil {
			return s.finishTask(ctx, logger, task, output, "", started)
		}

		// Остановка процесса — вернуть сообщение в очередь
		if ctx.Err() != nil {
			return ctx.Err()
		}

		class := faults.Classify(invokeErr)

		switch class {
		case faults.ClassPermanent:
			logger.Warn("task failed permanently",
				"attempt", attempt,
				"error", invokeErr,
			)
			return s.finishTask(ctx, logger, task, nil, invokeErr.Error(), started)

		case faults.ClassCancelled:
			return s.discardTask(ctx, logger, task)
		}

		// Временная ошибка: проверяем потолок
		if !task.CanRetry() {
			exhausted := faults.Exhausted(attempt, invokeErr)
			logger.Warn("task retry ceiling reached",
				"attempt", attempt,
				"error", invokeErr,
			)
			return s.finishTask(ctx, logger, task, nil, exhausted.Error(), started)
		}

		// Фиксируем провалившуюся попытку
		task.MarkRetrying(invokeErr.Error())
		if err := s.taskRepo.MarkRetrying(ctx, task.ID, task.RetryCount, task.Error); err != nil {
			if errors.Is(err, repo.ErrInvalidState) {
				// Статус изменили извне (отмена request) — отбрасываем попытку
				logger.Debug("task state changed externally, dropping attempt")
				return nil
			}
			return faults.Infrastructure(err)
		}
		telemetry.TaskRetriesTotal.WithLabelValues(task.Department.String()).Inc()

		delay := backoffDelay(task.RetryCount, s.retryBase, s.retryMax)
		logger.Debug("retrying task",
			"attempt", attempt,
			"delay", delay,
			"error", invokeErr,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		// Перед новой попыткой убеждаемся, что request ещё жив
		status, err := s.requestRepo.GetStatus(ctx, task.RequestID)
		if err == nil && status != domain.RequestStatusProcessing {
			return s.discardTask(ctx, logger, task)
		}

		// Забираем задачу обратно (RETRYING → RUNNING)
		if err := s.taskRepo.ClaimRunning(ctx, task.ID); err != nil {
			if errors.Is(err, repo.ErrTerminal) || errors.Is(err, repo.ErrInvalidState) {
				logger.Debug("task no longer retryable, dropping attempt")
				return nil
			}
			return faults.Infrastructure(err)
		}
	}
}

// invoke вызывает capability с таймаутом.
func (s *Supervisor) invoke(ctx context.Context, capability service.Capability, task *domain.Task, attempt int) (map[string]any, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, s.invokeTimeout)
	defer cancel()

	result, err := capability.Invoke(invokeCtx, &service.Invocation{
		TaskID:     task.ID,
		RequestID:  task.RequestID,
		TenantID:   task.TenantID,
		Department: task.Department,
		Input:      task.Input,
		Attempt:    attempt,
		Timeout:    s.invokeTimeout,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return map[string]any{}, nil
	}
	return result.Output, nil
}

// finishTask персистит терминальный статус задачи и публикует task.result.
// errMsg == "" означает успех.
func (s *Supervisor) finishTask(ctx context.Context, logger *slog.Logger, task *domain.Task, output map[string]any, errMsg string, started time.Time) error {
	status := domain.TaskStatusCompleted

	if errMsg == "" {
		if err := s.taskRepo.Complete(ctx, task.ID, output); err != nil {
			if errors.Is(err, repo.ErrInvalidState) {
				// Поздний write-back после отмены — отбрасываем
				logger.Debug("late write-back discarded")
				return nil
			}
			return faults.Infrastructure(err)
		}
	} else {
		status = domain.TaskStatusFailed
		if err := s.taskRepo.Fail(ctx, task.ID, errMsg); err != nil {
			if errors.Is(err, repo.ErrInvalidState) {
				logger.Debug("late write-back discarded")
				return nil
			}
			return faults.Infrastructure(err)
		}
	}

	telemetry.ObserveTask(task.Department.String(), string(status), time.Since(started))

	logger.Info("task finished",
		"status", status,
		"retry_count", task.RetryCount,
		"duration", time.Since(started),
	)

	// Результат персистирован; уведомляем orchestrator.
	// Ошибка публикации не критична — orchestrator подхватит через polling.
	payload := mq.TaskResultPayload{
		TaskID:     task.ID,
		RequestID:  task.RequestID,
		Department: task.Department,
		Status:     string(status),
		Error:      domain.TruncateError(errMsg),
		RetryCount: task.RetryCount,
	}
	if s.publisher != nil {
		if err := s.publisher.PublishTaskResult(ctx, payload); err != nil {
			logger.Warn("failed to publish task.result", "error", err)
		}
	}

	return nil
}

// discardTask отменяет задачу отменённого request'а.
func (s *Supervisor) discardTask(ctx context.Context, logger *slog.Logger, task *domain.Task) error {
	if err := s.taskRepo.Cancel(ctx, task.ID); err != nil && !errors.Is(err, repo.ErrInvalidState) {
		return faults.Infrastructure(err)
	}

	telemetry.TasksTotal.WithLabelValues(task.Department.String(), string(domain.TaskStatusCancelled)).Inc()
	logger.Info("task cancelled, attempt result discarded")
	return nil
}

// backoffDelay — экспоненциальная задержка с jitter:
// base·2^(retry-1) + uniform(0, base), с потолком max.
func backoffDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}

	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			break
		}
	}

	delay += time.Duration(rand.Int63n(int64(base)))
	if delay > max {
		delay = max
	}

	return delay
}
