package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/repo"
)

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	requestRepo  *repo.RequestRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	RequestRepo  *repo.RequestRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		requestRepo:  cfg.RequestRepo,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт request
// 3. Обновляет next_due_at
// 4. Публикует requests.submitted в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		requestCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if requestCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"requests_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если request был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// Idempotency key: "{schedule_id}_{next_due_at_unix}".
	// Для одного schedule и конкретного времени создаётся ровно
	// один request, сколько бы тиков его ни увидело
	dueAt := now
	if sched.NextDueAt != nil {
		dueAt = *sched.NextDueAt
	}
	idempKey := fmt.Sprintf("%s_%d", sched.ID, dueAt.Unix())

	existing, err := s.requestRepo.GetByIdempotencyKey(ctx, sched.TenantID, idempKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	var requestCreated bool
	var requestID uuid.UUID

	if existing != nil {
		s.logger.Debug("request already exists (idempotency)",
			"schedule_id", sched.ID,
			"request_id", existing.ID,
			"idempotency_key", idempKey,
		)
		requestID = existing.ID
	} else {
		req := &domain.Request{
			ID:             uuid.New(),
			TenantID:       sched.TenantID,
			Kind:           sched.Kind,
			Params:         sched.Params,
			Status:         domain.RequestStatusPending,
			IdempotencyKey: idempKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := s.requestRepo.Create(ctx, req); err != nil {
			if errors.Is(err, repo.ErrAlreadyExists) {
				// Гонка с другим тиком — запрос уже создан
				return false, nil
			}
			return false, fmt.Errorf("create request: %w", err)
		}

		s.logger.Info("created request from schedule",
			"request_id", req.ID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"kind", sched.Kind,
		)

		requestID = req.ID
		requestCreated = true
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, leaving schedule as is",
			"schedule_id", sched.ID,
			"error", err,
		)
		return requestCreated, nil
	}

	sched.RecordRun(requestID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return requestCreated, fmt.Errorf("update schedule: %w", err)
	}

	// Событие — best effort: orchestrator подхватит request
	// через polling, даже если публикация не удалась
	if s.publisher != nil && requestCreated {
		if err := s.publisher.PublishRequestSubmitted(ctx, requestID, sched.TenantID); err != nil {
			s.logger.Warn("failed to publish request submitted",
				"request_id", requestID,
				"error", err,
			)
		}
	}

	return requestCreated, nil
}
