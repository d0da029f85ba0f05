package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/repo"
	"github.com/shaiso/Hivemind/internal/service"
	"github.com/shaiso/Hivemind/internal/telemetry"
)

// Default configuration values.
const (
	defaultPrefetch      = 5
	defaultInvokeTimeout = 60 * time.Second
	defaultPollInterval  = 10 * time.Second
	defaultBatchSize     = 50
)

// Операции хранилищ, используемые supervisor'ом.
// Реализуются internal/repo.
type taskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListPendingByDepartment(ctx context.Context, dept domain.Department, limit int) ([]domain.Task, error)
	ClaimRunning(ctx context.Context, id uuid.UUID) error
	MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error
	Complete(ctx context.Context, id uuid.UUID, output map[string]any) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

type requestStore interface {
	GetStatus(ctx context.Context, id uuid.UUID) (domain.RequestStatus, error)
}

type resultPublisher interface {
	PublishTaskResult(ctx context.Context, payload mq.TaskResultPayload) error
}

// Supervisor — tier-2 управляющий одного department.
//
// Supervisor — stateless компонент, который:
//   - Получает задачи из очереди своего department
//   - Атомарно забирает задачу через CAS (дубликаты доставки — no-op)
//   - Вызывает capability department'а с таймаутом
//   - Реализует retry с exponential backoff и потолком попыток
//   - Персистит терминальный статус и лишь затем подтверждает сообщение
//
// Supervisors масштабируются горизонтально — несколько экземпляров
// одного department могут потреблять из одной очереди.
type Supervisor struct {
	department domain.Department

	// Repositories
	taskRepo    taskStore
	requestRepo requestStore

	// MQ. publisher и conn могут быть nil: без брокера supervisor
	// живёт на одном polling.
	publisher resultPublisher
	conn      *mq.Connection
	consumer  *mq.Consumer

	// Capability registry
	registry *service.Registry

	// Configuration
	invokeTimeout time.Duration
	prefetch      int
	pollInterval  time.Duration
	batchSize     int
	retryBase     time.Duration
	retryMax      time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Supervisor.
type Config struct {
	// Department — department, который обслуживает supervisor.
	Department domain.Department

	// Repositories
	TaskRepo    *repo.TaskRepo
	RequestRepo *repo.RequestRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Registry — реестр capabilities
	// (опционально; если nil — используется DefaultRegistry()).
	Registry *service.Registry

	// InvokeTimeout — таймаут одного вызова capability (default: 60s).
	InvokeTimeout time.Duration

	// Prefetch — количество сообщений для предварительной загрузки (default: 5).
	Prefetch int

	// PollInterval — интервал polling-fallback по базе (default: 10s).
	PollInterval time.Duration

	// BatchSize — количество задач за один poll (default: 50).
	BatchSize int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if !cfg.Department.IsKnown() {
		return nil, fmt.Errorf("unknown department: %q", cfg.Department)
	}

	invokeTimeout := cfg.InvokeTimeout
	if invokeTimeout <= 0 {
		invokeTimeout = defaultInvokeTimeout
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("department", cfg.Department)

	registry := cfg.Registry
	if registry == nil {
		registry = service.DefaultRegistry()
	}

	// Проверяем, что department вообще обслуживается
	if _, err := registry.ForDepartment(cfg.Department); err != nil {
		return nil, err
	}

	// Typed-nil: (*mq.Publisher)(nil) в интерфейсе не равен nil,
	// поэтому присваиваем только живой publisher
	var publisher resultPublisher
	if cfg.Publisher != nil {
		publisher = cfg.Publisher
	}

	return &Supervisor{
		department:    cfg.Department,
		taskRepo:      cfg.TaskRepo,
		requestRepo:   cfg.RequestRepo,
		publisher:     publisher,
		conn:          cfg.Conn,
		registry:      registry,
		invokeTimeout: invokeTimeout,
		prefetch:      prefetch,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		retryBase:     retryBaseDelay,
		retryMax:      retryMaxDelay,
		logger:        logger,
	}, nil
}

// Start запускает Supervisor.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting supervisor",
		"queue", mq.DepartmentQueue(s.department),
		"invoke_timeout", s.invokeTimeout,
		"poll_interval", s.pollInterval,
	)

	// Без брокера consumer не поднимается: задачи подбирает
	// polling по базе
	if s.conn != nil {
		s.consumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.DepartmentQueue(s.department)),
			Handler:  s.handleDispatch,
			Prefetch: s.prefetch,
		})

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("dispatch consumer error", "error", err)
			}
		}()
	} else {
		s.logger.Warn("message broker is not connected, running in polling-only mode")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()

	s.logger.Info("supervisor started")
	return nil
}

// pollLoop — polling-fallback: PENDING задачи department'а, чья
// публикация потерялась, всё равно будут выполнены.
func (s *Supervisor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling. Ошибка одной задачи не блокирует
// обработку остальных.
func (s *Supervisor) poll(ctx context.Context) {
	tasks, err := s.taskRepo.ListPendingByDepartment(ctx, s.department, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list pending tasks", "error", err)
		return
	}

	for i := range tasks {
		if ctx.Err() != nil {
			return
		}
		if err := s.processTask(ctx, tasks[i].ID); err != nil {
			s.logger.Error("failed to process polled task",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}

// processTask забирает задачу по ID и выполняет её. Проигранный CAS —
// no-op: задачу уже взял consumer или другой экземпляр.
func (s *Supervisor) processTask(ctx context.Context, taskID uuid.UUID) error {
	if err := s.taskRepo.ClaimRunning(ctx, taskID); err != nil {
		if errors.Is(err, repo.ErrTerminal) ||
			errors.Is(err, repo.ErrInvalidState) ||
			errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}

	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	logger := telemetry.WithTaskID(s.logger, task.ID.String())
	logger = telemetry.WithRequestID(logger, task.RequestID.String())
	return s.runTask(ctx, logger, task)
}

// Stop останавливает Supervisor.
func (s *Supervisor) Stop() {
	s.logger.Info("stopping supervisor...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	if s.consumer != nil {
		s.consumer.Stop()
	}

	s.wg.Wait()

	s.logger.Info("supervisor stopped")
}
