package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Hivemind/internal/domain"
	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/notify"
	"github.com/shaiso/Hivemind/internal/plan"
	"github.com/shaiso/Hivemind/internal/repo"
	"github.com/shaiso/Hivemind/internal/service"
)

// Default configuration values.
const (
	defaultPollInterval  = 10 * time.Second
	defaultBatchSize     = 100
	defaultLeaseDuration = 2 * time.Minute
)

// Операции хранилищ, используемые orchestrator'ом.
// Реализуются internal/repo.
type requestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	GetStatus(ctx context.Context, id uuid.UUID) (domain.RequestStatus, error)
	ListPending(ctx context.Context, limit int) ([]domain.Request, error)
	ListStale(ctx context.Context, now time.Time, limit int) ([]domain.Request, error)
	ClaimPending(ctx context.Context, id, claimedBy uuid.UUID, leaseUntil time.Time) error
	ClaimStale(ctx context.Context, id, claimedBy uuid.UUID, now, leaseUntil time.Time) error
	RefreshLease(ctx context.Context, id, claimedBy uuid.UUID, leaseUntil time.Time) error
	SaveCheckpoint(ctx context.Context, id uuid.UUID, cp *domain.Checkpoint) error
	Complete(ctx context.Context, id uuid.UUID, summary string, data map[string]any) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
}

type taskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	GetByRequestAndDepartment(ctx context.Context, requestID uuid.UUID, dept domain.Department) (*domain.Task, error)
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error)
	CancelNonTerminal(ctx context.Context, requestID uuid.UUID) (int, error)
}

type proposalStore interface {
	Create(ctx context.Context, p *domain.Proposal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Proposal, error)
	ClaimExecuting(ctx context.Context, id uuid.UUID) error
	MarkExecuted(ctx context.Context, id uuid.UUID, logs string) error
	MarkExecutionFailed(ctx context.Context, id uuid.UUID, logs string) error
}

type dispatchPublisher interface {
	PublishTaskDispatch(ctx context.Context, payload mq.TaskDispatchPayload) error
}

// Orchestrator — tier-1 управляющий обработкой requests.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые requests из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending и осиротевшие requests (polling fallback)
//   - Строит план декомпозиции и пишет его в checkpoint (write-ahead)
//   - Диспетчеризует задачи в очереди departments по мере готовности
//   - Собирает терминальные статусы задач и детерминированно сливает результаты
//   - Выполняет одобренные proposals
//
// Ровно один orchestrator владеет каждым request: владение держится
// через lease (claimed_by + lease_until), захват — CAS. Осиротевший
// request (lease истёк) перехватывает любой живой экземпляр.
type Orchestrator struct {
	// instanceID идентифицирует экземпляр в lease.
	instanceID uuid.UUID

	// Repositories
	requestRepo  requestStore
	taskRepo     taskStore
	proposalRepo proposalStore

	// MQ. publisher и conn могут быть nil: без брокера orchestrator
	// работает в polling-only режиме.
	publisher dispatchPublisher
	conn      *mq.Connection

	// Planner строит план декомпозиции request'а.
	planner *plan.Planner

	// Registry нужен для выполнения одобренных proposals (run_action).
	registry *service.Registry

	// Notifier — уведомления о смене статусов (nil-safe).
	notifier *notify.Notifier

	// Active requests — requests в обработке (requestID → state)
	active map[uuid.UUID]*RequestState
	mu     sync.RWMutex

	// Consumers
	requestConsumer  *mq.Consumer
	resultConsumer   *mq.Consumer
	proposalConsumer *mq.Consumer

	// Configuration
	pollInterval  time.Duration
	batchSize     int
	leaseDuration time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	RequestRepo  *repo.RequestRepo
	TaskRepo     *repo.TaskRepo
	ProposalRepo *repo.ProposalRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Registry — реестр capabilities для run_action
	// (опционально; если nil — используется DefaultRegistry()).
	Registry *service.Registry

	// Notifier — уведомления о статусах (опционально).
	Notifier *notify.Notifier

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество requests за один poll (default: 100)

	// LeaseDuration — срок lease на request (default: 2m).
	LeaseDuration time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = service.DefaultRegistry()
	}

	instanceID := uuid.New()

	// Typed-nil: (*mq.Publisher)(nil) в интерфейсе не равен nil,
	// поэтому присваиваем только живой publisher
	var publisher dispatchPublisher
	if cfg.Publisher != nil {
		publisher = cfg.Publisher
	}

	return &Orchestrator{
		instanceID:    instanceID,
		requestRepo:   cfg.RequestRepo,
		taskRepo:      cfg.TaskRepo,
		proposalRepo:  cfg.ProposalRepo,
		publisher:     publisher,
		conn:          cfg.Conn,
		planner:       plan.NewPlanner(),
		registry:      registry,
		notifier:      cfg.Notifier,
		active:        make(map[uuid.UUID]*RequestState),
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		leaseDuration: leaseDuration,
		logger:        logger.With("instance_id", instanceID),
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для requests.submitted
//   - Consumer для tasks.results
//   - Consumer для proposals.approved
//   - Polling горутину (pending + осиротевшие requests)
//   - Горутину продления lease активных requests
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"lease_duration", o.leaseDuration,
	)

	// Без брокера consumers не поднимаются: requests и результаты
	// задач подхватывает polling по базе
	if o.conn != nil {
		o.requestConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRequestsSubmitted),
			Handler:  o.handleRequestSubmitted,
			Prefetch: 10,
		})

		o.resultConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTaskResults),
			Handler:  o.handleTaskResult,
			Prefetch: 10,
		})

		o.proposalConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueProposalsApproved),
			Handler:  o.handleProposalApproved,
			Prefetch: 5,
		})

		for _, consumer := range []*mq.Consumer{o.requestConsumer, o.resultConsumer, o.proposalConsumer} {
			c := consumer
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "error", err)
				}
			}()
		}
	} else {
		o.logger.Warn("message broker is not connected, running in polling-only mode")
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.leaseLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
//
// Активные requests остаются в PROCESSING с текущим checkpoint:
// после истечения lease их перехватит другой экземпляр (или этот же
// после рестарта) и продолжит с последней фазы.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	for _, consumer := range []*mq.Consumer{o.requestConsumer, o.resultConsumer, o.proposalConsumer} {
		if consumer != nil {
			consumer.Stop()
		}
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_requests", len(o.active),
	)
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте: подхватываем requests,
	// созданные или осиротевшие пока экземпляров не было
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: новые pending requests,
// осиротевшие (lease истёк), плюс сверка активных requests с базой.
func (o *Orchestrator) poll(ctx context.Context) {
	pending, err := o.requestRepo.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending requests", "error", err)
	} else {
		for i := range pending {
			req := &pending[i]
			if o.isActive(req.ID) {
				continue
			}
			if err := o.processRequest(ctx, req.ID); err != nil && !expectedClaimFailure(err) {
				o.logger.Error("failed to process pending request",
					"request_id", req.ID,
					"error", err,
				)
			}
		}
	}

	stale, err := o.requestRepo.ListStale(ctx, time.Now(), o.batchSize)
	if err != nil {
		o.logger.Error("failed to list stale requests", "error", err)
		return
	}
	for i := range stale {
		req := &stale[i]
		if o.isActive(req.ID) {
			continue
		}
		if err := o.resumeRequest(ctx, req.ID); err != nil && !expectedClaimFailure(err) {
			o.logger.Error("failed to resume stale request",
				"request_id", req.ID,
				"error", err,
			)
		}
	}

	o.syncActive(ctx)
}

// syncActive сверяет активные requests с терминальными статусами задач
// в базе. Источник истины — таблица tasks: если сообщение tasks.results
// потерялось, сверка всё равно доведёт request до финализации.
func (o *Orchestrator) syncActive(ctx context.Context) {
	o.mu.RLock()
	states := make([]*RequestState, 0, len(o.active))
	for _, state := range o.active {
		states = append(states, state)
	}
	o.mu.RUnlock()

	for _, state := range states {
		if err := o.syncRequest(ctx, state); err != nil {
			o.logger.Error("failed to sync request with task store",
				"request_id", state.RequestID(),
				"error", err,
			)
		}
	}
}

// syncRequest применяет к state терминальные статусы задач из базы
// и продвигает request дальше. Идемпотентен: без расхождений — no-op.
func (o *Orchestrator) syncRequest(ctx context.Context, state *RequestState) error {
	tasks, err := o.taskRepo.ListByRequestID(ctx, state.RequestID())
	if err != nil {
		return err
	}

	for i := range tasks {
		if state.ApplyTerminal(&tasks[i]) {
			o.logger.Info("recovered task status from store",
				"request_id", state.RequestID(),
				"task_id", tasks[i].ID,
				"department", tasks[i].Department,
				"status", tasks[i].Status,
			)
		}
	}

	// advance также проверяет кооперативную отмену, поэтому
	// вызывается и без расхождений
	return o.advance(ctx, state)
}

// leaseLoop периодически продлевает lease активных requests.
func (o *Orchestrator) leaseLoop(ctx context.Context) {
	// Продлеваем в середине срока, чтобы пережить один пропуск
	interval := o.leaseDuration / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshLeases(ctx)
		}
	}
}

// refreshLeases продлевает lease всех активных requests.
func (o *Orchestrator) refreshLeases(ctx context.Context) {
	o.mu.RLock()
	ids := make([]uuid.UUID, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	until := time.Now().Add(o.leaseDuration)
	for _, id := range ids {
		if err := o.requestRepo.RefreshLease(ctx, id, o.instanceID, until); err != nil {
			// Lease потерян — другой экземпляр перехватил request
			o.logger.Warn("lost request lease, releasing local state",
				"request_id", id,
				"error", err,
			)
			o.removeActive(id)
		}
	}
}

// expectedClaimFailure — проигранный CAS на claim не является ошибкой:
// request забрал другой экземпляр.
func expectedClaimFailure(err error) bool {
	return errors.Is(err, ErrRequestNotClaimable) ||
		errors.Is(err, ErrRequestAlreadyActive) ||
		errors.Is(err, repo.ErrInvalidState)
}

// isActive проверяет, обрабатывается ли request этим экземпляром.
func (o *Orchestrator) isActive(requestID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.active[requestID]
	return exists
}

// getActive возвращает активный RequestState.
func (o *Orchestrator) getActive(requestID uuid.UUID) *RequestState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active[requestID]
}

// addActive добавляет request в активные.
func (o *Orchestrator) addActive(state *RequestState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.active[state.RequestID()]; exists {
		return ErrRequestAlreadyActive
	}

	o.active[state.RequestID()] = state
	return nil
}

// removeActive удаляет request из активных.
func (o *Orchestrator) removeActive(requestID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, requestID)
}

// ActiveCount возвращает количество активных requests.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// ActiveStats возвращает статистику по активному request.
func (o *Orchestrator) ActiveStats(requestID uuid.UUID) (RequestStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.active[requestID]
	if !exists {
		return RequestStats{}, false
	}
	return state.Stats(), true
}
