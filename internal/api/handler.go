package api

import (
	"log/slog"

	"github.com/shaiso/Hivemind/internal/mq"
	"github.com/shaiso/Hivemind/internal/notify"
	"github.com/shaiso/Hivemind/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	requestRepo  *repo.RequestRepo
	taskRepo     *repo.TaskRepo
	proposalRepo *repo.ProposalRepo
	scheduleRepo *repo.ScheduleRepo
	publisher    *mq.Publisher
	notifier     *notify.Notifier
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RequestRepo  *repo.RequestRepo
	TaskRepo     *repo.TaskRepo
	ProposalRepo *repo.ProposalRepo
	ScheduleRepo *repo.ScheduleRepo
	Publisher    *mq.Publisher
	Notifier     *notify.Notifier
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		requestRepo:  cfg.RequestRepo,
		taskRepo:     cfg.TaskRepo,
		proposalRepo: cfg.ProposalRepo,
		scheduleRepo: cfg.ScheduleRepo,
		publisher:    cfg.Publisher,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
	}
}
