package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра оркестрации. Регистрируются в default registry
// и отдаются через promhttp на /metrics каждого процесса.
var (
	// RequestsTotal — завершённые requests по терминальному статусу.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Name:      "requests_total",
		Help:      "Requests that reached a terminal status.",
	}, []string{"status"})

	// RequestDuration — длительность обработки request от submit
	// до терминального статуса.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hivemind",
		Name:      "request_duration_seconds",
		Help:      "Request processing duration from submit to terminal status.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// TasksTotal — завершённые задачи по department и статусу.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Name:      "tasks_total",
		Help:      "Tasks that reached a terminal status.",
	}, []string{"department", "status"})

	// TaskRetriesTotal — повторные попытки по department.
	TaskRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Name:      "task_retries_total",
		Help:      "Failed task attempts that were retried.",
	}, []string{"department"})

	// TaskDuration — длительность выполнения задачи по department.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hivemind",
		Name:      "task_duration_seconds",
		Help:      "Task execution duration per department.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"department"})

	// ProposalsTotal — proposals по исходу review.
	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Name:      "proposals_total",
		Help:      "Proposals by review outcome.",
	}, []string{"status"})
)

// ObserveTask записывает метрики завершённой задачи.
func ObserveTask(department, status string, duration time.Duration) {
	TasksTotal.WithLabelValues(department, status).Inc()
	if duration > 0 {
		TaskDuration.WithLabelValues(department).Observe(duration.Seconds())
	}
}

// ObserveRequest записывает метрики завершённого request.
func ObserveRequest(status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		RequestDuration.Observe(duration.Seconds())
	}
}
