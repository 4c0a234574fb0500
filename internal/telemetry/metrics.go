package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "harvest"

var (
	// RetryEvents — события retry по классу ошибки.
	// event: classified, retry, recovered, exhausted, fatal.
	RetryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_events_total",
		Help:      "Retry wrapper events by error class and event type",
	}, []string{"class", "event"})

	// BreakerState — текущее состояние breaker'а (0 closed, 1 open, 2 half_open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state per resource (0 closed, 1 open, 2 half_open)",
	}, []string{"resource"})

	// BreakerRejections — вызовы, отклонённые открытым breaker'ом.
	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_rejections_total",
		Help:      "Calls rejected by an open circuit breaker",
	}, []string{"resource"})

	// LockAcquisitions — попытки захвата распределённой блокировки.
	// result: acquired, timeout, error.
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_acquisitions_total",
		Help:      "Distributed lock acquisitions by lock type and result",
	}, []string{"lock_type", "result"})

	// ScraperExecutions — завершённые вызовы scrapers.
	ScraperExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scraper_executions_total",
		Help:      "Finished scraper executions by scraper and status",
	}, []string{"scraper", "status"})

	// ScraperDuration — продолжительность вызовов scrapers (включая retry).
	ScraperDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scraper_duration_seconds",
		Help:      "Scraper execution duration including retries",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"scraper"})

	// WorkflowExecutions — завершённые выполнения workflow.
	WorkflowExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_executions_total",
		Help:      "Finished workflow executions by workflow and status",
	}, []string{"workflow", "status"})

	// HTTPRequests — запросы к HTTP API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP API requests by method and status code",
	}, []string{"method", "status"})
)
