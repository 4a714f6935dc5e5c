package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LedgerEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_ledger_entries_total",
		Help: "Количество записей журнала очков",
	}, []string{"reason"})

	LedgerDeltaSum = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "points_ledger_delta_sum",
		Help: "Сумма изменений баланса, записанных в журнал",
	}, []string{"reason"})

	TxConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_tx_conflicts_total",
		Help: "Конфликты сериализуемых транзакций",
	}, []string{"operation"})

	TxRetriesExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_tx_retries_exhausted_total",
		Help: "Операции, для которых исчерпаны повторы",
	}, []string{"operation"})

	TierChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_tier_changes_total",
		Help: "Переходы пользователей между ступенями",
	}, []string{"tier"})

	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_submissions_total",
		Help: "Заявки по типам и статусам",
	}, []string{"type", "status"})

	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "points_events_processed_total",
		Help: "Обработанные события очереди",
	}, []string{"kind", "status"})

	SchedulerJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Длительность периодических задач",
		Buckets: prometheus.DefBuckets,
	}, []string{"job", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LedgerEntriesTotal,
		LedgerDeltaSum,
		TxConflicts,
		TxRetriesExhausted,
		TierChanges,
		SubmissionsTotal,
		EventsProcessed,
		SchedulerJobDuration,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLedgerEntry учитывает зафиксированную запись журнала.
func ObserveLedgerEntry(reason string, delta int64) {
	if reason == "" {
		reason = "unknown"
	}
	LedgerEntriesTotal.WithLabelValues(reason).Inc()
	LedgerDeltaSum.WithLabelValues(reason).Add(float64(delta))
}

// IncTierChange учитывает переход на ступень.
func IncTierChange(tier string) {
	TierChanges.WithLabelValues(tier).Inc()
}

// IncSubmission учитывает заявку в указанном статусе.
func IncSubmission(submissionType, status string) {
	SubmissionsTotal.WithLabelValues(submissionType, status).Inc()
}

// IncEvent учитывает обработку события очереди.
func IncEvent(kind, status string) {
	EventsProcessed.WithLabelValues(kind, status).Inc()
}

// ObserveJob записывает длительность периодической задачи.
func ObserveJob(job string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SchedulerJobDuration.WithLabelValues(job, status).Observe(time.Since(start).Seconds())
}
