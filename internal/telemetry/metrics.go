package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в default-регистри и отдаются
// promhttp-хендлером на /metrics каждого сервиса.
var (
	// TaskTransitions — переходы конечного автомата по рёбрам.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_task_transitions_total",
		Help: "Task status transitions by edge",
	}, []string{"from", "to"})

	// StepsDispatched — шаги, отправленные агентам.
	StepsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_steps_dispatched_total",
		Help: "Steps dispatched to agents by agent type",
	}, []string{"agent_type"})

	// StepsCompleted — завершившиеся шаги по итоговому статусу.
	StepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_steps_completed_total",
		Help: "Finished steps by terminal status",
	}, []string{"status"})

	// CheckpointsCreated — созданные checkpoint'ы по типу.
	CheckpointsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_checkpoints_created_total",
		Help: "Checkpoints created by type",
	}, []string{"type"})

	// CheckpointsResolved — решённые checkpoint'ы по итоговому статусу.
	CheckpointsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "praxis_checkpoints_resolved_total",
		Help: "Checkpoints resolved by terminal status",
	}, []string{"status"})

	// AutoApprovals — checkpoint'ы, одобренные preference matcher'ом.
	AutoApprovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "praxis_checkpoint_auto_approvals_total",
		Help: "Checkpoints auto-approved from learned preferences",
	})

	// CacheRefreshFailures — сбои синхронного обновления read-реплики.
	CacheRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "praxis_cache_refresh_failures_total",
		Help: "Failed task snapshot refreshes after durable writes",
	})

	// ReaperExpirations — checkpoint'ы, закрытые reaper'ом по таймауту.
	ReaperExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "praxis_checkpoint_expirations_total",
		Help: "Pending checkpoints expired by the reaper",
	})
)
