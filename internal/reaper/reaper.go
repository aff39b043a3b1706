package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/preference"
)

// Значения конфигурации по умолчанию.
const (
	defaultBatchSize        = 100
	defaultPreferenceMaxAge = 90 * 24 * time.Hour
)

// Reaper — фоновая уборка: просроченные checkpoint'ы и stale preferences.
//
// Цикл тиков и leader election живут в main: Tick вызывается только
// лидером.
type Reaper struct {
	machine     *engine.Machine
	graph       *engine.Graph
	checkpoints *checkpoint.Store
	preferences *preference.Matcher

	logger           *slog.Logger
	batchSize        int
	preferenceMaxAge time.Duration
}

// Config — конфигурация Reaper.
type Config struct {
	Machine     *engine.Machine
	Graph       *engine.Graph
	Checkpoints *checkpoint.Store
	Preferences *preference.Matcher

	Logger *slog.Logger

	BatchSize int // checkpoint'ов за один тик (default: 100)

	// PreferenceMaxAge — preference без использования дольше этого срока
	// удаляется (default: 90 дней).
	PreferenceMaxAge time.Duration
}

// New создаёт новый Reaper.
func New(cfg Config) *Reaper {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxAge := cfg.PreferenceMaxAge
	if maxAge <= 0 {
		maxAge = defaultPreferenceMaxAge
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		machine:          cfg.Machine,
		graph:            cfg.Graph,
		checkpoints:      cfg.Checkpoints,
		preferences:      cfg.Preferences,
		logger:           logger,
		batchSize:        batchSize,
		preferenceMaxAge: maxAge,
	}
}

// Tick выполняет один проход по просроченным checkpoint'ам.
//
// 1. Находит PENDING checkpoint'ы с timeout_at <= now
// 2. Переводит каждый в TIMEOUT
// 3. Проваливает удержанный шаг и task
//
// Ошибки одного checkpoint'а не блокируют обработку остальных.
func (r *Reaper) Tick(ctx context.Context) error {
	now := time.Now()

	expired, err := r.checkpoints.ListExpired(ctx, now, r.batchSize)
	if err != nil {
		return fmt.Errorf("list expired checkpoints: %w", err)
	}

	if len(expired) == 0 {
		return nil
	}

	r.logger.Debug("found expired checkpoints", "count", len(expired))

	var reaped int
	for i := range expired {
		if err := r.expireOne(ctx, &expired[i]); err != nil {
			r.logger.Error("failed to expire checkpoint",
				"checkpoint_id", expired[i].ID,
				"task_id", expired[i].TaskID,
				"error", err,
			)
			continue
		}
		reaped++
	}

	r.logger.Info("reaper tick completed", "expired", len(expired), "reaped", reaped)
	return nil
}

// expireOne переводит checkpoint в TIMEOUT и проваливает шаг с task'ом.
func (r *Reaper) expireOne(ctx context.Context, cp *domain.Checkpoint) error {
	if err := r.checkpoints.Expire(ctx, cp); err != nil {
		if errors.Is(err, checkpoint.ErrCheckpointConflict) {
			// Пользователь успел решить раньше — это не ошибка
			r.logger.Debug("checkpoint resolved before expiry",
				"checkpoint_id", cp.ID,
				"task_id", cp.TaskID,
			)
			return nil
		}
		return fmt.Errorf("expire checkpoint: %w", err)
	}

	reason := "checkpoint timed out"
	if err := r.graph.FailNode(ctx, cp.TaskID, cp.StepID, reason); err != nil {
		return fmt.Errorf("fail timed out step: %w", err)
	}

	updates := engine.Updates{Error: fmt.Sprintf("step %s %s", cp.StepID, reason)}
	task, err := r.machine.TransitionIfCurrent(ctx, cp.TaskID,
		domain.TaskStatusCheckpoint, domain.TaskStatusFailed, updates)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if task == nil {
		// Параллельный шаг мог вернуть task в EXECUTING
		if _, err := r.machine.TransitionIfCurrent(ctx, cp.TaskID,
			domain.TaskStatusExecuting, domain.TaskStatusFailed, updates); err != nil {
			return fmt.Errorf("fail task from executing: %w", err)
		}
	}

	r.logger.Warn("checkpoint timed out",
		"checkpoint_id", cp.ID,
		"task_id", cp.TaskID,
		"step_id", cp.StepID,
		"timeout_at", cp.TimeoutAt,
	)

	return nil
}

// PrunePreferences удаляет preferences, не использовавшиеся дольше
// PreferenceMaxAge.
func (r *Reaper) PrunePreferences(ctx context.Context) error {
	deleted, err := r.preferences.Prune(ctx, r.preferenceMaxAge)
	if err != nil {
		return fmt.Errorf("prune preferences: %w", err)
	}

	r.logger.Info("preferences pruned", "deleted", deleted, "max_age", r.preferenceMaxAge)
	return nil
}
