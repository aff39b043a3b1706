// Package store — двухуровневое хранилище: durable-слой в Postgres
// плюс in-process read-реплика.
//
// Все записи идут сначала в durable-слой; после успешной записи
// снапшот задачи в кеше синхронно заменяется целиком. Сбой обновления
// кеша не роняет операцию: реплика просто промахнётся, и чтение
// упадёт обратно в БД.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/cache"
	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/repo"
	"github.com/ivolkov/Praxis/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store реализует engine.TaskStore, engine.StepStore,
// checkpoint.Repository и preference.Store поверх Postgres и кеша.
type Store struct {
	tasks       *repo.TaskRepo
	steps       *repo.StepRepo
	checkpoints *repo.CheckpointRepo
	preferences *repo.PreferenceRepo

	cache  *cache.Cache
	logger *slog.Logger
}

// New создаёт Store поверх пула соединений.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tasks:       repo.NewTaskRepo(pool),
		steps:       repo.NewStepRepo(pool),
		checkpoints: repo.NewCheckpointRepo(pool),
		preferences: repo.NewPreferenceRepo(pool),
		cache:       cache.New(),
		logger:      logger,
	}
}

// --- Tasks ---

// CreateTask атомарно создаёт task вместе со всеми шагами плана.
func (s *Store) CreateTask(ctx context.Context, task *domain.Task, steps []domain.Step) error {
	if err := s.tasks.Create(ctx, task); err != nil {
		return err
	}
	if len(steps) > 0 {
		if err := s.steps.CreateBatch(ctx, steps); err != nil {
			return err
		}
	}
	s.refreshSnapshot(ctx, task.ID)
	return nil
}

// GetTask возвращает task: сначала из кеша, при промахе из БД
// с репопуляцией снапшота.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if task, ok := s.cache.GetTask(id); ok {
		return task, nil
	}

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, engine.ErrTaskNotFound
		}
		return nil, err
	}

	s.refreshSnapshot(ctx, id)
	return task, nil
}

// UpdateTask записывает task условно по версии. Возвращает
// engine.ErrStaleTask при проигрыше гонки версий.
//
// При любом сбое записи снапшот выкидывается из реплики: проигранная
// гонка означает, что durable-состояние ушло вперёд (возможно, из
// другого инстанса), и retry обязан перечитать его из БД, а не из кеша.
func (s *Store) UpdateTask(ctx context.Context, task *domain.Task) error {
	task.UpdatedAt = time.Now()

	if err := s.tasks.Update(ctx, task); err != nil {
		s.cache.Drop(task.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return engine.ErrTaskNotFound
		case errors.Is(err, repo.ErrVersionConflict):
			return engine.ErrStaleTask
		default:
			return err
		}
	}

	s.refreshSnapshot(ctx, task.ID)
	return nil
}

// ListTasksByStatus возвращает tasks в статусе из durable-слоя.
// Идёт мимо кеша: polling-цикл должен видеть и то, что реплика
// ещё не приняла.
func (s *Store) ListTasksByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	return s.tasks.ListByStatus(ctx, status, limit)
}

// ListTasksByOwner возвращает tasks пользователя.
func (s *Store) ListTasksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Task, error) {
	return s.tasks.ListByOwner(ctx, ownerID, limit)
}

// CountTasksByStatus возвращает количество tasks в статусе.
func (s *Store) CountTasksByStatus(ctx context.Context, status domain.TaskStatus) (int, error) {
	return s.tasks.CountByStatus(ctx, status)
}

// --- Steps ---

// ListSteps возвращает шаги task: из кеша или из БД при промахе.
func (s *Store) ListSteps(ctx context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	if snapshot, ok := s.cache.Get(taskID); ok {
		return snapshot.Steps, nil
	}
	return s.steps.ListByTaskID(ctx, taskID)
}

// GetStep возвращает шаг task по step_id.
func (s *Store) GetStep(ctx context.Context, taskID uuid.UUID, stepID string) (*domain.Step, error) {
	if step, ok := s.cache.GetStep(taskID, stepID); ok {
		return step, nil
	}

	step, err := s.steps.GetByTaskAndStepID(ctx, taskID, stepID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, engine.ErrStepNotFound
		}
		return nil, err
	}
	return step, nil
}

// UpdateStep записывает шаг и обновляет снапшот задачи.
func (s *Store) UpdateStep(ctx context.Context, step *domain.Step) error {
	if err := s.steps.Update(ctx, step); err != nil {
		s.cache.Drop(step.TaskID)
		if errors.Is(err, repo.ErrNotFound) {
			return engine.ErrStepNotFound
		}
		return err
	}
	s.refreshSnapshot(ctx, step.TaskID)
	return nil
}

// --- Checkpoints (checkpoint.Repository) ---

func (s *Store) InsertCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	if err := s.checkpoints.Create(ctx, cp); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return checkpoint.ErrCheckpointExists
		}
		return err
	}
	s.refreshSnapshot(ctx, cp.TaskID)
	return nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	cp, err := s.checkpoints.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, checkpoint.ErrCheckpointNotFound
		}
		return nil, err
	}
	return cp, nil
}

func (s *Store) GetPendingCheckpoint(ctx context.Context, taskID uuid.UUID, stepID string) (*domain.Checkpoint, error) {
	cp, err := s.checkpoints.GetPendingByStep(ctx, taskID, stepID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, checkpoint.ErrCheckpointNotFound
		}
		return nil, err
	}
	return cp, nil
}

func (s *Store) ResolveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	if err := s.checkpoints.Resolve(ctx, cp); err != nil {
		s.cache.Drop(cp.TaskID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return checkpoint.ErrCheckpointNotFound
		case errors.Is(err, repo.ErrVersionConflict):
			return checkpoint.ErrCheckpointConflict
		default:
			return err
		}
	}
	s.refreshSnapshot(ctx, cp.TaskID)
	return nil
}

func (s *Store) ListPendingCheckpoints(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	if snapshot, ok := s.cache.Get(taskID); ok {
		return snapshot.Checkpoints, nil
	}
	return s.checkpoints.ListPendingByTask(ctx, taskID)
}

func (s *Store) ListTaskCheckpoints(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	return s.checkpoints.ListByTask(ctx, taskID)
}

func (s *Store) ListExpiredCheckpoints(ctx context.Context, now time.Time, limit int) ([]domain.Checkpoint, error) {
	return s.checkpoints.ListExpired(ctx, now, limit)
}

// ListPendingCheckpointsAll возвращает PENDING checkpoint'ы всех задач.
func (s *Store) ListPendingCheckpointsAll(ctx context.Context, limit int) ([]domain.Checkpoint, error) {
	return s.checkpoints.ListPendingAll(ctx, limit)
}

// --- Preferences (preference.Store) ---

func (s *Store) ListPreferences(ctx context.Context, userID, key string) ([]domain.Preference, error) {
	return s.preferences.ListByUserAndKey(ctx, userID, key)
}

func (s *Store) InsertPreference(ctx context.Context, pref *domain.Preference) error {
	return s.preferences.Create(ctx, pref)
}

func (s *Store) UpdatePreference(ctx context.Context, pref *domain.Preference) error {
	if err := s.preferences.Update(ctx, pref); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("preference %s: %w", pref.ID, err)
		}
		return err
	}
	return nil
}

func (s *Store) DeletePreferencesUnusedSince(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.preferences.DeleteUnusedSince(ctx, cutoff)
}

// ListUserPreferences возвращает все preferences пользователя.
func (s *Store) ListUserPreferences(ctx context.Context, userID string) ([]domain.Preference, error) {
	return s.preferences.ListByUser(ctx, userID)
}

// --- Cache ---

// refreshSnapshot перечитывает задачу из durable-слоя и заменяет её
// снапшот в кеше целиком. Сбой не пробрасывается: durable-запись уже
// прошла, реплика догонит при следующем чтении.
func (s *Store) refreshSnapshot(ctx context.Context, taskID uuid.UUID) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		s.dropOnRefreshFailure(taskID, "read task", err)
		return
	}

	steps, err := s.steps.ListByTaskID(ctx, taskID)
	if err != nil {
		s.dropOnRefreshFailure(taskID, "list steps", err)
		return
	}

	pending, err := s.checkpoints.ListPendingByTask(ctx, taskID)
	if err != nil {
		s.dropOnRefreshFailure(taskID, "list checkpoints", err)
		return
	}

	s.cache.Put(&cache.TaskSnapshot{
		Task:        task,
		Steps:       steps,
		Checkpoints: pending,
	})
}

// dropOnRefreshFailure логирует сбой обновления реплики и выкидывает
// устаревший снапшот, чтобы читатели ушли в durable-слой.
func (s *Store) dropOnRefreshFailure(taskID uuid.UUID, stage string, err error) {
	telemetry.CacheRefreshFailures.Inc()
	s.logger.Warn("cache refresh failed: "+stage, "task_id", taskID, "error", err)
	s.cache.Drop(taskID)
}

// DropFromCache выкидывает задачу из реплики.
func (s *Store) DropFromCache(taskID uuid.UUID) {
	s.cache.Drop(taskID)
}
