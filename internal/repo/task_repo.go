package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create создаёт новый task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, org_id, goal, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.OwnerID,
		nullString(task.OrgID),
		task.Goal,
		task.Status,
		task.Version,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT id, owner_id, org_id, goal, status, version, error, cancel_reason,
		       started_at, completed_at, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// Update записывает task условно: проходит только если версия в БД
// совпадает с прочитанной. Версия инкрементируется при записи.
// Возвращает ErrVersionConflict при несовпадении версии.
func (r *TaskRepo) Update(ctx context.Context, task *domain.Task) error {
	query := `
		UPDATE tasks
		SET status = $3, error = $4, cancel_reason = $5,
		    started_at = $6, completed_at = $7, updated_at = $8,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Version,
		task.Status,
		nullString(task.Error),
		nullString(task.CancelReason),
		task.StartedAt,
		task.CompletedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Различаем отсутствие записи и проигрыш гонки версий
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, task.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check task existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	task.Version++
	return nil
}

// ListByStatus возвращает tasks в заданном статусе, старые раньше.
// Используется polling-циклом оркестратора как страховка от
// потерянных сообщений.
func (r *TaskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	query := `
		SELECT id, owner_id, org_id, goal, status, version, error, cancel_reason,
		       started_at, completed_at, created_at, updated_at
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ListByOwner возвращает tasks пользователя, новые раньше.
func (r *TaskRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Task, error) {
	query := `
		SELECT id, owner_id, org_id, goal, status, version, error, cancel_reason,
		       started_at, completed_at, created_at, updated_at
		FROM tasks
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by owner: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// CountByStatus возвращает количество tasks в заданном статусе.
func (r *TaskRepo) CountByStatus(ctx context.Context, status domain.TaskStatus) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks WHERE status = $1
	`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// --- Helpers ---

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var orgID, taskError, cancelReason *string

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&orgID,
		&task.Goal,
		&task.Status,
		&task.Version,
		&taskError,
		&cancelReason,
		&task.StartedAt,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if orgID != nil {
		task.OrgID = *orgID
	}
	if taskError != nil {
		task.Error = *taskError
	}
	if cancelReason != nil {
		task.CancelReason = *cancelReason
	}

	return &task, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
