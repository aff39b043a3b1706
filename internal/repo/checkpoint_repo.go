package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckpointRepo — репозиторий для работы с checkpoint'ами.
// Записи append-only: resolve меняет статус, но никогда не удаляет.
type CheckpointRepo struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepo создаёт новый CheckpointRepo.
func NewCheckpointRepo(pool *pgxpool.Pool) *CheckpointRepo {
	return &CheckpointRepo{pool: pool}
}

// Create создаёт новый checkpoint.
//
// Единственность PENDING на пару (task, step) держит частичный
// уникальный индекс:
//
//	CREATE UNIQUE INDEX checkpoints_pending_uniq
//	    ON checkpoints (task_id, step_id) WHERE status = 'PENDING';
//
// Проигравший гонку вставки получает ErrAlreadyExists и должен
// перечитать запись победителя.
func (r *CheckpointRepo) Create(ctx context.Context, cp *domain.Checkpoint) error {
	previewJSON, err := json.Marshal(cp.Preview)
	if err != nil {
		return fmt.Errorf("marshal preview: %w", err)
	}

	query := `
		INSERT INTO checkpoints (id, task_id, step_id, type, status, version,
		                         preference_key, preview, timeout_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		cp.ID,
		cp.TaskID,
		cp.StepID,
		cp.Type,
		cp.Status,
		cp.Version,
		nullString(cp.PreferenceKey),
		previewJSON,
		cp.TimeoutAt,
		cp.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert checkpoint: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// GetByID возвращает checkpoint по ID.
func (r *CheckpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	query := checkpointSelect + ` WHERE id = $1`
	return scanCheckpoint(r.pool.QueryRow(ctx, query, id))
}

// GetPendingByStep возвращает PENDING checkpoint пары (task, step).
func (r *CheckpointRepo) GetPendingByStep(ctx context.Context, taskID uuid.UUID, stepID string) (*domain.Checkpoint, error) {
	query := checkpointSelect + `
		WHERE task_id = $1 AND step_id = $2 AND status = 'PENDING'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanCheckpoint(r.pool.QueryRow(ctx, query, taskID, stepID))
}

// Resolve записывает решение условно: только если запись всё ещё
// PENDING и версия совпадает с прочитанной. Возвращает
// ErrVersionConflict при проигрыше гонки.
func (r *CheckpointRepo) Resolve(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		UPDATE checkpoints
		SET status = $3, decision = $4, decided_by = $5, decided_at = $6,
		    feedback = $7, version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query,
		cp.ID,
		cp.Version,
		cp.Status,
		nullString(string(cp.Decision)),
		nullString(cp.DecidedBy),
		cp.DecidedAt,
		nullString(cp.Feedback),
	)
	if err != nil {
		return fmt.Errorf("resolve checkpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkpoints WHERE id = $1)`, cp.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check checkpoint existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	cp.Version++
	return nil
}

// ListPendingByTask возвращает PENDING checkpoint'ы task.
func (r *CheckpointRepo) ListPendingByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	query := checkpointSelect + `
		WHERE task_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, taskID)
}

// ListByTask возвращает всю историю checkpoint'ов task.
func (r *CheckpointRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	query := checkpointSelect + `
		WHERE task_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, taskID)
}

// ListPendingAll возвращает PENDING checkpoint'ы всех задач,
// старые раньше.
func (r *CheckpointRepo) ListPendingAll(ctx context.Context, limit int) ([]domain.Checkpoint, error) {
	query := checkpointSelect + `
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// ListExpired возвращает PENDING checkpoint'ы с истёкшим дедлайном.
func (r *CheckpointRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Checkpoint, error) {
	query := checkpointSelect + `
		WHERE status = 'PENDING' AND timeout_at < $1
		ORDER BY timeout_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

// --- Helpers ---

const checkpointSelect = `
	SELECT id, task_id, step_id, type, status, version, preference_key,
	       preview, decision, decided_by, decided_at, feedback,
	       timeout_at, created_at
	FROM checkpoints
`

func (r *CheckpointRepo) list(ctx context.Context, query string, args ...any) ([]domain.Checkpoint, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}

func scanCheckpoint(row pgx.Row) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var preferenceKey, decision, decidedBy, feedback *string
	var previewJSON []byte

	err := row.Scan(
		&cp.ID,
		&cp.TaskID,
		&cp.StepID,
		&cp.Type,
		&cp.Status,
		&cp.Version,
		&preferenceKey,
		&previewJSON,
		&decision,
		&decidedBy,
		&cp.DecidedAt,
		&feedback,
		&cp.TimeoutAt,
		&cp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	if previewJSON != nil {
		if err := json.Unmarshal(previewJSON, &cp.Preview); err != nil {
			return nil, fmt.Errorf("unmarshal preview: %w", err)
		}
	}
	if preferenceKey != nil {
		cp.PreferenceKey = *preferenceKey
	}
	if decision != nil {
		cp.Decision = domain.Decision(*decision)
	}
	if decidedBy != nil {
		cp.DecidedBy = *decidedBy
	}
	if feedback != nil {
		cp.Feedback = *feedback
	}

	return &cp, nil
}
