package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StepRepo — репозиторий для работы с шагами плана.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// CreateBatch вставляет все шаги плана в одной транзакции.
// План атомарен: либо записаны все шаги, либо ни одного.
func (r *StepRepo) CreateBatch(ctx context.Context, steps []domain.Step) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO steps (id, task_id, step_id, name, agent_type, inputs, depends_on, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range steps {
		step := &steps[i]

		inputsJSON, err := json.Marshal(step.Inputs)
		if err != nil {
			return fmt.Errorf("marshal inputs: %w", err)
		}
		dependsJSON, err := json.Marshal(step.DependsOn)
		if err != nil {
			return fmt.Errorf("marshal depends_on: %w", err)
		}

		if _, err := tx.Exec(ctx, query,
			step.ID,
			step.TaskID,
			step.StepID,
			nullString(step.Name),
			step.AgentType,
			inputsJSON,
			dependsJSON,
			step.Status,
			step.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert step %s: %w", step.StepID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByTaskAndStepID возвращает шаг по task_id и step_id.
func (r *StepRepo) GetByTaskAndStepID(ctx context.Context, taskID uuid.UUID, stepID string) (*domain.Step, error) {
	query := `
		SELECT id, task_id, step_id, name, agent_type, inputs, depends_on,
		       status, outputs, error, started_at, finished_at, created_at
		FROM steps
		WHERE task_id = $1 AND step_id = $2
	`
	return scanStep(r.pool.QueryRow(ctx, query, taskID, stepID))
}

// ListByTaskID возвращает все шаги task в порядке создания.
func (r *StepRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	query := `
		SELECT id, task_id, step_id, name, agent_type, inputs, depends_on,
		       status, outputs, error, started_at, finished_at, created_at
		FROM steps
		WHERE task_id = $1
		ORDER BY created_at ASC, step_id ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list steps by task_id: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// Update обновляет мутабельные поля шага.
func (r *StepRepo) Update(ctx context.Context, step *domain.Step) error {
	outputsJSON, err := json.Marshal(step.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	query := `
		UPDATE steps
		SET status = $2, outputs = $3, error = $4, started_at = $5, finished_at = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		step.ID,
		step.Status,
		outputsJSON,
		nullString(step.Error),
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByTaskAndStatus возвращает количество шагов task в статусе.
func (r *StepRepo) CountByTaskAndStatus(ctx context.Context, taskID uuid.UUID, status domain.StepStatus) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM steps WHERE task_id = $1 AND status = $2
	`, taskID, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return count, nil
}

// --- Helpers ---

func scanStep(row pgx.Row) (*domain.Step, error) {
	var step domain.Step
	var name, stepError *string
	var inputsJSON, dependsJSON, outputsJSON []byte

	err := row.Scan(
		&step.ID,
		&step.TaskID,
		&step.StepID,
		&name,
		&step.AgentType,
		&inputsJSON,
		&dependsJSON,
		&step.Status,
		&outputsJSON,
		&stepError,
		&step.StartedAt,
		&step.FinishedAt,
		&step.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}

	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &step.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if dependsJSON != nil {
		if err := json.Unmarshal(dependsJSON, &step.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if outputsJSON != nil {
		if err := json.Unmarshal(outputsJSON, &step.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if name != nil {
		step.Name = *name
	}
	if stepError != nil {
		step.Error = *stepError
	}

	return &step, nil
}
