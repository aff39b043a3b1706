package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
)

// StepStore — durable-доступ к шагам для Graph.
// Реализация (internal/store) после каждой записи синхронно
// перезаполняет кэш снимка task.
type StepStore interface {
	ListSteps(ctx context.Context, taskID uuid.UUID) ([]domain.Step, error)
	GetStep(ctx context.Context, taskID uuid.UUID, stepID string) (*domain.Step, error)
	UpdateStep(ctx context.Context, step *domain.Step) error
}

// Graph — граф зависимостей шагов одного task.
//
// Узел = шаг, ребро = зависимость из DependsOn. Граф не держит
// состояния в памяти: readiness всегда вычисляется по persisted-шагам,
// поэтому несколько инстансов движка видят одну и ту же картину.
type Graph struct {
	steps StepStore
}

// NewGraph создаёт Graph поверх durable store шагов.
func NewGraph(steps StepStore) *Graph {
	return &Graph{steps: steps}
}

// GetReadyNodes возвращает шаги, готовые к отправке worker'ам.
//
// Шаг ready ⇔ status=PENDING и всё его множество зависимостей
// содержится во множестве DONE-шагов. Проверка идёт по membership в
// done-set: стоимость пропорциональна размеру множества зависимостей,
// а не полному обходу графа.
//
// Порядок среди одновременно готовых шагов не определён: планировщик
// может отправлять их в любом порядке, параллельно.
func (g *Graph) GetReadyNodes(ctx context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	steps, err := g.steps.ListSteps(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	done := make(map[string]bool, len(steps))
	for i := range steps {
		if steps[i].Status == domain.StepStatusDone {
			done[steps[i].StepID] = true
		}
	}

	ready := make([]domain.Step, 0)
	for i := range steps {
		step := &steps[i]
		if step.Status != domain.StepStatusPending {
			continue
		}

		allDepsDone := true
		for _, dep := range step.DependsOn {
			if !done[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, *step)
		}
	}

	return ready, nil
}

// StartNode помечает шаг как RUNNING.
// Идемпотентен: повторный вызов для уже RUNNING шага — no-op.
func (g *Graph) StartNode(ctx context.Context, taskID uuid.UUID, stepID string) error {
	step, err := g.steps.GetStep(ctx, taskID, stepID)
	if err != nil {
		return err
	}

	if step.Status == domain.StepStatusRunning {
		return nil
	}

	now := time.Now()
	step.Status = domain.StepStatusRunning
	step.StartedAt = &now

	return g.steps.UpdateStep(ctx, step)
}

// CompleteNode помечает шаг как DONE с результатами.
// Идемпотентен: повторное завершение уже DONE шага — no-op.
func (g *Graph) CompleteNode(ctx context.Context, taskID uuid.UUID, stepID string, outputs map[string]any) error {
	step, err := g.steps.GetStep(ctx, taskID, stepID)
	if err != nil {
		return err
	}

	if step.Status == domain.StepStatusDone {
		return nil
	}

	now := time.Now()
	step.Status = domain.StepStatusDone
	step.Outputs = outputs
	step.Error = ""
	step.FinishedAt = &now

	return g.steps.UpdateStep(ctx, step)
}

// FailNode помечает шаг как FAILED с текстом ошибки.
func (g *Graph) FailNode(ctx context.Context, taskID uuid.UUID, stepID string, errMsg string) error {
	step, err := g.steps.GetStep(ctx, taskID, stepID)
	if err != nil {
		return err
	}

	if step.Status == domain.StepStatusFailed && step.Error == errMsg {
		return nil
	}

	now := time.Now()
	step.Status = domain.StepStatusFailed
	step.Error = errMsg
	step.FinishedAt = &now

	return g.steps.UpdateStep(ctx, step)
}

// PauseNode помечает шаг как PAUSED (удержан checkpoint'ом).
func (g *Graph) PauseNode(ctx context.Context, taskID uuid.UUID, stepID string) error {
	step, err := g.steps.GetStep(ctx, taskID, stepID)
	if err != nil {
		return err
	}

	if step.Status == domain.StepStatusPaused {
		return nil
	}

	step.Status = domain.StepStatusPaused
	return g.steps.UpdateStep(ctx, step)
}

// ResetNode возвращает шаг в PENDING, очищая результаты и ошибку.
// Используется при явном retry task из FAILED/CANCELLED.
func (g *Graph) ResetNode(ctx context.Context, taskID uuid.UUID, stepID string) error {
	step, err := g.steps.GetStep(ctx, taskID, stepID)
	if err != nil {
		return err
	}

	if step.Status == domain.StepStatusPending {
		return nil
	}

	step.Status = domain.StepStatusPending
	step.Outputs = nil
	step.Error = ""
	step.StartedAt = nil
	step.FinishedAt = nil

	return g.steps.UpdateStep(ctx, step)
}

// ResetFailed возвращает в PENDING все не-DONE шаги task.
// DONE-шаги не трогаем: их результаты переживают retry.
func (g *Graph) ResetFailed(ctx context.Context, taskID uuid.UUID) error {
	steps, err := g.steps.ListSteps(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}

	for i := range steps {
		if steps[i].Status == domain.StepStatusDone {
			continue
		}
		if err := g.ResetNode(ctx, taskID, steps[i].StepID); err != nil {
			return err
		}
	}
	return nil
}

// IsTaskComplete проверяет, завершён ли task, и каким статусом.
//
// Политика fail-fast: любой FAILED-шаг немедленно завершает task как
// "failed", не дожидаясь соседних веток. Частичного успеха нет —
// это задокументированное намеренное поведение, а не дефект.
//
// Task без шагов тривиально завершён как "completed".
func (g *Graph) IsTaskComplete(ctx context.Context, taskID uuid.UUID) (bool, domain.TaskStatus, error) {
	steps, err := g.steps.ListSteps(ctx, taskID)
	if err != nil {
		return false, "", fmt.Errorf("list steps: %w", err)
	}

	if len(steps) == 0 {
		return true, domain.TaskStatusCompleted, nil
	}

	allDone := true
	for i := range steps {
		switch steps[i].Status {
		case domain.StepStatusFailed:
			return true, domain.TaskStatusFailed, nil
		case domain.StepStatusDone:
			// ok
		default:
			allDone = false
		}
	}

	if allDone {
		return true, domain.TaskStatusCompleted, nil
	}
	return false, "", nil
}
