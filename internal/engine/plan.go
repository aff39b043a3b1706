package engine

import (
	"fmt"

	"github.com/ivolkov/Praxis/internal/domain"
)

// ValidatePlan выполняет полную валидацию плана перед PLANNING→READY.
//
// Проверяет:
//   - Наличие шагов
//   - Уникальность и непустоту StepID
//   - Наличие типа агента
//   - Валидность зависимостей (ссылки на существующие шаги, не на себя)
//   - Отсутствие циклов (топологическая сортировка)
func ValidatePlan(steps []domain.Step) error {
	if len(steps) == 0 {
		return ErrEmptyPlan
	}

	stepIDs := make(map[string]bool, len(steps))

	for i := range steps {
		step := &steps[i]

		if step.StepID == "" {
			return NewPlanError("", "step_id", "step has empty ID", ErrEmptyStepID)
		}
		if stepIDs[step.StepID] {
			return NewPlanError(step.StepID, "step_id",
				fmt.Sprintf("duplicate step ID: %s", step.StepID), ErrDuplicateStepID)
		}
		stepIDs[step.StepID] = true

		if step.AgentType == "" {
			return NewPlanError(step.StepID, "agent_type",
				"step has empty agent type", ErrEmptyAgentType)
		}

		for _, dep := range step.DependsOn {
			if dep == step.StepID {
				return NewPlanError(step.StepID, "depends_on",
					"step depends on itself", ErrSelfDependency)
			}
		}
	}

	// Валидируем зависимости после сбора всех ID
	for i := range steps {
		step := &steps[i]
		for _, dep := range step.DependsOn {
			if !stepIDs[dep] {
				return NewPlanError(step.StepID, "depends_on",
					fmt.Sprintf("depends on unknown step: %s", dep), ErrMissingDependency)
			}
		}
	}

	return detectCycles(steps)
}

// detectCycles ищет циклы топологической сортировкой (алгоритм Кана).
func detectCycles(steps []domain.Step) error {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for i := range steps {
		step := &steps[i]
		inDegree[step.StepID] += 0
		for _, dep := range step.DependsOn {
			inDegree[step.StepID]++
			dependents[dep] = append(dependents[dep], step.StepID)
		}
	}

	// Очередь узлов без входящих рёбер
	queue := make([]string, 0, len(steps))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if visited != len(steps) {
		return ErrCyclicDependency
	}
	return nil
}
