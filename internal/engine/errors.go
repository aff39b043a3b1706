package engine

import (
	"errors"
	"fmt"

	"github.com/ivolkov/Praxis/internal/domain"
)

// Ошибки ядра.
var (
	// ErrTaskNotFound — task не найден в durable store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStepNotFound — шаг не найден в рамках task.
	ErrStepNotFound = errors.New("step not found")

	// ErrInvalidTransition — запрошенное ребро не объявлено в автомате.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleTask — durable-запись отклонена из-за несовпадения версии.
	// Machine повторяет переход с перечитанным статусом.
	ErrStaleTask = errors.New("task version is stale")
)

// Ошибки валидации плана.
var (
	// ErrEmptyPlan — план не содержит шагов.
	// Сам по себе это не провал: task без шагов тривиально completed,
	// но переход PLANNING→READY требует хотя бы одного шага.
	ErrEmptyPlan = errors.New("plan has no steps")

	// ErrEmptyStepID — шаг без ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrEmptyAgentType — шаг без типа агента.
	ErrEmptyAgentType = errors.New("step has empty agent type")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrCyclicDependency — цикл в графе зависимостей.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// TransitionError — отклонённый переход с контекстом: какой статус
// сейчас и какой запрошен. Попадает в ответ пользователю как есть.
type TransitionError struct {
	TaskID string
	From   domain.TaskStatus
	To     domain.TaskStatus
}

// Error реализует интерфейс error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: transition %s -> %s is not allowed", e.TaskID, e.From, e.To)
}

// Unwrap возвращает базовую ошибку.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// PlanError — ошибка валидации плана с указанием шага и поля.
type PlanError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *PlanError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *PlanError) Unwrap() error {
	return e.Err
}

// NewPlanError создаёт новую ошибку валидации плана.
func NewPlanError(stepID, field, message string, err error) *PlanError {
	return &PlanError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
