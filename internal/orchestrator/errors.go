package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrTaskNotPlanning — task уже не в PLANNING, запускать нечего.
	ErrTaskNotPlanning = errors.New("task is not in planning status")

	// ErrUnknownStepStatus — агент прислал статус вне словаря.
	ErrUnknownStepStatus = errors.New("unknown step status in completion event")

	// ErrUnknownDecision — решение по checkpoint вне словаря.
	ErrUnknownDecision = errors.New("unknown checkpoint decision")
)
