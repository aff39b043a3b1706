package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/telemetry"
)

// transitions — объявленная таблица рёбер конечного автомата.
// Любой переход, которого здесь нет, отклоняется с ErrInvalidTransition.
//
// COMPLETED и SUPERSEDED терминальны. FAILED и CANCELLED возвращаются
// только в READY — это явный retry, не автоматический.
var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusPlanning: {
		domain.TaskStatusReady,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	},
	domain.TaskStatusReady: {
		domain.TaskStatusExecuting,
		domain.TaskStatusCancelled,
	},
	domain.TaskStatusExecuting: {
		domain.TaskStatusCheckpoint,
		domain.TaskStatusPaused,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
		domain.TaskStatusSuperseded,
	},
	domain.TaskStatusCheckpoint: {
		domain.TaskStatusExecuting,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	},
	domain.TaskStatusPaused: {
		domain.TaskStatusExecuting,
		domain.TaskStatusCancelled,
	},
	domain.TaskStatusCompleted: {},
	domain.TaskStatusFailed: {
		domain.TaskStatusReady,
	},
	domain.TaskStatusCancelled: {
		domain.TaskStatusReady,
	},
	domain.TaskStatusSuperseded: {},
}

// CanTransition проверяет, объявлено ли ребро from→to.
// Чистая функция без I/O.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions возвращает все статусы, достижимые из from за один
// переход. Возвращаемый slice — копия, его можно модифицировать.
func AllowedTransitions(from domain.TaskStatus) []domain.TaskStatus {
	allowed := transitions[from]
	out := make([]domain.TaskStatus, len(allowed))
	copy(out, allowed)
	return out
}

// TaskStore — durable-доступ к task для Machine.
//
// UpdateTask обязан быть compare-and-swap по Task.Version: запись
// применяется только если версия в БД совпадает с task.Version, иначе
// возвращается ErrStaleTask. Реализация (internal/store) после
// успешной durable-записи синхронно перезаполняет кэш.
type TaskStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error
}

// Updates — опциональные поля, записываемые вместе с переходом.
type Updates struct {
	// Error — причина провала (для перехода в FAILED).
	Error string

	// CancelReason — причина отмены (для перехода в CANCELLED).
	CancelReason string
}

// Machine — конечный автомат статусов task.
//
// Все мутации Task.Status в системе идут через Transition или
// TransitionIfCurrent. Каждый переход: читает текущий persisted-статус,
// валидирует ребро, делает одну атомарную durable-запись (CAS по
// версии), после чего store синхронно обновляет кэш.
type Machine struct {
	store  TaskStore
	logger *slog.Logger
}

// NewMachine создаёт Machine поверх durable store.
func NewMachine(store TaskStore, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{store: store, logger: logger}
}

// maxTransitionRetries — количество повторов при проигранной CAS-гонке.
const maxTransitionRetries = 3

// Transition переводит task в новый статус.
//
// Возвращает TransitionError (оборачивает ErrInvalidTransition), если
// ребро не объявлено. При проигранной версионной гонке перечитывает
// task и повторяет валидацию: переход, ставший невалидным после
// чужой записи, отклоняется, а не применяется вслепую.
func (m *Machine) Transition(ctx context.Context, taskID uuid.UUID, to domain.TaskStatus, updates Updates) (*domain.Task, error) {
	var lastErr error

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		task, err := m.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		if !CanTransition(task.Status, to) {
			return nil, &TransitionError{TaskID: taskID.String(), From: task.Status, To: to}
		}

		from := task.Status
		m.apply(task, to, updates)

		if err := m.store.UpdateTask(ctx, task); err != nil {
			if errors.Is(err, ErrStaleTask) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("persist transition: %w", err)
		}

		telemetry.TaskTransitions.WithLabelValues(string(from), string(to)).Inc()
		m.logger.Info("task transitioned",
			"task_id", taskID,
			"from", from,
			"to", to,
			"version", task.Version,
		)
		return task, nil
	}

	return nil, fmt.Errorf("transition retries exhausted: %w", lastErr)
}

// TransitionIfCurrent — идемпотентный вариант для гоняющихся вызовов.
//
// Если текущий статус не равен expected, возвращает (nil, nil) — no-op
// без ошибки. Это единственный легальный способ "тихо" не выполнить
// переход; обычный Transition невалидное ребро всегда отклоняет.
func (m *Machine) TransitionIfCurrent(ctx context.Context, taskID uuid.UUID, expected, to domain.TaskStatus, updates Updates) (*domain.Task, error) {
	var lastErr error

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		task, err := m.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		if task.Status != expected {
			return nil, nil
		}

		if !CanTransition(task.Status, to) {
			return nil, &TransitionError{TaskID: taskID.String(), From: task.Status, To: to}
		}

		m.apply(task, to, updates)

		if err := m.store.UpdateTask(ctx, task); err != nil {
			if errors.Is(err, ErrStaleTask) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("persist transition: %w", err)
		}

		telemetry.TaskTransitions.WithLabelValues(string(expected), string(to)).Inc()
		m.logger.Info("task transitioned",
			"task_id", taskID,
			"from", expected,
			"to", to,
			"version", task.Version,
		)
		return task, nil
	}

	return nil, fmt.Errorf("transition retries exhausted: %w", lastErr)
}

// apply мутирует task под новый статус. Durable-запись делает вызывающий.
func (m *Machine) apply(task *domain.Task, to domain.TaskStatus, updates Updates) {
	now := time.Now()

	task.Status = to
	task.UpdatedAt = now

	if updates.Error != "" {
		task.Error = updates.Error
	}
	if updates.CancelReason != "" {
		task.CancelReason = updates.CancelReason
	}

	switch to {
	case domain.TaskStatusExecuting:
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case domain.TaskStatusCompleted:
		task.CompletedAt = &now
	case domain.TaskStatusReady:
		// Retry из FAILED/CANCELLED: прошлые причины больше не актуальны.
		task.Error = ""
		task.CancelReason = ""
	}
}
