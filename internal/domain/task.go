package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — многошаговый план, исполняемый движком от имени пользователя.
//
// Task создаётся внешним planner'ом уже с набором шагов и их
// зависимостями. Движок никогда не придумывает шаги сам — он только
// проводит task через конечный автомат статусов.
//
// Мутации статуса идут исключительно через engine.Machine; прямые
// UPDATE статуса в обход него запрещены.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// OwnerID — пользователь, от имени которого выполняется task.
	// Используется как ключ при обучении preferences.
	OwnerID string `json:"owner_id"`

	// OrgID — организация владельца (для мультитенантности).
	OrgID string `json:"org_id,omitempty"`

	// Goal — исходная цель пользователя в свободной форме.
	Goal string `json:"goal"`

	// Status — текущий статус. Меняется только по рёбрам конечного автомата.
	Status TaskStatus `json:"status"`

	// Version — счётчик версий для optimistic concurrency.
	// Инкрементируется при каждой durable-записи.
	Version int `json:"version"`

	// Error — причина провала, если Status=FAILED.
	Error string `json:"error,omitempty"`

	// CancelReason — причина отмены, если Status=CANCELLED.
	CancelReason string `json:"cancel_reason,omitempty"`

	// StartedAt — время входа в EXECUTING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время входа в терминальный COMPLETED.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedAt — время создания task planner'ом.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней durable-записи.
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если task ещё не завершён.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task в терминальном статусе.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}
