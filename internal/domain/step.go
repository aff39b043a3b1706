package domain

import (
	"time"

	"github.com/google/uuid"
)

// Step — один узел DAG внутри task.
//
// Step принадлежит ровно одному task; StepID уникален в рамках task.
// Мутируется только операциями DependencyGraph (start/complete/fail/
// pause/reset) — worker сообщает результат, движок записывает его.
type Step struct {
	// ID — суррогатный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// TaskID — ссылка на родительский task.
	TaskID uuid.UUID `json:"task_id"`

	// StepID — идентификатор шага из плана (используется в depends_on).
	StepID string `json:"step_id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty"`

	// AgentType — тип агента, которому назначен шаг
	// (например, "web_search", "email_agent", "code_agent").
	AgentType string `json:"agent_type"`

	// Inputs — входные данные шага от planner'а.
	Inputs map[string]any `json:"inputs,omitempty"`

	// DependsOn — ID шагов того же task, которые должны завершиться
	// в DONE, прежде чем этот шаг станет ready.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Outputs — результат выполнения (заполняется при DONE).
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error — текст ошибки (заполняется при FAILED).
	Error string `json:"error,omitempty"`

	// StartedAt — время отправки worker'у.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время финального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания шага planner'ом.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если шаг в финальном статусе.
func (s *Step) IsFinished() bool {
	return s.Status.IsTerminal()
}

// DependencySet возвращает зависимости шага как множество.
func (s *Step) DependencySet() map[string]bool {
	set := make(map[string]bool, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		set[dep] = true
	}
	return set
}
