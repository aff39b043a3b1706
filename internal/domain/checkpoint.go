package domain

import (
	"time"

	"github.com/google/uuid"
)

// Checkpoint — точка паузы, требующая решения перед запуском шага.
//
// Записи append-only и образуют audit trail: решённый checkpoint
// никогда не удаляется и не переиспользуется. Повторное рисковое
// событие по тому же шагу создаёт новую запись.
//
// Инвариант: на пару (task, step) одновременно существует не больше
// одного PENDING checkpoint (обеспечивается GetOrCreate).
type Checkpoint struct {
	// ID — уникальный идентификатор checkpoint.
	ID uuid.UUID `json:"id"`

	// TaskID — task, чей шаг удержан.
	TaskID uuid.UUID `json:"task_id"`

	// StepID — ID шага из плана.
	StepID string `json:"step_id"`

	// Type — тип запрашиваемого решения.
	Type CheckpointType `json:"type"`

	// Status — текущий статус checkpoint.
	Status CheckpointStatus `json:"status"`

	// Version — счётчик версий для compare-and-swap при resolve.
	Version int `json:"version"`

	// PreferenceKey — ключ для PreferenceMatcher, выведенный из
	// доминирующего типа риска. Обобщает похожие будущие шаги.
	PreferenceKey string `json:"preference_key,omitempty"`

	// Preview — данные для отображения пользователю
	// (что именно шаг собирается сделать).
	Preview map[string]any `json:"preview,omitempty"`

	// --- Решение ---

	// Decision — итоговое решение (APPROVED/REJECTED).
	Decision Decision `json:"decision,omitempty"`

	// DecidedBy — кто принял решение. Для автоматики: "auto".
	DecidedBy string `json:"decided_by,omitempty"`

	// DecidedAt — время принятия решения.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// Feedback — комментарий пользователя к решению.
	Feedback string `json:"feedback,omitempty"`

	// --- Дедлайн ---

	// TimeoutAt — дедлайн решения. После него reaper принудительно
	// переводит checkpoint в TIMEOUT, а task — в FAILED.
	TimeoutAt time.Time `json:"timeout_at"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired возвращает true, если дедлайн прошёл, а решения всё нет.
func (c *Checkpoint) IsExpired(now time.Time) bool {
	return c.Status == CheckpointStatusPending && now.After(c.TimeoutAt)
}
