package domain

import (
	"time"

	"github.com/google/uuid"
)

// Preference — выученный паттерн одобрений пользователя.
//
// Создаётся при первом решении по новому паттерну, дальше мутируется
// in place: каждое подтверждающее решение увеличивает UsageCount и
// подтягивает Confidence к потолку 0.99.
type Preference struct {
	// ID — уникальный идентификатор preference.
	ID uuid.UUID `json:"id"`

	// UserID — пользователь, чьи решения выучены.
	UserID string `json:"user_id"`

	// Key — ключ checkpoint'а (выводится из доминирующего типа риска).
	Key string `json:"key"`

	// Pattern — обобщённый контекст решения: узкий фиксированный
	// словарь полей, чтобы несвязанные контексты не совпадали случайно.
	Pattern PreferencePattern `json:"pattern"`

	// Decision — выученное решение (APPROVED/REJECTED).
	Decision Decision `json:"decision"`

	// Confidence — уверенность 0..1. Монотонно не убывает при
	// подкреплении и никогда не достигает 1.0.
	Confidence float64 `json:"confidence"`

	// UsageCount — сколько раз паттерн был подтверждён решением.
	UsageCount int `json:"usage_count"`

	// LastUsedAt — время последнего подкрепления или совпадения.
	// Старые неиспользуемые preferences подлежат pruning.
	LastUsedAt time.Time `json:"last_used_at"`

	// CreatedAt — время первого наблюдения паттерна.
	CreatedAt time.Time `json:"created_at"`
}

// PreferencePattern — проекция контекста решения на фиксированный
// словарь полей. Поля сравниваются только на точное равенство.
type PreferencePattern struct {
	TaskType    string `json:"task_type,omitempty"`
	AgentType   string `json:"agent_type,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	DataSource  string `json:"data_source,omitempty"`
	OutputType  string `json:"output_type,omitempty"`
	APIDomain   string `json:"api_domain,omitempty"`
	RiskLevel   string `json:"risk_level,omitempty"`
}

// Equal возвращает true при точном совпадении всех полей.
// Частичных совпадений нет намеренно.
func (p PreferencePattern) Equal(other PreferencePattern) bool {
	return p == other
}

// IsZero возвращает true, если ни одно поле не заполнено.
func (p PreferencePattern) IsZero() bool {
	return p == PreferencePattern{}
}
