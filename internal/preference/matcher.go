package preference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
)

// Ошибки matcher'а.
var (
	// ErrPreferenceValidation — некорректный паттерн или запись решения.
	ErrPreferenceValidation = errors.New("invalid preference")
)

// MaxConfidence — потолок уверенности. Никогда не достигаем 1.0:
// пользователь всегда может наблюдать и переопределять автоматику.
const MaxConfidence = 0.99

// DefaultThreshold — порог уверенности для auto-approve по умолчанию.
const DefaultThreshold = 0.9

// Context — контекст решения: произвольные пары ключ-значение от
// вызывающего. ExtractPattern проецирует его на фиксированный словарь.
type Context map[string]string

// Store — durable-доступ к preferences.
// Preferences мутируются in place (в отличие от append-only checkpoints).
type Store interface {
	ListPreferences(ctx context.Context, userID, key string) ([]domain.Preference, error)
	InsertPreference(ctx context.Context, pref *domain.Preference) error
	UpdatePreference(ctx context.Context, pref *domain.Preference) error
	DeletePreferencesUnusedSince(ctx context.Context, cutoff time.Time) (int64, error)
}

// Match — результат сопоставления checkpoint'а с выученным preference.
type Match struct {
	// Preference — совпавший preference.
	Preference *domain.Preference

	// AutoApprove — true, если выученное решение APPROVED и
	// уверенность не ниже порога.
	AutoApprove bool
}

// Matcher обучается на решениях и сопоставляет новые контексты.
type Matcher struct {
	store Store
}

// NewMatcher создаёт Matcher поверх durable store.
func NewMatcher(store Store) *Matcher {
	return &Matcher{store: store}
}

// ExtractPattern проецирует контекст решения на фиксированный словарь
// полей. Ключи вне словаря игнорируются. Чистая функция без I/O.
func ExtractPattern(decisionCtx Context) domain.PreferencePattern {
	return domain.PreferencePattern{
		TaskType:    decisionCtx["task_type"],
		AgentType:   decisionCtx["agent_type"],
		Channel:     decisionCtx["channel"],
		ContentType: decisionCtx["content_type"],
		DataSource:  decisionCtx["data_source"],
		OutputType:  decisionCtx["output_type"],
		APIDomain:   decisionCtx["api_domain"],
		RiskLevel:   decisionCtx["risk_level"],
	}
}

// ConfidenceFor возвращает уверенность для данного числа подкреплений:
// min(0.99, 1 − 0.1^n). Одно наблюдение даёт 0.9, два — 0.99 (потолок).
func ConfidenceFor(usageCount int) float64 {
	if usageCount <= 0 {
		return 0
	}
	return math.Min(MaxConfidence, 1-math.Pow(0.1, float64(usageCount)))
}

// RecordDecision записывает решение пользователя.
//
// Если preference с тем же (user, key, pattern, decision) уже есть —
// подкрепляет его: инкрементирует usage и поднимает confidence к
// потолку. Иначе создаёт новый preference с базовой уверенностью
// одного наблюдения. Confidence монотонно не убывает.
func (m *Matcher) RecordDecision(ctx context.Context, userID, key string, decisionCtx Context, decision domain.Decision) (*domain.Preference, error) {
	if err := validate(userID, key, decision); err != nil {
		return nil, err
	}

	pattern := ExtractPattern(decisionCtx)
	if pattern.IsZero() {
		return nil, fmt.Errorf("%w: decision context has no recognized fields", ErrPreferenceValidation)
	}

	existing, err := m.store.ListPreferences(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}

	now := time.Now()

	for i := range existing {
		pref := &existing[i]
		if !pref.Pattern.Equal(pattern) || pref.Decision != decision {
			continue
		}

		// Подкрепление существующего паттерна
		pref.UsageCount++
		pref.Confidence = math.Max(pref.Confidence, ConfidenceFor(pref.UsageCount))
		pref.LastUsedAt = now

		if err := m.store.UpdatePreference(ctx, pref); err != nil {
			return nil, fmt.Errorf("reinforce preference: %w", err)
		}
		return pref, nil
	}

	// Первое наблюдение нового паттерна
	pref := &domain.Preference{
		ID:         uuid.New(),
		UserID:     userID,
		Key:        key,
		Pattern:    pattern,
		Decision:   decision,
		Confidence: ConfidenceFor(1),
		UsageCount: 1,
		LastUsedAt: now,
		CreatedAt:  now,
	}

	if err := m.store.InsertPreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("insert preference: %w", err)
	}
	return pref, nil
}

// FindMatchingPreference ищет preference для нового checkpoint'а.
//
// Совпадение требует точного равенства каждого извлечённого поля.
// Возвращает nil, если совпадений нет. AutoApprove взводится только
// при выученном APPROVED с уверенностью не ниже threshold; совпавший
// REJECTED возвращается с AutoApprove=false — вызывающий оставляет
// checkpoint человеку.
func (m *Matcher) FindMatchingPreference(ctx context.Context, userID, key string, decisionCtx Context, threshold float64) (*Match, error) {
	if userID == "" || key == "" {
		return nil, fmt.Errorf("%w: empty user or key", ErrPreferenceValidation)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	pattern := ExtractPattern(decisionCtx)

	prefs, err := m.store.ListPreferences(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}

	for i := range prefs {
		pref := &prefs[i]
		if !pref.Pattern.Equal(pattern) {
			continue
		}

		return &Match{
			Preference:  pref,
			AutoApprove: pref.Decision == domain.DecisionApproved && pref.Confidence >= threshold,
		}, nil
	}

	return nil, nil
}

// Prune удаляет preferences, не использовавшиеся дольше maxAge.
// Возвращает количество удалённых записей.
func (m *Matcher) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("%w: non-positive prune age", ErrPreferenceValidation)
	}
	cutoff := time.Now().Add(-maxAge)
	return m.store.DeletePreferencesUnusedSince(ctx, cutoff)
}

// validate проверяет обязательные поля записи решения.
func validate(userID, key string, decision domain.Decision) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user", ErrPreferenceValidation)
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrPreferenceValidation)
	}
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		return fmt.Errorf("%w: unknown decision %q", ErrPreferenceValidation, decision)
	}
	return nil
}
