package risk

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ivolkov/Praxis/internal/domain"
)

// Severity — серьёзность находки.
type Severity int

// Уровни severity в порядке возрастания.
const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String возвращает строковое представление Severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// Типы риска. Доминирующий тип определяет preference key checkpoint'а.
const (
	TypeExternalCall  = "external_call"
	TypeNotification  = "notification"
	TypeMutation      = "mutation"
	TypeSensitiveData = "sensitive_data"
	TypeHighCost      = "high_cost"
)

// Finding — одна находка одного правила.
type Finding struct {
	// Type — тип риска (external_call, notification, ...).
	Type string `json:"type"`

	// Severity — серьёзность находки.
	Severity Severity `json:"severity"`

	// Detail — человекочитаемое описание для preview checkpoint'а.
	Detail string `json:"detail"`
}

// Assessment — итог оценки шага.
type Assessment struct {
	// Findings — все находки всех правил (максимум одна на правило).
	Findings []Finding `json:"findings"`

	// Severity — максимум по находкам.
	Severity Severity `json:"severity"`

	// RequiresCheckpoint — true при severity high или critical.
	RequiresCheckpoint bool `json:"requires_checkpoint"`

	// Checkpoint — конфигурация checkpoint'а, если он требуется.
	Checkpoint *CheckpointConfig `json:"checkpoint,omitempty"`
}

// DominantType возвращает тип находки с максимальной severity.
// При равенстве побеждает находка, встретившаяся раньше (порядок правил).
func (a *Assessment) DominantType() string {
	dominant := ""
	max := SeverityNone
	for _, f := range a.Findings {
		if f.Severity > max {
			max = f.Severity
			dominant = f.Type
		}
	}
	return dominant
}

// CheckpointConfig — параметры checkpoint'а, который нужно создать.
type CheckpointConfig struct {
	// Type — тип запрашиваемого решения.
	Type domain.CheckpointType `json:"type"`

	// PreferenceKey — ключ для PreferenceMatcher. Выводится из
	// доминирующего типа риска, чтобы preference обобщался на
	// похожие будущие шаги, а не привязывался к конкретному step.
	PreferenceKey string `json:"preference_key"`

	// Preview — данные для пользователя: что шаг собирается сделать.
	Preview map[string]any `json:"preview"`

	// Timeout — дедлайн решения.
	Timeout time.Duration `json:"timeout"`
}

// Config — runtime-конфигурация Detector.
// Все поля можно менять на живой системе через сеттеры Detector.
type Config struct {
	// AllowedHosts — хосты, обращение к которым не считается риском.
	AllowedHosts []string

	// NotifierAgentTypes — типы агентов, уведомляющие человека или
	// внешнюю сторону (письмо, сообщение, webhook).
	NotifierAgentTypes []string

	// SensitiveScan — включает сканирование inputs на чувствительные данные.
	SensitiveScan bool

	// SensitiveExemptAgentTypes — агенты, легитимно работающие с
	// чувствительными данными (например, менеджер секретов).
	SensitiveExemptAgentTypes []string

	// CostThreshold — порог оценочной стоимости шага (USD).
	CostThreshold float64

	// CheckpointTimeout — дедлайн создаваемых checkpoint'ов.
	CheckpointTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		NotifierAgentTypes: []string{
			"email_agent", "slack_agent", "sms_agent", "webhook_agent",
		},
		SensitiveScan:     true,
		CostThreshold:     10.0,
		CheckpointTimeout: 48 * time.Hour,
	}
}

// rule — одно декларативное правило: имя типа риска + предикат.
// Предикат возвращает nil, если находки нет.
type rule struct {
	riskType string
	check    func(cfg *Config, step *domain.Step) *Finding
}

// sensitivePatterns — паттерны чувствительных данных в inputs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpassword\b`),
	regexp.MustCompile(`(?i)\bapi[_-]?key\b`),
	regexp.MustCompile(`(?i)\bsecret\b`),
	regexp.MustCompile(`(?i)\b(auth|access|bearer)[_-]?token\b`),
	regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),    // номер карты
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),     // SSN
	regexp.MustCompile(`(?i)-----BEGIN [A-Z ]*KEY`), // приватный ключ
}

// Detector оценивает риск шага перед отправкой worker'у.
// Потокобезопасен: конфигурация защищена RWMutex.
type Detector struct {
	mu  sync.RWMutex
	cfg Config

	rules []rule
}

// NewDetector создаёт Detector с заданной конфигурацией.
func NewDetector(cfg Config) *Detector {
	if cfg.CheckpointTimeout <= 0 {
		cfg.CheckpointTimeout = 48 * time.Hour
	}

	d := &Detector{cfg: cfg}

	// Правила независимы и проверяются единообразно; порядок влияет
	// только на выбор доминирующего типа при равной severity.
	d.rules = []rule{
		{TypeSensitiveData, checkSensitiveData},
		{TypeExternalCall, checkExternalCall},
		{TypeNotification, checkNotification},
		{TypeHighCost, checkCost},
		{TypeMutation, checkMutation},
	}

	return d
}

// Assess прогоняет шаг через все правила и агрегирует находки.
func (d *Detector) Assess(step *domain.Step) *Assessment {
	d.mu.RLock()
	cfg := d.cfg
	d.mu.RUnlock()

	assessment := &Assessment{}

	for _, r := range d.rules {
		finding := r.check(&cfg, step)
		if finding == nil || finding.Severity == SeverityNone {
			continue
		}
		finding.Type = r.riskType
		assessment.Findings = append(assessment.Findings, *finding)
		if finding.Severity > assessment.Severity {
			assessment.Severity = finding.Severity
		}
	}

	assessment.RequiresCheckpoint = assessment.Severity >= SeverityHigh

	if assessment.RequiresCheckpoint {
		assessment.Checkpoint = &CheckpointConfig{
			Type:          domain.CheckpointTypeApproval,
			PreferenceKey: "risk:" + assessment.DominantType(),
			Preview:       buildPreview(step, assessment),
			Timeout:       cfg.CheckpointTimeout,
		}
	}

	return assessment
}

// buildPreview собирает данные для отображения пользователю.
func buildPreview(step *domain.Step, a *Assessment) map[string]any {
	details := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		details = append(details, f.Detail)
	}
	return map[string]any{
		"step_id":    step.StepID,
		"step_name":  step.Name,
		"agent_type": step.AgentType,
		"severity":   a.Severity.String(),
		"findings":   details,
	}
}

// --- Runtime-конфигурация ---

// SetAllowedHosts заменяет allowlist хостов.
func (d *Detector) SetAllowedHosts(hosts []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.AllowedHosts = append([]string(nil), hosts...)
}

// SetCostThreshold заменяет порог стоимости.
func (d *Detector) SetCostThreshold(threshold float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.CostThreshold = threshold
}

// SetSensitiveScan включает/выключает сканирование чувствительных данных.
func (d *Detector) SetSensitiveScan(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.SensitiveScan = enabled
}

// --- Правила ---

// checkExternalCall — обращение к хосту вне allowlist.
func checkExternalCall(cfg *Config, step *domain.Step) *Finding {
	rawURL, ok := stringInput(step, "url")
	if !ok {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	host := parsed.Hostname()
	for _, allowed := range cfg.AllowedHosts {
		if strings.EqualFold(host, allowed) || strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(allowed)) {
			return nil
		}
	}

	return &Finding{
		Severity: SeverityHigh,
		Detail:   fmt.Sprintf("external call to non-allowlisted host %q", host),
	}
}

// checkNotification — агент уведомляет человека или внешнюю сторону.
func checkNotification(cfg *Config, step *domain.Step) *Finding {
	for _, notifier := range cfg.NotifierAgentTypes {
		if step.AgentType == notifier {
			return &Finding{
				Severity: SeverityHigh,
				Detail:   fmt.Sprintf("agent %q notifies an external party", step.AgentType),
			}
		}
	}
	return nil
}

// checkMutation — HTTP-метод, подразумевающий изменение состояния.
func checkMutation(_ *Config, step *domain.Step) *Finding {
	method, ok := stringInput(step, "method")
	if !ok {
		return nil
	}

	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return &Finding{
			Severity: SeverityMedium,
			Detail:   fmt.Sprintf("HTTP %s implies mutation", strings.ToUpper(method)),
		}
	default:
		return nil
	}
}

// checkSensitiveData — паттерны чувствительных данных в inputs.
// Агенты из exemption-списка легитимно работают с такими данными.
func checkSensitiveData(cfg *Config, step *domain.Step) *Finding {
	if !cfg.SensitiveScan {
		return nil
	}

	for _, exempt := range cfg.SensitiveExemptAgentTypes {
		if step.AgentType == exempt {
			return nil
		}
	}

	for key, value := range step.Inputs {
		text, ok := value.(string)
		if !ok {
			continue
		}
		haystack := key + "=" + text
		for _, pattern := range sensitivePatterns {
			if pattern.MatchString(haystack) {
				return &Finding{
					Severity: SeverityCritical,
					Detail:   fmt.Sprintf("sensitive data pattern in input %q", key),
				}
			}
		}
	}
	return nil
}

// checkCost — оценочная стоимость шага выше порога.
func checkCost(cfg *Config, step *domain.Step) *Finding {
	raw, ok := step.Inputs["estimated_cost"]
	if !ok {
		return nil
	}

	var cost float64
	switch v := raw.(type) {
	case float64:
		cost = v
	case int:
		cost = float64(v)
	default:
		return nil
	}

	if cost <= cfg.CostThreshold {
		return nil
	}

	return &Finding{
		Severity: SeverityHigh,
		Detail:   fmt.Sprintf("estimated cost %.2f exceeds threshold %.2f", cost, cfg.CostThreshold),
	}
}

// stringInput достаёт строковый input шага.
func stringInput(step *domain.Step, key string) (string, bool) {
	raw, ok := step.Inputs[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
