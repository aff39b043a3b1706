package risk

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
)

func riskStep(agentType string, inputs map[string]any) *domain.Step {
	return &domain.Step{
		ID:        uuid.New(),
		TaskID:    uuid.New(),
		StepID:    "s1",
		AgentType: agentType,
		Inputs:    inputs,
		Status:    domain.StepStatusPending,
	}
}

func TestAssess_NoRisk(t *testing.T) {
	d := NewDetector(DefaultConfig())

	a := d.Assess(riskStep("llm_agent", map[string]any{"prompt": "summarize the report"}))

	if a.Severity != SeverityNone {
		t.Errorf("severity = %s, want none", a.Severity)
	}
	if a.RequiresCheckpoint {
		t.Error("harmless step must not require a checkpoint")
	}
	if a.Checkpoint != nil {
		t.Error("no checkpoint config expected")
	}
}

func TestAssess_ExternalCall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedHosts = []string{"api.internal.example"}
	d := NewDetector(cfg)

	tests := []struct {
		name     string
		url      string
		requires bool
	}{
		{"allowlisted host", "https://api.internal.example/v1/data", false},
		{"allowlisted subdomain", "https://eu.api.internal.example/v1", false},
		{"unknown host", "https://evil.example.com/exfil", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := d.Assess(riskStep("http_agent", map[string]any{"url": tt.url}))
			if a.RequiresCheckpoint != tt.requires {
				t.Errorf("RequiresCheckpoint = %v, want %v", a.RequiresCheckpoint, tt.requires)
			}
		})
	}
}

func TestAssess_NotifierAgent(t *testing.T) {
	d := NewDetector(DefaultConfig())

	a := d.Assess(riskStep("email_agent", map[string]any{"to": "boss@example.com"}))

	if !a.RequiresCheckpoint {
		t.Fatal("notifier agent must require a checkpoint")
	}
	if a.DominantType() != TypeNotification {
		t.Errorf("dominant type = %s, want notification", a.DominantType())
	}
	if a.Checkpoint.PreferenceKey != "risk:notification" {
		t.Errorf("preference key = %q, want risk:notification", a.Checkpoint.PreferenceKey)
	}
}

func TestAssess_MutationAloneIsMedium(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedHosts = []string{"api.internal.example"}
	d := NewDetector(cfg)

	a := d.Assess(riskStep("http_agent", map[string]any{
		"url":    "https://api.internal.example/v1/orders",
		"method": "POST",
	}))

	if a.Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium", a.Severity)
	}
	if a.RequiresCheckpoint {
		t.Error("medium severity alone must not require a checkpoint")
	}
}

func TestAssess_SensitiveData(t *testing.T) {
	d := NewDetector(DefaultConfig())

	a := d.Assess(riskStep("llm_agent", map[string]any{
		"body": "the api_key is sk-12345",
	}))

	if a.Severity != SeverityCritical {
		t.Fatalf("severity = %s, want critical", a.Severity)
	}
	if !a.RequiresCheckpoint {
		t.Error("sensitive data must require a checkpoint")
	}
	if a.Checkpoint.PreferenceKey != "risk:sensitive_data" {
		t.Errorf("preference key = %q, want risk:sensitive_data", a.Checkpoint.PreferenceKey)
	}
}

func TestAssess_SensitiveDataExemption(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SensitiveExemptAgentTypes = []string{"vault_agent"}
	d := NewDetector(cfg)

	a := d.Assess(riskStep("vault_agent", map[string]any{
		"body": "rotate the password for svc-account",
	}))

	for _, f := range a.Findings {
		if f.Type == TypeSensitiveData {
			t.Error("exempt agent must not trigger the sensitive data rule")
		}
	}
}

func TestAssess_SensitiveScanDisabled(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.SetSensitiveScan(false)

	a := d.Assess(riskStep("llm_agent", map[string]any{"body": "password: hunter2"}))

	if a.RequiresCheckpoint {
		t.Error("disabled scan must not flag sensitive data")
	}
}

func TestAssess_CostThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig())

	under := d.Assess(riskStep("llm_agent", map[string]any{"estimated_cost": 5.0}))
	if under.RequiresCheckpoint {
		t.Error("cost under threshold must not require a checkpoint")
	}

	over := d.Assess(riskStep("llm_agent", map[string]any{"estimated_cost": 50.0}))
	if !over.RequiresCheckpoint {
		t.Fatal("cost over threshold must require a checkpoint")
	}
	if over.DominantType() != TypeHighCost {
		t.Errorf("dominant type = %s, want high_cost", over.DominantType())
	}

	// Порог мутируется на живой системе
	d.SetCostThreshold(100.0)
	after := d.Assess(riskStep("llm_agent", map[string]any{"estimated_cost": 50.0}))
	if after.RequiresCheckpoint {
		t.Error("raised threshold must clear the finding")
	}
}

func TestAssess_SeverityIsMaxOfFindings(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// external call (high) + мутация (medium) + sensitive data (critical)
	a := d.Assess(riskStep("http_agent", map[string]any{
		"url":    "https://unknown.example.com/v1",
		"method": "DELETE",
		"note":   "use the secret from the env",
	}))

	if a.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical (max of findings)", a.Severity)
	}
	if len(a.Findings) != 3 {
		t.Errorf("expected 3 findings, got %d", len(a.Findings))
	}
	if a.DominantType() != TypeSensitiveData {
		t.Errorf("dominant type = %s, want sensitive_data", a.DominantType())
	}
}

func TestAssess_CheckpointConfigTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckpointTimeout = 2 * time.Hour
	d := NewDetector(cfg)

	a := d.Assess(riskStep("email_agent", nil))

	if a.Checkpoint == nil {
		t.Fatal("expected checkpoint config")
	}
	if a.Checkpoint.Timeout != 2*time.Hour {
		t.Errorf("timeout = %v, want 2h", a.Checkpoint.Timeout)
	}
	if a.Checkpoint.Type != domain.CheckpointTypeApproval {
		t.Errorf("type = %s, want APPROVAL", a.Checkpoint.Type)
	}
}

func TestSetAllowedHosts_RuntimeMutable(t *testing.T) {
	d := NewDetector(DefaultConfig())
	step := riskStep("http_agent", map[string]any{"url": "https://partner.example.org/api"})

	if !d.Assess(step).RequiresCheckpoint {
		t.Fatal("unknown host must require a checkpoint before allowlisting")
	}

	d.SetAllowedHosts([]string{"partner.example.org"})

	if d.Assess(step).RequiresCheckpoint {
		t.Error("allowlisted host must not require a checkpoint")
	}
}
