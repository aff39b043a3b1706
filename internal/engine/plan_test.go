package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
)

func planStep(stepID, agentType string, deps ...string) domain.Step {
	return domain.Step{
		ID:        uuid.New(),
		StepID:    stepID,
		AgentType: agentType,
		DependsOn: deps,
		Status:    domain.StepStatusPending,
	}
}

func TestValidatePlan_Valid(t *testing.T) {
	steps := []domain.Step{
		planStep("fetch", "web_search"),
		planStep("summarize", "llm_agent", "fetch"),
		planStep("notify", "email_agent", "summarize"),
	}

	if err := ValidatePlan(steps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePlan_Errors(t *testing.T) {
	tests := []struct {
		name  string
		steps []domain.Step
		want  error
	}{
		{
			name:  "empty plan",
			steps: nil,
			want:  ErrEmptyPlan,
		},
		{
			name:  "empty step ID",
			steps: []domain.Step{planStep("", "web_search")},
			want:  ErrEmptyStepID,
		},
		{
			name: "duplicate step ID",
			steps: []domain.Step{
				planStep("a", "web_search"),
				planStep("a", "llm_agent"),
			},
			want: ErrDuplicateStepID,
		},
		{
			name:  "empty agent type",
			steps: []domain.Step{planStep("a", "")},
			want:  ErrEmptyAgentType,
		},
		{
			name: "unknown dependency",
			steps: []domain.Step{
				planStep("a", "web_search", "ghost"),
			},
			want: ErrMissingDependency,
		},
		{
			name: "self dependency",
			steps: []domain.Step{
				planStep("a", "web_search", "a"),
			},
			want: ErrSelfDependency,
		},
		{
			name: "two-node cycle",
			steps: []domain.Step{
				planStep("a", "web_search", "b"),
				planStep("b", "llm_agent", "a"),
			},
			want: ErrCyclicDependency,
		},
		{
			name: "three-node cycle behind a valid root",
			steps: []domain.Step{
				planStep("root", "web_search"),
				planStep("a", "llm_agent", "root", "c"),
				planStep("b", "llm_agent", "a"),
				planStep("c", "llm_agent", "b"),
			},
			want: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(tt.steps)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidatePlan() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidatePlan_DiamondIsAcyclic(t *testing.T) {
	steps := []domain.Step{
		planStep("a", "web_search"),
		planStep("b", "llm_agent", "a"),
		planStep("c", "llm_agent", "a"),
		planStep("d", "email_agent", "b", "c"),
	}

	if err := ValidatePlan(steps); err != nil {
		t.Fatalf("diamond must validate, got %v", err)
	}
}

func TestPlanError_ReportsStep(t *testing.T) {
	steps := []domain.Step{planStep("fetch", "web_search", "ghost")}

	err := ValidatePlan(steps)

	var pe *PlanError
	if !errors.As(err, &pe) {
		t.Fatal("expected *PlanError")
	}
	if pe.StepID != "fetch" {
		t.Errorf("PlanError.StepID = %q, want fetch", pe.StepID)
	}
}
