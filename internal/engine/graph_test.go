package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
)

// fakeStepStore — in-memory StepStore.
type fakeStepStore struct {
	mu    sync.Mutex
	steps map[uuid.UUID][]domain.Step // taskID → steps
}

func newFakeStepStore() *fakeStepStore {
	return &fakeStepStore{steps: make(map[uuid.UUID][]domain.Step)}
}

func (f *fakeStepStore) put(taskID uuid.UUID, steps ...domain.Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[taskID] = append(f.steps[taskID], steps...)
}

func (f *fakeStepStore) ListSteps(_ context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Step, len(f.steps[taskID]))
	copy(out, f.steps[taskID])
	return out, nil
}

func (f *fakeStepStore) GetStep(_ context.Context, taskID uuid.UUID, stepID string) (*domain.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.steps[taskID] {
		if f.steps[taskID][i].StepID == stepID {
			copied := f.steps[taskID][i]
			return &copied, nil
		}
	}
	return nil, ErrStepNotFound
}

func (f *fakeStepStore) UpdateStep(_ context.Context, step *domain.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.steps[step.TaskID] {
		if f.steps[step.TaskID][i].StepID == step.StepID {
			f.steps[step.TaskID][i] = *step
			return nil
		}
	}
	return ErrStepNotFound
}

func newStep(taskID uuid.UUID, stepID string, deps ...string) domain.Step {
	return domain.Step{
		ID:        uuid.New(),
		TaskID:    taskID,
		StepID:    stepID,
		AgentType: "web_search",
		DependsOn: deps,
		Status:    domain.StepStatusPending,
		CreatedAt: time.Now(),
	}
}

func readyIDs(t *testing.T, g *Graph, taskID uuid.UUID) map[string]bool {
	t.Helper()
	ready, err := g.GetReadyNodes(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetReadyNodes: %v", err)
	}
	ids := make(map[string]bool, len(ready))
	for i := range ready {
		ids[ready[i].StepID] = true
	}
	return ids
}

// Сценарий A: линейная цепочка s1 → s2 → s3.
func TestGraph_LinearChain(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID,
		newStep(taskID, "s1"),
		newStep(taskID, "s2", "s1"),
		newStep(taskID, "s3", "s2"),
	)

	g := NewGraph(store)

	ids := readyIDs(t, g, taskID)
	if len(ids) != 1 || !ids["s1"] {
		t.Fatalf("initial ready set = %v, want {s1}", ids)
	}

	if err := g.CompleteNode(ctx, taskID, "s1", map[string]any{"out": 1}); err != nil {
		t.Fatalf("complete s1: %v", err)
	}
	ids = readyIDs(t, g, taskID)
	if len(ids) != 1 || !ids["s2"] {
		t.Fatalf("after s1 ready set = %v, want {s2}", ids)
	}

	if err := g.CompleteNode(ctx, taskID, "s2", nil); err != nil {
		t.Fatalf("complete s2: %v", err)
	}
	ids = readyIDs(t, g, taskID)
	if len(ids) != 1 || !ids["s3"] {
		t.Fatalf("after s2 ready set = %v, want {s3}", ids)
	}

	if err := g.CompleteNode(ctx, taskID, "s3", nil); err != nil {
		t.Fatalf("complete s3: %v", err)
	}

	done, status, err := g.IsTaskComplete(ctx, taskID)
	if err != nil {
		t.Fatalf("IsTaskComplete: %v", err)
	}
	if !done || status != domain.TaskStatusCompleted {
		t.Errorf("IsTaskComplete = (%v, %s), want (true, COMPLETED)", done, status)
	}
}

// Сценарий B: параллельные sA, sB и sFinal, зависящий от обоих.
func TestGraph_ParallelJoin(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID,
		newStep(taskID, "sA"),
		newStep(taskID, "sB"),
		newStep(taskID, "sFinal", "sA", "sB"),
	)

	g := NewGraph(store)

	ids := readyIDs(t, g, taskID)
	if len(ids) != 2 || !ids["sA"] || !ids["sB"] {
		t.Fatalf("initial ready set = %v, want {sA, sB}", ids)
	}

	// Завершение только sA не делает sFinal готовым
	if err := g.CompleteNode(ctx, taskID, "sA", nil); err != nil {
		t.Fatalf("complete sA: %v", err)
	}
	ids = readyIDs(t, g, taskID)
	if ids["sFinal"] {
		t.Error("sFinal should not be ready with sB incomplete")
	}

	if err := g.CompleteNode(ctx, taskID, "sB", nil); err != nil {
		t.Fatalf("complete sB: %v", err)
	}
	ids = readyIDs(t, g, taskID)
	if len(ids) != 1 || !ids["sFinal"] {
		t.Fatalf("after sA+sB ready set = %v, want {sFinal}", ids)
	}
}

// Сценарий C: fail-fast — провал одной ветки завершает task немедленно,
// не дожидаясь соседней.
func TestGraph_FailFast(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID,
		newStep(taskID, "branchA"),
		newStep(taskID, "branchB"),
	)

	g := NewGraph(store)

	if err := g.StartNode(ctx, taskID, "branchB"); err != nil {
		t.Fatalf("start branchB: %v", err)
	}
	if err := g.FailNode(ctx, taskID, "branchA", "agent error"); err != nil {
		t.Fatalf("fail branchA: %v", err)
	}

	done, status, err := g.IsTaskComplete(ctx, taskID)
	if err != nil {
		t.Fatalf("IsTaskComplete: %v", err)
	}
	if !done || status != domain.TaskStatusFailed {
		t.Errorf("IsTaskComplete = (%v, %s), want (true, FAILED) immediately", done, status)
	}
}

func TestGraph_ZeroStepTaskIsComplete(t *testing.T) {
	g := NewGraph(newFakeStepStore())

	done, status, err := g.IsTaskComplete(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IsTaskComplete: %v", err)
	}
	if !done || status != domain.TaskStatusCompleted {
		t.Errorf("zero-step task = (%v, %s), want (true, COMPLETED)", done, status)
	}
}

func TestGraph_RunningStepsNotReady(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID, newStep(taskID, "s1"))

	g := NewGraph(store)

	if err := g.StartNode(ctx, taskID, "s1"); err != nil {
		t.Fatalf("start s1: %v", err)
	}

	ids := readyIDs(t, g, taskID)
	if len(ids) != 0 {
		t.Errorf("running step must not be in ready set, got %v", ids)
	}

	done, _, _ := g.IsTaskComplete(ctx, taskID)
	if done {
		t.Error("task with a running step is not complete")
	}
}

func TestGraph_StartNode_Idempotent(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID, newStep(taskID, "s1"))

	g := NewGraph(store)

	if err := g.StartNode(ctx, taskID, "s1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	first, _ := store.GetStep(ctx, taskID, "s1")

	if err := g.StartNode(ctx, taskID, "s1"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	second, _ := store.GetStep(ctx, taskID, "s1")

	if !first.StartedAt.Equal(*second.StartedAt) {
		t.Error("repeated StartNode must not restamp StartedAt")
	}
}

func TestGraph_CompleteNode_Idempotent(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID, newStep(taskID, "s1"))

	g := NewGraph(store)

	if err := g.CompleteNode(ctx, taskID, "s1", map[string]any{"n": 1}); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := g.CompleteNode(ctx, taskID, "s1", map[string]any{"n": 2}); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	step, _ := store.GetStep(ctx, taskID, "s1")
	if step.Outputs["n"] != 1 {
		t.Error("repeated CompleteNode must not overwrite outputs")
	}
}

func TestGraph_PauseAndReset(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID, newStep(taskID, "s1"))

	g := NewGraph(store)

	if err := g.PauseNode(ctx, taskID, "s1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	step, _ := store.GetStep(ctx, taskID, "s1")
	if step.Status != domain.StepStatusPaused {
		t.Fatalf("expected PAUSED, got %s", step.Status)
	}

	// Paused-шаг не ready
	if ids := readyIDs(t, g, taskID); len(ids) != 0 {
		t.Errorf("paused step must not be ready, got %v", ids)
	}

	if err := g.ResetNode(ctx, taskID, "s1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	step, _ = store.GetStep(ctx, taskID, "s1")
	if step.Status != domain.StepStatusPending {
		t.Errorf("expected PENDING after reset, got %s", step.Status)
	}
}

func TestGraph_ResetFailed_KeepsDoneSteps(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	store := newFakeStepStore()
	store.put(taskID,
		newStep(taskID, "s1"),
		newStep(taskID, "s2", "s1"),
	)

	g := NewGraph(store)

	if err := g.CompleteNode(ctx, taskID, "s1", map[string]any{"kept": true}); err != nil {
		t.Fatalf("complete s1: %v", err)
	}
	if err := g.FailNode(ctx, taskID, "s2", "boom"); err != nil {
		t.Fatalf("fail s2: %v", err)
	}

	if err := g.ResetFailed(ctx, taskID); err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}

	s1, _ := store.GetStep(ctx, taskID, "s1")
	if s1.Status != domain.StepStatusDone {
		t.Error("done step must survive retry")
	}

	s2, _ := store.GetStep(ctx, taskID, "s2")
	if s2.Status != domain.StepStatusPending || s2.Error != "" {
		t.Errorf("failed step should be reset to PENDING, got %s %q", s2.Status, s2.Error)
	}

	// После reset s2 снова ready (s1 уже done)
	if ids := readyIDs(t, g, taskID); !ids["s2"] {
		t.Error("s2 should be ready again after reset")
	}
}
