package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/mq"
	"github.com/ivolkov/Praxis/internal/preference"
	"github.com/ivolkov/Praxis/internal/risk"
)

// --- Fakes ---

// fakeStore — in-memory реализация Store с честным CAS по версии task.
type fakeStore struct {
	tasks map[uuid.UUID]*domain.Task
	steps map[uuid.UUID][]domain.Step
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks: make(map[uuid.UUID]*domain.Task),
		steps: make(map[uuid.UUID][]domain.Step),
	}
}

func (f *fakeStore) GetTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, engine.ErrTaskNotFound
	}
	cloned := *task
	return &cloned, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, task *domain.Task) error {
	stored, ok := f.tasks[task.ID]
	if !ok {
		return engine.ErrTaskNotFound
	}
	if stored.Version != task.Version {
		return engine.ErrStaleTask
	}
	cloned := *task
	cloned.Version++
	f.tasks[task.ID] = &cloned
	task.Version++
	return nil
}

func (f *fakeStore) ListTasksByStatus(_ context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	var out []domain.Task
	for _, task := range f.tasks {
		if task.Status == status {
			out = append(out, *task)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListSteps(_ context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	steps := f.steps[taskID]
	out := make([]domain.Step, len(steps))
	copy(out, steps)
	return out, nil
}

func (f *fakeStore) GetStep(_ context.Context, taskID uuid.UUID, stepID string) (*domain.Step, error) {
	for i := range f.steps[taskID] {
		if f.steps[taskID][i].StepID == stepID {
			cloned := f.steps[taskID][i]
			return &cloned, nil
		}
	}
	return nil, engine.ErrStepNotFound
}

func (f *fakeStore) UpdateStep(_ context.Context, step *domain.Step) error {
	steps := f.steps[step.TaskID]
	for i := range steps {
		if steps[i].StepID == step.StepID {
			steps[i] = *step
			return nil
		}
	}
	return engine.ErrStepNotFound
}

func (f *fakeStore) stepStatus(t *testing.T, taskID uuid.UUID, stepID string) domain.StepStatus {
	t.Helper()
	step, err := f.GetStep(context.Background(), taskID, stepID)
	if err != nil {
		t.Fatalf("get step %s: %v", stepID, err)
	}
	return step.Status
}

func (f *fakeStore) taskStatus(t *testing.T, taskID uuid.UUID) domain.TaskStatus {
	t.Helper()
	task, err := f.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task.Status
}

// fakeCheckpointRepo — in-memory реализация checkpoint.Repository.
type fakeCheckpointRepo struct {
	checkpoints map[uuid.UUID]*domain.Checkpoint
}

func newFakeCheckpointRepo() *fakeCheckpointRepo {
	return &fakeCheckpointRepo{checkpoints: make(map[uuid.UUID]*domain.Checkpoint)}
}

func (f *fakeCheckpointRepo) InsertCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	cloned := *cp
	f.checkpoints[cp.ID] = &cloned
	return nil
}

func (f *fakeCheckpointRepo) GetCheckpoint(_ context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	cp, ok := f.checkpoints[id]
	if !ok {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	cloned := *cp
	return &cloned, nil
}

func (f *fakeCheckpointRepo) GetPendingCheckpoint(_ context.Context, taskID uuid.UUID, stepID string) (*domain.Checkpoint, error) {
	for _, cp := range f.checkpoints {
		if cp.TaskID == taskID && cp.StepID == stepID && cp.Status == domain.CheckpointStatusPending {
			cloned := *cp
			return &cloned, nil
		}
	}
	return nil, checkpoint.ErrCheckpointNotFound
}

func (f *fakeCheckpointRepo) ResolveCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	stored, ok := f.checkpoints[cp.ID]
	if !ok {
		return checkpoint.ErrCheckpointNotFound
	}
	if stored.Status != domain.CheckpointStatusPending || stored.Version != cp.Version {
		return checkpoint.ErrCheckpointConflict
	}
	cloned := *cp
	cloned.Version++
	f.checkpoints[cp.ID] = &cloned
	return nil
}

func (f *fakeCheckpointRepo) ListPendingCheckpoints(_ context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	var out []domain.Checkpoint
	for _, cp := range f.checkpoints {
		if cp.TaskID == taskID && cp.Status == domain.CheckpointStatusPending {
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (f *fakeCheckpointRepo) ListTaskCheckpoints(_ context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	var out []domain.Checkpoint
	for _, cp := range f.checkpoints {
		if cp.TaskID == taskID {
			out = append(out, *cp)
		}
	}
	return out, nil
}

func (f *fakeCheckpointRepo) ListExpiredCheckpoints(_ context.Context, now time.Time, limit int) ([]domain.Checkpoint, error) {
	var out []domain.Checkpoint
	for _, cp := range f.checkpoints {
		if cp.IsExpired(now) {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// fakePreferenceStore — in-memory реализация preference.Store.
type fakePreferenceStore struct {
	prefs []domain.Preference
}

func (f *fakePreferenceStore) ListPreferences(_ context.Context, userID, key string) ([]domain.Preference, error) {
	var out []domain.Preference
	for _, p := range f.prefs {
		if p.UserID == userID && p.Key == key {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePreferenceStore) InsertPreference(_ context.Context, pref *domain.Preference) error {
	f.prefs = append(f.prefs, *pref)
	return nil
}

func (f *fakePreferenceStore) UpdatePreference(_ context.Context, pref *domain.Preference) error {
	for i := range f.prefs {
		if f.prefs[i].ID == pref.ID {
			f.prefs[i] = *pref
			return nil
		}
	}
	return nil
}

func (f *fakePreferenceStore) DeletePreferencesUnusedSince(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// fakePublisher записывает опубликованные step.ready.
type fakePublisher struct {
	ready []mq.StepReadyPayload
}

func (f *fakePublisher) PublishStepReady(_ context.Context, payload mq.StepReadyPayload) error {
	f.ready = append(f.ready, payload)
	return nil
}

// --- Harness ---

type harness struct {
	o       *Orchestrator
	store   *fakeStore
	cpRepo  *fakeCheckpointRepo
	prefs   *fakePreferenceStore
	pub     *fakePublisher
	matcher *preference.Matcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newFakeStore()
	cpRepo := newFakeCheckpointRepo()
	prefs := &fakePreferenceStore{}
	pub := &fakePublisher{}
	matcher := preference.NewMatcher(prefs)

	o := New(Config{
		Store:       store,
		Machine:     engine.NewMachine(store, nil),
		Graph:       engine.NewGraph(store),
		Checkpoints: checkpoint.NewStore(cpRepo, nil),
		Preferences: matcher,
		Risk:        risk.NewDetector(risk.DefaultConfig()),
		Publisher:   pub,
	})

	return &harness{o: o, store: store, cpRepo: cpRepo, prefs: prefs, pub: pub, matcher: matcher}
}

func (h *harness) addTask(status domain.TaskStatus, steps ...domain.Step) uuid.UUID {
	taskID := uuid.New()
	h.store.tasks[taskID] = &domain.Task{
		ID:      taskID,
		OwnerID: "user-1",
		Goal:    "test goal",
		Status:  status,
		Version: 1,
	}
	for i := range steps {
		steps[i].ID = uuid.New()
		steps[i].TaskID = taskID
		if steps[i].Status == "" {
			steps[i].Status = domain.StepStatusPending
		}
	}
	h.store.steps[taskID] = steps
	return taskID
}

func plainStep(stepID string, deps ...string) domain.Step {
	return domain.Step{
		StepID:    stepID,
		AgentType: "llm_agent",
		Inputs:    map[string]any{"prompt": "do the thing"},
		DependsOn: deps,
	}
}

func notifierStep(stepID string, deps ...string) domain.Step {
	return domain.Step{
		StepID:    stepID,
		AgentType: "email_agent",
		Inputs:    map[string]any{"to": "someone@example.com"},
		DependsOn: deps,
	}
}

// --- Launch ---

func TestLaunchTask_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, plainStep("s1"), plainStep("s2", "s1"))

	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusExecuting {
		t.Errorf("task status = %s, want EXECUTING", got)
	}
	if got := h.store.stepStatus(t, taskID, "s1"); got != domain.StepStatusRunning {
		t.Errorf("s1 status = %s, want RUNNING", got)
	}
	if got := h.store.stepStatus(t, taskID, "s2"); got != domain.StepStatusPending {
		t.Errorf("s2 status = %s, want PENDING (depends on s1)", got)
	}
	if len(h.pub.ready) != 1 || h.pub.ready[0].StepID != "s1" {
		t.Errorf("published ready = %v, want [s1]", h.pub.ready)
	}
}

func TestLaunchTask_NotPlanning(t *testing.T) {
	h := newHarness(t)
	taskID := h.addTask(domain.TaskStatusExecuting, plainStep("s1"))

	err := h.o.launchTask(context.Background(), taskID)
	if err != ErrTaskNotPlanning {
		t.Errorf("expected ErrTaskNotPlanning, got %v", err)
	}
}

func TestLaunchTask_EmptyPlanCompletes(t *testing.T) {
	h := newHarness(t)
	taskID := h.addTask(domain.TaskStatusPlanning)

	if err := h.o.launchTask(context.Background(), taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusCompleted {
		t.Errorf("task status = %s, want COMPLETED (empty plan)", got)
	}
}

func TestLaunchTask_CyclicPlanFails(t *testing.T) {
	h := newHarness(t)
	taskID := h.addTask(domain.TaskStatusPlanning,
		plainStep("s1", "s2"),
		plainStep("s2", "s1"),
	)

	if err := h.o.launchTask(context.Background(), taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	task, _ := h.store.GetTask(context.Background(), taskID)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("task status = %s, want FAILED", task.Status)
	}
	if !strings.Contains(task.Error, "invalid plan") {
		t.Errorf("task error = %q, want mention of invalid plan", task.Error)
	}
}

// --- Step completion ---

func TestStepCompleted_Progression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, plainStep("s1"), plainStep("s2", "s1"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	err := h.o.processStepCompleted(ctx, mq.StepCompletedPayload{
		TaskID:  taskID,
		StepID:  "s1",
		Status:  string(domain.StepStatusDone),
		Outputs: map[string]any{"result": "ok"},
	})
	if err != nil {
		t.Fatalf("processStepCompleted s1: %v", err)
	}

	if got := h.store.stepStatus(t, taskID, "s2"); got != domain.StepStatusRunning {
		t.Errorf("s2 status = %s, want RUNNING after s1 done", got)
	}

	err = h.o.processStepCompleted(ctx, mq.StepCompletedPayload{
		TaskID: taskID,
		StepID: "s2",
		Status: string(domain.StepStatusDone),
	})
	if err != nil {
		t.Fatalf("processStepCompleted s2: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusCompleted {
		t.Errorf("task status = %s, want COMPLETED", got)
	}
}

func TestStepCompleted_FailFast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// sA и sB параллельны; провал sA валит task, не дожидаясь sB
	taskID := h.addTask(domain.TaskStatusPlanning, plainStep("sA"), plainStep("sB"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	err := h.o.processStepCompleted(ctx, mq.StepCompletedPayload{
		TaskID: taskID,
		StepID: "sA",
		Status: string(domain.StepStatusFailed),
		Error:  "agent exploded",
	})
	if err != nil {
		t.Fatalf("processStepCompleted: %v", err)
	}

	task, _ := h.store.GetTask(ctx, taskID)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("task status = %s, want FAILED (fail-fast)", task.Status)
	}
	if !strings.Contains(task.Error, "sA") {
		t.Errorf("task error = %q, want mention of sA", task.Error)
	}
	if got := h.store.stepStatus(t, taskID, "sB"); got != domain.StepStatusRunning {
		t.Errorf("sB status = %s, running sibling is not touched", got)
	}
}

func TestStepCompleted_UnknownStatus(t *testing.T) {
	h := newHarness(t)
	taskID := h.addTask(domain.TaskStatusExecuting, plainStep("s1"))

	err := h.o.processStepCompleted(context.Background(), mq.StepCompletedPayload{
		TaskID: taskID,
		StepID: "s1",
		Status: "EXPLODED",
	})
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
}

// --- Checkpoints ---

func TestDispatch_RiskyStepHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusCheckpoint {
		t.Errorf("task status = %s, want CHECKPOINT", got)
	}
	if got := h.store.stepStatus(t, taskID, "send"); got != domain.StepStatusPaused {
		t.Errorf("step status = %s, want PAUSED", got)
	}
	if len(h.pub.ready) != 0 {
		t.Errorf("held step must not be published, got %v", h.pub.ready)
	}

	pending, _ := h.cpRepo.ListPendingCheckpoints(ctx, taskID)
	if len(pending) != 1 {
		t.Fatalf("pending checkpoints = %d, want 1", len(pending))
	}
	if pending[0].PreferenceKey != "risk:notification" {
		t.Errorf("preference key = %q, want risk:notification", pending[0].PreferenceKey)
	}
}

func TestDispatch_RepeatDoesNotDuplicateCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	// Повторный dispatch (например, после рестарта) не плодит дубликаты
	h.o.dispatchAfter(ctx, taskID)

	all, _ := h.cpRepo.ListTaskCheckpoints(ctx, taskID)
	if len(all) != 1 {
		t.Errorf("checkpoints = %d, want 1", len(all))
	}
}

func TestCheckpointDecided_ApprovalResumesTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	pending, _ := h.cpRepo.ListPendingCheckpoints(ctx, taskID)
	err := h.o.processCheckpointDecided(ctx, mq.CheckpointDecidedPayload{
		CheckpointID: pending[0].ID,
		TaskID:       taskID,
		StepID:       "send",
		Decision:     string(domain.DecisionApproved),
		DecidedBy:    "user-1",
	})
	if err != nil {
		t.Fatalf("processCheckpointDecided: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusExecuting {
		t.Errorf("task status = %s, want EXECUTING after approval", got)
	}
	if got := h.store.stepStatus(t, taskID, "send"); got != domain.StepStatusRunning {
		t.Errorf("step status = %s, want RUNNING after approval", got)
	}

	// Решение выучено
	if len(h.prefs.prefs) != 1 {
		t.Fatalf("learned preferences = %d, want 1", len(h.prefs.prefs))
	}
	if h.prefs.prefs[0].Decision != domain.DecisionApproved {
		t.Errorf("learned decision = %s, want APPROVED", h.prefs.prefs[0].Decision)
	}
	if h.prefs.prefs[0].Pattern.AgentType != "email_agent" {
		t.Errorf("learned agent = %q, want email_agent", h.prefs.prefs[0].Pattern.AgentType)
	}
}

func TestCheckpointDecided_RejectionFailsTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	pending, _ := h.cpRepo.ListPendingCheckpoints(ctx, taskID)
	err := h.o.processCheckpointDecided(ctx, mq.CheckpointDecidedPayload{
		CheckpointID: pending[0].ID,
		TaskID:       taskID,
		StepID:       "send",
		Decision:     string(domain.DecisionRejected),
		DecidedBy:    "user-1",
		Feedback:     "not like this",
	})
	if err != nil {
		t.Fatalf("processCheckpointDecided: %v", err)
	}

	task, _ := h.store.GetTask(ctx, taskID)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("task status = %s, want FAILED after rejection", task.Status)
	}
	step, _ := h.store.GetStep(ctx, taskID, "send")
	if step.Status != domain.StepStatusFailed {
		t.Errorf("step status = %s, want FAILED", step.Status)
	}
	if !strings.Contains(step.Error, "not like this") {
		t.Errorf("step error = %q, want feedback carried over", step.Error)
	}
}

func TestCheckpointDecided_RedeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	pending, _ := h.cpRepo.ListPendingCheckpoints(ctx, taskID)
	payload := mq.CheckpointDecidedPayload{
		CheckpointID: pending[0].ID,
		TaskID:       taskID,
		StepID:       "send",
		Decision:     string(domain.DecisionApproved),
		DecidedBy:    "user-1",
	}

	if err := h.o.processCheckpointDecided(ctx, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.o.processCheckpointDecided(ctx, payload); err != nil {
		t.Fatalf("redelivery must be a no-op, got %v", err)
	}

	if len(h.prefs.prefs) != 1 {
		t.Errorf("redelivery must not learn twice, preferences = %d", len(h.prefs.prefs))
	}
}

// --- Auto-approval ---

func TestDispatch_AutoApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Два одинаковых решения поднимают уверенность до 0.99
	dctx := preference.Context{"agent_type": "email_agent", "risk_level": "high"}
	for i := 0; i < 2; i++ {
		if _, err := h.matcher.RecordDecision(ctx, "user-1", "risk:notification", dctx, domain.DecisionApproved); err != nil {
			t.Fatalf("seed preference: %v", err)
		}
	}

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusExecuting {
		t.Errorf("task status = %s, want EXECUTING (auto-approved)", got)
	}
	if got := h.store.stepStatus(t, taskID, "send"); got != domain.StepStatusRunning {
		t.Errorf("step status = %s, want RUNNING (auto-approved)", got)
	}

	// Checkpoint существует в audit trail как AUTO_APPROVED
	all, _ := h.cpRepo.ListTaskCheckpoints(ctx, taskID)
	if len(all) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(all))
	}
	if all[0].Status != domain.CheckpointStatusAutoApproved {
		t.Errorf("checkpoint status = %s, want AUTO_APPROVED", all[0].Status)
	}
	if all[0].DecidedBy != "auto" {
		t.Errorf("decided_by = %q, want auto", all[0].DecidedBy)
	}
}

func TestDispatch_LowConfidenceStillHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Одно наблюдение: confidence 0.9, ровно на пороге не хватает
	dctx := preference.Context{"agent_type": "email_agent", "risk_level": "high"}
	if _, err := h.matcher.RecordDecision(ctx, "user-1", "risk:notification", dctx, domain.DecisionApproved); err != nil {
		t.Fatalf("seed preference: %v", err)
	}

	h.o.autoApproveThreshold = 0.95

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusCheckpoint {
		t.Errorf("task status = %s, want CHECKPOINT (confidence below threshold)", got)
	}
}

func TestDispatch_LearnedRejectionNeverAutoApproves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dctx := preference.Context{"agent_type": "email_agent", "risk_level": "high"}
	for i := 0; i < 3; i++ {
		if _, err := h.matcher.RecordDecision(ctx, "user-1", "risk:notification", dctx, domain.DecisionRejected); err != nil {
			t.Fatalf("seed preference: %v", err)
		}
	}

	taskID := h.addTask(domain.TaskStatusPlanning, notifierStep("send"))
	if err := h.o.launchTask(ctx, taskID); err != nil {
		t.Fatalf("launchTask: %v", err)
	}

	// Выученный отказ оставляет решение человеку, а не отклоняет сам
	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusCheckpoint {
		t.Errorf("task status = %s, want CHECKPOINT (learned rejection goes to human)", got)
	}
}

// --- Poll ---

func TestPoll_LaunchesPlanningTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	taskID := h.addTask(domain.TaskStatusPlanning, plainStep("s1"))
	h.addTask(domain.TaskStatusCompleted)

	h.o.poll(ctx)

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusExecuting {
		t.Errorf("task status = %s, want EXECUTING after poll", got)
	}
}

func TestPoll_ResumesReadyTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// READY — так задачу оставляет retry
	taskID := h.addTask(domain.TaskStatusReady, plainStep("s1"))

	h.o.poll(ctx)

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusExecuting {
		t.Errorf("task status = %s, want EXECUTING after poll", got)
	}
	if got := h.store.stepStatus(t, taskID, "s1"); got != domain.StepStatusRunning {
		t.Errorf("s1 status = %s, want RUNNING", got)
	}
}

func TestPoll_FinalizesStalledExecutingTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Все шаги DONE, но финальное steps.completed потерялось
	done := plainStep("s1")
	done.Status = domain.StepStatusDone
	taskID := h.addTask(domain.TaskStatusExecuting, done)

	h.o.poll(ctx)

	if got := h.store.taskStatus(t, taskID); got != domain.TaskStatusCompleted {
		t.Errorf("task status = %s, want COMPLETED after poll", got)
	}
}

// --- Config ---

func TestNew_Defaults(t *testing.T) {
	o := New(Config{})

	if o.pollInterval != defaultPollInterval {
		t.Errorf("poll interval = %v, want %v", o.pollInterval, defaultPollInterval)
	}
	if o.batchSize != defaultBatchSize {
		t.Errorf("batch size = %d, want %d", o.batchSize, defaultBatchSize)
	}
	if o.autoApproveThreshold != preference.DefaultThreshold {
		t.Errorf("threshold = %v, want %v", o.autoApproveThreshold, preference.DefaultThreshold)
	}
	if o.logger == nil {
		t.Error("logger must default to slog.Default")
	}
}

func TestOrchestrator_IsStopped(t *testing.T) {
	h := newHarness(t)

	if h.o.IsStopped() {
		t.Error("new orchestrator must not be stopped")
	}

	h.o.Stop()

	if !h.o.IsStopped() {
		t.Error("orchestrator must report stopped after Stop")
	}
}
