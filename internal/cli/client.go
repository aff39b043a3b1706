package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/mq"
	"github.com/ivolkov/Praxis/internal/store"
)

// Ошибки CLI.
var (
	// ErrNoPublisher — операция требует RabbitMQ, а подключения нет.
	ErrNoPublisher = errors.New("rabbitmq is not available")

	// ErrCheckpointResolved — решение по checkpoint'у уже принято.
	ErrCheckpointResolved = errors.New("checkpoint is already resolved")
)

// Client — in-process клиент к хранилищу и конечному автомату.
//
// Решения по checkpoint'ам не записываются напрямую: они публикуются
// в checkpoints.decided, и движок применяет их сам.
type Client struct {
	store     *store.Store
	machine   *engine.Machine
	graph     *engine.Graph
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — зависимости Client.
type Config struct {
	Store     *store.Store
	Machine   *engine.Machine
	Graph     *engine.Graph
	Publisher *mq.Publisher // может быть nil
	Logger    *slog.Logger
}

// NewClient создаёт Client.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:     cfg.Store,
		machine:   cfg.Machine,
		graph:     cfg.Graph,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// PlanStep — шаг плана из файла, подаваемого в task submit.
type PlanStep struct {
	StepID    string         `json:"step_id"`
	Name      string         `json:"name,omitempty"`
	AgentType string         `json:"agent_type"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// LoadPlan читает план из JSON-файла.
func LoadPlan(path string) ([]PlanStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var steps []PlanStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	return steps, nil
}

// SubmitTask создаёт task с планом и публикует tasks.planned.
// Невалидный план отклоняется до записи в БД; пустой план допустим —
// движок тривиально завершит такой task.
func (c *Client) SubmitTask(ctx context.Context, ownerID, goal string, plan []PlanStep) (*domain.Task, error) {
	if ownerID == "" {
		return nil, errors.New("owner is required")
	}
	if goal == "" {
		return nil, errors.New("goal is required")
	}

	now := time.Now()
	task := &domain.Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Goal:      goal,
		Status:    domain.TaskStatusPlanning,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	steps := make([]domain.Step, len(plan))
	for i, p := range plan {
		steps[i] = domain.Step{
			ID:        uuid.New(),
			TaskID:    task.ID,
			StepID:    p.StepID,
			Name:      p.Name,
			AgentType: p.AgentType,
			Inputs:    p.Inputs,
			DependsOn: p.DependsOn,
			Status:    domain.StepStatusPending,
			CreatedAt: now,
		}
	}

	if err := engine.ValidatePlan(steps); err != nil && !errors.Is(err, engine.ErrEmptyPlan) {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	if err := c.store.CreateTask(ctx, task, steps); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if c.publisher != nil {
		err := c.publisher.PublishTaskPlanned(ctx, task.ID)
		if err != nil {
			// Движок подхватит задачу через polling
			c.logger.Warn("failed to publish task.planned", "task_id", task.ID, "error", err)
		}
	}

	return task, nil
}

// GetTask возвращает task вместе с шагами.
func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, []domain.Step, error) {
	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	steps, err := c.store.ListSteps(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return task, steps, nil
}

// ListTasksOpts — фильтры списка задач.
type ListTasksOpts struct {
	OwnerID string
	Status  domain.TaskStatus
	Limit   int
}

// ListTasks возвращает задачи по владельцу или статусу.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOpts) ([]domain.Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	if opts.OwnerID != "" {
		return c.store.ListTasksByOwner(ctx, opts.OwnerID, limit)
	}
	if opts.Status != "" {
		return c.store.ListTasksByStatus(ctx, opts.Status, limit)
	}
	return nil, errors.New("either --owner or --status is required")
}

// CancelTask отменяет task. Терминальные задачи отменить нельзя —
// конечный автомат отклонит переход.
func (c *Client) CancelTask(ctx context.Context, id uuid.UUID, reason string) (*domain.Task, error) {
	return c.machine.Transition(ctx, id, domain.TaskStatusCancelled,
		engine.Updates{CancelReason: reason})
}

// RetryTask возвращает FAILED или CANCELLED task в READY.
// Провалившиеся шаги сбрасываются в PENDING; движок подхватит task
// через polling и передиспетчеризует его.
func (c *Client) RetryTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := c.graph.ResetFailed(ctx, id); err != nil {
		return nil, fmt.Errorf("reset failed steps: %w", err)
	}
	return c.machine.Transition(ctx, id, domain.TaskStatusReady, engine.Updates{})
}

// ListCheckpoints возвращает checkpoint'ы: pending по всей системе,
// либо полную историю одного task.
func (c *Client) ListCheckpoints(ctx context.Context, taskID uuid.UUID, limit int) ([]domain.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	if taskID != uuid.Nil {
		return c.store.ListTaskCheckpoints(ctx, taskID)
	}
	return c.store.ListPendingCheckpointsAll(ctx, limit)
}

// GetCheckpoint возвращает checkpoint по ID.
func (c *Client) GetCheckpoint(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	return c.store.GetCheckpoint(ctx, id)
}

// Decide публикует решение по checkpoint'у в checkpoints.decided.
// Запись решения и возобновление task делает движок.
func (c *Client) Decide(ctx context.Context, id uuid.UUID, decision domain.Decision, decidedBy, feedback string) (*domain.Checkpoint, error) {
	if c.publisher == nil {
		return nil, fmt.Errorf("cannot submit decision: %w", ErrNoPublisher)
	}

	cp, err := c.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Status != domain.CheckpointStatusPending {
		return nil, fmt.Errorf("checkpoint %s is %s: %w", id, cp.Status, ErrCheckpointResolved)
	}

	err = c.publisher.PublishCheckpointDecided(ctx, mq.CheckpointDecidedPayload{
		CheckpointID: cp.ID,
		TaskID:       cp.TaskID,
		StepID:       cp.StepID,
		Decision:     string(decision),
		DecidedBy:    decidedBy,
		Feedback:     feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("publish decision: %w", err)
	}

	return cp, nil
}

// ListPreferences возвращает preferences пользователя, опционально
// отфильтрованные по ключу.
func (c *Client) ListPreferences(ctx context.Context, userID, key string) ([]domain.Preference, error) {
	if userID == "" {
		return nil, errors.New("--user is required")
	}
	if key != "" {
		return c.store.ListPreferences(ctx, userID, key)
	}
	return c.store.ListUserPreferences(ctx, userID)
}
