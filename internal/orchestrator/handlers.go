package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/mq"
	"github.com/ivolkov/Praxis/internal/preference"
	"github.com/ivolkov/Praxis/internal/risk"
	"github.com/ivolkov/Praxis/internal/telemetry"
)

// handleTaskPlanned обрабатывает событие о новом task от planner'а.
func (o *Orchestrator) handleTaskPlanned(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskPlannedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse task.planned payload", "error", err)
		return err
	}

	o.logger.Debug("received task.planned event", "task_id", payload.TaskID)

	if err := o.launchTask(ctx, payload.TaskID); err != nil {
		if errors.Is(err, ErrTaskNotPlanning) || errors.Is(err, engine.ErrTaskNotFound) {
			// Другой инстанс успел раньше или task отозван
			o.logger.Debug("task not launched", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		o.logger.Error("failed to launch task", "task_id", payload.TaskID, "error", err)
		return err
	}

	return nil
}

// handleStepCompleted обрабатывает результат выполнения шага от агента.
func (o *Orchestrator) handleStepCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StepCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse step.completed payload", "error", err)
		return err
	}

	o.logger.Debug("received step.completed event",
		"task_id", payload.TaskID,
		"step_id", payload.StepID,
		"status", payload.Status,
	)

	if err := o.processStepCompleted(ctx, payload); err != nil {
		if errors.Is(err, ErrUnknownStepStatus) || errors.Is(err, engine.ErrStepNotFound) {
			// Повторять бессмысленно
			o.logger.Warn("step completion dropped",
				"task_id", payload.TaskID,
				"step_id", payload.StepID,
				"reason", err,
			)
			return nil
		}
		o.logger.Error("failed to process step completion",
			"task_id", payload.TaskID,
			"step_id", payload.StepID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleCheckpointDecided обрабатывает решение по checkpoint'у.
func (o *Orchestrator) handleCheckpointDecided(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CheckpointDecidedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse checkpoint.decided payload", "error", err)
		return err
	}

	o.logger.Debug("received checkpoint.decided event",
		"checkpoint_id", payload.CheckpointID,
		"decision", payload.Decision,
		"decided_by", payload.DecidedBy,
	)

	if err := o.processCheckpointDecided(ctx, payload); err != nil {
		o.logger.Error("failed to process checkpoint decision",
			"checkpoint_id", payload.CheckpointID,
			"error", err,
		)
		return err
	}

	return nil
}

// launchTask валидирует план и запускает PLANNING-task.
func (o *Orchestrator) launchTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusPlanning {
		return ErrTaskNotPlanning
	}

	steps, err := o.store.ListSteps(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}

	if err := engine.ValidatePlan(steps); err != nil {
		if errors.Is(err, engine.ErrEmptyPlan) {
			// Task без шагов тривиально завершён
			_, err := o.machine.TransitionIfCurrent(ctx, taskID,
				domain.TaskStatusPlanning, domain.TaskStatusCompleted, engine.Updates{})
			return err
		}

		o.logger.Warn("plan validation failed", "task_id", taskID, "error", err)
		_, terr := o.machine.TransitionIfCurrent(ctx, taskID,
			domain.TaskStatusPlanning, domain.TaskStatusFailed,
			engine.Updates{Error: fmt.Sprintf("invalid plan: %v", err)})
		return terr
	}

	if task, err = o.machine.TransitionIfCurrent(ctx, taskID,
		domain.TaskStatusPlanning, domain.TaskStatusReady, engine.Updates{}); err != nil {
		return fmt.Errorf("transition to ready: %w", err)
	}
	if task == nil {
		// Проигранная гонка с другим инстансом
		return nil
	}

	if _, err := o.machine.TransitionIfCurrent(ctx, taskID,
		domain.TaskStatusReady, domain.TaskStatusExecuting, engine.Updates{}); err != nil {
		return fmt.Errorf("transition to executing: %w", err)
	}

	o.logger.Info("task launched", "task_id", taskID, "steps", len(steps))

	o.dispatchAfter(ctx, taskID)
	return nil
}

// processStepCompleted записывает результат шага и продвигает task.
func (o *Orchestrator) processStepCompleted(ctx context.Context, payload mq.StepCompletedPayload) error {
	switch payload.Status {
	case string(domain.StepStatusDone):
		if err := o.graph.CompleteNode(ctx, payload.TaskID, payload.StepID, payload.Outputs); err != nil {
			return fmt.Errorf("complete node: %w", err)
		}
	case string(domain.StepStatusFailed):
		if err := o.graph.FailNode(ctx, payload.TaskID, payload.StepID, payload.Error); err != nil {
			return fmt.Errorf("fail node: %w", err)
		}
		o.logger.Warn("step failed",
			"task_id", payload.TaskID,
			"step_id", payload.StepID,
			"error", payload.Error,
		)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStepStatus, payload.Status)
	}

	telemetry.StepsCompleted.WithLabelValues(payload.Status).Inc()

	return o.advanceTask(ctx, payload.TaskID)
}

// advanceTask финализирует task, если граф дошёл до конца, иначе
// диспетчеризует следующие готовые шаги.
func (o *Orchestrator) advanceTask(ctx context.Context, taskID uuid.UUID) error {
	complete, status, err := o.graph.IsTaskComplete(ctx, taskID)
	if err != nil {
		return err
	}

	if !complete {
		o.dispatchAfter(ctx, taskID)
		return nil
	}

	switch status {
	case domain.TaskStatusCompleted:
		if _, err := o.machine.TransitionIfCurrent(ctx, taskID,
			domain.TaskStatusExecuting, domain.TaskStatusCompleted, engine.Updates{}); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		o.logger.Info("task completed", "task_id", taskID)

	case domain.TaskStatusFailed:
		// Fail-fast: первый упавший шаг валит task, не дожидаясь соседей.
		// Task может быть и в CHECKPOINT, если параллельный шаг удержан.
		updates := engine.Updates{Error: failedStepsError(ctx, o.store, taskID)}
		task, err := o.machine.TransitionIfCurrent(ctx, taskID,
			domain.TaskStatusExecuting, domain.TaskStatusFailed, updates)
		if err != nil {
			return fmt.Errorf("fail task: %w", err)
		}
		if task == nil {
			if _, err := o.machine.TransitionIfCurrent(ctx, taskID,
				domain.TaskStatusCheckpoint, domain.TaskStatusFailed, updates); err != nil {
				return fmt.Errorf("fail task from checkpoint: %w", err)
			}
		}
		o.logger.Warn("task failed", "task_id", taskID)
	}

	return nil
}

// processCheckpointDecided применяет решение к checkpoint'у и шагу.
func (o *Orchestrator) processCheckpointDecided(ctx context.Context, payload mq.CheckpointDecidedPayload) error {
	decision := domain.Decision(payload.Decision)
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		o.logger.Warn("checkpoint decision dropped",
			"checkpoint_id", payload.CheckpointID,
			"decision", payload.Decision,
		)
		return nil
	}

	cp, err := o.checkpoints.Resolve(ctx, payload.CheckpointID, checkpoint.Resolution{
		Decision:  decision,
		DecidedBy: payload.DecidedBy,
		Feedback:  payload.Feedback,
	})
	if err != nil {
		if errors.Is(err, checkpoint.ErrCheckpointConflict) {
			// Redelivery или проигранная гонка — решение уже записано
			o.logger.Debug("checkpoint already resolved", "checkpoint_id", payload.CheckpointID)
			return nil
		}
		if errors.Is(err, checkpoint.ErrCheckpointNotFound) {
			o.logger.Warn("checkpoint not found", "checkpoint_id", payload.CheckpointID)
			return nil
		}
		return fmt.Errorf("resolve checkpoint: %w", err)
	}

	o.learnDecision(ctx, cp)

	if decision == domain.DecisionApproved {
		return o.resumeAfterApproval(ctx, cp)
	}
	return o.failAfterRejection(ctx, cp)
}

// learnDecision скармливает человеческое решение matcher'у.
// Обучение best-effort: сбой не блокирует продвижение task.
func (o *Orchestrator) learnDecision(ctx context.Context, cp *domain.Checkpoint) {
	if cp.DecidedBy == "auto" || cp.PreferenceKey == "" {
		return
	}

	task, err := o.store.GetTask(ctx, cp.TaskID)
	if err != nil {
		o.logger.Warn("preference learning skipped: task unavailable",
			"checkpoint_id", cp.ID, "error", err)
		return
	}

	dctx, err := o.decisionContext(ctx, cp.TaskID, cp.StepID)
	if err != nil {
		o.logger.Warn("preference learning skipped: step unavailable",
			"checkpoint_id", cp.ID, "error", err)
		return
	}

	if _, err := o.preferences.RecordDecision(ctx, task.OwnerID, cp.PreferenceKey, dctx, cp.Decision); err != nil {
		o.logger.Warn("preference learning failed",
			"checkpoint_id", cp.ID, "user_id", task.OwnerID, "error", err)
	}
}

// resumeAfterApproval возобновляет task и запускает одобренный шаг.
func (o *Orchestrator) resumeAfterApproval(ctx context.Context, cp *domain.Checkpoint) error {
	if _, err := o.machine.TransitionIfCurrent(ctx, cp.TaskID,
		domain.TaskStatusCheckpoint, domain.TaskStatusExecuting, engine.Updates{}); err != nil {
		return fmt.Errorf("resume task: %w", err)
	}

	if err := o.startStep(ctx, cp.TaskID, cp.StepID); err != nil {
		return fmt.Errorf("start approved step: %w", err)
	}

	o.logger.Info("checkpoint approved, step released",
		"checkpoint_id", cp.ID,
		"task_id", cp.TaskID,
		"step_id", cp.StepID,
		"decided_by", cp.DecidedBy,
	)

	o.dispatchAfter(ctx, cp.TaskID)
	return nil
}

// failAfterRejection проваливает отклонённый шаг и task целиком.
func (o *Orchestrator) failAfterRejection(ctx context.Context, cp *domain.Checkpoint) error {
	reason := "rejected at checkpoint"
	if cp.Feedback != "" {
		reason = fmt.Sprintf("rejected at checkpoint: %s", cp.Feedback)
	}

	if err := o.graph.FailNode(ctx, cp.TaskID, cp.StepID, reason); err != nil {
		return fmt.Errorf("fail rejected step: %w", err)
	}

	updates := engine.Updates{Error: fmt.Sprintf("step %s %s", cp.StepID, reason)}
	task, err := o.machine.TransitionIfCurrent(ctx, cp.TaskID,
		domain.TaskStatusCheckpoint, domain.TaskStatusFailed, updates)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if task == nil {
		if _, err := o.machine.TransitionIfCurrent(ctx, cp.TaskID,
			domain.TaskStatusExecuting, domain.TaskStatusFailed, updates); err != nil {
			return fmt.Errorf("fail task from executing: %w", err)
		}
	}

	o.logger.Warn("checkpoint rejected, task failed",
		"checkpoint_id", cp.ID,
		"task_id", cp.TaskID,
		"step_id", cp.StepID,
		"decided_by", cp.DecidedBy,
	)

	return nil
}

// dispatchReadySteps отправляет агентам все готовые шаги task.
func (o *Orchestrator) dispatchReadySteps(ctx context.Context, taskID uuid.UUID) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsFinished() {
		return nil
	}

	ready, err := o.graph.GetReadyNodes(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get ready nodes: %w", err)
	}
	if len(ready) == 0 {
		return nil
	}

	o.logger.Debug("dispatching ready steps", "task_id", taskID, "count", len(ready))

	for i := range ready {
		if err := o.dispatchStep(ctx, task, &ready[i]); err != nil {
			o.logger.Error("failed to dispatch step",
				"task_id", taskID,
				"step_id", ready[i].StepID,
				"error", err,
			)
			// Продолжаем с другими шагами
		}
	}

	return nil
}

// dispatchStep оценивает риск шага и либо запускает его, либо
// удерживает на checkpoint'е.
func (o *Orchestrator) dispatchStep(ctx context.Context, task *domain.Task, step *domain.Step) error {
	assessment := o.risk.Assess(step)

	if !assessment.RequiresCheckpoint {
		return o.startStep(ctx, task.ID, step.StepID)
	}

	cp, err := o.checkpoints.GetOrCreate(ctx, checkpoint.CreateRequest{
		TaskID:        task.ID,
		StepID:        step.StepID,
		Type:          assessment.Checkpoint.Type,
		PreferenceKey: assessment.Checkpoint.PreferenceKey,
		Preview:       assessment.Checkpoint.Preview,
		Timeout:       assessment.Checkpoint.Timeout,
	})
	if err != nil {
		return fmt.Errorf("get or create checkpoint: %w", err)
	}

	dctx := buildDecisionContext(step, assessment)
	match, err := o.preferences.FindMatchingPreference(ctx, task.OwnerID, cp.PreferenceKey, dctx, o.autoApproveThreshold)
	if err != nil {
		o.logger.Warn("preference lookup failed",
			"task_id", task.ID, "step_id", step.StepID, "error", err)
	}

	if match != nil && match.AutoApprove {
		resolved, err := o.checkpoints.Resolve(ctx, cp.ID, checkpoint.Resolution{
			Decision:  domain.DecisionApproved,
			DecidedBy: "auto",
		})
		if err != nil {
			if errors.Is(err, checkpoint.ErrCheckpointConflict) {
				// Кто-то уже решил — обычный путь через checkpoints.decided
				return nil
			}
			return fmt.Errorf("auto-approve checkpoint: %w", err)
		}

		telemetry.AutoApprovals.Inc()
		o.logger.Info("checkpoint auto-approved",
			"checkpoint_id", resolved.ID,
			"task_id", task.ID,
			"step_id", step.StepID,
			"confidence", match.Preference.Confidence,
		)

		return o.startStep(ctx, task.ID, step.StepID)
	}

	// Удерживаем шаг до решения человека
	if err := o.graph.PauseNode(ctx, task.ID, step.StepID); err != nil {
		return fmt.Errorf("pause node: %w", err)
	}
	if _, err := o.machine.TransitionIfCurrent(ctx, task.ID,
		domain.TaskStatusExecuting, domain.TaskStatusCheckpoint, engine.Updates{}); err != nil {
		return fmt.Errorf("transition to checkpoint: %w", err)
	}

	o.logger.Info("step held at checkpoint",
		"checkpoint_id", cp.ID,
		"task_id", task.ID,
		"step_id", step.StepID,
		"severity", assessment.Severity,
		"timeout_at", cp.TimeoutAt,
	)

	return nil
}

// startStep помечает шаг RUNNING и публикует step.ready для агентов.
func (o *Orchestrator) startStep(ctx context.Context, taskID uuid.UUID, stepID string) error {
	step, err := o.store.GetStep(ctx, taskID, stepID)
	if err != nil {
		return err
	}

	if err := o.graph.StartNode(ctx, taskID, stepID); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	if o.publisher != nil {
		err := o.publisher.PublishStepReady(ctx, mq.StepReadyPayload{
			TaskID:    taskID,
			StepID:    stepID,
			AgentType: step.AgentType,
		})
		if err != nil {
			// Шаг уже RUNNING в БД; повторная публикация — забота retry
			o.logger.Warn("failed to publish step.ready",
				"task_id", taskID, "step_id", stepID, "error", err)
		}
	}

	telemetry.StepsDispatched.WithLabelValues(step.AgentType).Inc()
	o.logger.Debug("step dispatched", "task_id", taskID, "step_id", stepID, "agent_type", step.AgentType)

	return nil
}

// decisionContext восстанавливает контекст решения для уже удержанного
// шага. Проекция обязана совпадать с той, что была при dispatch, иначе
// выученный паттерн никогда не сработает.
func (o *Orchestrator) decisionContext(ctx context.Context, taskID uuid.UUID, stepID string) (preference.Context, error) {
	step, err := o.store.GetStep(ctx, taskID, stepID)
	if err != nil {
		return nil, err
	}
	return buildDecisionContext(step, o.risk.Assess(step)), nil
}

// buildDecisionContext проецирует шаг и оценку риска на словарь полей
// preference-паттерна.
func buildDecisionContext(step *domain.Step, assessment *risk.Assessment) preference.Context {
	dctx := preference.Context{
		"agent_type": step.AgentType,
		"risk_level": assessment.Severity.String(),
	}

	for _, key := range []string{"channel", "content_type", "data_source", "output_type"} {
		if v, ok := step.Inputs[key].(string); ok && v != "" {
			dctx[key] = v
		}
	}

	if rawURL, ok := step.Inputs["url"].(string); ok {
		if parsed, err := url.Parse(rawURL); err == nil && parsed.Hostname() != "" {
			dctx["api_domain"] = parsed.Hostname()
		}
	}

	return dctx
}

// failedStepsError собирает человекочитаемую причину провала task.
func failedStepsError(ctx context.Context, store Store, taskID uuid.UUID) string {
	steps, err := store.ListSteps(ctx, taskID)
	if err != nil {
		return "steps failed"
	}

	for i := range steps {
		if steps[i].Status == domain.StepStatusFailed {
			if steps[i].Error != "" {
				return fmt.Sprintf("step %s failed: %s", steps[i].StepID, steps[i].Error)
			}
			return fmt.Sprintf("step %s failed", steps[i].StepID)
		}
	}
	return "steps failed"
}
