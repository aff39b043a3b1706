package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/checkpoint"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/engine"
	"github.com/ivolkov/Praxis/internal/mq"
	"github.com/ivolkov/Praxis/internal/preference"
	"github.com/ivolkov/Praxis/internal/risk"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Store — доступ оркестратора к хранилищу.
// Реализуется internal/store.
type Store interface {
	engine.TaskStore
	engine.StepStore

	// ListTasksByStatus читает durable-слой мимо кеша: polling должен
	// видеть задачи, про которые сообщения потерялись.
	ListTasksByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error)
}

// Publisher — исходящие события оркестратора.
type Publisher interface {
	PublishStepReady(ctx context.Context, payload mq.StepReadyPayload) error
}

// Orchestrator продвигает задачи через конечный автомат.
//
// Получает события из трёх очередей (event-driven) и периодически
// перечитывает PLANNING-задачи из БД (polling fallback).
type Orchestrator struct {
	store       Store
	machine     *engine.Machine
	graph       *engine.Graph
	checkpoints *checkpoint.Store
	preferences *preference.Matcher
	risk        *risk.Detector

	publisher Publisher
	conn      *mq.Connection

	taskConsumer       *mq.Consumer
	stepConsumer       *mq.Consumer
	checkpointConsumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int

	// AutoApproveThreshold — минимальная уверенность preference для
	// авто-одобрения checkpoint'а.
	autoApproveThreshold float64

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store       Store
	Machine     *engine.Machine
	Graph       *engine.Graph
	Checkpoints *checkpoint.Store
	Preferences *preference.Matcher
	Risk        *risk.Detector

	// MQ. Conn может быть nil — тогда оркестратор работает только
	// от polling-цикла (degraded mode).
	Publisher Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество задач за один poll (default: 100)

	// AutoApproveThreshold — порог уверенности для авто-одобрения
	// (default: preference.DefaultThreshold).
	AutoApproveThreshold float64

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	threshold := cfg.AutoApproveThreshold
	if threshold <= 0 {
		threshold = preference.DefaultThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:                cfg.Store,
		machine:              cfg.Machine,
		graph:                cfg.Graph,
		checkpoints:          cfg.Checkpoints,
		preferences:          cfg.Preferences,
		risk:                 cfg.Risk,
		publisher:            cfg.Publisher,
		conn:                 cfg.Conn,
		pollInterval:         pollInterval,
		batchSize:            batchSize,
		autoApproveThreshold: threshold,
		logger:               logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для tasks.planned
//   - Consumer для steps.completed
//   - Consumer для checkpoints.decided
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"mq", o.conn != nil,
	)

	if o.conn != nil {
		o.taskConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueTasksPlanned,
			Handler:  o.handleTaskPlanned,
			Prefetch: 10,
		})
		o.stepConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueStepsCompleted,
			Handler:  o.handleStepCompleted,
			Prefetch: 10,
		})
		o.checkpointConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueCheckpointsDecided,
			Handler:  o.handleCheckpointDecided,
			Prefetch: 10,
		})

		for _, c := range []*mq.Consumer{o.taskConsumer, o.stepConsumer, o.checkpointConsumer} {
			consumer := c
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "error", err)
				}
			}()
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	for _, c := range []*mq.Consumer{o.taskConsumer, o.stepConsumer, o.checkpointConsumer} {
		if c != nil {
			c.Stop()
		}
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем задачи, созданные пока движок
	// был выключен
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: запускает PLANNING-задачи,
// возобновляет READY (после retry) и передиспетчеризует EXECUTING,
// по которым могли потеряться сообщения.
func (o *Orchestrator) poll(ctx context.Context) {
	o.pollPlanning(ctx)
	o.pollReady(ctx)
	o.pollExecuting(ctx)
}

func (o *Orchestrator) pollPlanning(ctx context.Context) {
	tasks, err := o.store.ListTasksByStatus(ctx, domain.TaskStatusPlanning, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list planning tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	o.logger.Debug("poll found planning tasks", "count", len(tasks))

	for i := range tasks {
		if err := o.launchTask(ctx, tasks[i].ID); err != nil {
			if errors.Is(err, ErrTaskNotPlanning) {
				continue
			}
			o.logger.Error("failed to launch task from poll",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}

// pollReady подхватывает задачи, возвращённые в READY retry'ем.
func (o *Orchestrator) pollReady(ctx context.Context) {
	tasks, err := o.store.ListTasksByStatus(ctx, domain.TaskStatusReady, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list ready tasks", "error", err)
		return
	}

	for i := range tasks {
		task, err := o.machine.TransitionIfCurrent(ctx, tasks[i].ID,
			domain.TaskStatusReady, domain.TaskStatusExecuting, engine.Updates{})
		if err != nil {
			o.logger.Error("failed to resume ready task",
				"task_id", tasks[i].ID,
				"error", err,
			)
			continue
		}
		if task == nil {
			continue
		}
		o.dispatchAfter(ctx, tasks[i].ID)
	}
}

// pollExecuting продвигает EXECUTING-задачи: финализирует дошедшие до
// конца графа и передиспетчеризует готовые шаги. Диспетчеризация
// идемпотентна: RUNNING и PAUSED шаги не трогаются.
func (o *Orchestrator) pollExecuting(ctx context.Context) {
	tasks, err := o.store.ListTasksByStatus(ctx, domain.TaskStatusExecuting, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list executing tasks", "error", err)
		return
	}

	for i := range tasks {
		if err := o.advanceTask(ctx, tasks[i].ID); err != nil {
			o.logger.Error("failed to advance executing task",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}

// dispatchAfter запускает диспетчеризацию готовых шагов по task'у.
// Ошибки отдельных шагов не валят весь проход.
func (o *Orchestrator) dispatchAfter(ctx context.Context, taskID uuid.UUID) {
	if err := o.dispatchReadySteps(ctx, taskID); err != nil {
		o.logger.Error("failed to dispatch ready steps", "task_id", taskID, "error", err)
	}
}
