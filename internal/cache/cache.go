// Package cache — in-process read-реплика durable-слоя.
//
// Кеш наполняется синхронно после каждой durable-записи и целиком
// заменяет снапшот задачи, а не инвалидирует его: читатели либо видят
// согласованное состояние (task + шаги + pending checkpoint'ы), либо
// промахиваются и идут в durable-слой. Источник истины всегда БД.
package cache

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
)

// TaskSnapshot — согласованный снимок задачи: сам task, все его шаги
// и нерешённые checkpoint'ы. Заменяется атомарно целиком.
type TaskSnapshot struct {
	Task        *domain.Task
	Steps       []domain.Step
	Checkpoints []domain.Checkpoint
}

// clone делает глубокую копию снапшота. Читатели получают только
// копии: мутация возвращённого значения до durable-записи не должна
// просачиваться к другим читателям реплики.
func (s *TaskSnapshot) clone() *TaskSnapshot {
	out := &TaskSnapshot{
		Task:        cloneTask(s.Task),
		Steps:       make([]domain.Step, len(s.Steps)),
		Checkpoints: make([]domain.Checkpoint, len(s.Checkpoints)),
	}
	for i := range s.Steps {
		out.Steps[i] = cloneStep(&s.Steps[i])
	}
	for i := range s.Checkpoints {
		out.Checkpoints[i] = cloneCheckpoint(&s.Checkpoints[i])
	}
	return out
}

func cloneTask(t *domain.Task) *domain.Task {
	if t == nil {
		return nil
	}
	out := *t
	out.StartedAt = cloneTime(t.StartedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	return &out
}

func cloneStep(s *domain.Step) domain.Step {
	out := *s
	out.Inputs = maps.Clone(s.Inputs)
	out.Outputs = maps.Clone(s.Outputs)
	out.DependsOn = slices.Clone(s.DependsOn)
	out.StartedAt = cloneTime(s.StartedAt)
	out.FinishedAt = cloneTime(s.FinishedAt)
	return out
}

func cloneCheckpoint(cp *domain.Checkpoint) domain.Checkpoint {
	out := *cp
	out.Preview = maps.Clone(cp.Preview)
	out.DecidedAt = cloneTime(cp.DecidedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// Cache — потокобезопасная read-реплика по задачам.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]*TaskSnapshot
}

// New создаёт пустой Cache.
func New() *Cache {
	return &Cache{snapshots: make(map[uuid.UUID]*TaskSnapshot)}
}

// Put заменяет снапшот задачи целиком.
// Вызывающий отдаёт владение: после Put данные не мутируются.
func (c *Cache) Put(snapshot *TaskSnapshot) {
	if snapshot == nil || snapshot.Task == nil {
		return
	}
	c.mu.Lock()
	c.snapshots[snapshot.Task.ID] = snapshot
	c.mu.Unlock()
}

// Get возвращает глубокую копию снапшота задачи или (nil, false) при
// промахе. Копия обязательна: вызывающие (конечный автомат, graph)
// мутируют полученные значения до durable-записи, и через общий
// указатель незакоммиченное состояние было бы видно другим читателям.
func (c *Cache) Get(taskID uuid.UUID) (*TaskSnapshot, bool) {
	snapshot, ok := c.lookup(taskID)
	if !ok {
		return nil, false
	}
	return snapshot.clone(), true
}

// GetTask возвращает копию task из снапшота или (nil, false) при промахе.
func (c *Cache) GetTask(taskID uuid.UUID) (*domain.Task, bool) {
	snapshot, ok := c.lookup(taskID)
	if !ok {
		return nil, false
	}
	return cloneTask(snapshot.Task), true
}

// GetStep возвращает копию шага задачи или (nil, false), если снапшота
// нет или шаг в нём отсутствует.
func (c *Cache) GetStep(taskID uuid.UUID, stepID string) (*domain.Step, bool) {
	snapshot, ok := c.lookup(taskID)
	if !ok {
		return nil, false
	}
	for i := range snapshot.Steps {
		if snapshot.Steps[i].StepID == stepID {
			step := cloneStep(&snapshot.Steps[i])
			return &step, true
		}
	}
	return nil, false
}

// lookup возвращает хранимый снапшот без копирования. После Put данные
// не мутируются, поэтому читать его после разблокировки безопасно;
// наружу всё равно уходят только копии.
func (c *Cache) lookup(taskID uuid.UUID) (*TaskSnapshot, bool) {
	c.mu.RLock()
	snapshot, ok := c.snapshots[taskID]
	c.mu.RUnlock()
	return snapshot, ok
}

// Drop удаляет снапшот задачи. Используется для терминальных задач,
// которые больше не участвуют в диспетчеризации.
func (c *Cache) Drop(taskID uuid.UUID) {
	c.mu.Lock()
	delete(c.snapshots, taskID)
	c.mu.Unlock()
}

// Len возвращает количество закешированных задач.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
