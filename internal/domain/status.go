package domain

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PLANNING → READY → EXECUTING → COMPLETED
//	                             ↘ CHECKPOINT → EXECUTING (решение получено)
//	                             ↘ PAUSED → EXECUTING
//	                             ↘ FAILED → READY (явный retry)
//	                             ↘ CANCELLED → READY (явный retry)
//	                             ↘ SUPERSEDED
//
// Единственный закрытый enum для статуса: хранение и домен используют
// один и тот же тип, (де)сериализация строк — только на границе БД.
type TaskStatus string

const (
	// TaskStatusPlanning — planner ещё формирует шаги.
	TaskStatusPlanning TaskStatus = "PLANNING"

	// TaskStatusReady — план валиден, task ожидает выполнения.
	TaskStatusReady TaskStatus = "READY"

	// TaskStatusExecuting — шаги выполняются.
	TaskStatusExecuting TaskStatus = "EXECUTING"

	// TaskStatusCheckpoint — выполнение приостановлено до решения по checkpoint.
	TaskStatusCheckpoint TaskStatus = "CHECKPOINT"

	// TaskStatusPaused — приостановлен пользователем.
	TaskStatusPaused TaskStatus = "PAUSED"

	// TaskStatusCompleted — все шаги завершены успешно. Терминальный.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — хотя бы один шаг упал. Возможен явный retry.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusCancelled — отменён пользователем. Возможен явный retry.
	TaskStatusCancelled TaskStatus = "CANCELLED"

	// TaskStatusSuperseded — заменён новым планом. Терминальный.
	TaskStatusSuperseded TaskStatus = "SUPERSEDED"
)

// IsTerminal возвращает true, если из статуса нет исходящих переходов.
// FAILED и CANCELLED терминальными не считаются: из них разрешён
// явный retry обратно в READY.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusSuperseded:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// ParseTaskStatus парсит строку из БД в TaskStatus.
// Возвращает false, если строка не соответствует ни одному статусу.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskStatusPlanning, TaskStatusReady, TaskStatusExecuting,
		TaskStatusCheckpoint, TaskStatusPaused, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusSuperseded:
		return TaskStatus(s), true
	default:
		return "", false
	}
}

// StepStatus — статус выполнения отдельного шага.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → DONE
//	                  ↘ FAILED
//	        ↘ PAUSED (ожидание checkpoint)
//	FAILED/PAUSED → PENDING (reset)
type StepStatus string

const (
	// StepStatusPending — шаг ожидает выполнения зависимостей.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — шаг отправлен worker'у.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusDone — шаг успешно завершён.
	StepStatusDone StepStatus = "DONE"

	// StepStatusFailed — шаг завершился с ошибкой.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusPaused — шаг удержан checkpoint'ом.
	StepStatusPaused StepStatus = "PAUSED"
)

// IsTerminal возвращает true, если статус шага финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusDone, StepStatusFailed:
		return true
	default:
		return false
	}
}

// ParseStepStatus парсит строку из БД в StepStatus.
func ParseStepStatus(s string) (StepStatus, bool) {
	switch StepStatus(s) {
	case StepStatusPending, StepStatusRunning, StepStatusDone,
		StepStatusFailed, StepStatusPaused:
		return StepStatus(s), true
	default:
		return "", false
	}
}

// CheckpointStatus — статус checkpoint.
//
// Жизненный цикл:
//
//	PENDING → APPROVED | REJECTED | AUTO_APPROVED | TIMEOUT
//
// Записи append-only: разрешённый checkpoint никогда не переиспользуется,
// новое рисковое событие создаёт новую запись.
type CheckpointStatus string

const (
	// CheckpointStatusPending — ожидает решения (человека или авто).
	CheckpointStatusPending CheckpointStatus = "PENDING"

	// CheckpointStatusApproved — одобрен человеком.
	CheckpointStatusApproved CheckpointStatus = "APPROVED"

	// CheckpointStatusRejected — отклонён человеком.
	CheckpointStatusRejected CheckpointStatus = "REJECTED"

	// CheckpointStatusAutoApproved — одобрен автоматически по выученному preference.
	CheckpointStatusAutoApproved CheckpointStatus = "AUTO_APPROVED"

	// CheckpointStatusTimeout — дедлайн истёк, принудительно закрыт reaper'ом.
	CheckpointStatusTimeout CheckpointStatus = "TIMEOUT"
)

// IsResolved возвращает true, если по checkpoint уже есть решение.
func (s CheckpointStatus) IsResolved() bool {
	return s != CheckpointStatusPending
}

// ParseCheckpointStatus парсит строку из БД в CheckpointStatus.
func ParseCheckpointStatus(s string) (CheckpointStatus, bool) {
	switch CheckpointStatus(s) {
	case CheckpointStatusPending, CheckpointStatusApproved,
		CheckpointStatusRejected, CheckpointStatusAutoApproved,
		CheckpointStatusTimeout:
		return CheckpointStatus(s), true
	default:
		return "", false
	}
}

// CheckpointType — тип запрашиваемого решения.
type CheckpointType string

const (
	// CheckpointTypeApproval — бинарное одобрение/отклонение.
	CheckpointTypeApproval CheckpointType = "APPROVAL"

	// CheckpointTypeInput — требуется дополнительный ввод пользователя.
	CheckpointTypeInput CheckpointType = "INPUT"

	// CheckpointTypeModify — пользователь может изменить параметры шага.
	CheckpointTypeModify CheckpointType = "MODIFY"

	// CheckpointTypeSelect — выбор одного из предложенных вариантов.
	CheckpointTypeSelect CheckpointType = "SELECT"

	// CheckpointTypeQA — уточняющий вопрос пользователю.
	CheckpointTypeQA CheckpointType = "QA"
)

// ParseCheckpointType парсит строку из БД в CheckpointType.
func ParseCheckpointType(s string) (CheckpointType, bool) {
	switch CheckpointType(s) {
	case CheckpointTypeApproval, CheckpointTypeInput, CheckpointTypeModify,
		CheckpointTypeSelect, CheckpointTypeQA:
		return CheckpointType(s), true
	default:
		return "", false
	}
}

// Decision — решение пользователя (или автоматики) по checkpoint.
type Decision string

const (
	// DecisionApproved — шаг разрешён.
	DecisionApproved Decision = "APPROVED"

	// DecisionRejected — шаг запрещён.
	DecisionRejected Decision = "REJECTED"
)
