package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/ivolkov/Praxis/internal/telemetry"
)

// Ошибки подсистемы checkpoint'ов.
var (
	// ErrCheckpointNotFound — checkpoint не найден.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointConflict — конкурирующее решение прошло раньше
	// или checkpoint уже не PENDING.
	ErrCheckpointConflict = errors.New("checkpoint already resolved")

	// ErrCheckpointExists — PENDING checkpoint пары (task, step) уже
	// вставлен конкурирующим инстансом.
	ErrCheckpointExists = errors.New("pending checkpoint already exists")

	// ErrCheckpointValidation — некорректный запрос создания или решения.
	ErrCheckpointValidation = errors.New("invalid checkpoint request")
)

// DefaultTimeout — дедлайн решения по умолчанию.
const DefaultTimeout = 48 * time.Hour

// Repository — durable-доступ к checkpoint'ам.
// Реализуется internal/store поверх Postgres и кеша.
type Repository interface {
	// InsertCheckpoint создаёт запись. Возвращает ErrCheckpointExists,
	// если PENDING checkpoint пары (task, step) уже есть: в БД это
	// частичный уникальный индекс, а не проверка перед вставкой.
	InsertCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
	GetCheckpoint(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error)

	// GetPendingCheckpoint возвращает PENDING checkpoint пары (task, step)
	// или ErrCheckpointNotFound.
	GetPendingCheckpoint(ctx context.Context, taskID uuid.UUID, stepID string) (*domain.Checkpoint, error)

	// ResolveCheckpoint — условная запись решения: проходит только если
	// запись всё ещё PENDING и версия совпадает. Иначе ErrCheckpointConflict.
	ResolveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error

	ListPendingCheckpoints(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error)
	ListTaskCheckpoints(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error)

	// ListExpiredCheckpoints возвращает PENDING checkpoint'ы с
	// дедлайном раньше now. Читает durable-слой: reaper не должен
	// зависеть от свежести кеша.
	ListExpiredCheckpoints(ctx context.Context, now time.Time, limit int) ([]domain.Checkpoint, error)
}

// CreateRequest — параметры нового checkpoint'а.
type CreateRequest struct {
	TaskID        uuid.UUID
	StepID        string
	Type          domain.CheckpointType
	PreferenceKey string
	Preview       map[string]any

	// Timeout — дедлайн решения; при нуле берётся DefaultTimeout.
	Timeout time.Duration
}

// Resolution — решение по checkpoint'у.
type Resolution struct {
	Decision  domain.Decision
	DecidedBy string
	Feedback  string
}

// Store — прикладная логика поверх Repository: идемпотентное создание
// и CAS-разрешение.
type Store struct {
	repo   Repository
	logger *slog.Logger
}

// NewStore создаёт Store.
func NewStore(repo Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, logger: logger}
}

// GetOrCreate возвращает существующий PENDING checkpoint пары
// (task, step) или создаёт новый. Повторный рисковый dispatch одного
// шага не плодит дубликаты запросов к пользователю.
func (s *Store) GetOrCreate(ctx context.Context, req CreateRequest) (*domain.Checkpoint, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetPendingCheckpoint(ctx, req.TaskID, req.StepID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCheckpointNotFound) {
		return nil, fmt.Errorf("get pending checkpoint: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	now := time.Now()
	cp := &domain.Checkpoint{
		ID:            uuid.New(),
		TaskID:        req.TaskID,
		StepID:        req.StepID,
		Type:          req.Type,
		Status:        domain.CheckpointStatusPending,
		Version:       1,
		PreferenceKey: req.PreferenceKey,
		Preview:       req.Preview,
		TimeoutAt:     now.Add(timeout),
		CreatedAt:     now,
	}

	if err := s.repo.InsertCheckpoint(ctx, cp); err != nil {
		if errors.Is(err, ErrCheckpointExists) {
			// Другой инстанс вставил PENDING между нашим чтением и
			// вставкой — возвращаем запись победителя.
			winner, getErr := s.repo.GetPendingCheckpoint(ctx, req.TaskID, req.StepID)
			if getErr == nil {
				return winner, nil
			}
			// Победитель уже решён: создавать дубликат запроса к
			// пользователю нельзя, пусть вызывающий перечитает шаг.
			return nil, fmt.Errorf("checkpoint for step %s: %w", req.StepID, ErrCheckpointConflict)
		}
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	telemetry.CheckpointsCreated.WithLabelValues(string(cp.Type)).Inc()
	s.logger.Info("checkpoint created",
		"checkpoint_id", cp.ID,
		"task_id", cp.TaskID,
		"step_id", cp.StepID,
		"type", cp.Type,
		"timeout_at", cp.TimeoutAt,
	)

	return cp, nil
}

// Get возвращает checkpoint по ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	return s.repo.GetCheckpoint(ctx, id)
}

// ListPending возвращает PENDING checkpoint'ы задачи.
func (s *Store) ListPending(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	return s.repo.ListPendingCheckpoints(ctx, taskID)
}

// ListForTask возвращает всю историю checkpoint'ов задачи, включая
// решённые: это audit trail.
func (s *Store) ListForTask(ctx context.Context, taskID uuid.UUID) ([]domain.Checkpoint, error) {
	return s.repo.ListTaskCheckpoints(ctx, taskID)
}

// ListExpired возвращает просроченные PENDING checkpoint'ы.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Checkpoint, error) {
	return s.repo.ListExpiredCheckpoints(ctx, now, limit)
}

// Resolve записывает решение пользователя или автоматики.
//
// Запись условная: checkpoint должен быть PENDING той же версии, что
// прочитана. Проигравший в гонке получает ErrCheckpointConflict, и это
// терминальный исход: повторять решение за пользователя нельзя.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, res Resolution) (*domain.Checkpoint, error) {
	if err := validateResolution(res); err != nil {
		return nil, err
	}

	cp, err := s.repo.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.Status != domain.CheckpointStatusPending {
		return nil, fmt.Errorf("checkpoint %s is %s: %w", id, cp.Status, ErrCheckpointConflict)
	}

	now := time.Now()
	cp.Status = resolvedStatus(res)
	cp.Decision = res.Decision
	cp.DecidedBy = res.DecidedBy
	cp.DecidedAt = &now
	cp.Feedback = res.Feedback

	if err := s.repo.ResolveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	telemetry.CheckpointsResolved.WithLabelValues(string(cp.Status)).Inc()
	s.logger.Info("checkpoint resolved",
		"checkpoint_id", cp.ID,
		"task_id", cp.TaskID,
		"step_id", cp.StepID,
		"status", cp.Status,
		"decided_by", cp.DecidedBy,
	)

	return cp, nil
}

// Expire переводит просроченный checkpoint в TIMEOUT. Используется
// reaper'ом; проигрыш гонки с поздним решением пользователя не ошибка.
func (s *Store) Expire(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.Status != domain.CheckpointStatusPending {
		return ErrCheckpointConflict
	}

	now := time.Now()
	expired := *cp
	expired.Status = domain.CheckpointStatusTimeout
	expired.DecidedBy = "reaper"
	expired.DecidedAt = &now

	if err := s.repo.ResolveCheckpoint(ctx, &expired); err != nil {
		return err
	}

	telemetry.CheckpointsResolved.WithLabelValues(string(expired.Status)).Inc()
	telemetry.ReaperExpirations.Inc()
	return nil
}

// resolvedStatus возвращает терминальный статус для решения.
// Автоматическое одобрение различимо в audit trail.
func resolvedStatus(res Resolution) domain.CheckpointStatus {
	if res.Decision == domain.DecisionRejected {
		return domain.CheckpointStatusRejected
	}
	if res.DecidedBy == "auto" {
		return domain.CheckpointStatusAutoApproved
	}
	return domain.CheckpointStatusApproved
}

func validateCreate(req CreateRequest) error {
	if req.TaskID == uuid.Nil {
		return fmt.Errorf("%w: empty task ID", ErrCheckpointValidation)
	}
	if req.StepID == "" {
		return fmt.Errorf("%w: empty step ID", ErrCheckpointValidation)
	}
	if _, ok := domain.ParseCheckpointType(string(req.Type)); !ok {
		return fmt.Errorf("%w: unknown type %q", ErrCheckpointValidation, req.Type)
	}
	return nil
}

func validateResolution(res Resolution) error {
	if res.Decision != domain.DecisionApproved && res.Decision != domain.DecisionRejected {
		return fmt.Errorf("%w: unknown decision %q", ErrCheckpointValidation, res.Decision)
	}
	if res.DecidedBy == "" {
		return fmt.Errorf("%w: empty decided_by", ErrCheckpointValidation)
	}
	return nil
}
