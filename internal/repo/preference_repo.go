package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PreferenceRepo — репозиторий для выученных preferences.
type PreferenceRepo struct {
	pool *pgxpool.Pool
}

// NewPreferenceRepo создаёт новый PreferenceRepo.
func NewPreferenceRepo(pool *pgxpool.Pool) *PreferenceRepo {
	return &PreferenceRepo{pool: pool}
}

// Create создаёт новый preference.
func (r *PreferenceRepo) Create(ctx context.Context, pref *domain.Preference) error {
	patternJSON, err := json.Marshal(pref.Pattern)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}

	query := `
		INSERT INTO preferences (id, user_id, key, pattern, decision,
		                         confidence, usage_count, last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		pref.ID,
		pref.UserID,
		pref.Key,
		patternJSON,
		pref.Decision,
		pref.Confidence,
		pref.UsageCount,
		pref.LastUsedAt,
		pref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert preference: %w", err)
	}
	return nil
}

// Update записывает подкрепление существующего preference.
func (r *PreferenceRepo) Update(ctx context.Context, pref *domain.Preference) error {
	query := `
		UPDATE preferences
		SET decision = $2, confidence = $3, usage_count = $4, last_used_at = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		pref.ID,
		pref.Decision,
		pref.Confidence,
		pref.UsageCount,
		pref.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("update preference: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUserAndKey возвращает preferences пользователя по ключу.
func (r *PreferenceRepo) ListByUserAndKey(ctx context.Context, userID, key string) ([]domain.Preference, error) {
	query := preferenceSelect + `
		WHERE user_id = $1 AND key = $2
		ORDER BY confidence DESC, last_used_at DESC
	`
	return r.list(ctx, query, userID, key)
}

// ListByUser возвращает все preferences пользователя.
func (r *PreferenceRepo) ListByUser(ctx context.Context, userID string) ([]domain.Preference, error) {
	query := preferenceSelect + `
		WHERE user_id = $1
		ORDER BY key ASC, confidence DESC
	`
	return r.list(ctx, query, userID)
}

// DeleteUnusedSince удаляет preferences, не использовавшиеся с cutoff.
// Возвращает количество удалённых записей.
func (r *PreferenceRepo) DeleteUnusedSince(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM preferences WHERE last_used_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune preferences: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetByID возвращает preference по ID.
func (r *PreferenceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Preference, error) {
	query := preferenceSelect + ` WHERE id = $1`
	return scanPreference(r.pool.QueryRow(ctx, query, id))
}

// --- Helpers ---

const preferenceSelect = `
	SELECT id, user_id, key, pattern, decision, confidence,
	       usage_count, last_used_at, created_at
	FROM preferences
`

func (r *PreferenceRepo) list(ctx context.Context, query string, args ...any) ([]domain.Preference, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []domain.Preference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, *pref)
	}
	return prefs, rows.Err()
}

func scanPreference(row pgx.Row) (*domain.Preference, error) {
	var pref domain.Preference
	var patternJSON []byte

	err := row.Scan(
		&pref.ID,
		&pref.UserID,
		&pref.Key,
		&patternJSON,
		&pref.Decision,
		&pref.Confidence,
		&pref.UsageCount,
		&pref.LastUsedAt,
		&pref.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan preference: %w", err)
	}

	if patternJSON != nil {
		if err := json.Unmarshal(patternJSON, &pref.Pattern); err != nil {
			return nil, fmt.Errorf("unmarshal pattern: %w", err)
		}
	}

	return &pref, nil
}
