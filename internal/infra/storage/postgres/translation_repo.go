package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/infra/storage"
)

// TranslationRepo implements storage.TranslationRepository using PostgreSQL.
type TranslationRepo struct {
	db *DB
}

// NewTranslationRepo creates a new PostgreSQL translation repository.
func NewTranslationRepo(db *DB) *TranslationRepo {
	return &TranslationRepo{db: db}
}

const translationColumns = `id, shop_id, resource_id, language, fields, source_fingerprint, sync_status,
	retry_count, quality_score, last_error, last_attempt_at, updated_at`

type translationRow struct {
	ID                string       `db:"id"`
	ShopID            string       `db:"shop_id"`
	ResourceID        string       `db:"resource_id"`
	Language          string       `db:"language"`
	Fields            []byte       `db:"fields"`
	SourceFingerprint string       `db:"source_fingerprint"`
	SyncStatus        string       `db:"sync_status"`
	RetryCount        int          `db:"retry_count"`
	QualityScore      float64      `db:"quality_score"`
	LastError         string       `db:"last_error"`
	LastAttemptAt     sql.NullTime `db:"last_attempt_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r translationRow) toDomain() (*domain.Translation, error) {
	fields, err := decodeFields(r.Fields)
	if err != nil {
		return nil, fmt.Errorf("translation %s: %w", r.ID, err)
	}
	return &domain.Translation{
		ID:                r.ID,
		ShopID:            r.ShopID,
		ResourceID:        r.ResourceID,
		Language:          r.Language,
		Fields:            fields,
		SourceFingerprint: r.SourceFingerprint,
		SyncStatus:        domain.SyncStatus(r.SyncStatus),
		RetryCount:        r.RetryCount,
		QualityScore:      r.QualityScore,
		LastError:         r.LastError,
		LastAttemptAt:     r.LastAttemptAt.Time,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

func (r *TranslationRepo) Get(ctx context.Context, resourceID, language string) (*domain.Translation, error) {
	var row translationRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+translationColumns+` FROM translations WHERE resource_id = $1 AND language = $2`,
		resourceID, language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get translation: %w", err)
	}
	return row.toDomain()
}

// Upsert writes the translation keyed by (resource_id, language).
func (r *TranslationRepo) Upsert(ctx context.Context, t *domain.Translation) error {
	fields, err := encodeFields(t.Fields)
	if err != nil {
		return err
	}
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	query := `
		INSERT INTO translations (id, shop_id, resource_id, language, fields, source_fingerprint, sync_status,
			retry_count, quality_score, last_error, last_attempt_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (resource_id, language) DO UPDATE SET
			fields = EXCLUDED.fields,
			source_fingerprint = EXCLUDED.source_fingerprint,
			sync_status = EXCLUDED.sync_status,
			retry_count = EXCLUDED.retry_count,
			quality_score = EXCLUDED.quality_score,
			last_error = EXCLUDED.last_error,
			last_attempt_at = EXCLUDED.last_attempt_at,
			updated_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		id, t.ShopID, t.ResourceID, t.Language, fields, t.SourceFingerprint, string(t.SyncStatus),
		t.RetryCount, t.QualityScore, t.LastError, nullTime(t.LastAttemptAt))
	if err != nil {
		return fmt.Errorf("failed to upsert translation: %w", err)
	}
	return nil
}

func (r *TranslationRepo) ListByResource(ctx context.Context, resourceID string) ([]*domain.Translation, error) {
	var rows []translationRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+translationColumns+` FROM translations WHERE resource_id = $1 ORDER BY language`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	return toTranslations(rows)
}

func (r *TranslationRepo) ListFailed(ctx context.Context, shopID string, limit int) ([]*domain.Translation, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows []translationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+translationColumns+`
		FROM translations
		WHERE shop_id = $1 AND sync_status = 'failed'
		ORDER BY last_attempt_at ASC NULLS FIRST
		LIMIT $2
	`, shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed translations: %w", err)
	}
	return toTranslations(rows)
}

func (r *TranslationRepo) Stats(ctx context.Context, shopID string, since time.Time) (storage.TranslationStats, error) {
	var dest struct {
		Attempted int `db:"attempted"`
		Failed    int `db:"failed"`
	}
	err := r.db.GetContext(ctx, &dest, `
		SELECT COUNT(*) AS attempted,
		       COUNT(*) FILTER (WHERE sync_status = 'failed') AS failed
		FROM translations
		WHERE shop_id = $1 AND last_attempt_at >= $2
	`, shopID, since)
	if err != nil {
		return storage.TranslationStats{}, fmt.Errorf("failed to read translation stats: %w", err)
	}
	return storage.TranslationStats{Attempted: dest.Attempted, Failed: dest.Failed}, nil
}

func toTranslations(rows []translationRow) ([]*domain.Translation, error) {
	out := make([]*domain.Translation, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
