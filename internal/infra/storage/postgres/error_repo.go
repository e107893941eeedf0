package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/transync/internal/core/domain"
)

// ErrorRepo implements storage.ErrorRepository using PostgreSQL.
type ErrorRepo struct {
	db *DB
}

// NewErrorRepo creates a new PostgreSQL error log repository.
func NewErrorRepo(db *DB) *ErrorRepo {
	return &ErrorRepo{db: db}
}

type errorLogRow struct {
	ID          string    `db:"id"`
	ShopID      string    `db:"shop_id"`
	Fingerprint string    `db:"fingerprint"`
	Category    string    `db:"category"`
	Code        string    `db:"code"`
	Message     string    `db:"message"`
	ResourceID  string    `db:"resource_id"`
	Language    string    `db:"language"`
	SessionID   string    `db:"session_id"`
	Occurrences int       `db:"occurrences"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
	Archived    bool      `db:"archived"`
}

// RecordOccurrence inserts the error or bumps the occurrence count of the
// live row sharing its scope.
func (r *ErrorRepo) RecordOccurrence(ctx context.Context, e *domain.ErrorLog) (*domain.ErrorLog, error) {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	var row errorLogRow
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO error_logs (id, shop_id, fingerprint, category, code, message, resource_id, language,
			session_id, occurrences, first_seen_at, last_seen_at, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, NOW(), NOW(), FALSE)
		ON CONFLICT (shop_id, fingerprint, resource_id, language) WHERE NOT archived
		DO UPDATE SET
			occurrences = error_logs.occurrences + 1,
			message = EXCLUDED.message,
			session_id = EXCLUDED.session_id,
			last_seen_at = NOW()
		RETURNING id, shop_id, fingerprint, category, code, message, resource_id, language,
			session_id, occurrences, first_seen_at, last_seen_at, archived
	`, id, e.ShopID, e.Fingerprint, e.Category, e.Code, e.Message, e.ResourceID, e.Language, e.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to record error: %w", err)
	}
	return &domain.ErrorLog{
		ID:          row.ID,
		ShopID:      row.ShopID,
		Fingerprint: row.Fingerprint,
		Category:    row.Category,
		Code:        row.Code,
		Message:     row.Message,
		ResourceID:  row.ResourceID,
		Language:    row.Language,
		SessionID:   row.SessionID,
		Occurrences: row.Occurrences,
		FirstSeenAt: row.FirstSeenAt,
		LastSeenAt:  row.LastSeenAt,
		Archived:    row.Archived,
	}, nil
}

func (r *ErrorRepo) AddAttempt(ctx context.Context, a *domain.RecoveryAttempt) error {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	attemptedAt := a.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recovery_attempts (id, error_id, scope_key, fingerprint, strategy, success, detail, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, a.ErrorID, a.ScopeKey, a.Fingerprint, a.Strategy, a.Success, a.Detail, attemptedAt)
	if err != nil {
		return fmt.Errorf("failed to add recovery attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts for the scope, newest first.
func (r *ErrorRepo) ListAttempts(ctx context.Context, scopeKey string) ([]*domain.RecoveryAttempt, error) {
	var rows []struct {
		ID          string    `db:"id"`
		ErrorID     string    `db:"error_id"`
		ScopeKey    string    `db:"scope_key"`
		Fingerprint string    `db:"fingerprint"`
		Strategy    string    `db:"strategy"`
		Success     bool      `db:"success"`
		Detail      string    `db:"detail"`
		AttemptedAt time.Time `db:"attempted_at"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, error_id, scope_key, fingerprint, strategy, success, detail, attempted_at
		FROM recovery_attempts
		WHERE scope_key = $1
		ORDER BY attempted_at DESC
	`, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery attempts: %w", err)
	}
	out := make([]*domain.RecoveryAttempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.RecoveryAttempt{
			ID:          row.ID,
			ErrorID:     row.ErrorID,
			ScopeKey:    row.ScopeKey,
			Fingerprint: row.Fingerprint,
			Strategy:    row.Strategy,
			Success:     row.Success,
			Detail:      row.Detail,
			AttemptedAt: row.AttemptedAt,
		})
	}
	return out, nil
}

func (r *ErrorRepo) CountSince(ctx context.Context, shopID string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM error_logs WHERE shop_id = $1 AND NOT archived AND last_seen_at >= $2`,
		shopID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count errors: %w", err)
	}
	return n, nil
}

func (r *ErrorRepo) ArchiveOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE error_logs SET archived = TRUE WHERE NOT archived AND last_seen_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to archive errors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
