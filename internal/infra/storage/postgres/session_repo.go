package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/infra/storage"
)

// SessionRepo implements storage.SessionRepository using PostgreSQL.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new PostgreSQL session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, shop_id, status, resource_ids, languages, total, completed, errored, skipped,
	last_checkpoint_at, traces, archived, created_at, updated_at`

type sessionRow struct {
	ID               string         `db:"id"`
	ShopID           string         `db:"shop_id"`
	Status           string         `db:"status"`
	ResourceIDs      pq.StringArray `db:"resource_ids"`
	Languages        pq.StringArray `db:"languages"`
	Total            int            `db:"total"`
	Completed        int            `db:"completed"`
	Errored          int            `db:"errored"`
	Skipped          int            `db:"skipped"`
	LastCheckpointAt time.Time      `db:"last_checkpoint_at"`
	Traces           []byte         `db:"traces"`
	Archived         bool           `db:"archived"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r sessionRow) toDomain() (*domain.Session, error) {
	var traces []domain.Trace
	if len(r.Traces) > 0 {
		if err := json.Unmarshal(r.Traces, &traces); err != nil {
			return nil, fmt.Errorf("session %s: failed to decode traces: %w", r.ID, err)
		}
	}
	return &domain.Session{
		ID:               r.ID,
		ShopID:           r.ShopID,
		Status:           domain.SessionStatus(r.Status),
		ResourceIDs:      []string(r.ResourceIDs),
		Languages:        []string(r.Languages),
		Total:            r.Total,
		Completed:        r.Completed,
		Errored:          r.Errored,
		Skipped:          r.Skipped,
		LastCheckpointAt: r.LastCheckpointAt,
		Traces:           traces,
		Archived:         r.Archived,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	traces := s.Traces
	if traces == nil {
		traces = []domain.Trace{}
	}
	encoded, err := json.Marshal(traces)
	if err != nil {
		return fmt.Errorf("failed to encode traces: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, shop_id, status, resource_ids, languages, total, completed, errored, skipped,
			last_checkpoint_at, traces, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $12)
	`, s.ID, s.ShopID, string(s.Status), pq.Array(s.ResourceIDs), pq.Array(s.Languages),
		s.Total, s.Completed, s.Errored, s.Skipped, s.LastCheckpointAt, encoded, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row.toDomain()
}

func (r *SessionRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status domain.SessionStatus,
	trace domain.Trace,
) error {
	encoded, err := json.Marshal([]domain.Trace{trace})
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, traces = traces || $3::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), encoded)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return expectAffected(res)
}

// ApplyCheckpoint adds delta to the counters under a row lock and returns the
// updated session.
func (r *SessionRepo) ApplyCheckpoint(
	ctx context.Context,
	id string,
	delta domain.ProgressDelta,
	at time.Time,
) (*domain.Session, error) {
	if delta.Completed < 0 || delta.Errored < 0 || delta.Skipped < 0 || delta.Reopened < 0 {
		return nil, storage.ErrNegativeProgress
	}
	var out *domain.Session
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var row sessionRow
		err := tx.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		row.Completed += delta.Completed
		row.Errored += delta.Errored
		row.Skipped += delta.Skipped
		row.Errored -= min(delta.Reopened, row.Errored)
		if at.After(row.LastCheckpointAt) {
			row.LastCheckpointAt = at
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions
			SET completed = $2, errored = $3, skipped = $4, last_checkpoint_at = $5, updated_at = NOW()
			WHERE id = $1
		`, id, row.Completed, row.Errored, row.Skipped, row.LastCheckpointAt)
		if err != nil {
			return fmt.Errorf("failed to apply checkpoint: %w", err)
		}
		out, err = row.toDomain()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SessionRepo) AppendTrace(ctx context.Context, id string, trace domain.Trace) error {
	encoded, err := json.Marshal([]domain.Trace{trace})
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET traces = traces || $2::jsonb WHERE id = $1`, id, encoded)
	if err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	return expectAffected(res)
}

func (r *SessionRepo) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = $1 AND NOT archived
		ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return toSessions(rows)
}

func (r *SessionRepo) ListByShop(ctx context.Context, shopID string) ([]*domain.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE shop_id = $1 AND NOT archived
		ORDER BY created_at
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return toSessions(rows)
}

func (r *SessionRepo) Archive(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET archived = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return expectAffected(res)
}

func toSessions(rows []sessionRow) ([]*domain.Session, error) {
	out := make([]*domain.Session, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
