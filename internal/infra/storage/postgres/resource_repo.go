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

// ResourceRepo implements storage.ResourceRepository using PostgreSQL.
type ResourceRepo struct {
	db *DB
}

// NewResourceRepo creates a new PostgreSQL resource repository.
func NewResourceRepo(db *DB) *ResourceRepo {
	return &ResourceRepo{db: db}
}

const resourceColumns = `id, shop_id, resource_type, fields, fingerprint, status, last_scanned_at, created_at, updated_at`

type resourceRow struct {
	ID            string       `db:"id"`
	ShopID        string       `db:"shop_id"`
	Type          string       `db:"resource_type"`
	Fields        []byte       `db:"fields"`
	Fingerprint   string       `db:"fingerprint"`
	Status        string       `db:"status"`
	LastScannedAt sql.NullTime `db:"last_scanned_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r resourceRow) toDomain() (*domain.Resource, error) {
	fields, err := decodeFields(r.Fields)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", r.ID, err)
	}
	return &domain.Resource{
		ID:            r.ID,
		ShopID:        r.ShopID,
		Type:          domain.ResourceType(r.Type),
		Fields:        fields,
		Fingerprint:   r.Fingerprint,
		Status:        domain.ResourceStatus(r.Status),
		LastScannedAt: r.LastScannedAt.Time,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func encodeFields(fields map[string]string) ([]byte, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	return json.Marshal(fields)
}

func decodeFields(raw []byte) (map[string]string, error) {
	fields := map[string]string{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *ResourceRepo) Get(ctx context.Context, id string) (*domain.Resource, error) {
	var row resourceRow
	err := r.db.GetContext(ctx, &row, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return row.toDomain()
}

func (r *ResourceRepo) GetMany(ctx context.Context, ids []string) ([]*domain.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []resourceRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get resources: %w", err)
	}
	return toResources(rows)
}

func (r *ResourceRepo) ListByShop(ctx context.Context, shopID string) ([]*domain.Resource, error) {
	var rows []resourceRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+resourceColumns+` FROM resources WHERE shop_id = $1 ORDER BY id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return toResources(rows)
}

func toResources(rows []resourceRow) ([]*domain.Resource, error) {
	out := make([]*domain.Resource, 0, len(rows))
	for _, row := range rows {
		res, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *ResourceRepo) Save(ctx context.Context, res *domain.Resource) error {
	fields, err := encodeFields(res.Fields)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO resources (id, shop_id, resource_type, fields, fingerprint, status, last_scanned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			resource_type = EXCLUDED.resource_type,
			fields = EXCLUDED.fields,
			fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status,
			last_scanned_at = EXCLUDED.last_scanned_at,
			updated_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		res.ID, res.ShopID, string(res.Type), fields, res.Fingerprint, string(res.Status), nullTime(res.LastScannedAt))
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

// UpdateFingerprint stores the new fingerprint together with the fields it was
// computed from, in one transaction.
func (r *ResourceRepo) UpdateFingerprint(
	ctx context.Context,
	id, fingerprint string,
	fields map[string]string,
	scannedAt time.Time,
) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current string
		err := tx.GetContext(ctx, &current, `SELECT id FROM resources WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock resource: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE resources
			SET fingerprint = $2, fields = $3, last_scanned_at = $4, updated_at = NOW()
			WHERE id = $1
		`, id, fingerprint, encoded, scannedAt)
		if err != nil {
			return fmt.Errorf("failed to update fingerprint: %w", err)
		}
		return nil
	})
}

func (r *ResourceRepo) UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE resources SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update resource status: %w", err)
	}
	return expectAffected(res)
}

// Delete removes the resource; translations go with it through ON DELETE CASCADE.
func (r *ResourceRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
