package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
)

var (
	// ErrNotFound is returned when a row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrNegativeProgress is returned when a checkpoint would move counters backward.
	ErrNegativeProgress = errors.New("checkpoint would move progress backward")
)

// ResourceRepository handles resource storage operations
type ResourceRepository interface {
	// Get retrieves a resource by ID
	Get(ctx context.Context, id string) (*domain.Resource, error)

	// GetMany retrieves the resources that exist among ids
	GetMany(ctx context.Context, ids []string) ([]*domain.Resource, error)

	// ListByShop retrieves all resources of a shop
	ListByShop(ctx context.Context, shopID string) ([]*domain.Resource, error)

	// Save inserts or replaces a resource
	Save(ctx context.Context, r *domain.Resource) error

	// UpdateFingerprint atomically stores new content and its fingerprint
	UpdateFingerprint(
		ctx context.Context,
		id string,
		fingerprint string,
		fields map[string]string,
		scannedAt time.Time,
	) error

	// UpdateStatus updates the lifecycle status
	UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error

	// Delete removes a resource and its translations
	Delete(ctx context.Context, id string) error
}

// TranslationStats aggregates recent translation outcomes.
type TranslationStats struct {
	Attempted int
	Failed    int
}

// TranslationRepository handles translation rows keyed by (resource, language)
type TranslationRepository interface {
	// Get retrieves the translation for a resource and language
	Get(ctx context.Context, resourceID, language string) (*domain.Translation, error)

	// Upsert inserts or updates by (resource_id, language); safe to repeat
	Upsert(ctx context.Context, t *domain.Translation) error

	// ListByResource retrieves every translation of a resource
	ListByResource(ctx context.Context, resourceID string) ([]*domain.Translation, error)

	// ListFailed retrieves failed translations of a shop, oldest attempt first
	ListFailed(ctx context.Context, shopID string, limit int) ([]*domain.Translation, error)

	// Stats counts attempts and failures since a point in time
	Stats(ctx context.Context, shopID string, since time.Time) (TranslationStats, error)
}

// SessionRepository handles translation session storage
type SessionRepository interface {
	// Create stores a new session
	Create(ctx context.Context, s *domain.Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, id string) (*domain.Session, error)

	// UpdateStatus changes status and appends an audit trace
	UpdateStatus(
		ctx context.Context,
		id string,
		status domain.SessionStatus,
		trace domain.Trace,
	) error

	// ApplyCheckpoint adds delta to the counters in one read-modify-write
	// transaction and returns the updated session
	ApplyCheckpoint(
		ctx context.Context,
		id string,
		delta domain.ProgressDelta,
		at time.Time,
	) (*domain.Session, error)

	// AppendTrace records an audit trace
	AppendTrace(ctx context.Context, id string, trace domain.Trace) error

	// ListByStatus retrieves non-archived sessions in a status
	ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.Session, error)

	// ListByShop retrieves non-archived sessions of a shop
	ListByShop(ctx context.Context, shopID string) ([]*domain.Session, error)

	// Archive flags a session as archived
	Archive(ctx context.Context, id string) error
}

// ErrorRepository handles fingerprinted errors and recovery attempts
type ErrorRepository interface {
	// RecordOccurrence inserts the error or bumps its occurrence count
	RecordOccurrence(ctx context.Context, e *domain.ErrorLog) (*domain.ErrorLog, error)

	// AddAttempt stores a recovery attempt
	AddAttempt(ctx context.Context, a *domain.RecoveryAttempt) error

	// ListAttempts retrieves attempts for a scope key, newest first
	ListAttempts(ctx context.Context, scopeKey string) ([]*domain.RecoveryAttempt, error)

	// CountSince counts error occurrences of a shop seen since a point in time
	CountSince(ctx context.Context, shopID string, since time.Time) (int, error)

	// ArchiveOlderThan archives errors last seen before a point in time
	ArchiveOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Pinger reports storage responsiveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Resources    ResourceRepository
	Translations TranslationRepository
	Sessions     SessionRepository
	Errors       ErrorRepository
	Health       Pinger
}
