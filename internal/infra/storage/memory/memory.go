package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/infra/storage"
)

type MemoryStorage struct {
	resources    map[string]*domain.Resource
	translations map[domain.WorkKey]*domain.Translation
	sessions     map[string]*domain.Session
	errors       map[string]*domain.ErrorLog
	attempts     map[string][]*domain.RecoveryAttempt
	mu           sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		resources:    make(map[string]*domain.Resource),
		translations: make(map[domain.WorkKey]*domain.Translation),
		sessions:     make(map[string]*domain.Session),
		errors:       make(map[string]*domain.ErrorLog),
		attempts:     make(map[string][]*domain.RecoveryAttempt),
	}
}

// NewStore returns a storage.Store backed by a fresh MemoryStorage.
func NewStore() storage.Store {
	s := NewMemoryStorage()
	return storage.Store{
		Resources:    NewResourceRepo(s),
		Translations: NewTranslationRepo(s),
		Sessions:     NewSessionRepo(s),
		Errors:       NewErrorRepo(s),
		Health:       s,
	}
}

// Ping always succeeds for memory storage.
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copyFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyResource(r *domain.Resource) *domain.Resource {
	c := *r
	c.Fields = copyFields(r.Fields)
	return &c
}

func copyTranslation(t *domain.Translation) *domain.Translation {
	c := *t
	c.Fields = copyFields(t.Fields)
	return &c
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	c.ResourceIDs = append([]string(nil), s.ResourceIDs...)
	c.Languages = append([]string(nil), s.Languages...)
	c.Traces = append([]domain.Trace(nil), s.Traces...)
	return &c
}

// -----------------------------------------------------------------------------
// Resource Repository
// -----------------------------------------------------------------------------

type ResourceRepo struct {
	store *MemoryStorage
}

func NewResourceRepo(store *MemoryStorage) *ResourceRepo {
	return &ResourceRepo{store: store}
}

func (r *ResourceRepo) Get(ctx context.Context, id string) (*domain.Resource, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	res, ok := r.store.resources[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyResource(res), nil
}

func (r *ResourceRepo) GetMany(ctx context.Context, ids []string) ([]*domain.Resource, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Resource, 0, len(ids))
	for _, id := range ids {
		if res, ok := r.store.resources[id]; ok {
			out = append(out, copyResource(res))
		}
	}
	return out, nil
}

func (r *ResourceRepo) ListByShop(ctx context.Context, shopID string) ([]*domain.Resource, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Resource
	for _, res := range r.store.resources {
		if res.ShopID == shopID {
			out = append(out, copyResource(res))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ResourceRepo) Save(ctx context.Context, res *domain.Resource) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := copyResource(res)
	now := time.Now()
	if existing, ok := r.store.resources[res.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.store.resources[res.ID] = c
	return nil
}

func (r *ResourceRepo) UpdateFingerprint(
	ctx context.Context,
	id, fingerprint string,
	fields map[string]string,
	scannedAt time.Time,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, ok := r.store.resources[id]
	if !ok {
		return storage.ErrNotFound
	}
	res.Fingerprint = fingerprint
	res.Fields = copyFields(fields)
	res.LastScannedAt = scannedAt
	res.UpdatedAt = time.Now()
	return nil
}

func (r *ResourceRepo) UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res, ok := r.store.resources[id]
	if !ok {
		return storage.ErrNotFound
	}
	res.Status = status
	res.UpdatedAt = time.Now()
	return nil
}

func (r *ResourceRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.resources, id)
	for k := range r.store.translations {
		if k.ResourceID == id {
			delete(r.store.translations, k)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Translation Repository
// -----------------------------------------------------------------------------

type TranslationRepo struct {
	store *MemoryStorage
}

func NewTranslationRepo(store *MemoryStorage) *TranslationRepo {
	return &TranslationRepo{store: store}
}

func (r *TranslationRepo) Get(ctx context.Context, resourceID, language string) (*domain.Translation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.translations[domain.WorkKey{ResourceID: resourceID, Language: language}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTranslation(t), nil
}

func (r *TranslationRepo) Upsert(ctx context.Context, t *domain.Translation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := copyTranslation(t)
	key := c.Key()
	if existing, ok := r.store.translations[key]; ok {
		c.ID = existing.ID
	} else if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.UpdatedAt = time.Now()
	r.store.translations[key] = c
	return nil
}

func (r *TranslationRepo) ListByResource(ctx context.Context, resourceID string) ([]*domain.Translation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Translation
	for k, t := range r.store.translations {
		if k.ResourceID == resourceID {
			out = append(out, copyTranslation(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}

func (r *TranslationRepo) ListFailed(ctx context.Context, shopID string, limit int) ([]*domain.Translation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Translation
	for _, t := range r.store.translations {
		if t.ShopID == shopID && t.SyncStatus == domain.SyncStatusFailed {
			out = append(out, copyTranslation(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.Before(out[j].LastAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TranslationRepo) Stats(ctx context.Context, shopID string, since time.Time) (storage.TranslationStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var stats storage.TranslationStats
	for _, t := range r.store.translations {
		if t.ShopID != shopID || t.LastAttemptAt.Before(since) {
			continue
		}
		stats.Attempted++
		if t.SyncStatus == domain.SyncStatusFailed {
			stats.Failed++
		}
	}
	return stats, nil
}

// -----------------------------------------------------------------------------
// Session Repository
// -----------------------------------------------------------------------------

type SessionRepo struct {
	store *MemoryStorage
}

func NewSessionRepo(store *MemoryStorage) *SessionRepo {
	return &SessionRepo{store: store}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.sessions[s.ID] = copySession(s)
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySession(s), nil
}

func (r *SessionRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status domain.SessionStatus,
	trace domain.Trace,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Status = status
	s.Traces = append(s.Traces, trace)
	s.UpdatedAt = time.Now()
	return nil
}

func (r *SessionRepo) ApplyCheckpoint(
	ctx context.Context,
	id string,
	delta domain.ProgressDelta,
	at time.Time,
) (*domain.Session, error) {
	if delta.Completed < 0 || delta.Errored < 0 || delta.Skipped < 0 || delta.Reopened < 0 {
		return nil, storage.ErrNegativeProgress
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.Completed += delta.Completed
	s.Errored += delta.Errored
	s.Skipped += delta.Skipped
	s.Errored -= min(delta.Reopened, s.Errored)
	if at.After(s.LastCheckpointAt) {
		s.LastCheckpointAt = at
	}
	s.UpdatedAt = time.Now()
	return copySession(s), nil
}

func (r *SessionRepo) AppendTrace(ctx context.Context, id string, trace domain.Trace) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Traces = append(s.Traces, trace)
	return nil
}

func (r *SessionRepo) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.store.sessions {
		if s.Status == status && !s.Archived {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionRepo) ListByShop(ctx context.Context, shopID string) ([]*domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.store.sessions {
		if s.ShopID == shopID && !s.Archived {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionRepo) Archive(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Archived = true
	return nil
}

// -----------------------------------------------------------------------------
// Error Repository
// -----------------------------------------------------------------------------

type ErrorRepo struct {
	store *MemoryStorage
}

func NewErrorRepo(store *MemoryStorage) *ErrorRepo {
	return &ErrorRepo{store: store}
}

func errorKey(e *domain.ErrorLog) string {
	return e.ShopID + "|" + e.Fingerprint + "|" + e.ResourceID + "|" + e.Language
}

func (r *ErrorRepo) RecordOccurrence(ctx context.Context, e *domain.ErrorLog) (*domain.ErrorLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now()
	key := errorKey(e)
	if existing, ok := r.store.errors[key]; ok && !existing.Archived {
		existing.Occurrences++
		existing.LastSeenAt = now
		existing.Message = e.Message
		c := *existing
		return &c, nil
	}
	c := *e
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Occurrences = 1
	c.FirstSeenAt = now
	c.LastSeenAt = now
	r.store.errors[key] = &c
	out := c
	return &out, nil
}

func (r *ErrorRepo) AddAttempt(ctx context.Context, a *domain.RecoveryAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *a
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	r.store.attempts[a.ScopeKey] = append(r.store.attempts[a.ScopeKey], &c)
	return nil
}

func (r *ErrorRepo) ListAttempts(ctx context.Context, scopeKey string) ([]*domain.RecoveryAttempt, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	list := r.store.attempts[scopeKey]
	out := make([]*domain.RecoveryAttempt, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		c := *list[i]
		out = append(out, &c)
	}
	return out, nil
}

func (r *ErrorRepo) CountSince(ctx context.Context, shopID string, since time.Time) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, e := range r.store.errors {
		if e.ShopID == shopID && !e.Archived && !e.LastSeenAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *ErrorRepo) ArchiveOlderThan(ctx context.Context, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, e := range r.store.errors {
		if !e.Archived && e.LastSeenAt.Before(before) {
			e.Archived = true
			n++
		}
	}
	return n, nil
}
