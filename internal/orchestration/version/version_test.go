package version

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/infra/storage/memory"
)

type recordingSink struct {
	mu      sync.Mutex
	records []ChangeRecord
}

func (s *recordingSink) Publish(ctx context.Context, r ChangeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordingSink) kinds() []domain.ChangeKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChangeKind
	for _, r := range s.records {
		out = append(out, r.Kind)
	}
	return out
}

func newTestTracker() (*Tracker, storage.Store, *recordingSink) {
	store := memory.NewStore()
	sink := &recordingSink{}
	return NewTracker(store.Resources, nil, sink), store, sink
}

func product(id string, fields map[string]string) domain.ResourceContent {
	return domain.ResourceContent{ID: id, ShopID: "shop", Type: domain.ResourceTypeProduct, Fields: fields}
}

// =============================================================================
// Fingerprint Tests
// =============================================================================

func TestComputeFingerprint_Stable(t *testing.T) {
	a := ComputeFingerprint(map[string]string{
		"title":    "Red Shoe",
		"body":     "  Comfortable  ",
		"metadata": `{"size":"42","color":"red"}`,
		"empty":    "   ",
	})
	b := ComputeFingerprint(map[string]string{
		"metadata": `{ "color": "red", "size": "42" }`,
		"body":     "Comfortable",
		"title":    "Red Shoe",
	})
	if a != b {
		t.Errorf("equivalent content should hash identically: %s != %s", a, b)
	}

	c := ComputeFingerprint(map[string]string{"title": "Blue Shoe", "body": "Comfortable"})
	if a == c {
		t.Error("different content should produce a different fingerprint")
	}
}

func TestComputeFingerprint_FieldBoundaries(t *testing.T) {
	a := ComputeFingerprint(map[string]string{"ab": "c"})
	b := ComputeFingerprint(map[string]string{"a": "bc"})
	if a == b {
		t.Error("moving characters between key and value must change the fingerprint")
	}
}

// =============================================================================
// Change Detection Tests
// =============================================================================

func TestDetectChange(t *testing.T) {
	tracker, _, _ := newTestTracker()
	ctx := context.Background()

	change, err := tracker.DetectChange(ctx, "p1", "h1")
	if err != nil || !change.IsNew {
		t.Fatalf("expected new resource, got %+v err=%v", change, err)
	}

	if _, err := tracker.Observe(ctx, product("p1", map[string]string{"title": "Shoe"})); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	h := ComputeFingerprint(map[string]string{"title": "Shoe"})

	change, _ = tracker.DetectChange(ctx, "p1", h)
	if change.Changed() {
		t.Errorf("expected unchanged, got %+v", change)
	}

	change, _ = tracker.DetectChange(ctx, "p1", "other")
	if !change.IsModified || change.PreviousHash != h {
		t.Errorf("expected modified with previous hash, got %+v", change)
	}

	change, _ = tracker.DetectChange(ctx, "p1", "")
	if !change.IsDeleted {
		t.Errorf("expected deleted, got %+v", change)
	}
}

func TestSyncVersion(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()

	if _, err := tracker.Observe(ctx, product("p1", map[string]string{"title": "Shoe"})); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if err := tracker.SyncVersion(ctx, "p1", "h2"); err != nil {
		t.Fatalf("SyncVersion failed: %v", err)
	}
	res, _ := store.Resources.Get(ctx, "p1")
	if res.Fingerprint != "h2" || res.Fields["title"] != "Shoe" {
		t.Errorf("unexpected resource after sync: %+v", res)
	}
}

func TestObserve_IncompleteKeepsFingerprint(t *testing.T) {
	tracker, store, sink := newTestTracker()
	ctx := context.Background()

	if _, err := tracker.Observe(ctx, product("p1", map[string]string{"title": "Shoe", "body": "x"})); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	before, _ := store.Resources.Get(ctx, "p1")

	_, err := tracker.Observe(ctx, product("p1", map[string]string{"body": "partial fetch"}))
	if !errors.Is(err, ErrIncompleteContent) {
		t.Fatalf("expected ErrIncompleteContent, got %v", err)
	}

	after, _ := store.Resources.Get(ctx, "p1")
	if after.Fingerprint != before.Fingerprint {
		t.Error("incomplete content must not replace the stored fingerprint")
	}
	if len(sink.kinds()) != 1 {
		t.Errorf("expected only the creation record, got %v", sink.kinds())
	}
}

func TestObserve_ModifiedResetsStatus(t *testing.T) {
	tracker, store, sink := newTestTracker()
	ctx := context.Background()

	_, _ = tracker.Observe(ctx, product("p1", map[string]string{"title": "Shoe"}))
	_ = store.Resources.UpdateStatus(ctx, "p1", domain.ResourceStatusCompleted)

	change, err := tracker.Observe(ctx, product("p1", map[string]string{"title": "Boot"}))
	if err != nil || !change.IsModified {
		t.Fatalf("expected modified, got %+v err=%v", change, err)
	}

	res, _ := store.Resources.Get(ctx, "p1")
	if res.Status != domain.ResourceStatusPending {
		t.Errorf("expected status pending, got %s", res.Status)
	}
	if res.Fields["title"] != "Boot" {
		t.Errorf("expected fields replaced, got %v", res.Fields)
	}

	sink.mu.Lock()
	last := sink.records[len(sink.records)-1]
	sink.mu.Unlock()
	if last.Kind != domain.ChangeUpdated || len(last.ChangedFields) != 1 || last.ChangedFields[0] != "title" {
		t.Errorf("unexpected change record: %+v", last)
	}
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestFullScan(t *testing.T) {
	tracker, store, sink := newTestTracker()
	ctx := context.Background()

	_, _ = tracker.Observe(ctx, product("keep", map[string]string{"title": "Keep"}))
	_, _ = tracker.Observe(ctx, product("edit", map[string]string{"title": "Old"}))
	_, _ = tracker.Observe(ctx, product("gone", map[string]string{"title": "Gone"}))
	_ = store.Translations.Upsert(ctx, &domain.Translation{
		ShopID: "shop", ResourceID: "gone", Language: "fr", SyncStatus: domain.SyncStatusSynced,
	})

	report, err := tracker.FullScan(ctx, "shop", []domain.ResourceContent{
		product("keep", map[string]string{"title": "Keep"}),
		product("edit", map[string]string{"title": "New"}),
		product("new", map[string]string{"title": "Fresh"}),
		product("broken", map[string]string{"body": "no title"}),
	})
	if err != nil {
		t.Fatalf("FullScan failed: %v", err)
	}

	if report.Added != 1 || report.Modified != 1 || report.Removed != 1 || report.Unchanged != 1 || report.Incomplete != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if _, err := store.Resources.Get(ctx, "gone"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("removed resource should be deleted")
	}
	if _, err := store.Translations.Get(ctx, "gone", "fr"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("translations of removed resource should cascade")
	}

	kinds := sink.kinds()
	if kinds[len(kinds)-1] != domain.ChangeDeleted {
		t.Errorf("expected deletion record last, got %v", kinds)
	}
}

func TestIncrementalScan_OnlyRecent(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()
	since := time.Now()

	old := product("old", map[string]string{"title": "Old"})
	old.UpdatedAt = since.Add(-time.Hour)
	recent := product("recent", map[string]string{"title": "Recent"})
	recent.UpdatedAt = since.Add(time.Minute)

	report, err := tracker.IncrementalScan(ctx, "shop", []domain.ResourceContent{old, recent}, since)
	if err != nil {
		t.Fatalf("IncrementalScan failed: %v", err)
	}
	if report.Added != 1 {
		t.Errorf("expected 1 added, got %+v", report)
	}
	if _, err := store.Resources.Get(ctx, "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("content older than since should be ignored")
	}
}

func TestApplyEvent_MergesPartialFields(t *testing.T) {
	tracker, store, _ := newTestTracker()
	ctx := context.Background()

	_, _ = tracker.Observe(ctx, product("p1", map[string]string{"title": "Shoe", "body": "Old body"}))

	change, err := tracker.ApplyEvent(ctx, domain.ChangeEvent{
		ShopID:        "shop",
		ResourceID:    "p1",
		Kind:          domain.ChangeUpdated,
		ChangedFields: []string{"body"},
		Fields:        map[string]string{"body": "New body"},
	})
	if err != nil || !change.IsModified {
		t.Fatalf("expected modified, got %+v err=%v", change, err)
	}
	res, _ := store.Resources.Get(ctx, "p1")
	if res.Fields["title"] != "Shoe" || res.Fields["body"] != "New body" {
		t.Errorf("expected merged fields, got %v", res.Fields)
	}

	change, err = tracker.ApplyEvent(ctx, domain.ChangeEvent{ShopID: "shop", ResourceID: "p1", Kind: domain.ChangeDeleted})
	if err != nil || !change.IsDeleted {
		t.Fatalf("expected deleted, got %+v err=%v", change, err)
	}
}
