package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/orchestration/metrics"
)

// ErrIncompleteContent is returned when fetched content lacks required
// fields. The stored fingerprint is left untouched.
var ErrIncompleteContent = errors.New(failure.CodeIncompleteContent)

// IncompleteError lists the required fields missing from a fetch.
type IncompleteError struct {
	ResourceID string
	Missing    []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: resource %s missing %s",
		failure.CodeIncompleteContent, e.ResourceID, strings.Join(e.Missing, ", "))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncompleteContent
}

// Change describes how a hash compares to the stored fingerprint.
type Change struct {
	IsNew        bool
	IsModified   bool
	IsDeleted    bool
	PreviousHash string
}

// Changed reports whether anything differs from storage.
func (c Change) Changed() bool {
	return c.IsNew || c.IsModified || c.IsDeleted
}

// ChangeRecord is emitted for every detected change.
type ChangeRecord struct {
	ShopID        string
	ResourceID    string
	ResourceType  domain.ResourceType
	Kind          domain.ChangeKind
	PreviousHash  string
	CurrentHash   string
	ChangedFields []string
	DetectedAt    time.Time
}

// ChangeSink receives change records. The tracker never starts translation work itself.
type ChangeSink interface {
	Publish(ctx context.Context, record ChangeRecord)
}

// ScanReport summarizes a full or incremental scan.
type ScanReport struct {
	Added      int
	Modified   int
	Removed    int
	Unchanged  int
	Incomplete int
	Errors     map[string]error
}

// DefaultRequiredFields is used for resource types the configuration does not mention.
var DefaultRequiredFields = map[domain.ResourceType][]string{
	domain.ResourceTypeProduct:    {"title"},
	domain.ResourceTypeCollection: {"title"},
	domain.ResourceTypePage:       {"title"},
	domain.ResourceTypeArticle:    {"title"},
	domain.ResourceTypeBlog:       {"title"},
	domain.ResourceTypeMenu:       {"title"},
	domain.ResourceTypeLink:       {"title"},
	domain.ResourceTypeShopPolicy: {"body"},
	domain.ResourceTypeMetafield:  {"value"},
	domain.ResourceTypeThemeAsset: {"value"},
	domain.ResourceTypeFilter:     {"label"},
}

// Tracker fingerprints resource content and detects changes against storage.
type Tracker struct {
	resources storage.ResourceRepository
	required  map[domain.ResourceType][]string
	sink      ChangeSink
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker creates a tracker. required overrides DefaultRequiredFields per
// resource type; sink may be nil.
func NewTracker(
	resources storage.ResourceRepository,
	required map[string][]string,
	sink ChangeSink,
) *Tracker {
	merged := make(map[domain.ResourceType][]string, len(DefaultRequiredFields))
	for t, f := range DefaultRequiredFields {
		merged[t] = f
	}
	for t, f := range required {
		merged[domain.ResourceType(t)] = f
	}
	return &Tracker{
		resources: resources,
		required:  merged,
		sink:      sink,
		logger:    slog.Default().With("component", "version"),
		now:       time.Now,
	}
}

// DetectChange compares newHash to the stored fingerprint. An empty newHash
// means the resource no longer exists upstream.
func (t *Tracker) DetectChange(ctx context.Context, resourceID, newHash string) (Change, error) {
	res, err := t.resources.Get(ctx, resourceID)
	if errors.Is(err, storage.ErrNotFound) {
		if newHash == "" {
			return Change{}, nil
		}
		return Change{IsNew: true}, nil
	}
	if err != nil {
		return Change{}, fmt.Errorf("load resource %s: %w", resourceID, err)
	}

	switch {
	case newHash == "":
		return Change{IsDeleted: true, PreviousHash: res.Fingerprint}, nil
	case newHash != res.Fingerprint:
		return Change{IsModified: true, PreviousHash: res.Fingerprint}, nil
	default:
		return Change{PreviousHash: res.Fingerprint}, nil
	}
}

// SyncVersion stores hash as the resource's fingerprint.
func (t *Tracker) SyncVersion(ctx context.Context, resourceID, hash string) error {
	res, err := t.resources.Get(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("load resource %s: %w", resourceID, err)
	}
	if err := t.resources.UpdateFingerprint(ctx, resourceID, hash, res.Fields, t.now()); err != nil {
		return fmt.Errorf("sync version %s: %w", resourceID, err)
	}
	return nil
}

// Missing returns the required fields that are absent or blank in content.
func (t *Tracker) Missing(content domain.ResourceContent) []string {
	var missing []string
	for _, f := range t.required[content.Type] {
		if strings.TrimSpace(content.Fields[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Observe accepts freshly fetched content: new resources are created,
// modified ones get their fingerprint and fields replaced and go back to
// pending.
func (t *Tracker) Observe(ctx context.Context, content domain.ResourceContent) (Change, error) {
	if missing := t.Missing(content); len(missing) > 0 {
		t.logger.Warn("Incomplete content, keeping stored fingerprint",
			"shop", content.ShopID, "resource", content.ID, "missing", missing)
		return Change{}, &IncompleteError{ResourceID: content.ID, Missing: missing}
	}

	hash := ComputeFingerprint(content.Fields)
	now := t.now()

	existing, err := t.resources.Get(ctx, content.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Change{}, fmt.Errorf("load resource %s: %w", content.ID, err)
	}

	if existing == nil {
		res := &domain.Resource{
			ID:            content.ID,
			ShopID:        content.ShopID,
			Type:          content.Type,
			Fields:        content.Fields,
			Fingerprint:   hash,
			Status:        domain.ResourceStatusPending,
			LastScannedAt: now,
		}
		if err := t.resources.Save(ctx, res); err != nil {
			return Change{}, fmt.Errorf("create resource %s: %w", content.ID, err)
		}
		t.publish(ctx, ChangeRecord{
			ShopID:        content.ShopID,
			ResourceID:    content.ID,
			ResourceType:  content.Type,
			Kind:          domain.ChangeCreated,
			CurrentHash:   hash,
			ChangedFields: sortedKeys(content.Fields),
			DetectedAt:    now,
		})
		return Change{IsNew: true}, nil
	}

	if existing.Fingerprint == hash {
		if err := t.resources.UpdateFingerprint(ctx, content.ID, hash, existing.Fields, now); err != nil {
			return Change{}, fmt.Errorf("touch resource %s: %w", content.ID, err)
		}
		return Change{PreviousHash: hash}, nil
	}

	if err := t.resources.UpdateFingerprint(ctx, content.ID, hash, content.Fields, now); err != nil {
		return Change{}, fmt.Errorf("sync version %s: %w", content.ID, err)
	}
	if existing.Status != domain.ResourceStatusPending {
		if err := t.resources.UpdateStatus(ctx, content.ID, domain.ResourceStatusPending); err != nil {
			return Change{}, fmt.Errorf("reset status %s: %w", content.ID, err)
		}
	}
	t.publish(ctx, ChangeRecord{
		ShopID:        existing.ShopID,
		ResourceID:    content.ID,
		ResourceType:  existing.Type,
		Kind:          domain.ChangeUpdated,
		PreviousHash:  existing.Fingerprint,
		CurrentHash:   hash,
		ChangedFields: diffFields(existing.Fields, content.Fields),
		DetectedAt:    now,
	})
	return Change{IsModified: true, PreviousHash: existing.Fingerprint}, nil
}

// FullScan compares the complete upstream set for a shop against storage.
// Stored resources missing upstream are removed along with their translations.
func (t *Tracker) FullScan(
	ctx context.Context,
	shopID string,
	upstream []domain.ResourceContent,
) (ScanReport, error) {
	stored, err := t.resources.ListByShop(ctx, shopID)
	if err != nil {
		return ScanReport{}, fmt.Errorf("list resources: %w", err)
	}

	report := ScanReport{Errors: make(map[string]error)}
	seen := make(map[string]struct{}, len(upstream))
	for _, content := range upstream {
		if content.ShopID == "" {
			content.ShopID = shopID
		}
		seen[content.ID] = struct{}{}
		t.observeInto(ctx, content, &report)
	}

	for _, res := range stored {
		if _, ok := seen[res.ID]; ok {
			continue
		}
		if err := t.remove(ctx, res); err != nil {
			report.Errors[res.ID] = err
			continue
		}
		report.Removed++
	}

	t.logger.Info("Full scan finished",
		"shop", shopID,
		"added", report.Added,
		"modified", report.Modified,
		"removed", report.Removed,
		"unchanged", report.Unchanged,
		"incomplete", report.Incomplete,
		"errors", len(report.Errors),
	)
	return report, nil
}

// IncrementalScan only looks at content updated after since and never removes.
func (t *Tracker) IncrementalScan(
	ctx context.Context,
	shopID string,
	upstream []domain.ResourceContent,
	since time.Time,
) (ScanReport, error) {
	report := ScanReport{Errors: make(map[string]error)}
	for _, content := range upstream {
		if !content.UpdatedAt.After(since) {
			continue
		}
		if content.ShopID == "" {
			content.ShopID = shopID
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t.observeInto(ctx, content, &report)
	}
	return report, nil
}

// ApplyEvent feeds a webhook change event into the tracker. Update events
// may carry only the changed fields; they are merged over the stored ones.
func (t *Tracker) ApplyEvent(ctx context.Context, ev domain.ChangeEvent) (Change, error) {
	existing, err := t.resources.Get(ctx, ev.ResourceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Change{}, fmt.Errorf("load resource %s: %w", ev.ResourceID, err)
	}

	if ev.Kind == domain.ChangeDeleted {
		if existing == nil {
			return Change{}, nil
		}
		if err := t.remove(ctx, existing); err != nil {
			return Change{}, err
		}
		return Change{IsDeleted: true, PreviousHash: existing.Fingerprint}, nil
	}

	fields := make(map[string]string)
	resType := ev.ResourceType
	if existing != nil {
		for k, v := range existing.Fields {
			fields[k] = v
		}
		if resType == "" {
			resType = existing.Type
		}
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}

	return t.Observe(ctx, domain.ResourceContent{
		ID:        ev.ResourceID,
		ShopID:    ev.ShopID,
		Type:      resType,
		Fields:    fields,
		UpdatedAt: ev.OccurredAt,
	})
}

func (t *Tracker) observeInto(ctx context.Context, content domain.ResourceContent, report *ScanReport) {
	change, err := t.Observe(ctx, content)
	switch {
	case errors.Is(err, ErrIncompleteContent):
		report.Incomplete++
	case err != nil:
		report.Errors[content.ID] = err
	case change.IsNew:
		report.Added++
	case change.IsModified:
		report.Modified++
	default:
		report.Unchanged++
	}
}

func (t *Tracker) remove(ctx context.Context, res *domain.Resource) error {
	if err := t.resources.Delete(ctx, res.ID); err != nil {
		return fmt.Errorf("delete resource %s: %w", res.ID, err)
	}
	t.publish(ctx, ChangeRecord{
		ShopID:       res.ShopID,
		ResourceID:   res.ID,
		ResourceType: res.Type,
		Kind:         domain.ChangeDeleted,
		PreviousHash: res.Fingerprint,
		DetectedAt:   t.now(),
	})
	return nil
}

func (t *Tracker) publish(ctx context.Context, record ChangeRecord) {
	metrics.ChangesDetected.WithLabelValues(record.ShopID, string(record.Kind)).Inc()
	t.logger.Debug("Change detected",
		"shop", record.ShopID, "resource", record.ResourceID, "kind", record.Kind)
	if t.sink != nil {
		t.sink.Publish(ctx, record)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func diffFields(before, after map[string]string) []string {
	var changed []string
	for k, v := range after {
		if normalizeValue(before[k]) != normalizeValue(v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
