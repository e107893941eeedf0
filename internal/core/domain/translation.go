package domain

import "time"

// SyncStatus describes how far a translation got toward the store.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Translation is the translated state of one (resource, language) pair.
type Translation struct {
	ID                string
	ShopID            string
	ResourceID        string
	Language          string
	Fields            map[string]string
	SourceFingerprint string
	SyncStatus        SyncStatus
	RetryCount        int
	QualityScore      float64
	LastError         string
	LastAttemptAt     time.Time
	UpdatedAt         time.Time
}

// Key returns the work key for this translation.
func (t *Translation) Key() WorkKey {
	return WorkKey{ResourceID: t.ResourceID, Language: t.Language}
}

// HasContent reports whether the row carries translated output.
func (t *Translation) HasContent() bool {
	return t.SyncStatus == SyncStatusSynced || t.SyncStatus == SyncStatusPartial
}

var syncOrder = map[SyncStatus]int{
	SyncStatusPending: 0,
	SyncStatusPartial: 1,
	SyncStatusSynced:  2,
}

// CanAdvanceSync reports whether a sync status may move from one value to another.
// Status only moves forward; failed may be entered from anywhere and is left only
// through an explicit re-queue.
func CanAdvanceSync(from, to SyncStatus, requeue bool) bool {
	if requeue || from == "" {
		return true
	}
	if to == SyncStatusFailed {
		return true
	}
	if from == SyncStatusFailed {
		return false
	}
	return syncOrder[to] >= syncOrder[from]
}
