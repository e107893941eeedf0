package domain

import "time"

// ChangeKind is the kind of upstream change.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent is the normalized shape of a webhook or change-feed event.
type ChangeEvent struct {
	ShopID        string
	ResourceID    string
	ResourceType  ResourceType
	Kind          ChangeKind
	ChangedFields []string
	Fields        map[string]string
	OccurredAt    time.Time
}
