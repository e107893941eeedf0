package domain

import "fmt"

// WorkKey identifies one unit of translation work.
type WorkKey struct {
	ResourceID string
	Language   string
}

func (k WorkKey) String() string {
	return fmt.Sprintf("%s:%s", k.ResourceID, k.Language)
}

// WorkPlan splits requested pairs into those that still need translation
// work and those already done (up to date or given up on).
type WorkPlan struct {
	Pending []WorkKey
	Done    []WorkKey
	// Retry is the subset of Pending that retries a failed row.
	Retry []WorkKey
}
