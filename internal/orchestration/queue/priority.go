package queue

import (
	"github.com/vietddude/transync/internal/core/domain"
)

const (
	interactiveBoost = 1000
	recoveryBoost    = 50

	// Content hints at or above this many characters count as long-form.
	longFormChars = 2000
)

// classWeight ranks catalog content above editorial content above navigation and theme.
func classWeight(t domain.ResourceType) int {
	switch t {
	case domain.ResourceTypeProduct, domain.ResourceTypeCollection:
		return 300
	case domain.ResourceTypePage, domain.ResourceTypeArticle, domain.ResourceTypeBlog, domain.ResourceTypeShopPolicy:
		return 200
	default:
		return 100
	}
}

func priorityOf(spec domain.JobSpec) int {
	p := classWeight(spec.ResourceType)
	if spec.Urgency == domain.UrgencyInteractive {
		p += interactiveBoost
	}
	if spec.Recovery {
		p += recoveryBoost
	}
	return p
}

func isLongForm(spec domain.JobSpec) bool {
	if spec.ContentLength >= longFormChars {
		return true
	}
	switch spec.ResourceType {
	case domain.ResourceTypePage, domain.ResourceTypeArticle, domain.ResourceTypeBlog, domain.ResourceTypeShopPolicy:
		return true
	}
	return false
}

// jobHeap orders entries by priority, then FIFO.
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
