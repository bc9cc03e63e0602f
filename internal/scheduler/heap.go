package scheduler

import "time"

// entry orders rules by fire time. Entries are never updated in place:
// rescheduling pushes a new entry and the old one is skipped when popped
// because its at no longer matches the rule.
type entry struct {
	at   time.Time
	rule uint64
}

type ruleHeap []entry

func (h ruleHeap) Len() int { return len(h) }
func (h ruleHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].rule < h[j].rule
	}
	return h[i].at.Before(h[j].at)
}
func (h ruleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *ruleHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *ruleHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
