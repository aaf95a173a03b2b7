package tse

import (
	"container/heap"
	"time"

	"github.com/shopspring/decimal"
)

// BuyCandidate is one rebound hit waiting for the portfolio gate. Ordering
// is (occurredAt, sequence, watchRank); the scheduler holds symbols by
// code, never by context pointer.
type BuyCandidate struct {
	OccurredAt   time.Time
	Sequence     int
	WatchRank    int
	Symbol       string
	CurrentPrice decimal.Decimal
	ReboundRate  decimal.Decimal
}

type candidateHeap []BuyCandidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if !h[i].OccurredAt.Equal(h[j].OccurredAt) {
		return h[i].OccurredAt.Before(h[j].OccurredAt)
	}
	if h[i].Sequence != h[j].Sequence {
		return h[i].Sequence < h[j].Sequence
	}
	return h[i].WatchRank < h[j].WatchRank
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(BuyCandidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler orders buy candidates so the earliest qualifying hit wins,
// with watch rank breaking same-instant ties.
type Scheduler struct {
	heap candidateHeap
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Enqueue adds a candidate.
func (s *Scheduler) Enqueue(c BuyCandidate) {
	heap.Push(&s.heap, c)
}

// PopNext removes and returns the highest-priority candidate.
func (s *Scheduler) PopNext() (BuyCandidate, bool) {
	if s.heap.Len() == 0 {
		return BuyCandidate{}, false
	}
	return heap.Pop(&s.heap).(BuyCandidate), true
}

// Clear drops all pending candidates.
func (s *Scheduler) Clear() {
	s.heap = s.heap[:0]
}
