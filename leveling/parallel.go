package leveling

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/dustin/go-humanize/english"
	"github.com/google/uuid"

	"ironclad.dev/dpm/resourceload"
)

// conflictHeap orders conflicts by date ascending, then peak excess
// descending: the earliest, worst contention first.
type conflictHeap []resourceload.ConflictPeriod

func (h conflictHeap) Len() int { return len(h) }
func (h conflictHeap) Less(i, j int) bool {
	if !h[i].Start.Equal(h[j].Start) {
		return h[i].Start.Before(h[j].Start)
	}
	return h[i].PeakExcess > h[j].PeakExcess
}
func (h conflictHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *conflictHeap) Push(x interface{}) { *h = append(*h, x.(resourceload.ConflictPeriod)) }
func (h *conflictHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Parallel levels by conflict urgency across all resources jointly: the
// most urgent conflict is popped, the lowest-priority contributing
// activity is delayed until its units fit, successors are propagated, and
// the heap is rebuilt from the new dates. The heap rebuild is a full
// rescan; incremental repair is not worth it at typical program sizes.
func Parallel(ctx context.Context, in Input, opts Options) (*Result, error) {
	s := newState(in, opts)
	initial := len(flattenConflicts(s.detectConflicts()))
	warned := make(map[uuid.UUID]bool)
	touched := make(map[uuid.UUID]bool)
	blocked := make(map[string]bool)

	for iter := 0; iter < s.opts.MaxIterations; iter++ {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		h := conflictHeap(flattenConflicts(s.detectConflicts()))
		heap.Init(&h)

		var conflict *resourceload.ConflictPeriod
		for h.Len() > 0 {
			c := heap.Pop(&h).(resourceload.ConflictPeriod)
			if blocked[conflictKey(c)] {
				continue
			}
			conflict = &c
			break
		}
		if conflict == nil {
			break
		}
		touched[conflict.ResourceID] = true

		if !s.resolveConflict(*conflict, warned) {
			blocked[conflictKey(*conflict)] = true
		}
	}
	return s.finish(initial, len(touched)), nil
}

func conflictKey(c resourceload.ConflictPeriod) string {
	return c.ResourceID.String() + "|" + c.Start.Format("2006-01-02")
}

// resolveConflict delays the lowest-priority contributing activity that
// the guard rules allow. Returns false when no activity could move.
func (s *state) resolveConflict(c resourceload.ConflictPeriod, warned map[uuid.UUID]bool) bool {
	candidates := s.rankCandidates(c.AffectedActivities)
	for _, actID := range candidates {
		delay := s.nextSlotDelay(c.ResourceID, actID)
		if delay < 0 {
			continue
		}
		if !s.guard(actID, delay, warned) {
			continue
		}
		s.applyDelay(actID, delay,
			fmt.Sprintf("delayed %s to relieve over-allocated resource %s",
				english.Plural(delay, "working day", ""), s.resourceCode(c.ResourceID)))
		return true
	}
	s.warnings = append(s.warnings,
		fmt.Sprintf("conflict on resource %s starting %s could not be resolved",
			s.resourceCode(c.ResourceID), c.Start.Format("2006-01-02")))
	return false
}

// rankCandidates orders the contributing activities lowest priority
// first, the order in which the algorithm will try to delay them.
// Priority, highest to lowest: critical, earlier start, less float, more
// resources — so the delay candidate is non-critical, latest-starting,
// highest-float, fewest-resourced.
func (s *state) rankCandidates(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.windows[id]; ok {
			out = append(out, id)
		}
	}
	less := func(a, b uuid.UUID) bool { // a has lower priority than b
		ac, bc := s.isCritical(a), s.isCritical(b)
		if ac != bc {
			return !ac
		}
		aw, bw := s.windows[a], s.windows[b]
		if !aw.Start.Equal(bw.Start) {
			return aw.Start.After(bw.Start)
		}
		af, bf := s.totalFloat(a), s.totalFloat(b)
		if af != bf {
			return af > bf
		}
		ar, br := len(s.byAct[a]), len(s.byAct[b])
		if ar != br {
			return ar < br
		}
		return a.String() < b.String()
	}
	// Insertion sort; conflict contributor lists are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
