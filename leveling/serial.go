package leveling

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize/english"
	"github.com/google/uuid"

	"ironclad.dev/dpm/resourceload"
)

// Serial levels one activity at a time: activities are swept in priority
// order (early start, then float, then ID) and the first shiftable
// activity sitting on an over-allocated resource is delayed to the next
// free slot. After each successful shift the sweep restarts, so progress
// is monotonic. The run ends when a full sweep changes nothing or the
// iteration cap is reached.
func Serial(ctx context.Context, in Input, opts Options) (*Result, error) {
	s := newState(in, opts)
	initial := len(flattenConflicts(s.detectConflicts()))
	order := s.priorityOrder()
	warned := make(map[uuid.UUID]bool)
	touched := make(map[uuid.UUID]bool)

	for iter := 0; iter < s.opts.MaxIterations; iter++ {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		conflicts := s.detectConflicts()
		if len(conflicts) == 0 {
			break
		}
		changed := false
		for _, actID := range order {
			resID, ok := s.conflictingResource(actID, conflicts)
			if !ok {
				continue
			}
			touched[resID] = true
			delay := s.nextSlotDelay(resID, actID)
			if delay < 0 {
				s.warnings = append(s.warnings,
					fmt.Sprintf("no free slot for activity %s on resource %s within %d days",
						s.activityCode(actID), s.resourceCode(resID), slotSearchLimitDays))
				continue
			}
			if !s.guard(actID, delay, warned) {
				continue
			}
			s.applyDelay(actID, delay,
				fmt.Sprintf("delayed %s to relieve over-allocated resource %s",
					english.Plural(delay, "working day", ""), s.resourceCode(resID)))
			changed = true
			break
		}
		if !changed {
			break
		}
	}
	return s.finish(initial, len(touched)), nil
}

// conflictingResource returns a resource the activity is assigned to that
// is over-allocated somewhere inside the activity's current window.
func (s *state) conflictingResource(activityID uuid.UUID, conflicts map[uuid.UUID][]resourceload.ConflictPeriod) (uuid.UUID, bool) {
	w := s.windows[activityID]
	for _, asg := range s.byAct[activityID] {
		for _, period := range conflicts[asg.ResourceID] {
			if overlaps(w, period) {
				return asg.ResourceID, true
			}
		}
	}
	return uuid.Nil, false
}

// overlaps reports whether the window touches the conflict period.
// Period.End is inclusive; Window.Finish is exclusive.
func overlaps(w Window, p resourceload.ConflictPeriod) bool {
	return w.Start.Before(p.End.AddDate(0, 0, 1)) && p.Start.Before(w.Finish)
}
