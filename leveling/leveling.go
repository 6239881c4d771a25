// Package leveling resolves resource over-allocations by delaying
// activities. Two algorithms are provided: a serial priority-based sweep
// that shifts one activity at a time, and a parallel conflict-queue
// algorithm that pops the most urgent conflict across all resources.
// Both honor the critical-path and float guard rails, propagate delays to
// successors through the dependency graph, and report every shift with a
// reason: the over-allocated resource for a leveling delay, or the
// pushing predecessor for a propagated one.
package leveling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"ironclad.dev/dpm/cpm"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/network"
	"ironclad.dev/dpm/resourceload"
)

// slotSearchLimitDays bounds the forward search for a free slot.
const slotSearchLimitDays = 365

// Options configures a leveling run; MaxIterations defaults to 100.
type Options struct {
	MaxIterations        int
	PreserveCriticalPath bool
	LevelWithinFloat     bool
}

func (o Options) withDefaults() Options {
	if o.MaxIterations == 0 {
		o.MaxIterations = 100
	}
	return o
}

// Input is the snapshot a leveling run operates on. The run never
// mutates the snapshot; proposed dates come back in the Result.
type Input struct {
	ProgramStart time.Time
	Calendar     resourceload.Calendar
	Net          *network.Network
	Schedule     *cpm.Result
	Resources    map[uuid.UUID]*model.Resource
	Assignments  []*model.Assignment
}

// Window is an activity's current scheduling window; Finish is exclusive.
type Window struct {
	Start  time.Time
	Finish time.Time
}

// Shift records one applied delay.
type Shift struct {
	ActivityID uuid.UUID
	OldStart   time.Time
	OldFinish  time.Time
	NewStart   time.Time
	NewFinish  time.Time
	DelayDays  int
	Reason     string
}

// Result is the outcome of a leveling run. NewWindows carries the full
// proposed schedule; the apply path turns it into planned dates in one
// transaction.
type Result struct {
	OriginalFinish     time.Time
	NewFinish          time.Time
	Shifts             []Shift
	Remaining          []resourceload.ConflictPeriod
	Warnings           []string
	ConflictsResolved  int
	ResourcesProcessed int
	NewWindows         map[uuid.UUID]Window
}

// state is the mutable working set shared by both algorithms.
type state struct {
	in       Input
	opts     Options
	windows  map[uuid.UUID]Window
	original map[uuid.UUID]Window
	byRes    map[uuid.UUID][]*model.Assignment // resource -> assignments
	byAct    map[uuid.UUID][]*model.Assignment // activity -> assignments
	shifts   []Shift
	warnings []string
}

func newState(in Input, opts Options) *state {
	s := &state{
		in:       in,
		opts:     opts.withDefaults(),
		windows:  make(map[uuid.UUID]Window),
		original: make(map[uuid.UUID]Window),
		byRes:    make(map[uuid.UUID][]*model.Assignment),
		byAct:    make(map[uuid.UUID][]*model.Assignment),
	}
	for _, a := range in.Net.Activities() {
		w := s.initialWindow(a)
		s.windows[a.ID] = w
		s.original[a.ID] = w
	}
	for _, asg := range in.Assignments {
		s.byRes[asg.ResourceID] = append(s.byRes[asg.ResourceID], asg)
		s.byAct[asg.ActivityID] = append(s.byAct[asg.ActivityID], asg)
	}
	return s
}

// initialWindow takes planned dates when present, else maps the CPM
// window onto the program start date. An alap activity with no planned
// dates sits at its late start; everything else at its early start.
func (s *state) initialWindow(a *model.Activity) Window {
	if a.PlannedStart != nil {
		start := *a.PlannedStart
		if a.PlannedFinish != nil {
			return Window{Start: start, Finish: *a.PlannedFinish}
		}
		return Window{Start: start, Finish: AddWorkingDays(s.in.Calendar, start, a.Duration)}
	}
	day := 0
	if ar, ok := s.in.Schedule.Activities[a.ID]; ok {
		day = ar.EarlyStart
		if a.Constraint == model.ConstraintALAP {
			day = ar.LateStart
		}
	}
	start := AddWorkingDays(s.in.Calendar, s.in.ProgramStart, day)
	return Window{Start: start, Finish: AddWorkingDays(s.in.Calendar, start, a.Duration)}
}

func (s *state) duration(id uuid.UUID) int {
	if a, ok := s.in.Net.Activity(id); ok {
		return a.Duration
	}
	return 0
}

func (s *state) isCritical(id uuid.UUID) bool {
	if ar, ok := s.in.Schedule.Activities[id]; ok {
		return ar.IsCritical
	}
	return false
}

func (s *state) totalFloat(id uuid.UUID) int {
	if ar, ok := s.in.Schedule.Activities[id]; ok {
		return ar.TotalFloat
	}
	return 0
}

// usedFloat is how many working days the activity has already drifted
// from its original start.
func (s *state) usedFloat(id uuid.UUID) int {
	return WorkingDaysBetween(s.in.Calendar, s.original[id].Start, s.windows[id].Start)
}

// horizon is the date range the conflict scan covers: the earlier of the
// program start and any current window start, through one day past the
// latest current finish.
func (s *state) horizon() (time.Time, time.Time) {
	start := s.in.ProgramStart
	end := start
	for _, w := range s.windows {
		if w.Start.Before(start) {
			start = w.Start
		}
		if w.Finish.After(end) {
			end = w.Finish
		}
	}
	return start, end.AddDate(0, 0, 1)
}

// assignmentWindows builds the loading inputs for one resource from the
// current windows.
func (s *state) assignmentWindows(resourceID uuid.UUID) []resourceload.AssignmentWindow {
	res := s.in.Resources[resourceID]
	var out []resourceload.AssignmentWindow
	for _, asg := range s.byRes[resourceID] {
		w, ok := s.windows[asg.ActivityID]
		if !ok {
			continue
		}
		out = append(out, resourceload.AssignmentWindow{
			Assignment: asg,
			ActivityID: asg.ActivityID,
			Resource:   res,
			Start:      w.Start,
			End:        w.Finish,
		})
	}
	return out
}

// detectConflicts scans every resource and returns the conflict periods,
// keyed by resource, over the current windows.
func (s *state) detectConflicts() map[uuid.UUID][]resourceload.ConflictPeriod {
	from, to := s.horizon()
	out := make(map[uuid.UUID][]resourceload.ConflictPeriod)
	for resID, res := range s.in.Resources {
		if res.Type == model.ResourceMaterial {
			continue
		}
		series := resourceload.LoadSeries(s.in.Calendar, res, s.assignmentWindows(resID), from, to)
		if periods := resourceload.DetectOverAllocation(resID, series); len(periods) > 0 {
			out[resID] = periods
		}
	}
	return out
}

func flattenConflicts(m map[uuid.UUID][]resourceload.ConflictPeriod) []resourceload.ConflictPeriod {
	var out []resourceload.ConflictPeriod
	for _, id := range resourceload.SortedResourceIDs(m) {
		out = append(out, m[id]...)
	}
	return out
}

// assignedWithout sums the resource's assigned hours on day d across
// every activity except excluded.
func (s *state) assignedWithout(resourceID, excluded uuid.UUID, d time.Time) float64 {
	res := s.in.Resources[resourceID]
	total := 0.0
	for _, asg := range s.byRes[resourceID] {
		if asg.ActivityID == excluded {
			continue
		}
		w, ok := s.windows[asg.ActivityID]
		if !ok {
			continue
		}
		if !d.Before(w.Start) && d.Before(w.Finish) {
			total += asg.Units * res.CapacityPerDay
		}
	}
	return total
}

// unitsOn returns the activity's assigned units on the resource.
func (s *state) unitsOn(resourceID, activityID uuid.UUID) float64 {
	for _, asg := range s.byRes[resourceID] {
		if asg.ActivityID == activityID {
			return asg.Units
		}
	}
	return 0
}

// fitsAt reports whether the activity, started at candidate, stays within
// the resource's capacity for its whole duration.
func (s *state) fitsAt(resourceID, activityID uuid.UUID, candidate time.Time) bool {
	res := s.in.Resources[resourceID]
	units := s.unitsOn(resourceID, activityID)
	dur := s.duration(activityID)
	d := candidate
	counted := 0
	for counted < dur {
		if s.in.Calendar.IsWorkingDay(d) {
			if s.assignedWithout(resourceID, activityID, d)+units*res.CapacityPerDay > res.CapacityPerDay {
				return false
			}
			counted++
		}
		d = d.AddDate(0, 0, 1)
	}
	return true
}

// nextSlotDelay searches forward day by day, weekend-aware, for the
// earliest start at which the activity no longer over-allocates the
// resource. Returns the delay in working days, or -1 when no slot exists
// within the search limit.
func (s *state) nextSlotDelay(resourceID, activityID uuid.UUID) int {
	start := s.windows[activityID].Start
	for delay := 1; delay <= slotSearchLimitDays; delay++ {
		candidate := AddWorkingDays(s.in.Calendar, start, delay)
		if s.fitsAt(resourceID, activityID, candidate) {
			return delay
		}
	}
	return -1
}

// applyDelay moves the activity later by delay working days, records the
// shift, and propagates to successors.
func (s *state) applyDelay(activityID uuid.UUID, delay int, reason string) {
	old := s.windows[activityID]
	newStart := AddWorkingDays(s.in.Calendar, old.Start, delay)
	newFinish := AddWorkingDays(s.in.Calendar, newStart, s.duration(activityID))
	s.windows[activityID] = Window{Start: newStart, Finish: newFinish}
	s.shifts = append(s.shifts, Shift{
		ActivityID: activityID,
		OldStart:   old.Start,
		OldFinish:  old.Finish,
		NewStart:   newStart,
		NewFinish:  newFinish,
		DelayDays:  delay,
		Reason:     reason,
	})
	s.propagate(activityID)
}

// propagate pushes successors later through the dependency graph using a
// work list. A successor moves only when its new earliest start is later
// than its current start; the update is monotonic, so revisits are safe.
func (s *state) propagate(from uuid.UUID) {
	work := []uuid.UUID{from}
	for len(work) > 0 {
		current := work[0]
		work = work[1:]
		cw := s.windows[current]
		for _, dep := range s.in.Net.Successors(current) {
			succID := dep.SuccessorID
			sw, ok := s.windows[succID]
			if !ok {
				continue
			}
			succDur := s.duration(succID)
			var earliest time.Time
			switch dep.Type {
			case model.DependencyFS:
				earliest = AddWorkingDays(s.in.Calendar, cw.Finish, dep.Lag)
			case model.DependencySS:
				earliest = AddWorkingDays(s.in.Calendar, cw.Start, dep.Lag)
			case model.DependencyFF:
				earliest = AddWorkingDays(s.in.Calendar, cw.Finish, dep.Lag-succDur)
			case model.DependencySF:
				earliest = AddWorkingDays(s.in.Calendar, cw.Start, dep.Lag-succDur)
			}
			if !earliest.After(sw.Start) {
				continue
			}
			newFinish := AddWorkingDays(s.in.Calendar, earliest, succDur)
			delay := WorkingDaysBetween(s.in.Calendar, sw.Start, earliest)
			s.windows[succID] = Window{Start: earliest, Finish: newFinish}
			s.shifts = append(s.shifts, Shift{
				ActivityID: succID,
				OldStart:   sw.Start,
				OldFinish:  sw.Finish,
				NewStart:   earliest,
				NewFinish:  newFinish,
				DelayDays:  delay,
				Reason:     fmt.Sprintf("pushed by predecessor %s", s.activityCode(current)),
			})
			work = append(work, succID)
		}
	}
}

func (s *state) activityCode(id uuid.UUID) string {
	if a, ok := s.in.Net.Activity(id); ok && a.Code != "" {
		return a.Code
	}
	return id.String()
}

func (s *state) resourceCode(id uuid.UUID) string {
	if r, ok := s.in.Resources[id]; ok && r.Code != "" {
		return r.Code
	}
	return id.String()
}

// guard applies the preserve-critical-path and level-within-float rules.
// A false return means the activity must not be delayed; the warning is
// recorded once per activity.
func (s *state) guard(activityID uuid.UUID, delay int, warned map[uuid.UUID]bool) bool {
	if s.opts.PreserveCriticalPath && s.isCritical(activityID) {
		if !warned[activityID] {
			s.warnings = append(s.warnings, fmt.Sprintf("cannot delay critical activity %s", s.activityCode(activityID)))
			warned[activityID] = true
		}
		return false
	}
	if s.opts.LevelWithinFloat && s.usedFloat(activityID)+delay > s.totalFloat(activityID) {
		if !warned[activityID] {
			s.warnings = append(s.warnings,
				fmt.Sprintf("delaying activity %s by %d days would exceed its total float", s.activityCode(activityID), delay))
			warned[activityID] = true
		}
		return false
	}
	return true
}

// finish assembles the Result from the final state.
func (s *state) finish(initialConflicts int, resourcesProcessed int) *Result {
	remaining := flattenConflicts(s.detectConflicts())
	res := &Result{
		OriginalFinish:     latestFinish(s.original),
		NewFinish:          latestFinish(s.windows),
		Shifts:             s.shifts,
		Remaining:          remaining,
		Warnings:           s.warnings,
		ConflictsResolved:  initialConflicts - len(remaining),
		ResourcesProcessed: resourcesProcessed,
		NewWindows:         make(map[uuid.UUID]Window, len(s.windows)),
	}
	if res.ConflictsResolved < 0 {
		res.ConflictsResolved = 0
	}
	for id, w := range s.windows {
		res.NewWindows[id] = w
	}
	return res
}

func latestFinish(windows map[uuid.UUID]Window) time.Time {
	var latest time.Time
	for _, w := range windows {
		if w.Finish.After(latest) {
			latest = w.Finish
		}
	}
	return latest
}

// priorityOrder sorts activity IDs for the serial sweep: early start
// ascending, total float ascending, ID ascending.
func (s *state) priorityOrder() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.windows))
	for _, a := range s.in.Net.Activities() {
		ids = append(ids, a.ID)
	}
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := s.in.Schedule.Activities[ids[i]], s.in.Schedule.Activities[ids[j]]
		if ai.EarlyStart != aj.EarlyStart {
			return ai.EarlyStart < aj.EarlyStart
		}
		if ai.TotalFloat != aj.TotalFloat {
			return ai.TotalFloat < aj.TotalFloat
		}
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// AddWorkingDays advances t by n working days (or backs up for negative
// n). The interval [t, result) spans exactly n working days when n > 0,
// and for positive n the result rolls forward onto a working day so a
// delayed activity never starts on a weekend or holiday.
func AddWorkingDays(cal resourceload.Calendar, t time.Time, n int) time.Time {
	d := t
	if n > 0 {
		counted := 0
		for counted < n {
			if cal.IsWorkingDay(d) {
				counted++
			}
			d = d.AddDate(0, 0, 1)
		}
		for !cal.IsWorkingDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		return d
	}
	if n == 0 {
		return d
	}
	counted := 0
	for counted < -n {
		d = d.AddDate(0, 0, -1)
		if cal.IsWorkingDay(d) {
			counted++
		}
	}
	return d
}

// WorkingDaysBetween counts working days in [a, b); zero when b is not
// after a.
func WorkingDaysBetween(cal resourceload.Calendar, a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	count := 0
	for d := a; d.Before(b); d = d.AddDate(0, 0, 1) {
		if cal.IsWorkingDay(d) {
			count++
		}
	}
	return count
}
