// Package resourceload computes per-day resource loading and detects
// over-allocated periods: a working-day series of assigned versus
// available hours per resource, with consecutive over-allocated days
// coalesced into conflict periods carrying peak excess and the union of
// contributing activities.
package resourceload

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"ironclad.dev/dpm/model"
)

// Calendar resolves working days: weekends are always off and callers
// inject a holiday set per program.
type Calendar struct {
	Holidays map[string]bool // "2006-01-02" keys
}

func (c Calendar) IsWorkingDay(d time.Time) bool {
	wd := d.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c.Holidays != nil && c.Holidays[d.Format("2006-01-02")] {
		return false
	}
	return true
}

// AssignmentWindow is an assignment's effective date range, resolved by
// the caller from planned dates when present, else from CPM early
// start/finish mapped onto a program start date.
type AssignmentWindow struct {
	Assignment *model.Assignment
	ActivityID uuid.UUID
	Resource   *model.Resource
	Start      time.Time
	End        time.Time // exclusive
}

// DayLoad is one resource's assigned hours for one calendar day, along
// with which activities contributed.
type DayLoad struct {
	Date       time.Time
	Assigned   float64
	Capacity   float64
	Activities []uuid.UUID
}

// LoadSeries computes the per-day assigned-vs-available series for one
// resource across [start, end), skipping non-working days. Material
// assignments contribute zero; they consume inventory, not capacity.
func LoadSeries(cal Calendar, resource *model.Resource, windows []AssignmentWindow, start, end time.Time) []DayLoad {
	var series []DayLoad
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if !cal.IsWorkingDay(d) {
			continue
		}
		load := DayLoad{Date: d, Capacity: resource.CapacityPerDay}
		for _, w := range windows {
			if w.Resource.Type == model.ResourceMaterial {
				continue
			}
			if !d.Before(w.Start) && d.Before(w.End) {
				load.Assigned += w.Assignment.Units * resource.CapacityPerDay
				load.Activities = append(load.Activities, w.ActivityID)
			}
		}
		series = append(series, load)
	}
	return series
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ConflictPeriod is a run of consecutive over-allocated days for one
// resource.
type ConflictPeriod struct {
	ResourceID         uuid.UUID
	Start              time.Time
	End                time.Time // inclusive
	PeakExcess         float64
	PeakDate           time.Time
	AffectedActivities []uuid.UUID
	Severity           Severity
}

// DetectOverAllocation coalesces consecutive over-allocated days (assigned
// > capacity AND at least two distinct activities contribute) into
// periods, computing peak excess/date and the union of contributing
// activities.
func DetectOverAllocation(resourceID uuid.UUID, series []DayLoad) []ConflictPeriod {
	var periods []ConflictPeriod
	var current *ConflictPeriod

	flush := func() {
		if current == nil {
			return
		}
		current.Severity = classifySeverity(current.PeakExcess)
		periods = append(periods, *current)
		current = nil
	}

	for _, day := range series {
		distinct := distinctCount(day.Activities)
		overAllocated := day.Assigned > day.Capacity && distinct >= 2
		if !overAllocated {
			flush()
			continue
		}
		excess := day.Assigned - day.Capacity
		if current == nil {
			current = &ConflictPeriod{
				ResourceID: resourceID,
				Start:      day.Date,
				End:        day.Date,
				PeakExcess: excess,
				PeakDate:   day.Date,
			}
			current.AffectedActivities = append(current.AffectedActivities, day.Activities...)
			continue
		}
		current.End = day.Date
		if excess > current.PeakExcess {
			current.PeakExcess = excess
			current.PeakDate = day.Date
		}
		current.AffectedActivities = unionIDs(current.AffectedActivities, day.Activities)
	}
	flush()
	return periods
}

func classifySeverity(peakExcess float64) Severity {
	switch {
	case peakExcess <= 2:
		return SeverityLow
	case peakExcess <= 4:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func distinctCount(ids []uuid.UUID) int {
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return len(seen)
}

func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(a))
	out := make([]uuid.UUID, 0, len(a))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ProgramReport aggregates conflict periods by resource for a program and
// flags critical_path_affected when any affected activity is critical.
type ProgramReport struct {
	ByResource            map[uuid.UUID][]ConflictPeriod
	CriticalPathAffected  bool
}

func BuildProgramReport(periodsByResource map[uuid.UUID][]ConflictPeriod, criticalActivities map[uuid.UUID]bool) ProgramReport {
	report := ProgramReport{ByResource: periodsByResource}
	for _, periods := range periodsByResource {
		for _, p := range periods {
			for _, actID := range p.AffectedActivities {
				if criticalActivities[actID] {
					report.CriticalPathAffected = true
				}
			}
		}
	}
	return report
}

// SortedResourceIDs returns the map's keys sorted by string, for
// deterministic report iteration.
func SortedResourceIDs(m map[uuid.UUID][]ConflictPeriod) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
