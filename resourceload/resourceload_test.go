package resourceload

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/model"
)

// monday is a known Monday.
var monday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func labor(capacity float64) *model.Resource {
	return &model.Resource{ID: uuid.New(), Code: "R", Type: model.ResourceLabor, CapacityPerDay: capacity}
}

func window(res *model.Resource, units float64, start time.Time, days int) AssignmentWindow {
	actID := uuid.New()
	return AssignmentWindow{
		Assignment: &model.Assignment{ID: uuid.New(), ActivityID: actID, ResourceID: res.ID, Units: units},
		ActivityID: actID,
		Resource:   res,
		Start:      start,
		End:        start.AddDate(0, 0, days),
	}
}

func TestIsWorkingDay(t *testing.T) {
	cal := Calendar{Holidays: map[string]bool{"2026-01-06": true}}
	assert.True(t, cal.IsWorkingDay(monday))
	assert.False(t, cal.IsWorkingDay(monday.AddDate(0, 0, 1)), "holiday")
	assert.False(t, cal.IsWorkingDay(monday.AddDate(0, 0, 5)), "Saturday")
	assert.False(t, cal.IsWorkingDay(monday.AddDate(0, 0, 6)), "Sunday")
}

func TestLoadSeriesSkipsNonWorkingDays(t *testing.T) {
	res := labor(8)
	series := LoadSeries(Calendar{}, res, []AssignmentWindow{window(res, 1.0, monday, 7)}, monday, monday.AddDate(0, 0, 7))

	// One calendar week holds five working days.
	require.Len(t, series, 5)
	for _, day := range series {
		assert.Equal(t, 8.0, day.Assigned)
		assert.Equal(t, 8.0, day.Capacity)
	}
}

func TestLoadSeriesMaterialContributesZero(t *testing.T) {
	res := labor(8)
	mat := &model.Resource{ID: uuid.New(), Type: model.ResourceMaterial, CapacityPerDay: 100}
	w := window(res, 1.0, monday, 5)
	mw := window(mat, 1.0, monday, 5)
	mw.Resource = mat

	series := LoadSeries(Calendar{}, res, []AssignmentWindow{w, mw}, monday, monday.AddDate(0, 0, 5))
	for _, day := range series {
		assert.Equal(t, 8.0, day.Assigned, "material adds nothing")
	}
}

func TestDetectOverAllocation(t *testing.T) {
	res := labor(8)
	// Two full-time activities overlap Wednesday through Friday.
	w1 := window(res, 1.0, monday, 5)
	w2 := window(res, 1.0, monday.AddDate(0, 0, 2), 3)
	series := LoadSeries(Calendar{}, res, []AssignmentWindow{w1, w2}, monday, monday.AddDate(0, 0, 7))

	periods := DetectOverAllocation(res.ID, series)
	require.Len(t, periods, 1)
	p := periods[0]
	assert.Equal(t, monday.AddDate(0, 0, 2), p.Start)
	assert.Equal(t, monday.AddDate(0, 0, 4), p.End)
	assert.Equal(t, 8.0, p.PeakExcess)
	assert.Len(t, p.AffectedActivities, 2)
	assert.Equal(t, SeverityHigh, p.Severity)
}

func TestOverAllocationRequiresTwoActivities(t *testing.T) {
	res := labor(8)
	// One activity at 150% is over capacity but is not a conflict.
	w := window(res, 1.5, monday, 5)
	series := LoadSeries(Calendar{}, res, []AssignmentWindow{w}, monday, monday.AddDate(0, 0, 5))
	assert.Empty(t, DetectOverAllocation(res.ID, series))
}

func TestPeriodsSplitByGap(t *testing.T) {
	res := labor(8)
	// Conflicts Monday-Tuesday and Thursday-Friday, clear Wednesday.
	w1 := window(res, 1.0, monday, 2)
	w2 := window(res, 1.0, monday, 2)
	w3 := window(res, 1.0, monday.AddDate(0, 0, 3), 2)
	w4 := window(res, 1.0, monday.AddDate(0, 0, 3), 2)
	series := LoadSeries(Calendar{}, res, []AssignmentWindow{w1, w2, w3, w4}, monday, monday.AddDate(0, 0, 5))

	periods := DetectOverAllocation(res.ID, series)
	require.Len(t, periods, 2)
}

func TestSeverityThresholds(t *testing.T) {
	assert.Equal(t, SeverityLow, classifySeverity(2))
	assert.Equal(t, SeverityMedium, classifySeverity(4))
	assert.Equal(t, SeverityHigh, classifySeverity(4.5))
}

func TestBuildProgramReport(t *testing.T) {
	resID := uuid.New()
	critical := uuid.New()
	periods := map[uuid.UUID][]ConflictPeriod{
		resID: {{ResourceID: resID, AffectedActivities: []uuid.UUID{critical}}},
	}

	report := BuildProgramReport(periods, map[uuid.UUID]bool{critical: true})
	assert.True(t, report.CriticalPathAffected)

	report = BuildProgramReport(periods, map[uuid.UUID]bool{})
	assert.False(t, report.CriticalPathAffected)
}
