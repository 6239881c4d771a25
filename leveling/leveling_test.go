package leveling

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/cpm"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/network"
	"ironclad.dev/dpm/resourceload"
)

// programStart is a Monday so working-day arithmetic in the fixtures is
// easy to follow.
var programStart = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

var cal = resourceload.Calendar{}

func act(code string, duration, startDay int) *model.Activity {
	start := AddWorkingDays(cal, programStart, startDay)
	finish := AddWorkingDays(cal, start, duration)
	return &model.Activity{
		ID:            uuid.New(),
		Code:          code,
		Duration:      duration,
		PlannedStart:  &start,
		PlannedFinish: &finish,
	}
}

func laborResource(code string, capacity float64) *model.Resource {
	return &model.Resource{ID: uuid.New(), Code: code, Name: code, Type: model.ResourceLabor, CapacityPerDay: capacity}
}

func assign(a *model.Activity, r *model.Resource, units float64) *model.Assignment {
	return &model.Assignment{ID: uuid.New(), ActivityID: a.ID, ResourceID: r.ID, Units: units}
}

func buildInput(t *testing.T, activities []*model.Activity, deps []*model.Dependency,
	resources []*model.Resource, assignments []*model.Assignment) Input {
	t.Helper()
	net := network.Build(activities, deps)
	sched, err := cpm.Compute(net, cpm.Options{})
	require.NoError(t, err)
	resMap := make(map[uuid.UUID]*model.Resource)
	for _, r := range resources {
		resMap[r.ID] = r
	}
	return Input{
		ProgramStart: programStart,
		Calendar:     cal,
		Net:          net,
		Schedule:     sched,
		Resources:    resMap,
		Assignments:  assignments,
	}
}

func TestAddWorkingDays(t *testing.T) {
	// Friday + 1 working day lands on Monday's boundary.
	fri := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), AddWorkingDays(cal, fri, 1))
	assert.Equal(t, fri, AddWorkingDays(cal, fri, 0))

	// Five working days from Monday is the next Monday.
	assert.Equal(t, programStart.AddDate(0, 0, 7), AddWorkingDays(cal, programStart, 5))

	holidays := resourceload.Calendar{Holidays: map[string]bool{"2026-01-06": true}}
	assert.Equal(t, programStart.AddDate(0, 0, 2), AddWorkingDays(holidays, programStart, 1))
}

func TestWorkingDaysBetween(t *testing.T) {
	assert.Equal(t, 5, WorkingDaysBetween(cal, programStart, programStart.AddDate(0, 0, 7)))
	assert.Equal(t, 0, WorkingDaysBetween(cal, programStart, programStart))
	assert.Equal(t, 0, WorkingDaysBetween(cal, programStart.AddDate(0, 0, 7), programStart))
}

// The two-conflict scenario: one 8 h/day resource carrying three
// full-time activities with overlapping windows. The longest activity is
// critical and pinned; the other two must move past it.
func twoConflictInput(t *testing.T) (Input, *model.Activity, *model.Activity, *model.Activity, *model.Resource) {
	a := act("A", 10, 15)
	b := act("B", 20, 15)
	c := act("C", 5, 17)
	r := laborResource("R", 8)
	in := buildInput(t, []*model.Activity{a, b, c}, nil,
		[]*model.Resource{r},
		[]*model.Assignment{assign(a, r, 1.0), assign(b, r, 1.0), assign(c, r, 1.0)})
	return in, a, b, c, r
}

func TestParallelTwoConflictScenario(t *testing.T) {
	in, a, b, c, _ := twoConflictInput(t)
	res, err := Parallel(context.Background(), in, Options{PreserveCriticalPath: true})
	require.NoError(t, err)

	// The heap drains: nothing remains over-allocated.
	assert.Empty(t, res.Remaining)
	assert.GreaterOrEqual(t, res.ConflictsResolved, 1)
	assert.Equal(t, 1, res.ResourcesProcessed)
	assert.False(t, res.NewFinish.Before(res.OriginalFinish))

	// B is critical (the longest chain) and must not have moved.
	assert.Equal(t, in.Schedule.Activities[b.ID].IsCritical, true)
	bw := res.NewWindows[b.ID]
	assert.Equal(t, *b.PlannedStart, bw.Start)

	// At least one non-critical activity was delayed two or more days.
	delayed := false
	for _, sh := range res.Shifts {
		if (sh.ActivityID == a.ID || sh.ActivityID == c.ID) && sh.DelayDays >= 2 {
			delayed = true
		}
	}
	assert.True(t, delayed)
}

func TestSerialTwoConflictScenario(t *testing.T) {
	in, _, b, _, r := twoConflictInput(t)
	res, err := Serial(context.Background(), in, Options{PreserveCriticalPath: true})
	require.NoError(t, err)

	assert.Empty(t, res.Remaining)
	assert.False(t, res.NewFinish.Before(res.OriginalFinish))

	// B stays put; a warning names it as undeferrable.
	bw := res.NewWindows[b.ID]
	assert.Equal(t, *b.PlannedStart, bw.Start)
	assert.Contains(t, res.Warnings, "cannot delay critical activity B")

	// Shift reasons name the over-allocated resource.
	require.NotEmpty(t, res.Shifts)
	found := false
	for _, sh := range res.Shifts {
		if strings.Contains(sh.Reason, r.Code) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSerialPropagatesToSuccessors(t *testing.T) {
	// X and Y contend for R; Z follows Y finish-to-start, so delaying Y
	// must push Z.
	x := act("X", 5, 0)
	y := act("Y", 5, 0)
	z := act("Z", 3, 5)
	dep := &model.Dependency{ID: uuid.New(), PredecessorID: y.ID, SuccessorID: z.ID, Type: model.DependencyFS}
	r := laborResource("R", 8)
	in := buildInput(t, []*model.Activity{x, y, z}, []*model.Dependency{dep},
		[]*model.Resource{r},
		[]*model.Assignment{assign(x, r, 1.0), assign(y, r, 1.0)})

	res, err := Serial(context.Background(), in, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Remaining)

	// Whichever of X/Y moved, Z starts no earlier than Y's new finish.
	yw := res.NewWindows[y.ID]
	zw := res.NewWindows[z.ID]
	assert.False(t, zw.Start.Before(yw.Finish))
}

func TestLevelWithinFloatBlocksLargeDelays(t *testing.T) {
	// Two unlinked 10-day activities share one resource; with
	// level_within_float, resolving the conflict needs a delay larger than
	// the float either activity has.
	a := act("A", 10, 0)
	b := act("B", 10, 0)
	r := laborResource("R", 8)
	in := buildInput(t, []*model.Activity{a, b}, nil,
		[]*model.Resource{r},
		[]*model.Assignment{assign(a, r, 1.0), assign(b, r, 1.0)})

	res, err := Serial(context.Background(), in, Options{LevelWithinFloat: true})
	require.NoError(t, err)

	// Equal durations mean zero float for both: nothing may move and the
	// conflict stays.
	assert.Empty(t, res.Shifts)
	assert.NotEmpty(t, res.Remaining)
	assert.NotEmpty(t, res.Warnings)
}

func TestCompareRecommendsResolvedRun(t *testing.T) {
	in, _, _, _, _ := twoConflictInput(t)
	cmp, err := Compare(context.Background(), in, Options{PreserveCriticalPath: true})
	require.NoError(t, err)
	require.NotNil(t, cmp.Serial)
	require.NotNil(t, cmp.Parallel)
	assert.NotEmpty(t, cmp.Rationale)
	assert.Contains(t, []Algorithm{AlgorithmSerial, AlgorithmParallel}, cmp.Recommended)
}

func TestCancellation(t *testing.T) {
	in, _, _, _, _ := twoConflictInput(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Serial(ctx, in, Options{})
	assert.Error(t, err)
	_, err = Parallel(ctx, in, Options{})
	assert.Error(t, err)
}
