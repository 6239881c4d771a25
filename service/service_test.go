package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/cpr"
	"ironclad.dev/dpm/db/repository"
	"ironclad.dev/dpm/leveling"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/variance"
)

type fixture struct {
	svc     *Service
	reports *Reports
	store   repository.Store
	program *model.Program
	wbs     *model.WBSElement
	acts    map[string]*model.Activity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemory()
	svc := New(Config{Store: store})
	ctx := context.Background()

	program := &model.Program{
		Owner:     "pm-1",
		Code:      "F-99",
		Status:    model.ProgramActive,
		StartDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), // a Monday
		EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		BAC:       decimal.NewFromInt(1000000),
	}
	require.NoError(t, store.CreateProgram(ctx, program))

	wbs := &model.WBSElement{ProgramID: program.ID, Path: "1", Level: 1, WBSCode: "1", Name: "Root", BAC: decimal.NewFromInt(1000000)}
	require.NoError(t, store.CreateWBS(ctx, wbs))

	return &fixture{
		svc:     svc,
		reports: NewReports(svc, nil),
		store:   store,
		program: program,
		wbs:     wbs,
		acts:    map[string]*model.Activity{},
	}
}

func (f *fixture) activity(t *testing.T, code string, duration int) *model.Activity {
	t.Helper()
	a := &model.Activity{ProgramID: f.program.ID, WBSID: f.wbs.ID, Code: code, Duration: duration}
	require.NoError(t, f.store.CreateActivity(context.Background(), a))
	f.acts[code] = a
	return a
}

func (f *fixture) depend(t *testing.T, pred, succ string) {
	t.Helper()
	err := f.svc.AddDependency(context.Background(), "pm-1", &model.Dependency{
		ProgramID:     f.program.ID,
		PredecessorID: f.acts[pred].ID,
		SuccessorID:   f.acts[succ].ID,
		Type:          model.DependencyFS,
	})
	require.NoError(t, err)
}

func TestCalculateSchedulePersistsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activity(t, "A", 10)
	f.activity(t, "B", 15)
	f.depend(t, "A", "B")

	res, hit, err := f.svc.CalculateSchedule(ctx, f.program.ID, false)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 25, res.ProjectDuration)

	// CPM outputs are written back.
	b, err := f.store.GetActivity(ctx, f.acts["B"].ID)
	require.NoError(t, err)
	assert.Equal(t, 10, b.EarlyStart)
	assert.True(t, b.IsCritical)

	// An unchanged network is a cache hit with identical results.
	res2, hit, err := f.svc.CalculateSchedule(ctx, f.program.ID, false)
	require.NoError(t, err)
	assert.True(t, hit)
	for id, ar := range res.Activities {
		assert.Equal(t, *ar, *res2.Activities[id])
	}

	// force bypasses the read.
	_, hit, err = f.svc.CalculateSchedule(ctx, f.program.ID, true)
	require.NoError(t, err)
	assert.False(t, hit)

	// A changed duration misses the cache.
	b.Duration = 20
	require.NoError(t, f.store.UpdateActivity(ctx, b))
	res3, hit, err := f.svc.CalculateSchedule(ctx, f.program.ID, false)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 30, res3.ProjectDuration)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	f := newFixture(t)
	f.activity(t, "A", 5)
	f.activity(t, "B", 5)
	f.depend(t, "A", "B")

	err := f.svc.AddDependency(context.Background(), "pm-1", &model.Dependency{
		ProgramID:     f.program.ID,
		PredecessorID: f.acts["B"].ID,
		SuccessorID:   f.acts["A"].ID,
		Type:          model.DependencyFS,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestAddDependencyAuthorization(t *testing.T) {
	f := newFixture(t)
	f.activity(t, "A", 5)
	f.activity(t, "B", 5)

	err := f.svc.AddDependency(context.Background(), "intruder", &model.Dependency{
		ProgramID:     f.program.ID,
		PredecessorID: f.acts["A"].ID,
		SuccessorID:   f.acts["B"].ID,
		Type:          model.DependencyFS,
	})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}

func levelingFixture(t *testing.T) *fixture {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activity(t, "A", 10)
	b := f.activity(t, "B", 20)
	c := f.activity(t, "C", 5)

	r := &model.Resource{ProgramID: f.program.ID, Code: "R", Name: "Fitters", Type: model.ResourceLabor, CapacityPerDay: 8}
	require.NoError(t, f.store.CreateResource(ctx, r))
	for _, act := range []*model.Activity{a, b, c} {
		require.NoError(t, f.store.CreateAssignment(ctx, &model.Assignment{
			ActivityID: act.ID, ResourceID: r.ID, Units: 1.0,
		}))
	}
	return f
}

func TestLevelingProposeAndApply(t *testing.T) {
	f := levelingFixture(t)
	ctx := context.Background()

	res, err := f.svc.LevelParallel(ctx, f.program.ID, leveling.Options{PreserveCriticalPath: true})
	require.NoError(t, err)
	assert.Empty(t, res.Remaining)
	require.NotEmpty(t, res.Shifts)

	// The critical activity (B, the longest) kept its window.
	bWindow := res.NewWindows[f.acts["B"].ID]
	originalStart := leveling.AddWorkingDays(f.svc.calendar, f.program.StartDate, 0)
	assert.Equal(t, originalStart, bWindow.Start)

	require.NoError(t, f.svc.ApplyLeveling(ctx, "pm-1", f.program.ID, res))
	for code, act := range f.acts {
		got, err := f.store.GetActivity(ctx, act.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PlannedStart, code)
		assert.Equal(t, res.NewWindows[act.ID].Start, *got.PlannedStart, code)
	}

	err = f.svc.ApplyLeveling(ctx, "intruder", f.program.ID, res)
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}

func TestCompareLeveling(t *testing.T) {
	f := levelingFixture(t)
	cmp, err := f.svc.CompareLeveling(context.Background(), f.program.ID, leveling.Options{PreserveCriticalPath: true})
	require.NoError(t, err)
	assert.NotEmpty(t, cmp.Rationale)
}

func TestOverAllocationReport(t *testing.T) {
	f := levelingFixture(t)
	from := f.program.StartDate
	report, err := f.svc.OverAllocationReport(context.Background(), f.program.ID, from, from.AddDate(0, 2, 0))
	require.NoError(t, err)
	require.NotEmpty(t, report.ByResource)
	assert.True(t, report.CriticalPathAffected, "B is critical and contributes to the conflict")
}

func TestRunSimulationCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.activity(t, "A", 10)
	f.activity(t, "B", 20)
	f.depend(t, "A", "B")

	seed := int64(42)
	cfg := &model.SimulationConfig{
		ProgramID:  f.program.ID,
		Iterations: 100,
		Seed:       &seed,
		Distributions: []model.DurationDistribution{
			{ActivityID: a.ID, Kind: model.DistTriangular, Min: 8, Mode: 10, Max: 15},
		},
		NetworkMode: true,
	}
	require.NoError(t, f.store.CreateSimulationConfig(ctx, cfg))

	res, hit, err := f.svc.RunSimulation(ctx, cfg.ID, false)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 100, res.Iterations)

	_, hit, err = f.svc.RunSimulation(ctx, cfg.ID, false)
	require.NoError(t, err)
	assert.True(t, hit)

	_, hit, err = f.svc.RunSimulation(ctx, cfg.ID, true)
	require.NoError(t, err)
	assert.False(t, hit)
}

func seedEVMS(t *testing.T, f *fixture) {
	ctx := context.Background()
	d := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	p1 := &model.EVMSPeriod{ProgramID: f.program.ID, Label: "Jan",
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		CumBCWS: d(100000), CumBCWP: d(90000), CumACWP: d(95000)}
	p2 := &model.EVMSPeriod{ProgramID: f.program.ID, Label: "Feb",
		Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		CumBCWS: d(250000), CumBCWP: d(200000), CumACWP: d(220000)}
	require.NoError(t, f.store.CreatePeriod(ctx, p1))
	require.NoError(t, f.store.CreatePeriod(ctx, p2))

	require.NoError(t, f.store.CreatePeriodData(ctx, &model.EVMSPeriodData{
		PeriodID: p1.ID, WBSID: f.wbs.ID, BCWS: d(100000), BCWP: d(90000), ACWP: d(95000)}))
	require.NoError(t, f.store.CreatePeriodData(ctx, &model.EVMSPeriodData{
		PeriodID: p2.ID, WBSID: f.wbs.ID, BCWS: d(150000), BCWP: d(110000), ACWP: d(125000)}))

	require.NoError(t, f.store.AppendMRLogEntry(ctx, &model.MRLogEntry{
		ProgramID: f.program.ID, BeginningMR: d(50000), ChangesIn: d(0), ChangesOut: d(10000),
		EndingMR: d(40000), Reason: "risk retirement"}))
}

func TestReportsEndToEnd(t *testing.T) {
	f := newFixture(t)
	seedEVMS(t, f)
	ctx := context.Background()

	f1, err := f.reports.Format1(ctx, f.program.ID, cpr.Format1Options{})
	require.NoError(t, err)
	require.Len(t, f1.Rows, 1)
	assert.True(t, f1.Rows[0].BCWS.Equal(decimal.NewFromInt(250000)))
	assert.True(t, f1.Totals.ACWP.Equal(decimal.NewFromInt(220000)))

	f3, err := f.reports.Format3(ctx, f.program.ID, cpr.Format3Options{})
	require.NoError(t, err)
	require.Len(t, f3.Rows, 2)
	assert.True(t, f3.Rows[1].BCWS.Equal(decimal.NewFromInt(150000)), "differenced from cumulative")
	require.NotNil(t, f3.CumSPI)

	f5, err := f.reports.Format5(ctx, f.program.ID, cpr.Format5Options{})
	require.NoError(t, err)
	require.Len(t, f5.EACs, 6)
	require.Len(t, f5.MRTable, 1)

	summary, err := f.reports.EVMSSummary(ctx, f.program.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.CPI)
	assert.True(t, summary.CV.Equal(decimal.NewFromInt(-20000)))

	va, err := f.reports.VarianceAnalysis(ctx, f.program.ID, variance.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, va.Alerts)
}
