package cpm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/network"
)

type fixture struct {
	net  *network.Network
	byID map[string]*model.Activity
}

func newFixture() *fixture {
	return &fixture{net: network.New(), byID: make(map[string]*model.Activity)}
}

func (f *fixture) activity(code string, duration int) *model.Activity {
	a := &model.Activity{ID: uuid.New(), Code: code, Duration: duration}
	f.net.AddActivity(a)
	f.byID[code] = a
	return a
}

func (f *fixture) depend(pred, succ string, typ model.DependencyType, lag int) {
	f.net.AddDependency(&model.Dependency{
		ID:            uuid.New(),
		PredecessorID: f.byID[pred].ID,
		SuccessorID:   f.byID[succ].ID,
		Type:          typ,
		Lag:           lag,
	})
}

func (f *fixture) result(t *testing.T, code string, res *Result) *ActivityResult {
	t.Helper()
	ar, ok := res.Activities[f.byID[code].ID]
	require.True(t, ok, "no result for %s", code)
	return ar
}

// Two parallel chains: A -> B -> {C, D} -> E -> F, all finish-to-start.
// The C branch is longer, so D carries five days of float and everything
// else is critical.
func TestTwoParallelChains(t *testing.T) {
	f := newFixture()
	f.activity("A", 10)
	f.activity("B", 15)
	f.activity("C", 30)
	f.activity("D", 25)
	f.activity("E", 20)
	f.activity("F", 10)
	f.depend("A", "B", model.DependencyFS, 0)
	f.depend("B", "C", model.DependencyFS, 0)
	f.depend("B", "D", model.DependencyFS, 0)
	f.depend("C", "E", model.DependencyFS, 0)
	f.depend("D", "E", model.DependencyFS, 0)
	f.depend("E", "F", model.DependencyFS, 0)

	res, err := Compute(f.net, Options{})
	require.NoError(t, err)
	assert.Equal(t, 85, res.ProjectDuration)

	expect := map[string][2]int{
		"A": {0, 10}, "B": {10, 25}, "C": {25, 55}, "D": {25, 50}, "E": {55, 75}, "F": {75, 85},
	}
	for code, esef := range expect {
		ar := f.result(t, code, res)
		assert.Equal(t, esef[0], ar.EarlyStart, "%s ES", code)
		assert.Equal(t, esef[1], ar.EarlyFinish, "%s EF", code)
	}

	for _, code := range []string{"A", "B", "C", "E", "F"} {
		assert.True(t, f.result(t, code, res).IsCritical, "%s should be critical", code)
	}
	d := f.result(t, "D", res)
	assert.False(t, d.IsCritical)
	assert.Equal(t, 5, d.TotalFloat)
	assert.Equal(t, 5, d.FreeFloat)

	path := res.CriticalPath()
	assert.Len(t, path, 5)
}

func TestInvariants(t *testing.T) {
	f := newFixture()
	f.activity("A", 10)
	f.activity("B", 15)
	f.activity("C", 5)
	f.activity("M", 0) // milestone
	f.depend("A", "B", model.DependencyFS, 2)
	f.depend("A", "C", model.DependencySS, 3)
	f.depend("B", "M", model.DependencyFF, 0)

	res, err := Compute(f.net, Options{})
	require.NoError(t, err)

	for code, a := range f.byID {
		ar := res.Activities[a.ID]
		assert.Equal(t, ar.EarlyStart+a.Duration, ar.EarlyFinish, "%s EF = ES + dur", code)
		assert.Equal(t, ar.LateStart+a.Duration, ar.LateFinish, "%s LF = LS + dur", code)
		assert.GreaterOrEqual(t, ar.TotalFloat, 0, "%s total float", code)
		assert.GreaterOrEqual(t, ar.FreeFloat, 0, "%s free float", code)
		assert.LessOrEqual(t, ar.FreeFloat, ar.TotalFloat, "%s free <= total", code)
		assert.Equal(t, ar.TotalFloat == 0, ar.IsCritical, "%s criticality", code)
	}

	// FS with lag: successor starts no earlier than predecessor finish + lag.
	a, b := res.Activities[f.byID["A"].ID], res.Activities[f.byID["B"].ID]
	assert.GreaterOrEqual(t, b.EarlyStart, a.EarlyFinish+2)

	// Milestone start equals its finish.
	m := res.Activities[f.byID["M"].ID]
	assert.Equal(t, m.EarlyStart, m.EarlyFinish)
}

func TestRelationTypes(t *testing.T) {
	f := newFixture()
	f.activity("P", 10)
	f.activity("S1", 5)
	f.activity("S2", 5)
	f.activity("S3", 8)
	f.depend("P", "S1", model.DependencySS, 3)  // S1 starts 3 after P starts
	f.depend("P", "S2", model.DependencyFF, 2)  // S2 finishes 2 after P finishes
	f.depend("P", "S3", model.DependencySF, 12) // S3 finishes 12 after P starts

	res, err := Compute(f.net, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, f.result(t, "S1", res).EarlyStart)
	assert.Equal(t, 12, f.result(t, "S2", res).EarlyFinish)
	assert.Equal(t, 12, f.result(t, "S3", res).EarlyFinish)
}

func TestSNETConstraintPushesStart(t *testing.T) {
	f := newFixture()
	a := f.activity("A", 5)
	b := f.activity("B", 5)
	b.Constraint = model.ConstraintSNET
	f.depend("A", "B", model.DependencyFS, 0)

	res, err := Compute(f.net, Options{ConstraintDays: map[uuid.UUID]int{b.ID: 12}})
	require.NoError(t, err)
	assert.Equal(t, 12, f.result(t, "B", res).EarlyStart)
	_ = a
}

func TestFNLTConstraintCapsLateFinish(t *testing.T) {
	f := newFixture()
	f.activity("A", 5)
	b := f.activity("B", 5)
	f.activity("C", 20)
	b.Constraint = model.ConstraintFNLT
	f.depend("A", "B", model.DependencyFS, 0)

	res, err := Compute(f.net, Options{ConstraintDays: map[uuid.UUID]int{b.ID: 12}})
	require.NoError(t, err)
	br := f.result(t, "B", res)
	assert.Equal(t, 12, br.LateFinish)
	assert.True(t, br.ConstraintBound)

	// The forward pass is untouched by the late cap.
	assert.Equal(t, 5, br.EarlyStart)
}

func TestProjectStartOffset(t *testing.T) {
	f := newFixture()
	f.activity("A", 5)
	res, err := Compute(f.net, Options{ProjectStart: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, f.result(t, "A", res).EarlyStart)
	assert.Equal(t, 105, res.ProjectDuration)
}

func TestRepeatedRunsIdentical(t *testing.T) {
	f := newFixture()
	f.activity("A", 10)
	f.activity("B", 15)
	f.activity("C", 30)
	f.depend("A", "B", model.DependencyFS, 0)
	f.depend("A", "C", model.DependencyFS, 0)

	r1, err := Compute(f.net, Options{})
	require.NoError(t, err)
	r2, err := Compute(f.net, Options{})
	require.NoError(t, err)

	assert.Equal(t, r1.Order, r2.Order)
	for id, ar := range r1.Activities {
		assert.Equal(t, *ar, *r2.Activities[id])
	}
}

func TestCyclicNetworkFails(t *testing.T) {
	f := newFixture()
	f.activity("A", 5)
	f.activity("B", 5)
	f.depend("A", "B", model.DependencyFS, 0)
	f.depend("B", "A", model.DependencyFS, 0)

	_, err := Compute(f.net, Options{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCyclicNetwork))
}
