package network

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
)

func activity(code string) *model.Activity {
	return &model.Activity{ID: uuid.New(), Code: code, Duration: 1}
}

func edge(pred, succ *model.Activity) *model.Dependency {
	return &model.Dependency{ID: uuid.New(), PredecessorID: pred.ID, SuccessorID: succ.ID, Type: model.DependencyFS}
}

func TestTopologicalOrder(t *testing.T) {
	a, b, c, d := activity("A"), activity("B"), activity("C"), activity("D")
	net := Build([]*model.Activity{a, b, c, d}, []*model.Dependency{
		edge(a, b), edge(b, c), edge(b, d),
	})

	order, err := net.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	position := make(map[uuid.UUID]int)
	for i, act := range order {
		position[act.ID] = i
	}
	assert.Less(t, position[a.ID], position[b.ID])
	assert.Less(t, position[b.ID], position[c.ID])
	assert.Less(t, position[b.ID], position[d.ID])
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	var acts []*model.Activity
	for i := 0; i < 20; i++ {
		acts = append(acts, activity("X"))
	}
	net := Build(acts, nil)

	first, err := net.TopologicalOrder()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := net.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCycleDetected(t *testing.T) {
	a, b, c := activity("A"), activity("B"), activity("C")
	net := Build([]*model.Activity{a, b, c}, []*model.Dependency{
		edge(a, b), edge(b, c), edge(c, a),
	})

	_, err := net.TopologicalOrder()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCyclicNetwork))
}

func TestWouldCreateCycle(t *testing.T) {
	a, b, c := activity("A"), activity("B"), activity("C")
	net := Build([]*model.Activity{a, b, c}, []*model.Dependency{
		edge(a, b), edge(b, c),
	})

	assert.True(t, net.WouldCreateCycle(c.ID, a.ID), "closing the chain is a cycle")
	assert.True(t, net.WouldCreateCycle(a.ID, a.ID), "self edge")
	assert.False(t, net.WouldCreateCycle(a.ID, c.ID), "forward shortcut is fine")
}

func TestAdjacency(t *testing.T) {
	a, b, c := activity("A"), activity("B"), activity("C")
	net := Build([]*model.Activity{a, b, c}, []*model.Dependency{
		edge(a, b), edge(a, c),
	})

	assert.Len(t, net.Successors(a.ID), 2)
	assert.Empty(t, net.Successors(c.ID))
	assert.Len(t, net.Predecessors(b.ID), 1)
	assert.Empty(t, net.Predecessors(a.ID))

	got, ok := net.Activity(b.ID)
	require.True(t, ok)
	assert.Equal(t, b, got)
	_, ok = net.Activity(uuid.New())
	assert.False(t, ok)
}
