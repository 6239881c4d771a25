// Package network holds the in-memory activity/dependency graph for one
// program: the set of activities keyed by ID plus forward and reverse
// adjacency indices over dependencies. Kahn's algorithm drives the
// topological order, with ties among simultaneously-ready nodes broken
// by ascending activity ID so ES/LS values are reproducible run to run.
package network

import (
	"sort"

	"github.com/google/uuid"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
)

// Network is one program's activity-dependency graph. It assumes acyclic
// input for CPM purposes; cycle detection at edit time is the caller's
// responsibility, but Network itself still fails loudly with
// CyclicNetwork if TopologicalOrder finds an unexpected cycle.
type Network struct {
	activities map[uuid.UUID]*model.Activity
	forward    map[uuid.UUID][]*model.Dependency // predecessor -> deps where it is the predecessor
	reverse    map[uuid.UUID][]*model.Dependency // successor -> deps where it is the successor
	order      []uuid.UUID                       // insertion order, for deterministic iteration
}

func New() *Network {
	return &Network{
		activities: make(map[uuid.UUID]*model.Activity),
		forward:    make(map[uuid.UUID][]*model.Dependency),
		reverse:    make(map[uuid.UUID][]*model.Dependency),
	}
}

// Build assembles a Network from a flat activity/dependency set, the
// shape a repository load or an MS Project import produces.
func Build(activities []*model.Activity, deps []*model.Dependency) *Network {
	n := New()
	for _, a := range activities {
		n.AddActivity(a)
	}
	for _, d := range deps {
		n.AddDependency(d)
	}
	return n
}

func (n *Network) AddActivity(a *model.Activity) {
	if _, exists := n.activities[a.ID]; !exists {
		n.order = append(n.order, a.ID)
	}
	n.activities[a.ID] = a
}

func (n *Network) AddDependency(d *model.Dependency) {
	n.forward[d.PredecessorID] = append(n.forward[d.PredecessorID], d)
	n.reverse[d.SuccessorID] = append(n.reverse[d.SuccessorID], d)
}

func (n *Network) Activity(id uuid.UUID) (*model.Activity, bool) {
	a, ok := n.activities[id]
	return a, ok
}

func (n *Network) Activities() []*model.Activity {
	out := make([]*model.Activity, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.activities[id])
	}
	return out
}

// Successors returns the dependencies where id is the predecessor.
func (n *Network) Successors(id uuid.UUID) []*model.Dependency {
	return n.forward[id]
}

// Predecessors returns the dependencies where id is the successor.
func (n *Network) Predecessors(id uuid.UUID) []*model.Dependency {
	return n.reverse[id]
}

// WouldCreateCycle reports whether adding an edge predecessorID ->
// successorID would create a cycle, i.e. whether predecessorID is
// already reachable from successorID. This is the explicit DFS the
// write path runs on dependency insert/update; CPM itself never
// calls this, it only fails on an already-broken invariant.
func (n *Network) WouldCreateCycle(predecessorID, successorID uuid.UUID) bool {
	if predecessorID == successorID {
		return true
	}
	visited := make(map[uuid.UUID]bool)
	var dfs func(uuid.UUID) bool
	dfs = func(current uuid.UUID) bool {
		if current == predecessorID {
			return true
		}
		if visited[current] {
			return false
		}
		visited[current] = true
		for _, dep := range n.forward[current] {
			if dfs(dep.SuccessorID) {
				return true
			}
		}
		return false
	}
	return dfs(successorID)
}

// TopologicalOrder runs Kahn's algorithm over the activity set. Ties
// among simultaneously-ready nodes are broken by ascending activity ID
// string so iteration order (and therefore CPM's ES/LS values) is
// reproducible. Returns apperrors.CyclicNetwork if any activity remains
// unemitted.
func (n *Network) TopologicalOrder() ([]*model.Activity, error) {
	inDegree := make(map[uuid.UUID]int, len(n.activities))
	for id := range n.activities {
		inDegree[id] = 0
	}
	for succID, deps := range n.reverse {
		if _, ok := n.activities[succID]; !ok {
			continue
		}
		for range deps {
			inDegree[succID]++
		}
	}

	ready := make([]uuid.UUID, 0, len(n.activities))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	result := make([]*model.Activity, 0, len(n.activities))
	for len(ready) > 0 {
		sortIDs(ready)
		current := ready[0]
		ready = ready[1:]
		result = append(result, n.activities[current])

		next := make([]uuid.UUID, 0)
		for _, dep := range n.forward[current] {
			succ := dep.SuccessorID
			if _, ok := n.activities[succ]; !ok {
				continue
			}
			inDegree[succ]--
			if inDegree[succ] == 0 {
				next = append(next, succ)
			}
		}
		ready = append(ready, next...)
	}

	if len(result) != len(n.activities) {
		return nil, apperrors.CyclicNetwork("activity network contains a cycle; topological sort could not emit all activities")
	}
	return result, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
