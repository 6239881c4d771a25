// Package cpm implements the Critical Path Method forward/backward pass
// over a network.Network: early/late start/finish, total/free float, and
// the critical path. The algorithm is pure, synchronous and
// single-threaded per call; it takes a network snapshot and produces a
// Result, and callers own persistence and caching.
package cpm

import (
	"github.com/google/uuid"

	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/network"
)

// ActivityResult carries one activity's CPM outputs plus the derived
// is_critical flag and, for *nlt constraints, whether the constraint
// bound the natural value.
type ActivityResult struct {
	ActivityID          uuid.UUID
	EarlyStart          int
	EarlyFinish         int
	LateStart           int
	LateFinish          int
	TotalFloat          int
	FreeFloat           int
	IsCritical          bool
	ConstraintBound     bool
}

type Result struct {
	ProjectStart    int
	ProjectDuration int
	Activities      map[uuid.UUID]*ActivityResult
	Order           []uuid.UUID // topological order used for the pass, for reproducibility checks
}

// Options configures one CPM run. ProjectStart defaults to 0.
//
// ConstraintDays resolves each constrained activity's ConstraintDate to a
// day offset from the project start. Calendar resolution (weekends,
// holidays) is the calendar collaborator's job, not CPM's, so CPM only
// ever sees day offsets.
type Options struct {
	ProjectStart   int
	ConstraintDays map[uuid.UUID]int
}

// Compute runs the forward and backward pass over net and returns the
// per-activity CPM results. It returns apperrors.CyclicNetwork (via
// net.TopologicalOrder) if the network is not acyclic.
func Compute(net *network.Network, opts Options) (*Result, error) {
	order, err := net.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	res := &Result{
		ProjectStart: opts.ProjectStart,
		Activities:   make(map[uuid.UUID]*ActivityResult, len(order)),
	}
	for _, a := range order {
		res.Order = append(res.Order, a.ID)
		res.Activities[a.ID] = &ActivityResult{ActivityID: a.ID}
	}

	forwardPass(net, order, res, opts)

	projectDuration := 0
	for _, ar := range res.Activities {
		if ar.EarlyFinish > projectDuration {
			projectDuration = ar.EarlyFinish
		}
	}
	res.ProjectDuration = projectDuration

	backwardPass(net, order, res, projectDuration, opts)

	for _, ar := range res.Activities {
		ar.TotalFloat = ar.LateStart - ar.EarlyStart
		ar.FreeFloat = freeFloat(net, res, ar)
		if ar.FreeFloat < 0 {
			ar.FreeFloat = 0
		}
		ar.IsCritical = ar.TotalFloat == 0
	}

	return res, nil
}

func forwardPass(net *network.Network, order []*model.Activity, res *Result, opts Options) {
	for _, a := range order {
		ar := res.Activities[a.ID]
		preds := net.Predecessors(a.ID)

		es := opts.ProjectStart
		if len(preds) > 0 {
			first := true
			for _, dep := range preds {
				p := res.Activities[dep.PredecessorID]
				if p == nil {
					continue
				}
				var contribution int
				switch dep.Type {
				case model.DependencyFS:
					contribution = p.EarlyFinish + dep.Lag
				case model.DependencySS:
					contribution = p.EarlyStart + dep.Lag
				case model.DependencyFF:
					contribution = p.EarlyFinish + dep.Lag - a.Duration
				case model.DependencySF:
					contribution = p.EarlyStart + dep.Lag - a.Duration
				}
				if first || contribution > es {
					es = contribution
					first = false
				}
			}
		}

		// snet pushes ES forward to the constraint date; it is the only
		// constraint type applied in the forward pass.
		if a.Constraint == model.ConstraintSNET {
			if day, ok := opts.ConstraintDays[a.ID]; ok && day > es {
				es = day
			}
		}

		ar.EarlyStart = es
		ar.EarlyFinish = es + a.Duration
	}
}

func backwardPass(net *network.Network, order []*model.Activity, res *Result, projectDuration int, opts Options) {
	for i := len(order) - 1; i >= 0; i-- {
		a := order[i]
		ar := res.Activities[a.ID]
		succs := net.Successors(a.ID)

		lf := projectDuration
		if len(succs) > 0 {
			first := true
			for _, dep := range succs {
				s := res.Activities[dep.SuccessorID]
				if s == nil {
					continue
				}
				var contribution int
				switch dep.Type {
				case model.DependencyFS:
					contribution = s.LateStart - dep.Lag
				case model.DependencyFF:
					contribution = s.LateFinish - dep.Lag
				case model.DependencySS:
					contribution = s.LateStart - dep.Lag + a.Duration
				case model.DependencySF:
					contribution = s.LateFinish - dep.Lag + a.Duration
				}
				if first || contribution < lf {
					lf = contribution
					first = false
				}
			}
		}

		// *nlt caps the late-side value; the forward pass never applies
		// snlt/fnlt, they bind on the late side only.
		if a.Constraint == model.ConstraintSNLT || a.Constraint == model.ConstraintFNLT {
			if day, ok := opts.ConstraintDays[a.ID]; ok {
				cap := day
				if a.Constraint == model.ConstraintSNLT {
					cap = day + a.Duration
				}
				if cap < lf {
					lf = cap
					ar.ConstraintBound = true
				}
			}
		}

		ar.LateFinish = lf
		ar.LateStart = lf - a.Duration
	}
}

// freeFloat computes min over successors S of (ES(S) - contribution at
// lag 0 for predecessor P), clamped >= 0 by the caller. FS is the primary
// case; other relation types use the analogous "how much can P's finish
// slip before it forces S later" formula.
func freeFloat(net *network.Network, res *Result, ar *ActivityResult) int {
	succs := net.Successors(ar.ActivityID)
	if len(succs) == 0 {
		return res.ProjectDuration - ar.EarlyFinish
	}
	ff := 0
	first := true
	for _, dep := range succs {
		s := res.Activities[dep.SuccessorID]
		if s == nil {
			continue
		}
		var slack int
		switch dep.Type {
		case model.DependencyFS:
			slack = s.EarlyStart - ar.EarlyFinish - dep.Lag
		case model.DependencySS:
			slack = s.EarlyStart - ar.EarlyStart - dep.Lag
		case model.DependencyFF:
			slack = s.EarlyFinish - ar.EarlyFinish - dep.Lag
		case model.DependencySF:
			slack = s.EarlyFinish - ar.EarlyStart - dep.Lag
		}
		if first || slack < ff {
			ff = slack
			first = false
		}
	}
	return ff
}

// CriticalPath returns the activity IDs on the critical path, in
// topological order.
func (r *Result) CriticalPath() []uuid.UUID {
	var path []uuid.UUID
	for _, id := range r.Order {
		if r.Activities[id].IsCritical {
			path = append(path, id)
		}
	}
	return path
}
