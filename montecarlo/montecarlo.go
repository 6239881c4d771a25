// Package montecarlo runs schedule risk simulation over an activity
// network: per-iteration duration sampling from the configured
// distributions, a longest-path (quick mode) or full CPM (network mode)
// pass per iteration, and duration percentiles plus per-activity
// criticality and sensitivity statistics. A run is deterministic given
// the same seed and configuration.
package montecarlo

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/cpm"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/network"
)

// ActivityStats is the per-activity output of a network-mode run.
type ActivityStats struct {
	ActivityID       uuid.UUID `json:"activity_id"`
	CriticalityIndex float64   `json:"criticality_index"`
	Sensitivity      float64   `json:"sensitivity"`
}

// Result is one simulation run's statistics.
type Result struct {
	ConfigID    uuid.UUID                    `json:"config_id"`
	ProgramID   uuid.UUID                    `json:"program_id"`
	Iterations  int                          `json:"iterations"`
	Seed        int64                        `json:"seed"`
	NetworkMode bool                         `json:"network_mode"`
	Mean        float64                      `json:"mean"`
	StdDev      float64                      `json:"std_dev"`
	Percentiles map[string]float64           `json:"percentiles"`
	Activities  map[uuid.UUID]*ActivityStats `json:"activities,omitempty"`
}

// percentileLabels are the reported points, ascending.
var percentileLabels = []struct {
	label string
	p     float64
}{
	{"p10", 0.10}, {"p50", 0.50}, {"p80", 0.80}, {"p90", 0.90}, {"p95", 0.95},
}

// Run executes the simulation. The PRNG is seeded from cfg.Seed when set,
// else from a cryptographically strong source; the chosen seed is
// recorded in the result so a run can be replayed exactly.
func Run(ctx context.Context, net *network.Network, cfg *model.SimulationConfig) (*Result, error) {
	if cfg.Iterations <= 0 {
		return nil, apperrors.Validation("iterations", "iterations must be positive")
	}
	dists := make(map[uuid.UUID]model.DurationDistribution, len(cfg.Distributions))
	for _, d := range cfg.Distributions {
		if err := ValidateDistribution(d); err != nil {
			return nil, err
		}
		dists[d.ActivityID] = d
	}

	// The network must be acyclic before we burn iterations on it.
	if _, err := net.TopologicalOrder(); err != nil {
		return nil, err
	}

	seed := chooseSeed(cfg.Seed)
	rng := rand.New(rand.NewSource(seed))

	activities := net.Activities()
	totals := make([]float64, 0, cfg.Iterations)
	criticalCounts := make(map[uuid.UUID]int, len(activities))
	sampled := make(map[uuid.UUID][]float64, len(activities))

	for iter := 0; iter < cfg.Iterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		durations := make(map[uuid.UUID]int, len(activities))
		for _, a := range activities {
			dur := float64(a.Duration)
			if d, ok := dists[a.ID]; ok {
				dur = Sample(d, rng)
			}
			days := int(math.Round(dur))
			if days < 0 {
				days = 0
			}
			durations[a.ID] = days
			if cfg.NetworkMode {
				sampled[a.ID] = append(sampled[a.ID], float64(days))
			}
		}

		if cfg.NetworkMode {
			res, err := computeIteration(net, durations)
			if err != nil {
				return nil, err
			}
			totals = append(totals, float64(res.ProjectDuration))
			for id, ar := range res.Activities {
				if ar.IsCritical {
					criticalCounts[id]++
				}
			}
		} else {
			totals = append(totals, float64(longestPath(net, durations)))
		}
	}

	result := &Result{
		ConfigID:    cfg.ID,
		ProgramID:   cfg.ProgramID,
		Iterations:  cfg.Iterations,
		Seed:        seed,
		NetworkMode: cfg.NetworkMode,
		Percentiles: percentiles(totals),
	}
	result.Mean, result.StdDev = meanStd(totals)

	if cfg.NetworkMode {
		result.Activities = make(map[uuid.UUID]*ActivityStats, len(activities))
		for _, a := range activities {
			result.Activities[a.ID] = &ActivityStats{
				ActivityID:       a.ID,
				CriticalityIndex: float64(criticalCounts[a.ID]) / float64(cfg.Iterations),
				Sensitivity:      pearson(sampled[a.ID], totals),
			}
		}
	}
	return result, nil
}

func chooseSeed(configured *int64) int64 {
	if configured != nil {
		return *configured
	}
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unreachable; fall back to a
		// constant rather than panic so a run still completes.
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// computeIteration runs a full CPM pass with the sampled durations
// substituted in.
func computeIteration(net *network.Network, durations map[uuid.UUID]int) (*cpm.Result, error) {
	iterNet := network.New()
	for _, a := range net.Activities() {
		copied := *a
		copied.Duration = durations[a.ID]
		copied.Constraint = ""
		iterNet.AddActivity(&copied)
		for _, dep := range net.Successors(a.ID) {
			iterNet.AddDependency(dep)
		}
	}
	return cpm.Compute(iterNet, cpm.Options{})
}

// longestPath is the quick-mode pass: a forward sweep in topological
// order tracking only early finishes.
func longestPath(net *network.Network, durations map[uuid.UUID]int) int {
	order, err := net.TopologicalOrder()
	if err != nil {
		return 0
	}
	es := make(map[uuid.UUID]int, len(order))
	ef := make(map[uuid.UUID]int, len(order))
	total := 0
	for _, a := range order {
		start := 0
		for _, dep := range net.Predecessors(a.ID) {
			var c int
			switch dep.Type {
			case model.DependencyFS:
				c = ef[dep.PredecessorID] + dep.Lag
			case model.DependencySS:
				c = es[dep.PredecessorID] + dep.Lag
			case model.DependencyFF:
				c = ef[dep.PredecessorID] + dep.Lag - durations[a.ID]
			case model.DependencySF:
				c = es[dep.PredecessorID] + dep.Lag - durations[a.ID]
			}
			if c > start {
				start = c
			}
		}
		es[a.ID] = start
		ef[a.ID] = start + durations[a.ID]
		if ef[a.ID] > total {
			total = ef[a.ID]
		}
	}
	return total
}

func percentiles(totals []float64) map[string]float64 {
	sorted := append([]float64{}, totals...)
	sort.Float64s(sorted)
	out := make(map[string]float64, len(percentileLabels))
	for _, pl := range percentileLabels {
		out[pl.label] = percentileOf(sorted, pl.p)
	}
	return out
}

// percentileOf uses linear interpolation between closest ranks.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / float64(len(xs)))
	return
}

// pearson is the correlation between an activity's sampled durations and
// the total durations; zero when either series is constant.
func pearson(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) == 0 {
		return 0
	}
	mx, _ := meanStd(xs)
	my, _ := meanStd(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
