// Package service is the owning layer for program mutations and the
// entry point the transport layer calls: it loads snapshots from the
// repositories, runs the schedule/EVMS engines, persists results
// transactionally, and enforces ownership. Core algorithm packages stay
// pure; everything stateful funnels through here.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/cpm"
	"ironclad.dev/dpm/db/repository"
	"ironclad.dev/dpm/leveling"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/montecarlo"
	"ironclad.dev/dpm/network"
	"ironclad.dev/dpm/resourceload"
	"ironclad.dev/dpm/schedulecache"
)

// Service wires the repositories, cache, and calendar behind the
// schedule, report, and simulation operations.
type Service struct {
	store    repository.Store
	graph    repository.DependencyGraphRepository // nil = in-memory cycle check only
	cache    *schedulecache.Cache
	calendar resourceload.Calendar
	logger   *logrus.Entry
}

type Config struct {
	Store    repository.Store
	Graph    repository.DependencyGraphRepository
	Cache    *schedulecache.Cache
	Calendar resourceload.Calendar
	Logger   *logrus.Entry
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Cache == nil {
		cfg.Cache = schedulecache.New(schedulecache.NewMemoryStore(), 0)
	}
	return &Service{
		store:    cfg.Store,
		graph:    cfg.Graph,
		cache:    cfg.Cache,
		calendar: cfg.Calendar,
		logger:   cfg.Logger,
	}
}

// authorize rejects mutations by principals that do not own the program.
// An empty principal is the internal caller and passes.
func (s *Service) authorize(p *model.Program, principal string) error {
	if principal != "" && p.Owner != principal {
		return apperrors.Authorization("principal does not own this program")
	}
	return nil
}

// snapshot is one program's scheduling state loaded in a single
// consistent read.
type snapshot struct {
	program     *model.Program
	activities  []*model.Activity
	deps        []*model.Dependency
	net         *network.Network
	fingerprint string
}

func (s *Service) loadSnapshot(ctx context.Context, programID uuid.UUID) (*snapshot, error) {
	program, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	activities, err := s.store.ListActivitiesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	deps, err := s.store.ListDependenciesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		program:     program,
		activities:  activities,
		deps:        deps,
		net:         network.Build(activities, deps),
		fingerprint: schedulecache.Fingerprint(programID, activities, deps),
	}, nil
}

// constraintDays maps each constrained activity's date onto a working-day
// offset from the program start.
func (s *Service) constraintDays(snap *snapshot) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, a := range snap.activities {
		if a.ConstraintDate == nil || a.Constraint == model.ConstraintASAP || a.Constraint == model.ConstraintALAP {
			continue
		}
		out[a.ID] = leveling.WorkingDaysBetween(s.calendar, snap.program.StartDate, *a.ConstraintDate)
	}
	return out
}

// CalculateSchedule runs CPM for the program, serving from the cache
// unless force is set, and persists the results in one transaction. The
// returned bool reports a cache hit.
func (s *Service) CalculateSchedule(ctx context.Context, programID uuid.UUID, force bool) (*cpm.Result, bool, error) {
	snap, err := s.loadSnapshot(ctx, programID)
	if err != nil {
		return nil, false, err
	}

	res, hit, err := s.cache.CPMResult(ctx, snap.fingerprint, force, func(ctx context.Context) (*cpm.Result, error) {
		return cpm.Compute(snap.net, cpm.Options{ConstraintDays: s.constraintDays(snap)})
	})
	if err != nil {
		return nil, false, err
	}

	updates := make([]*model.Activity, 0, len(res.Activities))
	for _, a := range snap.activities {
		ar, ok := res.Activities[a.ID]
		if !ok {
			continue
		}
		a.EarlyStart, a.EarlyFinish = ar.EarlyStart, ar.EarlyFinish
		a.LateStart, a.LateFinish = ar.LateStart, ar.LateFinish
		a.TotalFloat, a.FreeFloat = ar.TotalFloat, ar.FreeFloat
		a.IsCritical = ar.IsCritical
		updates = append(updates, a)
	}
	if err := s.store.SaveCPMResults(ctx, programID, updates); err != nil {
		return nil, false, err
	}
	return res, hit, nil
}

// CriticalPath returns the program's critical activities in schedule
// order.
func (s *Service) CriticalPath(ctx context.Context, programID uuid.UUID) ([]*model.Activity, error) {
	res, _, err := s.CalculateSchedule(ctx, programID, false)
	if err != nil {
		return nil, err
	}
	snap, err := s.loadSnapshot(ctx, programID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Activity, len(snap.activities))
	for _, a := range snap.activities {
		byID[a.ID] = a
	}
	var out []*model.Activity
	for _, id := range res.CriticalPath() {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// AddDependency runs the edit-boundary cycle check before persisting an
// edge: against the graph database when one is wired, else against the
// in-memory network.
func (s *Service) AddDependency(ctx context.Context, principal string, d *model.Dependency) error {
	if err := d.Validate(); err != nil {
		return err
	}
	snap, err := s.loadSnapshot(ctx, d.ProgramID)
	if err != nil {
		return err
	}
	if err := s.authorize(snap.program, principal); err != nil {
		return err
	}

	var cyclic bool
	if s.graph != nil {
		cyclic, err = s.graph.WouldCreateCycle(ctx, d.PredecessorID, d.SuccessorID)
		if err != nil {
			return err
		}
	} else {
		cyclic = snap.net.WouldCreateCycle(d.PredecessorID, d.SuccessorID)
	}
	if cyclic {
		return apperrors.Validation("dependency_cycle",
			"edge "+d.PredecessorID.String()+" -> "+d.SuccessorID.String()+" would create a cycle")
	}

	if err := s.store.CreateDependency(ctx, d); err != nil {
		return err
	}
	if s.graph != nil {
		if err := s.graph.StoreDependency(ctx, d); err != nil {
			s.logger.WithError(err).Warn("dependency graph mirror write failed")
		}
	}
	return nil
}

// levelingInput assembles the leveling snapshot: network, fresh CPM,
// resources and assignments.
func (s *Service) levelingInput(ctx context.Context, programID uuid.UUID) (leveling.Input, error) {
	snap, err := s.loadSnapshot(ctx, programID)
	if err != nil {
		return leveling.Input{}, err
	}
	sched, err := cpm.Compute(snap.net, cpm.Options{ConstraintDays: s.constraintDays(snap)})
	if err != nil {
		return leveling.Input{}, err
	}
	resources, err := s.store.ListResourcesByProgram(ctx, programID)
	if err != nil {
		return leveling.Input{}, err
	}
	assignments, err := s.store.ListAssignmentsByProgram(ctx, programID)
	if err != nil {
		return leveling.Input{}, err
	}
	resMap := make(map[uuid.UUID]*model.Resource, len(resources))
	for _, r := range resources {
		resMap[r.ID] = r
	}
	return leveling.Input{
		ProgramStart: snap.program.StartDate,
		Calendar:     s.calendar,
		Net:          snap.net,
		Schedule:     sched,
		Resources:    resMap,
		Assignments:  assignments,
	}, nil
}

// LevelSerial proposes a serial leveling solution without applying it.
func (s *Service) LevelSerial(ctx context.Context, programID uuid.UUID, opts leveling.Options) (*leveling.Result, error) {
	in, err := s.levelingInput(ctx, programID)
	if err != nil {
		return nil, err
	}
	return leveling.Serial(ctx, in, opts)
}

// LevelParallel proposes a parallel leveling solution without applying it.
func (s *Service) LevelParallel(ctx context.Context, programID uuid.UUID, opts leveling.Options) (*leveling.Result, error) {
	in, err := s.levelingInput(ctx, programID)
	if err != nil {
		return nil, err
	}
	return leveling.Parallel(ctx, in, opts)
}

// CompareLeveling runs both algorithms and returns the recommendation.
func (s *Service) CompareLeveling(ctx context.Context, programID uuid.UUID, opts leveling.Options) (*leveling.Comparison, error) {
	in, err := s.levelingInput(ctx, programID)
	if err != nil {
		return nil, err
	}
	return leveling.Compare(ctx, in, opts)
}

// ApplyLeveling writes a leveling result's proposed windows as planned
// dates, all affected activities in one transaction.
func (s *Service) ApplyLeveling(ctx context.Context, principal string, programID uuid.UUID, result *leveling.Result) error {
	program, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	if err := s.authorize(program, principal); err != nil {
		return err
	}

	dates := make(map[uuid.UUID]repository.PlannedWindow, len(result.NewWindows))
	for id, w := range result.NewWindows {
		dates[id] = repository.PlannedWindow{Start: w.Start, Finish: w.Finish}
	}
	return s.store.ApplyPlannedDates(ctx, programID, dates)
}

// OverAllocationReport builds the program-level conflict report over the
// given date range.
func (s *Service) OverAllocationReport(ctx context.Context, programID uuid.UUID, from, to time.Time) (*resourceload.ProgramReport, error) {
	in, err := s.levelingInput(ctx, programID)
	if err != nil {
		return nil, err
	}

	byResource := make(map[uuid.UUID][]resourceload.ConflictPeriod)
	for resID, res := range in.Resources {
		if res.Type == model.ResourceMaterial {
			continue
		}
		var windows []resourceload.AssignmentWindow
		for _, asg := range in.Assignments {
			if asg.ResourceID != resID {
				continue
			}
			a, ok := in.Net.Activity(asg.ActivityID)
			if !ok {
				continue
			}
			w := activityWindow(s.calendar, in.ProgramStart, a, in.Schedule)
			windows = append(windows, resourceload.AssignmentWindow{
				Assignment: asg,
				ActivityID: asg.ActivityID,
				Resource:   res,
				Start:      w.Start,
				End:        w.Finish,
			})
		}
		series := resourceload.LoadSeries(s.calendar, res, windows, from, to)
		if periods := resourceload.DetectOverAllocation(resID, series); len(periods) > 0 {
			byResource[resID] = periods
		}
	}

	critical := make(map[uuid.UUID]bool)
	for id, ar := range in.Schedule.Activities {
		critical[id] = ar.IsCritical
	}
	report := resourceload.BuildProgramReport(byResource, critical)
	return &report, nil
}

// activityWindow resolves the effective date range: planned dates when
// present, else the CPM window mapped onto the program start. An alap
// activity with no planned dates sits at its late start.
func activityWindow(cal resourceload.Calendar, programStart time.Time, a *model.Activity, sched *cpm.Result) leveling.Window {
	if a.PlannedStart != nil && a.PlannedFinish != nil {
		return leveling.Window{Start: *a.PlannedStart, Finish: *a.PlannedFinish}
	}
	day := 0
	if ar, ok := sched.Activities[a.ID]; ok {
		day = ar.EarlyStart
		if a.Constraint == model.ConstraintALAP {
			day = ar.LateStart
		}
	}
	start := leveling.AddWorkingDays(cal, programStart, day)
	return leveling.Window{Start: start, Finish: leveling.AddWorkingDays(cal, start, a.Duration)}
}

// RunSimulation executes a stored Monte Carlo configuration, serving a
// cached result for an unchanged (network, config) pair unless force is
// set.
func (s *Service) RunSimulation(ctx context.Context, configID uuid.UUID, force bool) (*montecarlo.Result, bool, error) {
	cfg, err := s.store.GetSimulationConfig(ctx, configID)
	if err != nil {
		return nil, false, err
	}
	snap, err := s.loadSnapshot(ctx, cfg.ProgramID)
	if err != nil {
		return nil, false, err
	}

	fp := schedulecache.SimulationFingerprint(snap.fingerprint, cfg)
	return s.cache.SimulationResult(ctx, fp, force, func(ctx context.Context) (*montecarlo.Result, error) {
		return montecarlo.Run(ctx, snap.net, cfg)
	})
}
