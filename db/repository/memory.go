package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
)

// Memory implements Store entirely in process. It honors the same
// semantics as the Postgres adapter (soft deletes, cascades, NotFound on
// absent rows) so tests against it are meaningful.
type Memory struct {
	mu           sync.RWMutex
	programs     map[uuid.UUID]*model.Program
	wbs          map[uuid.UUID]*model.WBSElement
	activities   map[uuid.UUID]*model.Activity
	dependencies map[uuid.UUID]*model.Dependency
	resources    map[uuid.UUID]*model.Resource
	assignments  map[uuid.UUID]*model.Assignment
	periods      map[uuid.UUID]*model.EVMSPeriod
	periodData   map[uuid.UUID]*model.EVMSPeriodData
	mrLog        map[uuid.UUID]*model.MRLogEntry
	integrations map[uuid.UUID]*model.JiraIntegration
	mappings     map[uuid.UUID]*model.JiraMapping
	simConfigs   map[uuid.UUID]*model.SimulationConfig
}

func NewMemory() *Memory {
	return &Memory{
		programs:     map[uuid.UUID]*model.Program{},
		wbs:          map[uuid.UUID]*model.WBSElement{},
		activities:   map[uuid.UUID]*model.Activity{},
		dependencies: map[uuid.UUID]*model.Dependency{},
		resources:    map[uuid.UUID]*model.Resource{},
		assignments:  map[uuid.UUID]*model.Assignment{},
		periods:      map[uuid.UUID]*model.EVMSPeriod{},
		periodData:   map[uuid.UUID]*model.EVMSPeriodData{},
		mrLog:        map[uuid.UUID]*model.MRLogEntry{},
		integrations: map[uuid.UUID]*model.JiraIntegration{},
		mappings:     map[uuid.UUID]*model.JiraMapping{},
		simConfigs:   map[uuid.UUID]*model.SimulationConfig{},
	}
}

func now() time.Time { return time.Now().UTC() }

func alive(deletedAt *time.Time) bool { return deletedAt == nil }

// Programs

func (m *Memory) CreateProgram(_ context.Context, p *model.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = now(), now()
	stored := *p
	m.programs[p.ID] = &stored
	return nil
}

func (m *Memory) GetProgram(_ context.Context, id uuid.UUID) (*model.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[id]
	if !ok || !alive(p.DeletedAt) {
		return nil, apperrors.NotFound("program not found")
	}
	copied := *p
	return &copied, nil
}

func (m *Memory) ListPrograms(_ context.Context, owner string) ([]*model.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Program
	for _, p := range m.programs {
		if !alive(p.DeletedAt) {
			continue
		}
		if owner != "" && p.Owner != owner {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) UpdateProgram(_ context.Context, p *model.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.programs[p.ID]
	if !ok || !alive(existing.DeletedAt) {
		return apperrors.NotFound("program not found")
	}
	p.UpdatedAt = now()
	stored := *p
	m.programs[p.ID] = &stored
	return nil
}

// DeleteProgram soft-deletes the program and everything it owns.
func (m *Memory) DeleteProgram(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.programs[id]
	if !ok || !alive(p.DeletedAt) {
		return apperrors.NotFound("program not found")
	}
	ts := now()
	p.DeletedAt = &ts
	for _, w := range m.wbs {
		if w.ProgramID == id {
			w.DeletedAt = &ts
		}
	}
	for _, a := range m.activities {
		if a.ProgramID == id {
			a.DeletedAt = &ts
		}
	}
	for _, d := range m.dependencies {
		if d.ProgramID == id {
			d.DeletedAt = &ts
		}
	}
	for _, pd := range m.periods {
		if pd.ProgramID == id {
			pd.DeletedAt = &ts
		}
	}
	for _, e := range m.mrLog {
		if e.ProgramID == id {
			e.DeletedAt = &ts
		}
	}
	for _, r := range m.resources {
		if r.ProgramID == id {
			r.DeletedAt = &ts
		}
	}
	for mid, mapping := range m.mappings {
		if integ, ok := m.integrations[mapping.IntegrationID]; ok && integ.ProgramID == id {
			delete(m.mappings, mid)
		}
	}
	return nil
}

// WBS

func (m *Memory) CreateWBS(_ context.Context, w *model.WBSElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.wbs {
		if existing.ProgramID == w.ProgramID && existing.Path == w.Path && alive(existing.DeletedAt) {
			return apperrors.Validation("wbs_path_unique", "path already exists in program")
		}
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Level != strings.Count(w.Path, ".")+1 {
		return apperrors.Validation("wbs_level", "level must equal path depth")
	}
	w.CreatedAt, w.UpdatedAt = now(), now()
	stored := *w
	m.wbs[w.ID] = &stored
	return nil
}

func (m *Memory) GetWBS(_ context.Context, id uuid.UUID) (*model.WBSElement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wbs[id]
	if !ok || !alive(w.DeletedAt) {
		return nil, apperrors.NotFound("wbs element not found")
	}
	copied := *w
	return &copied, nil
}

func (m *Memory) ListWBSByProgram(_ context.Context, programID uuid.UUID) ([]*model.WBSElement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.WBSElement
	for _, w := range m.wbs {
		if w.ProgramID == programID && alive(w.DeletedAt) {
			copied := *w
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) UpdateWBS(_ context.Context, w *model.WBSElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.wbs[w.ID]
	if !ok || !alive(existing.DeletedAt) {
		return apperrors.NotFound("wbs element not found")
	}
	w.UpdatedAt = now()
	stored := *w
	m.wbs[w.ID] = &stored
	return nil
}

// DeleteWBS soft-deletes the element, its descendants by path, and their
// activities, atomically under the store lock.
func (m *Memory) DeleteWBS(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.wbs[id]
	if !ok || !alive(root.DeletedAt) {
		return apperrors.NotFound("wbs element not found")
	}
	ts := now()
	doomed := map[uuid.UUID]bool{id: true}
	for wid, w := range m.wbs {
		if w.ProgramID == root.ProgramID && strings.HasPrefix(w.Path, root.Path+".") {
			doomed[wid] = true
		}
	}
	for wid := range doomed {
		m.wbs[wid].DeletedAt = &ts
	}
	for _, a := range m.activities {
		if doomed[a.WBSID] {
			a.DeletedAt = &ts
		}
	}
	return nil
}

// Activities

func (m *Memory) CreateActivity(_ context.Context, a *model.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.activities {
		if existing.ProgramID == a.ProgramID && existing.Code == a.Code && alive(existing.DeletedAt) {
			return apperrors.Validation("activity_code_unique", "code already exists in program")
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = now(), now()
	stored := *a
	m.activities[a.ID] = &stored
	return nil
}

func (m *Memory) GetActivity(_ context.Context, id uuid.UUID) (*model.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok || !alive(a.DeletedAt) {
		return nil, apperrors.NotFound("activity not found")
	}
	copied := *a
	return &copied, nil
}

func (m *Memory) ListActivitiesByProgram(_ context.Context, programID uuid.UUID) ([]*model.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Activity
	for _, a := range m.activities {
		if a.ProgramID == programID && alive(a.DeletedAt) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) UpdateActivity(_ context.Context, a *model.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.activities[a.ID]
	if !ok || !alive(existing.DeletedAt) {
		return apperrors.NotFound("activity not found")
	}
	a.UpdatedAt = now()
	stored := *a
	m.activities[a.ID] = &stored
	return nil
}

func (m *Memory) DeleteActivity(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok || !alive(a.DeletedAt) {
		return apperrors.NotFound("activity not found")
	}
	ts := now()
	a.DeletedAt = &ts
	for _, d := range m.dependencies {
		if (d.PredecessorID == id || d.SuccessorID == id) && alive(d.DeletedAt) {
			d.DeletedAt = &ts
		}
	}
	return nil
}

func (m *Memory) SaveCPMResults(_ context.Context, programID uuid.UUID, results []*model.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := now()
	for _, r := range results {
		a, ok := m.activities[r.ID]
		if !ok || a.ProgramID != programID || !alive(a.DeletedAt) {
			return apperrors.NotFound("activity not found in program")
		}
		a.EarlyStart, a.EarlyFinish = r.EarlyStart, r.EarlyFinish
		a.LateStart, a.LateFinish = r.LateStart, r.LateFinish
		a.TotalFloat, a.FreeFloat = r.TotalFloat, r.FreeFloat
		a.IsCritical = r.IsCritical
		a.UpdatedAt = ts
	}
	return nil
}

func (m *Memory) ApplyPlannedDates(_ context.Context, programID uuid.UUID, dates map[uuid.UUID]PlannedWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := now()
	for id, w := range dates {
		a, ok := m.activities[id]
		if !ok || a.ProgramID != programID || !alive(a.DeletedAt) {
			return apperrors.NotFound("activity not found in program")
		}
		start, finish := w.Start, w.Finish
		a.PlannedStart, a.PlannedFinish = &start, &finish
		a.UpdatedAt = ts
	}
	return nil
}

// Dependencies

func (m *Memory) CreateDependency(_ context.Context, d *model.Dependency) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.dependencies {
		if existing.PredecessorID == d.PredecessorID && existing.SuccessorID == d.SuccessorID && alive(existing.DeletedAt) {
			return apperrors.Validation("dependency_unique", "edge already exists")
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt, d.UpdatedAt = now(), now()
	stored := *d
	m.dependencies[d.ID] = &stored
	return nil
}

func (m *Memory) GetDependency(_ context.Context, id uuid.UUID) (*model.Dependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dependencies[id]
	if !ok || !alive(d.DeletedAt) {
		return nil, apperrors.NotFound("dependency not found")
	}
	copied := *d
	return &copied, nil
}

func (m *Memory) ListDependenciesByProgram(_ context.Context, programID uuid.UUID) ([]*model.Dependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Dependency
	for _, d := range m.dependencies {
		if d.ProgramID == programID && alive(d.DeletedAt) {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) DeleteDependency(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dependencies[id]
	if !ok || !alive(d.DeletedAt) {
		return apperrors.NotFound("dependency not found")
	}
	ts := now()
	d.DeletedAt = &ts
	return nil
}

// Resources and assignments

func (m *Memory) CreateResource(_ context.Context, r *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt, r.UpdatedAt = now(), now()
	stored := *r
	m.resources[r.ID] = &stored
	return nil
}

func (m *Memory) GetResource(_ context.Context, id uuid.UUID) (*model.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok || !alive(r.DeletedAt) {
		return nil, apperrors.NotFound("resource not found")
	}
	copied := *r
	return &copied, nil
}

func (m *Memory) ListResourcesByProgram(_ context.Context, programID uuid.UUID) ([]*model.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Resource
	for _, r := range m.resources {
		if r.ProgramID == programID && alive(r.DeletedAt) {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) UpdateResource(_ context.Context, r *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.resources[r.ID]
	if !ok || !alive(existing.DeletedAt) {
		return apperrors.NotFound("resource not found")
	}
	r.UpdatedAt = now()
	stored := *r
	m.resources[r.ID] = &stored
	return nil
}

func (m *Memory) DeleteResource(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok || !alive(r.DeletedAt) {
		return apperrors.NotFound("resource not found")
	}
	ts := now()
	r.DeletedAt = &ts
	return nil
}

func (m *Memory) CreateAssignment(_ context.Context, a *model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = now(), now()
	stored := *a
	m.assignments[a.ID] = &stored
	return nil
}

func (m *Memory) ListAssignmentsByActivity(_ context.Context, activityID uuid.UUID) ([]*model.Assignment, error) {
	return m.listAssignments(func(a *model.Assignment) bool { return a.ActivityID == activityID })
}

func (m *Memory) ListAssignmentsByResource(_ context.Context, resourceID uuid.UUID) ([]*model.Assignment, error) {
	return m.listAssignments(func(a *model.Assignment) bool { return a.ResourceID == resourceID })
}

func (m *Memory) ListAssignmentsByProgram(_ context.Context, programID uuid.UUID) ([]*model.Assignment, error) {
	m.mu.RLock()
	activityInProgram := make(map[uuid.UUID]bool)
	for _, a := range m.activities {
		if a.ProgramID == programID && alive(a.DeletedAt) {
			activityInProgram[a.ID] = true
		}
	}
	m.mu.RUnlock()
	return m.listAssignments(func(a *model.Assignment) bool { return activityInProgram[a.ActivityID] })
}

func (m *Memory) listAssignments(match func(*model.Assignment) bool) ([]*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Assignment
	for _, a := range m.assignments {
		if alive(a.DeletedAt) && match(a) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) DeleteAssignment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok || !alive(a.DeletedAt) {
		return apperrors.NotFound("assignment not found")
	}
	ts := now()
	a.DeletedAt = &ts
	return nil
}

// EVMS periods and MR log

func (m *Memory) CreatePeriod(_ context.Context, p *model.EVMSPeriod) error {
	if p.End.Before(p.Start) {
		return apperrors.Validation("period_range", "period end precedes start")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = now(), now()
	stored := *p
	m.periods[p.ID] = &stored
	return nil
}

func (m *Memory) ListPeriodsByProgram(_ context.Context, programID uuid.UUID) ([]*model.EVMSPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.EVMSPeriod
	for _, p := range m.periods {
		if p.ProgramID == programID && alive(p.DeletedAt) {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) CreatePeriodData(_ context.Context, d *model.EVMSPeriodData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt, d.UpdatedAt = now(), now()
	stored := *d
	m.periodData[d.ID] = &stored
	return nil
}

func (m *Memory) ListPeriodData(_ context.Context, periodID uuid.UUID) ([]*model.EVMSPeriodData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.EVMSPeriodData
	for _, d := range m.periodData {
		if d.PeriodID == periodID && alive(d.DeletedAt) {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// AppendMRLogEntry enforces the ledger chain: the new entry's beginning
// MR must equal the previous ending MR, and the entry must balance.
func (m *Memory) AppendMRLogEntry(_ context.Context, e *model.MRLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expected := e.BeginningMR.Add(e.ChangesIn).Sub(e.ChangesOut)
	if !expected.Equal(e.EndingMR) {
		return apperrors.Validation("mr_unbalanced", "ending MR must equal beginning + in - out")
	}
	if e.EndingMR.IsNegative() {
		return apperrors.Validation("mr_negative", "ending MR must not be negative")
	}
	var last *model.MRLogEntry
	for _, existing := range m.mrLog {
		if existing.ProgramID == e.ProgramID && alive(existing.DeletedAt) {
			if last == nil || existing.Sequence > last.Sequence {
				last = existing
			}
		}
	}
	if last != nil {
		if !e.BeginningMR.Equal(last.EndingMR) {
			return apperrors.Validation("mr_chain_broken", "beginning MR must equal the previous ending MR")
		}
		e.Sequence = last.Sequence + 1
	} else {
		e.Sequence = 1
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt, e.UpdatedAt = now(), now()
	stored := *e
	m.mrLog[e.ID] = &stored
	return nil
}

func (m *Memory) ListMRLog(_ context.Context, programID uuid.UUID) ([]*model.MRLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.MRLogEntry
	for _, e := range m.mrLog {
		if e.ProgramID == programID && alive(e.DeletedAt) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Integrations and mappings

func (m *Memory) CreateIntegration(_ context.Context, i *model.JiraIntegration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	i.CreatedAt, i.UpdatedAt = now(), now()
	stored := *i
	m.integrations[i.ID] = &stored
	return nil
}

func (m *Memory) GetIntegration(_ context.Context, id uuid.UUID) (*model.JiraIntegration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.integrations[id]
	if !ok || !alive(i.DeletedAt) {
		return nil, apperrors.NotFound("integration not found")
	}
	copied := *i
	return &copied, nil
}

func (m *Memory) GetByProjectKey(_ context.Context, projectKey string) (*model.JiraIntegration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.integrations {
		if i.ProjectKey == projectKey && alive(i.DeletedAt) {
			copied := *i
			return &copied, nil
		}
	}
	return nil, apperrors.IntegrationNotFound("no integration for project " + projectKey)
}

func (m *Memory) ListIntegrationsByProgram(_ context.Context, programID uuid.UUID) ([]*model.JiraIntegration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.JiraIntegration
	for _, i := range m.integrations {
		if i.ProgramID == programID && alive(i.DeletedAt) {
			copied := *i
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *Memory) GetByWBS(_ context.Context, integrationID, wbsID uuid.UUID) (*model.JiraMapping, error) {
	return m.findMapping(func(mp *model.JiraMapping) bool {
		return mp.IntegrationID == integrationID && mp.WBSID != nil && *mp.WBSID == wbsID
	})
}

func (m *Memory) GetByActivity(_ context.Context, integrationID, activityID uuid.UUID) (*model.JiraMapping, error) {
	return m.findMapping(func(mp *model.JiraMapping) bool {
		return mp.IntegrationID == integrationID && mp.ActivityID != nil && *mp.ActivityID == activityID
	})
}

func (m *Memory) GetByIssueKey(_ context.Context, integrationID uuid.UUID, issueKey string) (*model.JiraMapping, error) {
	return m.findMapping(func(mp *model.JiraMapping) bool {
		return mp.IntegrationID == integrationID && mp.JiraIssueKey == issueKey
	})
}

func (m *Memory) findMapping(match func(*model.JiraMapping) bool) (*model.JiraMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mp := range m.mappings {
		if match(mp) {
			copied := *mp
			return &copied, nil
		}
	}
	return nil, apperrors.NotFound("mapping not found")
}

func (m *Memory) ListMappings(_ context.Context, integrationID uuid.UUID) ([]*model.JiraMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.JiraMapping
	for _, mp := range m.mappings {
		if mp.IntegrationID == integrationID {
			copied := *mp
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JiraIssueKey < out[j].JiraIssueKey })
	return out, nil
}

func (m *Memory) Create(_ context.Context, mp *model.JiraMapping) error {
	if err := mp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mp.ID == uuid.Nil {
		mp.ID = uuid.New()
	}
	mp.CreatedAt, mp.UpdatedAt = now(), now()
	stored := *mp
	m.mappings[mp.ID] = &stored
	return nil
}

func (m *Memory) Update(_ context.Context, mp *model.JiraMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[mp.ID]; !ok {
		return apperrors.NotFound("mapping not found")
	}
	mp.UpdatedAt = now()
	stored := *mp
	m.mappings[mp.ID] = &stored
	return nil
}

// Delete hard-deletes a mapping; deleting an absent mapping is a no-op
// so webhook double delivery stays idempotent.
func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, id)
	return nil
}

// Simulation configs

func (m *Memory) CreateSimulationConfig(_ context.Context, c *model.SimulationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	stored := *c
	m.simConfigs[c.ID] = &stored
	return nil
}

func (m *Memory) GetSimulationConfig(_ context.Context, id uuid.UUID) (*model.SimulationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.simConfigs[id]
	if !ok {
		return nil, apperrors.NotFound("simulation config not found")
	}
	copied := *c
	return &copied, nil
}

var _ Store = (*Memory)(nil)
