// Package repository provides the persistence interfaces for the
// program-management domain and their concrete adapters. The domain is
// split across specialized stores:
//
//   - PostgreSQL (GORM): the relational system of record for programs,
//     WBS trees, activities, dependencies, resources, assignments, EVMS
//     periods, the MR log, Jira integrations/mappings, and the sync log.
//   - Neo4j: the dependency DAG mirrored as a property graph, used by the
//     write path for cycle detection and transitive dependency queries
//     that are awkward in SQL.
//   - Memory: a map-backed implementation of every interface for unit
//     tests and single-process tooling.
//
// All write interfaces are context-first and transactional per program:
// cascading deletes and bulk CPM write-backs commit atomically.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ironclad.dev/dpm/model"
)

// ProgramRepository manages program lifecycles. Deletes are soft and
// cascade to everything the program owns.
type ProgramRepository interface {
	CreateProgram(ctx context.Context, p *model.Program) error
	GetProgram(ctx context.Context, id uuid.UUID) (*model.Program, error)
	ListPrograms(ctx context.Context, owner string) ([]*model.Program, error)
	UpdateProgram(ctx context.Context, p *model.Program) error
	DeleteProgram(ctx context.Context, id uuid.UUID) error
}

// WBSRepository manages the WBS hierarchy. Paths are unique inside a
// program; deleting an element cascades to its descendants and their
// activities in one transaction.
type WBSRepository interface {
	CreateWBS(ctx context.Context, w *model.WBSElement) error
	GetWBS(ctx context.Context, id uuid.UUID) (*model.WBSElement, error)
	ListWBSByProgram(ctx context.Context, programID uuid.UUID) ([]*model.WBSElement, error)
	UpdateWBS(ctx context.Context, w *model.WBSElement) error
	DeleteWBS(ctx context.Context, id uuid.UUID) error
}

// ActivityRepository manages activities, including the bulk write-backs
// the schedule engine produces.
type ActivityRepository interface {
	CreateActivity(ctx context.Context, a *model.Activity) error
	GetActivity(ctx context.Context, id uuid.UUID) (*model.Activity, error)
	ListActivitiesByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Activity, error)
	UpdateActivity(ctx context.Context, a *model.Activity) error
	DeleteActivity(ctx context.Context, id uuid.UUID) error

	// SaveCPMResults persists ES/EF/LS/LF/floats/criticality for a whole
	// program in one transaction.
	SaveCPMResults(ctx context.Context, programID uuid.UUID, results []*model.Activity) error

	// ApplyPlannedDates writes a leveling run's proposed dates for all
	// affected activities together.
	ApplyPlannedDates(ctx context.Context, programID uuid.UUID, dates map[uuid.UUID]PlannedWindow) error
}

// PlannedWindow is a leveling-apply update for one activity.
type PlannedWindow struct {
	Start  time.Time
	Finish time.Time
}

// DependencyRepository manages dependency edges. At most one edge may
// exist per ordered (predecessor, successor) pair; cycle checking is the
// write path's job, composed from this and the graph repository.
type DependencyRepository interface {
	CreateDependency(ctx context.Context, d *model.Dependency) error
	GetDependency(ctx context.Context, id uuid.UUID) (*model.Dependency, error)
	ListDependenciesByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Dependency, error)
	DeleteDependency(ctx context.Context, id uuid.UUID) error
}

// ResourceRepository manages resources and their assignments.
type ResourceRepository interface {
	CreateResource(ctx context.Context, r *model.Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error)
	ListResourcesByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Resource, error)
	UpdateResource(ctx context.Context, r *model.Resource) error
	DeleteResource(ctx context.Context, id uuid.UUID) error

	CreateAssignment(ctx context.Context, a *model.Assignment) error
	ListAssignmentsByActivity(ctx context.Context, activityID uuid.UUID) ([]*model.Assignment, error)
	ListAssignmentsByResource(ctx context.Context, resourceID uuid.UUID) ([]*model.Assignment, error)
	ListAssignmentsByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Assignment, error)
	DeleteAssignment(ctx context.Context, id uuid.UUID) error
}

// EVMSRepository manages reporting periods, their per-WBS breakdown, and
// the management-reserve log.
type EVMSRepository interface {
	CreatePeriod(ctx context.Context, p *model.EVMSPeriod) error
	ListPeriodsByProgram(ctx context.Context, programID uuid.UUID) ([]*model.EVMSPeriod, error)
	CreatePeriodData(ctx context.Context, d *model.EVMSPeriodData) error
	ListPeriodData(ctx context.Context, periodID uuid.UUID) ([]*model.EVMSPeriodData, error)

	AppendMRLogEntry(ctx context.Context, e *model.MRLogEntry) error
	ListMRLog(ctx context.Context, programID uuid.UUID) ([]*model.MRLogEntry, error)
}

// IntegrationRepository manages Jira integrations and mappings. Mapping
// lookups return NotFound errors when absent; mapping deletes are hard.
type IntegrationRepository interface {
	CreateIntegration(ctx context.Context, i *model.JiraIntegration) error
	GetIntegration(ctx context.Context, id uuid.UUID) (*model.JiraIntegration, error)
	GetByProjectKey(ctx context.Context, projectKey string) (*model.JiraIntegration, error)
	ListIntegrationsByProgram(ctx context.Context, programID uuid.UUID) ([]*model.JiraIntegration, error)

	GetByWBS(ctx context.Context, integrationID, wbsID uuid.UUID) (*model.JiraMapping, error)
	GetByActivity(ctx context.Context, integrationID, activityID uuid.UUID) (*model.JiraMapping, error)
	GetByIssueKey(ctx context.Context, integrationID uuid.UUID, issueKey string) (*model.JiraMapping, error)
	ListMappings(ctx context.Context, integrationID uuid.UUID) ([]*model.JiraMapping, error)
	Create(ctx context.Context, m *model.JiraMapping) error
	Update(ctx context.Context, m *model.JiraMapping) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SimulationRepository persists simulation configurations.
type SimulationRepository interface {
	CreateSimulationConfig(ctx context.Context, c *model.SimulationConfig) error
	GetSimulationConfig(ctx context.Context, id uuid.UUID) (*model.SimulationConfig, error)
}

// DependencyGraphRepository mirrors the dependency DAG into a graph
// database for cycle detection and transitive queries, independent of the
// in-memory network the schedule engine builds.
type DependencyGraphRepository interface {
	StoreDependency(ctx context.Context, d *model.Dependency) error
	DeleteDependencyEdge(ctx context.Context, predecessorID, successorID uuid.UUID) error
	WouldCreateCycle(ctx context.Context, predecessorID, successorID uuid.UUID) (bool, error)
	GetAllPredecessors(ctx context.Context, activityID uuid.UUID) ([]uuid.UUID, error)
	GetAllSuccessors(ctx context.Context, activityID uuid.UUID) ([]uuid.UUID, error)
	DeleteProgramGraph(ctx context.Context, programID uuid.UUID) error
}

// Store bundles every relational interface one backend implements.
type Store interface {
	ProgramRepository
	WBSRepository
	ActivityRepository
	DependencyRepository
	ResourceRepository
	EVMSRepository
	IntegrationRepository
	SimulationRepository
}
