// Package model defines the entities shared across the schedule and
// earned-value engine: programs, WBS elements, activities, dependencies,
// resources, assignments, EVMS periods, the management-reserve log, and
// the Jira integration mappings and sync log. IDs are opaque 128-bit
// identifiers (google/uuid); money fields use shopspring/decimal fixed
// at 2 fractional digits, rounded half-up on every derived calculation.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironclad.dev/dpm/apperrors"
)

// Money wraps decimal.Decimal rounded to 2 fractional digits, the 15.2
// fixed-point convention required by the data model. Go has no native
// fixed-width decimal type, so the 15-integer-digit bound is enforced as
// a validation rule at the repository write boundary, not here.
type Money = decimal.Decimal

// NewMoney builds a Money value rounded half-up to 2 places.
func NewMoney(v float64) Money {
	return decimal.NewFromFloat(v).Round(2)
}

func RoundMoney(d decimal.Decimal) Money { return d.Round(2) }

type ProgramStatus string

const (
	ProgramPlanning ProgramStatus = "planning"
	ProgramActive   ProgramStatus = "active"
	ProgramComplete ProgramStatus = "complete"
	ProgramOnHold   ProgramStatus = "on_hold"
)

type Program struct {
	ID        uuid.UUID
	Owner     string // opaque principal ID; authentication is out of scope
	Code      string
	Status    ProgramStatus
	StartDate time.Time
	EndDate   time.Time
	BAC       Money
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// WBSElement forms a hierarchy within a Program via Parent (nil for root)
// and a materialized dot-delimited Path, e.g. "1.2.3". Level equals the
// path depth (root = 1).
type WBSElement struct {
	ID             uuid.UUID
	ProgramID      uuid.UUID
	Parent         *uuid.UUID
	Path           string
	Level          int
	WBSCode        string
	Name           string
	Description    string
	BAC            Money
	ControlAccount bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

type ConstraintType string

const (
	ConstraintASAP ConstraintType = "asap"
	ConstraintALAP ConstraintType = "alap"
	ConstraintSNET ConstraintType = "snet"
	ConstraintSNLT ConstraintType = "snlt"
	ConstraintFNET ConstraintType = "fnet"
	ConstraintFNLT ConstraintType = "fnlt"
)

// Activity belongs to one Program and one WBSElement. Duration is in
// non-negative integer working days; CPM output fields are populated by
// the cpm package and persisted back through the repository layer.
type Activity struct {
	ID         uuid.UUID
	ProgramID  uuid.UUID
	WBSID      uuid.UUID
	Code       string
	Name       string
	Duration   int
	Milestone  bool

	PlannedStart  *time.Time
	PlannedFinish *time.Time
	ActualStart   *time.Time
	ActualFinish  *time.Time

	Constraint     ConstraintType
	ConstraintDate *time.Time

	// CPM outputs, day offsets from the network's project start.
	EarlyStart  int
	EarlyFinish int
	LateStart   int
	LateFinish  int
	TotalFloat  int
	FreeFloat   int
	IsCritical  bool

	PercentComplete   float64
	BCWSAtCompletion  Money
	ACWPToDate        Money

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Validate checks the invariants owned by Activity itself (not the
// network, which owns edge-level invariants).
func (a *Activity) Validate() error {
	if a.Duration < 0 {
		return validationErr("negative_duration", "activity duration must be >= 0")
	}
	if a.Milestone && a.Duration != 0 {
		return validationErr("milestone_duration", "a milestone must have duration 0")
	}
	return nil
}

type DependencyType string

const (
	DependencyFS DependencyType = "FS"
	DependencySS DependencyType = "SS"
	DependencyFF DependencyType = "FF"
	DependencySF DependencyType = "SF"
)

// Dependency is an edge predecessor -> successor. Lag is integer working
// days; negative values are leads.
type Dependency struct {
	ID            uuid.UUID
	ProgramID     uuid.UUID
	PredecessorID uuid.UUID
	SuccessorID   uuid.UUID
	Type          DependencyType
	Lag           int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

func (d *Dependency) Validate() error {
	if d.PredecessorID == d.SuccessorID {
		return validationErr("self_dependency", "predecessor and successor must differ")
	}
	return nil
}

type ResourceType string

const (
	ResourceLabor     ResourceType = "labor"
	ResourceEquipment ResourceType = "equipment"
	ResourceMaterial  ResourceType = "material"
)

type Resource struct {
	ID              uuid.UUID
	ProgramID       uuid.UUID
	Code            string
	Name            string
	Type            ResourceType
	CapacityPerDay  float64 // hours for labor/equipment; quantity for material
	CostRate        Money
	QuantityAvailable float64
	QuantityUnit      string
	UnitCost          Money
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Assignment links an Activity to a Resource. Units is a fraction of the
// resource's daily capacity for labor/equipment; material assignments use
// QuantityAssigned/QuantityConsumed instead and contribute zero to
// resource loading: material is consumed, not capacity.
type Assignment struct {
	ID               uuid.UUID
	ActivityID       uuid.UUID
	ResourceID       uuid.UUID
	Units            float64
	QuantityAssigned float64
	QuantityConsumed float64
	PlannedHours     float64
	ActualHours      float64
	PlannedCost      Money
	ActualCost       Money
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// EVMSPeriod names a reporting window and stores cumulative BCWS/BCWP/ACWP.
type EVMSPeriod struct {
	ID        uuid.UUID
	ProgramID uuid.UUID
	Label     string
	Start     time.Time
	End       time.Time
	CumBCWS   Money
	CumBCWP   Money
	CumACWP   Money
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// EVMSPeriodData is (period x WBS): per-WBS incremental BCWS/BCWP/ACWP.
type EVMSPeriodData struct {
	ID        uuid.UUID
	PeriodID  uuid.UUID
	WBSID     uuid.UUID
	BCWS      Money
	BCWP      Money
	ACWP      Money
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// MRLogEntry is one ordered entry in a program's management-reserve log.
// EndingMR = BeginningMR + ChangesIn - ChangesOut, and the BeginningMR of
// entry n+1 equals the EndingMR of entry n.
type MRLogEntry struct {
	ID          uuid.UUID
	ProgramID   uuid.UUID
	Sequence    int
	BeginningMR Money
	ChangesIn   Money
	ChangesOut  Money
	EndingMR    Money
	Reason      string
	PeriodID    *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// JiraIntegration is one program's connection to a Jira project. The
// webhook secret is optional; when empty, inbound signature verification
// is bypassed.
type JiraIntegration struct {
	ID             uuid.UUID
	ProgramID      uuid.UUID
	BaseURL        string
	ProjectKey     string
	Email          string
	APIToken       string
	WebhookSecret  string
	Enabled        bool
	EpicIssueType  string // defaults to "Epic"
	TaskIssueType  string // defaults to "Task"
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

type SyncDirection string

const (
	SyncToJira       SyncDirection = "to_jira"
	SyncFromJira     SyncDirection = "from_jira"
	SyncBidirectional SyncDirection = "bidirectional"
)

// JiraMapping ties exactly one of WBSID/ActivityID to a Jira issue.
// Hard-deleted when the Jira issue is deleted.
type JiraMapping struct {
	ID               uuid.UUID
	IntegrationID    uuid.UUID
	WBSID            *uuid.UUID
	ActivityID       *uuid.UUID
	JiraIssueKey     string
	JiraIssueID      string
	SyncDirection    SyncDirection
	LastSyncedAt     time.Time
	LastJiraUpdated  time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *JiraMapping) Validate() error {
	if (m.WBSID == nil) == (m.ActivityID == nil) {
		return validationErr("mapping_target", "exactly one of wbs_id/activity_id must be set")
	}
	return nil
}

type SyncType string

const (
	SyncPush    SyncType = "push"
	SyncPull    SyncType = "pull"
	SyncWebhook SyncType = "webhook"
)

type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
)

// JiraSyncLog is append-only: one row per sync operation, never mutated.
type JiraSyncLog struct {
	ID            uuid.UUID
	IntegrationID uuid.UUID
	MappingID     *uuid.UUID
	SyncType      SyncType
	Status        SyncStatus
	ItemsSynced   int
	ItemsFailed   int
	ErrorMessage  string
	DurationMS    int64
	Timestamp     time.Time
}

// DistributionKind names a Monte Carlo sampling distribution.
type DistributionKind string

const (
	DistTriangular DistributionKind = "triangular"
	DistPERT       DistributionKind = "pert"
	DistNormal     DistributionKind = "normal"
	DistUniform    DistributionKind = "uniform"
)

// DurationDistribution is the per-activity sampling config for an
// activity's duration in a Monte Carlo run.
type DurationDistribution struct {
	ActivityID uuid.UUID
	Kind       DistributionKind
	Min        float64
	Mode       float64
	Max        float64
	Mean       float64
	StdDev     float64
}

type SimulationConfig struct {
	ID            uuid.UUID
	ProgramID     uuid.UUID
	Iterations    int
	Seed          *int64
	Distributions []DurationDistribution
	NetworkMode   bool // quick mode vs network (per-iteration CPM) mode
}

func validationErr(code, msg string) error {
	return apperrors.Validation(code, msg)
}
