package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/db"
	"ironclad.dev/dpm/model"
)

// Postgres implements Store on PostgreSQL through GORM. Soft deletes use
// an explicit deleted_at IS NULL filter rather than GORM's DeletedAt
// type, so the domain structs stay ORM-free.
type Postgres struct {
	pg *db.PostgresDB
}

func NewPostgres(pg *db.PostgresDB) *Postgres {
	return &Postgres{pg: pg}
}

// Migrate creates or updates the relational schema for every entity.
func (r *Postgres) Migrate() error {
	return r.pg.AutoMigrate(
		&model.Program{},
		&model.WBSElement{},
		&model.Activity{},
		&model.Dependency{},
		&model.Resource{},
		&model.Assignment{},
		&model.EVMSPeriod{},
		&model.EVMSPeriodData{},
		&model.MRLogEntry{},
		&model.JiraIntegration{},
		&model.JiraMapping{},
		&model.JiraSyncLog{},
		&simConfigRecord{},
	)
}

// simConfigRecord stores simulation configs as a JSON payload; the
// per-activity distribution list has no natural relational shape worth a
// join table.
type simConfigRecord struct {
	ID        uuid.UUID `gorm:"primaryKey"`
	ProgramID uuid.UUID `gorm:"index"`
	Payload   []byte
	CreatedAt time.Time
}

func (simConfigRecord) TableName() string { return "simulation_configs" }

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(msg)
	}
	return apperrors.Transient("database error", err)
}

func (r *Postgres) alive(ctx context.Context) *gorm.DB {
	return r.pg.WithContext(ctx).Where("deleted_at IS NULL")
}

// Programs

func (r *Postgres) CreateProgram(ctx context.Context, p *model.Program) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(p).Error
}

func (r *Postgres) GetProgram(ctx context.Context, id uuid.UUID) (*model.Program, error) {
	var p model.Program
	if err := r.alive(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "program not found")
	}
	return &p, nil
}

func (r *Postgres) ListPrograms(ctx context.Context, owner string) ([]*model.Program, error) {
	q := r.alive(ctx).Order("code")
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	var out []*model.Program
	return out, q.Find(&out).Error
}

func (r *Postgres) UpdateProgram(ctx context.Context, p *model.Program) error {
	res := r.alive(ctx).Model(&model.Program{}).Where("id = ?", p.ID).Updates(p)
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("program not found")
	}
	return nil
}

// DeleteProgram soft-deletes a program and everything it owns in one
// transaction, and hard-deletes its Jira mappings.
func (r *Postgres) DeleteProgram(ctx context.Context, id uuid.UUID) error {
	ts := time.Now().UTC()
	return r.pg.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Program{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Update("deleted_at", ts)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("program not found")
		}
		for _, m := range []interface{}{
			&model.WBSElement{}, &model.Activity{}, &model.Dependency{},
			&model.EVMSPeriod{}, &model.MRLogEntry{}, &model.Resource{},
		} {
			if err := tx.Model(m).
				Where("program_id = ? AND deleted_at IS NULL", id).
				Update("deleted_at", ts).Error; err != nil {
				return err
			}
		}
		return tx.Where("integration_id IN (?)",
			tx.Model(&model.JiraIntegration{}).Select("id").Where("program_id = ?", id),
		).Delete(&model.JiraMapping{}).Error
	})
}

// WBS

func (r *Postgres) CreateWBS(ctx context.Context, w *model.WBSElement) error {
	if w.Level != strings.Count(w.Path, ".")+1 {
		return apperrors.Validation("wbs_level", "level must equal path depth")
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	var count int64
	if err := r.alive(ctx).Model(&model.WBSElement{}).
		Where("program_id = ? AND path = ?", w.ProgramID, w.Path).
		Count(&count).Error; err != nil {
		return apperrors.Transient("database error", err)
	}
	if count > 0 {
		return apperrors.Validation("wbs_path_unique", "path already exists in program")
	}
	return r.pg.WithContext(ctx).Create(w).Error
}

func (r *Postgres) GetWBS(ctx context.Context, id uuid.UUID) (*model.WBSElement, error) {
	var w model.WBSElement
	if err := r.alive(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "wbs element not found")
	}
	return &w, nil
}

func (r *Postgres) ListWBSByProgram(ctx context.Context, programID uuid.UUID) ([]*model.WBSElement, error) {
	var out []*model.WBSElement
	return out, r.alive(ctx).Where("program_id = ?", programID).Order("path").Find(&out).Error
}

func (r *Postgres) UpdateWBS(ctx context.Context, w *model.WBSElement) error {
	res := r.alive(ctx).Model(&model.WBSElement{}).Where("id = ?", w.ID).Updates(w)
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("wbs element not found")
	}
	return nil
}

// DeleteWBS soft-deletes the element, its path descendants, and their
// activities together.
func (r *Postgres) DeleteWBS(ctx context.Context, id uuid.UUID) error {
	ts := time.Now().UTC()
	return r.pg.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var root model.WBSElement
		if err := tx.Where("deleted_at IS NULL").First(&root, "id = ?", id).Error; err != nil {
			return notFound(err, "wbs element not found")
		}
		doomed := tx.Model(&model.WBSElement{}).Select("id").
			Where("program_id = ? AND deleted_at IS NULL", root.ProgramID).
			Where("id = ? OR path LIKE ?", root.ID, root.Path+".%")
		if err := tx.Model(&model.Activity{}).
			Where("wbs_id IN (?) AND deleted_at IS NULL", doomed).
			Update("deleted_at", ts).Error; err != nil {
			return err
		}
		return tx.Model(&model.WBSElement{}).
			Where("program_id = ? AND deleted_at IS NULL", root.ProgramID).
			Where("id = ? OR path LIKE ?", root.ID, root.Path+".%").
			Update("deleted_at", ts).Error
	})
}

// Activities

func (r *Postgres) CreateActivity(ctx context.Context, a *model.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var count int64
	if err := r.alive(ctx).Model(&model.Activity{}).
		Where("program_id = ? AND code = ?", a.ProgramID, a.Code).
		Count(&count).Error; err != nil {
		return apperrors.Transient("database error", err)
	}
	if count > 0 {
		return apperrors.Validation("activity_code_unique", "code already exists in program")
	}
	return r.pg.WithContext(ctx).Create(a).Error
}

func (r *Postgres) GetActivity(ctx context.Context, id uuid.UUID) (*model.Activity, error) {
	var a model.Activity
	if err := r.alive(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "activity not found")
	}
	return &a, nil
}

func (r *Postgres) ListActivitiesByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Activity, error) {
	var out []*model.Activity
	return out, r.alive(ctx).Where("program_id = ?", programID).Order("code").Find(&out).Error
}

func (r *Postgres) UpdateActivity(ctx context.Context, a *model.Activity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	res := r.alive(ctx).Model(&model.Activity{}).Where("id = ?", a.ID).Updates(a)
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("activity not found")
	}
	return nil
}

func (r *Postgres) DeleteActivity(ctx context.Context, id uuid.UUID) error {
	ts := time.Now().UTC()
	return r.pg.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Activity{}).
			Where("id = ? AND deleted_at IS NULL", id).
			Update("deleted_at", ts)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("activity not found")
		}
		return tx.Model(&model.Dependency{}).
			Where("(predecessor_id = ? OR successor_id = ?) AND deleted_at IS NULL", id, id).
			Update("deleted_at", ts).Error
	})
}

// SaveCPMResults persists the schedule engine's outputs for a whole
// program in one transaction.
func (r *Postgres) SaveCPMResults(ctx context.Context, programID uuid.UUID, results []*model.Activity) error {
	return r.pg.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range results {
			res := tx.Model(&model.Activity{}).
				Where("id = ? AND program_id = ? AND deleted_at IS NULL", a.ID, programID).
				Updates(map[string]interface{}{
					"early_start": a.EarlyStart, "early_finish": a.EarlyFinish,
					"late_start": a.LateStart, "late_finish": a.LateFinish,
					"total_float": a.TotalFloat, "free_float": a.FreeFloat,
					"is_critical": a.IsCritical,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.NotFound("activity not found in program")
			}
		}
		return nil
	})
}

// ApplyPlannedDates writes a leveling run's proposed dates atomically.
func (r *Postgres) ApplyPlannedDates(ctx context.Context, programID uuid.UUID, dates map[uuid.UUID]PlannedWindow) error {
	return r.pg.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, w := range dates {
			res := tx.Model(&model.Activity{}).
				Where("id = ? AND program_id = ? AND deleted_at IS NULL", id, programID).
				Updates(map[string]interface{}{
					"planned_start":  w.Start,
					"planned_finish": w.Finish,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperrors.NotFound("activity not found in program")
			}
		}
		return nil
	})
}

// Dependencies

func (r *Postgres) CreateDependency(ctx context.Context, d *model.Dependency) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	var count int64
	if err := r.alive(ctx).Model(&model.Dependency{}).
		Where("predecessor_id = ? AND successor_id = ?", d.PredecessorID, d.SuccessorID).
		Count(&count).Error; err != nil {
		return apperrors.Transient("database error", err)
	}
	if count > 0 {
		return apperrors.Validation("dependency_unique", "edge already exists")
	}
	return r.pg.WithContext(ctx).Create(d).Error
}

func (r *Postgres) GetDependency(ctx context.Context, id uuid.UUID) (*model.Dependency, error) {
	var d model.Dependency
	if err := r.alive(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "dependency not found")
	}
	return &d, nil
}

func (r *Postgres) ListDependenciesByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Dependency, error) {
	var out []*model.Dependency
	return out, r.alive(ctx).Where("program_id = ?", programID).Order("id").Find(&out).Error
}

func (r *Postgres) DeleteDependency(ctx context.Context, id uuid.UUID) error {
	res := r.pg.WithContext(ctx).Model(&model.Dependency{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC())
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("dependency not found")
	}
	return nil
}

// Resources and assignments

func (r *Postgres) CreateResource(ctx context.Context, res *model.Resource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(res).Error
}

func (r *Postgres) GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error) {
	var res model.Resource
	if err := r.alive(ctx).First(&res, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "resource not found")
	}
	return &res, nil
}

func (r *Postgres) ListResourcesByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Resource, error) {
	var out []*model.Resource
	return out, r.alive(ctx).Where("program_id = ?", programID).Order("code").Find(&out).Error
}

func (r *Postgres) UpdateResource(ctx context.Context, res *model.Resource) error {
	result := r.alive(ctx).Model(&model.Resource{}).Where("id = ?", res.ID).Updates(res)
	if result.Error != nil {
		return apperrors.Transient("database error", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("resource not found")
	}
	return nil
}

func (r *Postgres) DeleteResource(ctx context.Context, id uuid.UUID) error {
	res := r.pg.WithContext(ctx).Model(&model.Resource{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC())
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("resource not found")
	}
	return nil
}

func (r *Postgres) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(a).Error
}

func (r *Postgres) ListAssignmentsByActivity(ctx context.Context, activityID uuid.UUID) ([]*model.Assignment, error) {
	var out []*model.Assignment
	return out, r.alive(ctx).Where("activity_id = ?", activityID).Find(&out).Error
}

func (r *Postgres) ListAssignmentsByResource(ctx context.Context, resourceID uuid.UUID) ([]*model.Assignment, error) {
	var out []*model.Assignment
	return out, r.alive(ctx).Where("resource_id = ?", resourceID).Find(&out).Error
}

func (r *Postgres) ListAssignmentsByProgram(ctx context.Context, programID uuid.UUID) ([]*model.Assignment, error) {
	var out []*model.Assignment
	sub := r.pg.WithContext(ctx).Model(&model.Activity{}).Select("id").
		Where("program_id = ? AND deleted_at IS NULL", programID)
	return out, r.alive(ctx).Where("activity_id IN (?)", sub).Find(&out).Error
}

func (r *Postgres) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	res := r.pg.WithContext(ctx).Model(&model.Assignment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC())
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("assignment not found")
	}
	return nil
}

// EVMS periods and MR log

func (r *Postgres) CreatePeriod(ctx context.Context, p *model.EVMSPeriod) error {
	if p.End.Before(p.Start) {
		return apperrors.Validation("period_range", "period end precedes start")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(p).Error
}

func (r *Postgres) ListPeriodsByProgram(ctx context.Context, programID uuid.UUID) ([]*model.EVMSPeriod, error) {
	var out []*model.EVMSPeriod
	return out, r.alive(ctx).Where("program_id = ?", programID).Order("start").Find(&out).Error
}

func (r *Postgres) CreatePeriodData(ctx context.Context, d *model.EVMSPeriodData) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(d).Error
}

func (r *Postgres) ListPeriodData(ctx context.Context, periodID uuid.UUID) ([]*model.EVMSPeriodData, error) {
	var out []*model.EVMSPeriodData
	return out, r.alive(ctx).Where("period_id = ?", periodID).Find(&out).Error
}

// AppendMRLogEntry validates the ledger chain against the latest entry
// inside the insert transaction, so concurrent appends cannot interleave.
func (r *Postgres) AppendMRLogEntry(ctx context.Context, e *model.MRLogEntry) error {
	expected := e.BeginningMR.Add(e.ChangesIn).Sub(e.ChangesOut)
	if !expected.Equal(e.EndingMR) {
		return apperrors.Validation("mr_unbalanced", "ending MR must equal beginning + in - out")
	}
	if e.EndingMR.IsNegative() {
		return apperrors.Validation("mr_negative", "ending MR must not be negative")
	}
	return r.pg.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize appends per program until this transaction ends.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", e.ProgramID.String()).Error; err != nil {
			return err
		}
		var last model.MRLogEntry
		err := tx.Where("program_id = ? AND deleted_at IS NULL", e.ProgramID).
			Order("sequence DESC").First(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			e.Sequence = 1
		case err != nil:
			return err
		default:
			if !e.BeginningMR.Equal(last.EndingMR) {
				return apperrors.Validation("mr_chain_broken", "beginning MR must equal the previous ending MR")
			}
			e.Sequence = last.Sequence + 1
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		return tx.Create(e).Error
	})
}

func (r *Postgres) ListMRLog(ctx context.Context, programID uuid.UUID) ([]*model.MRLogEntry, error) {
	var out []*model.MRLogEntry
	return out, r.alive(ctx).Where("program_id = ?", programID).Order("sequence").Find(&out).Error
}

// Integrations and mappings

func (r *Postgres) CreateIntegration(ctx context.Context, i *model.JiraIntegration) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(i).Error
}

func (r *Postgres) GetIntegration(ctx context.Context, id uuid.UUID) (*model.JiraIntegration, error) {
	var i model.JiraIntegration
	if err := r.alive(ctx).First(&i, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "integration not found")
	}
	return &i, nil
}

func (r *Postgres) GetByProjectKey(ctx context.Context, projectKey string) (*model.JiraIntegration, error) {
	var i model.JiraIntegration
	err := r.alive(ctx).First(&i, "project_key = ?", projectKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.IntegrationNotFound("no integration for project " + projectKey)
	}
	if err != nil {
		return nil, apperrors.Transient("database error", err)
	}
	return &i, nil
}

func (r *Postgres) ListIntegrationsByProgram(ctx context.Context, programID uuid.UUID) ([]*model.JiraIntegration, error) {
	var out []*model.JiraIntegration
	return out, r.alive(ctx).Where("program_id = ?", programID).Find(&out).Error
}

func (r *Postgres) GetByWBS(ctx context.Context, integrationID, wbsID uuid.UUID) (*model.JiraMapping, error) {
	var m model.JiraMapping
	if err := r.pg.WithContext(ctx).
		First(&m, "integration_id = ? AND wbs_id = ?", integrationID, wbsID).Error; err != nil {
		return nil, notFound(err, "mapping not found")
	}
	return &m, nil
}

func (r *Postgres) GetByActivity(ctx context.Context, integrationID, activityID uuid.UUID) (*model.JiraMapping, error) {
	var m model.JiraMapping
	if err := r.pg.WithContext(ctx).
		First(&m, "integration_id = ? AND activity_id = ?", integrationID, activityID).Error; err != nil {
		return nil, notFound(err, "mapping not found")
	}
	return &m, nil
}

func (r *Postgres) GetByIssueKey(ctx context.Context, integrationID uuid.UUID, issueKey string) (*model.JiraMapping, error) {
	var m model.JiraMapping
	if err := r.pg.WithContext(ctx).
		First(&m, "integration_id = ? AND jira_issue_key = ?", integrationID, issueKey).Error; err != nil {
		return nil, notFound(err, "mapping not found")
	}
	return &m, nil
}

func (r *Postgres) ListMappings(ctx context.Context, integrationID uuid.UUID) ([]*model.JiraMapping, error) {
	var out []*model.JiraMapping
	return out, r.pg.WithContext(ctx).
		Where("integration_id = ?", integrationID).Order("jira_issue_key").Find(&out).Error
}

func (r *Postgres) Create(ctx context.Context, m *model.JiraMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.pg.WithContext(ctx).Create(m).Error
}

func (r *Postgres) Update(ctx context.Context, m *model.JiraMapping) error {
	res := r.pg.WithContext(ctx).Model(&model.JiraMapping{}).Where("id = ?", m.ID).Updates(m)
	if res.Error != nil {
		return apperrors.Transient("database error", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("mapping not found")
	}
	return nil
}

// Delete hard-deletes a mapping; absent rows are a no-op so webhook
// double delivery stays idempotent.
func (r *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	return r.pg.WithContext(ctx).Delete(&model.JiraMapping{}, "id = ?", id).Error
}

// Simulation configs

func (r *Postgres) CreateSimulationConfig(ctx context.Context, c *model.SimulationConfig) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.pg.WithContext(ctx).Create(&simConfigRecord{
		ID:        c.ID,
		ProgramID: c.ProgramID,
		Payload:   payload,
	}).Error
}

func (r *Postgres) GetSimulationConfig(ctx context.Context, id uuid.UUID) (*model.SimulationConfig, error) {
	var rec simConfigRecord
	if err := r.pg.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "simulation config not found")
	}
	var c model.SimulationConfig
	if err := json.Unmarshal(rec.Payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ Store = (*Postgres)(nil)
