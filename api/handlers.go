package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ironclad.dev/dpm/auditlog"
	"ironclad.dev/dpm/cpr"
	"ironclad.dev/dpm/db/repository"
	"ironclad.dev/dpm/jirasync"
	"ironclad.dev/dpm/leveling"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/msproject"
	"ironclad.dev/dpm/service"
	"ironclad.dev/dpm/variance"
)

// Handlers owns the route set over the schedule service, reports, sync
// engine, and audit log.
type Handlers struct {
	svc     *service.Service
	reports *service.Reports
	sync    *jirasync.Engine
	store   repository.Store
	log     auditlog.Recorder
}

func NewHandlers(svc *service.Service, reports *service.Reports, sync *jirasync.Engine,
	store repository.Store, log auditlog.Recorder) *Handlers {
	return &Handlers{svc: svc, reports: reports, sync: sync, store: store, log: log}
}

// Register wires every route onto the server.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	programs := e.Group("/programs/:id")
	programs.POST("/schedule/calculate", h.calculateSchedule)
	programs.GET("/critical-path", h.criticalPath)
	programs.POST("/level", h.levelSerial)
	programs.POST("/level/parallel", h.levelParallel)
	programs.POST("/level/compare", h.levelCompare)
	programs.POST("/level/apply", h.levelApply)
	programs.GET("/overallocation", h.overAllocation)
	programs.POST("/dependencies", h.addDependency)
	programs.POST("/import/msproject", h.importMSProject)
	programs.GET("/evms-summary", h.evmsSummary)
	programs.GET("/variance", h.varianceAnalysis)
	programs.GET("/audit-log", h.auditLog)

	e.POST("/simulations/:cfg/run-network", h.runSimulation)

	e.GET("/reports/cpr-format1/:program_id", h.cprFormat1)
	e.GET("/reports/cpr-format3/:program_id", h.cprFormat3)
	e.GET("/reports/cpr-format5/:program_id", h.cprFormat5)

	e.POST("/integrations/:id/push-wbs", h.pushWBS)
	e.POST("/integrations/:id/push-activities", h.pushActivities)
	e.POST("/integrations/:id/pull", h.pull)
	e.POST("/integrations/:id/sync-progress", h.syncProgress)

	e.POST("/webhooks/jira", h.jiraWebhook)
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "malformed "+name)
	}
	return id, nil
}

func (h *Handlers) calculateSchedule(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	force := c.QueryParam("force") == "true"
	res, hit, err := h.svc.CalculateSchedule(c.Request().Context(), id, force)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"project_duration": res.ProjectDuration,
		"activities":       res.Activities,
		"from_cache":       hit,
	})
}

func (h *Handlers) criticalPath(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	path, err := h.svc.CriticalPath(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"critical_path": path})
}

// levelRequest is the options body shared by the leveling endpoints.
type levelRequest struct {
	MaxIterations        int    `json:"max_iterations"`
	PreserveCriticalPath bool   `json:"preserve_critical_path"`
	LevelWithinFloat     bool   `json:"level_within_float"`
	Algorithm            string `json:"algorithm"` // apply only: "serial" | "parallel"
}

func (r levelRequest) options() leveling.Options {
	return leveling.Options{
		MaxIterations:        r.MaxIterations,
		PreserveCriticalPath: r.PreserveCriticalPath,
		LevelWithinFloat:     r.LevelWithinFloat,
	}
}

func (h *Handlers) levelSerial(c echo.Context) error {
	return h.level(c, leveling.AlgorithmSerial)
}

func (h *Handlers) levelParallel(c echo.Context) error {
	return h.level(c, leveling.AlgorithmParallel)
}

func (h *Handlers) level(c echo.Context, alg leveling.Algorithm) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req levelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	var res *leveling.Result
	if alg == leveling.AlgorithmParallel {
		res, err = h.svc.LevelParallel(c.Request().Context(), id, req.options())
	} else {
		res, err = h.svc.LevelSerial(c.Request().Context(), id, req.options())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) levelCompare(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req levelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	cmp, err := h.svc.CompareLeveling(c.Request().Context(), id, req.options())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cmp)
}

// levelApply re-runs the chosen algorithm and applies the proposal in
// one transaction.
func (h *Handlers) levelApply(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req levelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	ctx := c.Request().Context()

	var res *leveling.Result
	if req.Algorithm == string(leveling.AlgorithmParallel) {
		res, err = h.svc.LevelParallel(ctx, id, req.options())
	} else {
		res, err = h.svc.LevelSerial(ctx, id, req.options())
	}
	if err != nil {
		return err
	}
	if err := h.svc.ApplyLeveling(ctx, Principal(c), id, res); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) overAllocation(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	from, to, err := dateRange(c)
	if err != nil {
		return err
	}
	report, err := h.svc.OverAllocationReport(c.Request().Context(), id, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func dateRange(c echo.Context) (time.Time, time.Time, error) {
	parse := func(name string, fallback time.Time) (time.Time, error) {
		v := c.QueryParam(name)
		if v == "" {
			return fallback, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "malformed "+name)
		}
		return t, nil
	}
	nowUTC := time.Now().UTC()
	from, err := parse("from", nowUTC.AddDate(0, -1, 0))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse("to", nowUTC.AddDate(0, 2, 0))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

type dependencyRequest struct {
	PredecessorID uuid.UUID            `json:"predecessor_id"`
	SuccessorID   uuid.UUID            `json:"successor_id"`
	Type          model.DependencyType `json:"type"`
	Lag           int                  `json:"lag"`
}

func (h *Handlers) addDependency(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req dependencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	dep := &model.Dependency{
		ProgramID:     id,
		PredecessorID: req.PredecessorID,
		SuccessorID:   req.SuccessorID,
		Type:          req.Type,
		Lag:           req.Lag,
	}
	if err := h.svc.AddDependency(c.Request().Context(), Principal(c), dep); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, dep)
}

// importMSProject accepts an MS Project XML document, converts it, and
// persists the activities and dependencies under the given WBS element.
func (h *Handlers) importMSProject(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	wbsID, err := uuid.Parse(c.QueryParam("wbs_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed wbs_id")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	doc, err := msproject.Parse(body)
	if err != nil {
		return err
	}
	activities, deps, err := msproject.ToActivities(doc, id, wbsID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	for _, a := range activities {
		if err := h.store.CreateActivity(ctx, a); err != nil {
			return err
		}
	}
	for _, d := range deps {
		if err := h.svc.AddDependency(ctx, Principal(c), d); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, map[string]int{
		"activities_imported":   len(activities),
		"dependencies_imported": len(deps),
	})
}

func (h *Handlers) evmsSummary(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	summary, err := h.reports.EVMSSummary(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handlers) varianceAnalysis(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.reports.VarianceAnalysis(c.Request().Context(), id, variance.Options{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) auditLog(c echo.Context) error {
	if _, err := pathUUID(c, "id"); err != nil {
		return err
	}
	integrationID, err := uuid.Parse(c.QueryParam("integration_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed integration_id")
	}
	entries, err := h.log.ListByIntegration(c.Request().Context(), integrationID, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
		"stats":   auditlog.Summarize(entries),
	})
}

func (h *Handlers) runSimulation(c echo.Context) error {
	cfgID, err := pathUUID(c, "cfg")
	if err != nil {
		return err
	}
	force := c.QueryParam("force") == "true"
	res, hit, err := h.svc.RunSimulation(c.Request().Context(), cfgID, force)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"result":     res,
		"from_cache": hit,
	})
}

func (h *Handlers) cprFormat1(c echo.Context) error {
	id, err := pathUUID(c, "program_id")
	if err != nil {
		return err
	}
	report, err := h.reports.Format1(c.Request().Context(), id, cpr.Format1Options{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handlers) cprFormat3(c echo.Context) error {
	id, err := pathUUID(c, "program_id")
	if err != nil {
		return err
	}
	report, err := h.reports.Format3(c.Request().Context(), id, cpr.Format3Options{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handlers) cprFormat5(c echo.Context) error {
	id, err := pathUUID(c, "program_id")
	if err != nil {
		return err
	}
	report, err := h.reports.Format5(c.Request().Context(), id, cpr.Format5Options{})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Sync endpoints

func (h *Handlers) integration(c echo.Context) (*model.JiraIntegration, error) {
	id, err := pathUUID(c, "id")
	if err != nil {
		return nil, err
	}
	return h.store.GetIntegration(c.Request().Context(), id)
}

func (h *Handlers) pushWBS(c echo.Context) error {
	integ, err := h.integration(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	elems, err := h.store.ListWBSByProgram(ctx, integ.ProgramID)
	if err != nil {
		return err
	}
	batch, err := h.sync.PushWBS(ctx, integ, elems)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

func (h *Handlers) pushActivities(c echo.Context) error {
	integ, err := h.integration(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	acts, err := h.store.ListActivitiesByProgram(ctx, integ.ProgramID)
	if err != nil {
		return err
	}
	batch, err := h.sync.PushActivities(ctx, integ, acts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

func (h *Handlers) pull(c echo.Context) error {
	integ, err := h.integration(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	mappings, err := h.store.ListMappings(ctx, integ.ID)
	if err != nil {
		return err
	}
	batch, err := h.sync.Pull(ctx, integ, mappings)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

func (h *Handlers) syncProgress(c echo.Context) error {
	integ, err := h.integration(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	acts, err := h.store.ListActivitiesByProgram(ctx, integ.ProgramID)
	if err != nil {
		return err
	}
	batch, err := h.sync.SyncProgress(ctx, integ, acts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

// jiraWebhook always answers 200 with a structured body; an invalid
// signature is the only 401.
func (h *Handlers) jiraWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	// The secret belongs to the integration the payload addresses; peek
	// at the project key to find it. No integration means no secret and
	// verification is bypassed, with the ignore recorded downstream.
	secret := ""
	var peek jirasync.WebhookPayload
	if err := json.Unmarshal(body, &peek); err == nil && peek.Issue != nil && peek.Issue.Fields.Project != nil {
		if integ, err := h.store.GetByProjectKey(c.Request().Context(), peek.Issue.Fields.Project.Key); err == nil {
			secret = integ.WebhookSecret
		}
	}

	resp, ok := h.sync.ProcessWebhook(c.Request().Context(), body,
		c.Request().Header.Get("X-Hub-Signature"), secret)
	if !ok {
		return c.JSON(http.StatusUnauthorized, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
