package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironclad.dev/dpm/cpr"
	"ironclad.dev/dpm/evms"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/reportstore"
	"ironclad.dev/dpm/variance"
)

// Reports generates CPR data sets and variance analyses from the
// persisted EVMS series, optionally archiving each generation.
type Reports struct {
	svc     *Service
	archive *reportstore.Archive // nil = no archival
	now     func() time.Time
}

func NewReports(svc *Service, archive *reportstore.Archive) *Reports {
	return &Reports{svc: svc, archive: archive, now: func() time.Time { return time.Now().UTC() }}
}

// wbsData accumulates each WBS element's cumulative figures across every
// reporting period.
func (r *Reports) wbsData(ctx context.Context, programID uuid.UUID) ([]cpr.WBSData, []*model.EVMSPeriod, error) {
	elements, err := r.svc.store.ListWBSByProgram(ctx, programID)
	if err != nil {
		return nil, nil, err
	}
	periods, err := r.svc.store.ListPeriodsByProgram(ctx, programID)
	if err != nil {
		return nil, nil, err
	}

	sums := make(map[uuid.UUID]*cpr.WBSData, len(elements))
	data := make([]cpr.WBSData, 0, len(elements))
	for _, w := range elements {
		data = append(data, cpr.WBSData{Element: w})
		sums[w.ID] = &data[len(data)-1]
	}
	for _, p := range periods {
		rows, err := r.svc.store.ListPeriodData(ctx, p.ID)
		if err != nil {
			return nil, nil, err
		}
		for _, row := range rows {
			if d, ok := sums[row.WBSID]; ok {
				d.BCWS = d.BCWS.Add(row.BCWS)
				d.BCWP = d.BCWP.Add(row.BCWP)
				d.ACWP = d.ACWP.Add(row.ACWP)
			}
		}
	}
	return data, periods, nil
}

// Format1 generates the WBS rollup report.
func (r *Reports) Format1(ctx context.Context, programID uuid.UUID, opts cpr.Format1Options) (*cpr.Format1Report, error) {
	data, _, err := r.wbsData(ctx, programID)
	if err != nil {
		return nil, err
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = r.now()
	}
	report := cpr.GenerateFormat1(programID, data, opts)
	r.archiveReport(ctx, programID, reportstore.FormatCPR1, report.GeneratedAt, report)
	return report, nil
}

// Format3 generates the time-phased report against the program's
// baseline dates.
func (r *Reports) Format3(ctx context.Context, programID uuid.UUID, opts cpr.Format3Options) (*cpr.Format3Report, error) {
	program, err := r.svc.store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	periods, err := r.svc.store.ListPeriodsByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = r.now()
	}
	baseline := cpr.Baseline{
		ScheduledStart:  program.StartDate,
		ScheduledFinish: program.EndDate,
		DurationDays:    int(program.EndDate.Sub(program.StartDate).Hours() / 24),
	}
	report := cpr.GenerateFormat3(programID, periods, baseline, opts)
	r.archiveReport(ctx, programID, reportstore.FormatCPR3, report.GeneratedAt, report)
	return report, nil
}

// Format5 generates the EVMS report with the full EAC table, MR ledger,
// and variance explanations.
func (r *Reports) Format5(ctx context.Context, programID uuid.UUID, opts cpr.Format5Options) (*cpr.Format5Report, error) {
	program, err := r.svc.store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	data, periods, err := r.wbsData(ctx, programID)
	if err != nil {
		return nil, err
	}
	mrLog, err := r.svc.store.ListMRLog(ctx, programID)
	if err != nil {
		return nil, err
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = r.now()
	}
	report, err := cpr.GenerateFormat5(programID, decimal.Decimal(program.BAC), periods, data, mrLog, opts)
	if err != nil {
		return nil, err
	}
	r.archiveReport(ctx, programID, reportstore.FormatCPR5, report.GeneratedAt, report)
	return report, nil
}

// EVMSSummary evaluates the scalar formula set over the program's latest
// cumulative figures.
func (r *Reports) EVMSSummary(ctx context.Context, programID uuid.UUID) (*evms.Summary, error) {
	program, err := r.svc.store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	periods, err := r.svc.store.ListPeriodsByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	in := evms.Inputs{BAC: decimal.Decimal(program.BAC)}
	if len(periods) > 0 {
		latest := periods[len(periods)-1]
		in.BCWS = decimal.Decimal(latest.CumBCWS)
		in.BCWP = decimal.Decimal(latest.CumBCWP)
		in.ACWP = decimal.Decimal(latest.CumACWP)
	}
	summary := evms.Summarize(in)
	return &summary, nil
}

// VarianceAnalysis classifies every (WBS, period) variance pair for the
// program, with per-WBS history feeding the trend detection.
func (r *Reports) VarianceAnalysis(ctx context.Context, programID uuid.UUID, opts variance.Options) (*variance.ProgramResult, error) {
	periods, err := r.svc.store.ListPeriodsByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}

	type runningTotals struct {
		bcws, bcwp, acwp decimal.Decimal
		svHistory        []float64
		cvHistory        []float64
	}
	perWBS := make(map[uuid.UUID]*runningTotals)
	var inputs []variance.Input

	for _, p := range periods {
		rows, err := r.svc.store.ListPeriodData(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			totals := perWBS[row.WBSID]
			if totals == nil {
				totals = &runningTotals{}
				perWBS[row.WBSID] = totals
			}
			totals.bcws = totals.bcws.Add(row.BCWS)
			totals.bcwp = totals.bcwp.Add(row.BCWP)
			totals.acwp = totals.acwp.Add(row.ACWP)

			sv := totals.bcwp.Sub(totals.bcws)
			cv := totals.bcwp.Sub(totals.acwp)
			inputs = append(inputs,
				variance.Input{
					WBSID: row.WBSID, PeriodID: p.ID, Type: variance.TypeSchedule,
					Variance: sv, CumBCWS: totals.bcws,
					History: append([]float64{}, totals.svHistory...),
				},
				variance.Input{
					WBSID: row.WBSID, PeriodID: p.ID, Type: variance.TypeCost,
					Variance: cv, CumBCWS: totals.bcws,
					History: append([]float64{}, totals.cvHistory...),
				})

			if pct, ok := variance.Percent(sv, totals.bcws); ok {
				totals.svHistory = append(totals.svHistory, pct)
			}
			if pct, ok := variance.Percent(cv, totals.bcws); ok {
				totals.cvHistory = append(totals.cvHistory, pct)
			}
		}
	}

	result := variance.AnalyzeProgram(inputs, opts)
	return &result, nil
}

// archiveReport is best-effort: a dead archive never fails report
// generation.
func (r *Reports) archiveReport(ctx context.Context, programID uuid.UUID, format reportstore.Format, at time.Time, report interface{}) {
	if r.archive == nil {
		return
	}
	if _, err := r.archive.Put(ctx, programID, format, at, report); err != nil {
		r.svc.logger.WithError(err).Warn("report archival failed")
	}
}
