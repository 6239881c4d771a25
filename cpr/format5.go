package cpr

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironclad.dev/dpm/evms"
	"ironclad.dev/dpm/model"
)

// EACEntry is one estimate-at-completion method's result; Value is nil
// when the method is undefined for the program's current figures.
type EACEntry struct {
	Method evms.EACMethod   `json:"method"`
	Value  *decimal.Decimal `json:"value,omitempty"`
}

// Format5PeriodRow carries the signed cumulative variance percentages for
// one reporting period.
type Format5PeriodRow struct {
	PeriodID uuid.UUID        `json:"period_id"`
	Label    string           `json:"label"`
	SVPct    *decimal.Decimal `json:"sv_pct,omitempty"`
	CVPct    *decimal.Decimal `json:"cv_pct,omitempty"`
}

// VarianceExplanation is one WBS element whose variance breaches the
// explanation threshold, sorted by magnitude.
type VarianceExplanation struct {
	WBSID           uuid.UUID       `json:"wbs_id"`
	WBSCode         string          `json:"wbs_code"`
	Type            string          `json:"type"` // "schedule" or "cost"
	VariancePercent decimal.Decimal `json:"variance_percent"`
	Explanation     string          `json:"explanation"`
}

// Format5Report is the EVMS summary report: the full EAC method table
// with the selected method, period variance percentages, the
// management-reserve ledger, and the variance-explanation rows.
type Format5Report struct {
	ProgramID       uuid.UUID             `json:"program_id"`
	GeneratedAt     time.Time             `json:"generated_at"`
	EACs            []EACEntry            `json:"eacs"`
	SelectedEAC     evms.EACMethod        `json:"selected_eac"`
	Periods         []Format5PeriodRow    `json:"periods"`
	MRTable         []MRRow               `json:"mr_table"`
	Explanations    []VarianceExplanation `json:"explanations"`
	CumSVPct        *decimal.Decimal      `json:"cum_sv_pct,omitempty"`
	CumCVPct        *decimal.Decimal      `json:"cum_cv_pct,omitempty"`
}

type Format5Options struct {
	VarianceThresholdPercent float64 // default 10
	GeneratedAt              time.Time
	ManagerETC               *decimal.Decimal
}

// GenerateFormat5 builds the EVMS report from the program totals, the
// period series, the WBS data, and the MR log.
func GenerateFormat5(programID uuid.UUID, bac decimal.Decimal, periods []*model.EVMSPeriod,
	wbsData []WBSData, mrLog []*model.MRLogEntry, opts Format5Options) (*Format5Report, error) {

	threshold := opts.VarianceThresholdPercent
	if threshold == 0 {
		threshold = 10
	}
	if err := ValidateMRLog(mrLog); err != nil {
		return nil, err
	}

	sorted := append([]*model.EVMSPeriod{}, periods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	report := &Format5Report{
		ProgramID:   programID,
		GeneratedAt: opts.GeneratedAt,
		MRTable:     mrTable(mrLog),
	}

	var cum evms.Inputs
	cum.BAC = bac
	cum.ManagerETC = opts.ManagerETC
	for _, p := range sorted {
		cum.BCWS = decimal.Decimal(p.CumBCWS)
		cum.BCWP = decimal.Decimal(p.CumBCWP)
		cum.ACWP = decimal.Decimal(p.CumACWP)

		row := Format5PeriodRow{PeriodID: p.ID, Label: p.Label}
		if pct, ok := pctOf(evms.SV(cum), cum.BCWS); ok {
			row.SVPct = &pct
		}
		if pct, ok := pctOf(evms.CV(cum), cum.BCWS); ok {
			row.CVPct = &pct
		}
		report.Periods = append(report.Periods, row)
	}

	for _, m := range evms.AllEACMethods {
		entry := EACEntry{Method: m}
		if v, ok := evms.EAC(m, cum); ok {
			entry.Value = &v
		}
		report.EACs = append(report.EACs, entry)
	}
	report.SelectedEAC = evms.SelectEAC(cum)

	if pct, ok := pctOf(evms.SV(cum), cum.BCWS); ok {
		report.CumSVPct = &pct
	}
	if pct, ok := pctOf(evms.CV(cum), cum.BCWS); ok {
		report.CumCVPct = &pct
	}

	report.Explanations = explanationRows(wbsData, threshold)
	return report, nil
}

// explanationRows filters the per-WBS variances down to those at or above
// the threshold and sorts them by absolute percentage descending.
func explanationRows(wbsData []WBSData, threshold float64) []VarianceExplanation {
	th := decimal.NewFromFloat(threshold)
	var rows []VarianceExplanation
	for _, d := range wbsData {
		if d.BCWS.IsZero() {
			continue
		}
		in := evms.Inputs{BCWS: d.BCWS, BCWP: d.BCWP, ACWP: d.ACWP}
		if pct, ok := pctOf(evms.SV(in), d.BCWS); ok && pct.Abs().GreaterThanOrEqual(th) {
			rows = append(rows, VarianceExplanation{
				WBSID:           d.Element.ID,
				WBSCode:         d.Element.WBSCode,
				Type:            "schedule",
				VariancePercent: pct,
				Explanation:     fmt.Sprintf("WBS %s schedule variance %s%%", d.Element.WBSCode, pct.StringFixed(2)),
			})
		}
		if pct, ok := pctOf(evms.CV(in), d.BCWS); ok && pct.Abs().GreaterThanOrEqual(th) {
			rows = append(rows, VarianceExplanation{
				WBSID:           d.Element.ID,
				WBSCode:         d.Element.WBSCode,
				Type:            "cost",
				VariancePercent: pct,
				Explanation:     fmt.Sprintf("WBS %s cost variance %s%%", d.Element.WBSCode, pct.StringFixed(2)),
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].VariancePercent.Abs().GreaterThan(rows[j].VariancePercent.Abs())
	})
	return rows
}
