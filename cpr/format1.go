package cpr

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironclad.dev/dpm/evms"
)

// Format1Row is one WBS element's line in the rollup, indented by its
// level. Rolled-up figures include every descendant.
type Format1Row struct {
	WBSID          uuid.UUID        `json:"wbs_id"`
	WBSCode        string           `json:"wbs_code"`
	Name           string           `json:"name"`
	Level          int              `json:"level"`
	Indent         string           `json:"indent"`
	ControlAccount bool             `json:"control_account"`
	BAC            decimal.Decimal  `json:"bac"`
	BCWS           decimal.Decimal  `json:"bcws"`
	BCWP           decimal.Decimal  `json:"bcwp"`
	ACWP           decimal.Decimal  `json:"acwp"`
	CV             decimal.Decimal  `json:"cv"`
	SV             decimal.Decimal  `json:"sv"`
	CPI            *decimal.Decimal `json:"cpi,omitempty"`
	SPI            *decimal.Decimal `json:"spi,omitempty"`
	EAC            *decimal.Decimal `json:"eac,omitempty"`
	VAC            *decimal.Decimal `json:"vac,omitempty"`
}

// VarianceNote flags a WBS element whose schedule or cost variance
// percentage breaches the threshold.
type VarianceNote struct {
	WBSID   uuid.UUID       `json:"wbs_id"`
	WBSCode string          `json:"wbs_code"`
	SVPct   decimal.Decimal `json:"sv_pct"`
	CVPct   decimal.Decimal `json:"cv_pct"`
	Note    string          `json:"note"`
}

// Format1Report is the WBS-rollup report. Totals equal the column sums of
// the leaf rows, which by construction equal the sums of the top-level
// rows.
type Format1Report struct {
	ProgramID     uuid.UUID      `json:"program_id"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Rows          []Format1Row   `json:"rows"`
	Totals        Format1Row     `json:"totals"`
	VarianceNotes []VarianceNote `json:"variance_notes"`
}

// Format1Options tunes the report; zero values take the defaults.
type Format1Options struct {
	VarianceThresholdPercent float64 // default 10
	GeneratedAt              time.Time
}

// GenerateFormat1 builds the WBS rollup from the per-element cumulative
// data. Rows are ordered by materialized path so children follow their
// parents.
func GenerateFormat1(programID uuid.UUID, data []WBSData, opts Format1Options) *Format1Report {
	threshold := opts.VarianceThresholdPercent
	if threshold == 0 {
		threshold = 10
	}

	sorted := append([]WBSData{}, data...)
	sort.Slice(sorted, func(i, j int) bool {
		return pathLess(sorted[i].Element.Path, sorted[j].Element.Path)
	})

	report := &Format1Report{ProgramID: programID, GeneratedAt: opts.GeneratedAt}
	for _, d := range sorted {
		bcws, bcwp, acwp, bac := rollup(d.Element, data)
		row := buildFormat1Row(d, bac, bcws, bcwp, acwp)
		report.Rows = append(report.Rows, row)

		if note, flagged := varianceNote(d, bcws, bcwp, acwp, threshold); flagged {
			report.VarianceNotes = append(report.VarianceNotes, note)
		}
	}

	// Totals from the leaves, so every dollar is counted exactly once.
	var tBAC, tBCWS, tBCWP, tACWP decimal.Decimal
	for _, leaf := range leafElements(data) {
		tBAC = tBAC.Add(decimal.Decimal(leaf.Element.BAC))
		tBCWS = tBCWS.Add(leaf.BCWS)
		tBCWP = tBCWP.Add(leaf.BCWP)
		tACWP = tACWP.Add(leaf.ACWP)
	}
	report.Totals = buildFormat1Row(WBSData{}, tBAC, tBCWS, tBCWP, tACWP)
	report.Totals.Name = "TOTAL"
	report.Totals.Indent = ""
	return report
}

func buildFormat1Row(d WBSData, bac, bcws, bcwp, acwp decimal.Decimal) Format1Row {
	in := evms.Inputs{BAC: bac, BCWS: bcws, BCWP: bcwp, ACWP: acwp}
	row := Format1Row{
		BAC:  bac,
		BCWS: bcws,
		BCWP: bcwp,
		ACWP: acwp,
		CV:   evms.CV(in),
		SV:   evms.SV(in),
	}
	if d.Element != nil {
		row.WBSID = d.Element.ID
		row.WBSCode = d.Element.WBSCode
		row.Name = d.Element.Name
		row.Level = d.Element.Level
		row.ControlAccount = d.Element.ControlAccount
		for i := 1; i < d.Element.Level; i++ {
			row.Indent += "  "
		}
	}
	if v, ok := evms.CPI(in); ok {
		row.CPI = &v
	}
	if v, ok := evms.SPI(in); ok {
		row.SPI = &v
	}
	if v, ok := evms.EAC(evms.EACCPI, in); ok {
		row.EAC = &v
		if vac, ok := evms.VAC(evms.EACCPI, in); ok {
			row.VAC = &vac
		}
	}
	return row
}

func varianceNote(d WBSData, bcws, bcwp, acwp decimal.Decimal, threshold float64) (VarianceNote, bool) {
	if bcws.IsZero() {
		return VarianceNote{}, false
	}
	in := evms.Inputs{BCWS: bcws, BCWP: bcwp, ACWP: acwp}
	svPct, _ := pctOf(evms.SV(in), bcws)
	cvPct, _ := pctOf(evms.CV(in), bcws)
	th := decimal.NewFromFloat(threshold)
	if svPct.Abs().LessThan(th) && cvPct.Abs().LessThan(th) {
		return VarianceNote{}, false
	}
	return VarianceNote{
		WBSID:   d.Element.ID,
		WBSCode: d.Element.WBSCode,
		SVPct:   svPct,
		CVPct:   cvPct,
		Note: fmt.Sprintf("WBS %s (%s): SV%%=%s CV%%=%s exceeds %.0f%% threshold",
			d.Element.WBSCode, d.Element.Name, svPct.StringFixed(2), cvPct.StringFixed(2), threshold),
	}, true
}

// pathLess orders materialized paths numerically segment by segment, so
// "1.10" sorts after "1.2".
func pathLess(a, b string) bool {
	as, bs := splitPath(a), splitPath(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}

func splitPath(p string) []int {
	var out []int
	n := 0
	has := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '.' {
			if has {
				out = append(out, n)
			}
			n, has = 0, false
			continue
		}
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			has = true
		}
	}
	if has {
		out = append(out, n)
	}
	return out
}
