// Package variance classifies cost and schedule variances per WBS element
// and reporting period: percentage against cumulative BCWS, a four-step
// severity scale, an explanation-required threshold, and a trend direction
// derived from the recent history of percentages.
package variance

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityMinor       Severity = "minor"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
	SeverityCritical    Severity = "critical"
)

// severityRank orders severities for sorting, critical first.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeveritySignificant:
		return 1
	case SeverityModerate:
		return 2
	default:
		return 3
	}
}

type VarianceType string

const (
	TypeCost     VarianceType = "cost"
	TypeSchedule VarianceType = "schedule"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendWorsening Trend = "worsening"
	TrendStable    Trend = "stable"
)

// Options tunes the thresholds; zero values take the defaults.
type Options struct {
	ExplanationThresholdPercent float64 // default 10
	TrendWindow                 int     // default 4
}

func (o Options) withDefaults() Options {
	if o.ExplanationThresholdPercent == 0 {
		o.ExplanationThresholdPercent = 10
	}
	if o.TrendWindow == 0 {
		o.TrendWindow = 4
	}
	return o
}

// Analysis is the classification of one variance figure for one
// (WBS, period).
type Analysis struct {
	WBSID               uuid.UUID
	PeriodID            uuid.UUID
	Type                VarianceType
	Percent             float64
	Severity            Severity
	ExplanationRequired bool
	Trend               Trend
}

// Percent computes variance / cumulative BCWS x 100. The boolean is false
// when BCWS is zero, in which case the element is skipped.
func Percent(variance, cumBCWS decimal.Decimal) (float64, bool) {
	if cumBCWS.IsZero() {
		return 0, false
	}
	pct, _ := variance.Div(cumBCWS).Mul(decimal.NewFromInt(100)).Float64()
	return pct, true
}

// Classify maps |pct| onto the severity scale: minor < 5, moderate < 10,
// significant < 15, critical otherwise.
func Classify(pct float64) Severity {
	abs := math.Abs(pct)
	switch {
	case abs < 5:
		return SeverityMinor
	case abs < 10:
		return SeverityModerate
	case abs < 15:
		return SeveritySignificant
	default:
		return SeverityCritical
	}
}

// DetectTrend inspects the last window values of history (chronological,
// oldest first). Strictly decreasing magnitude means improving, strictly
// increasing means worsening, anything else is stable. Fewer than two
// values is stable by definition.
func DetectTrend(history []float64, window int) Trend {
	if window <= 0 {
		window = 4
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) < 2 {
		return TrendStable
	}
	decreasing, increasing := true, true
	for i := 1; i < len(history); i++ {
		prev, cur := math.Abs(history[i-1]), math.Abs(history[i])
		if cur >= prev {
			decreasing = false
		}
		if cur <= prev {
			increasing = false
		}
	}
	switch {
	case decreasing:
		return TrendImproving
	case increasing:
		return TrendWorsening
	default:
		return TrendStable
	}
}

// Input is one (WBS, period) data point plus its optional history of
// prior-period percentages for the same variance type.
type Input struct {
	WBSID    uuid.UUID
	PeriodID uuid.UUID
	Type     VarianceType
	Variance decimal.Decimal // SV or CV
	CumBCWS  decimal.Decimal
	History  []float64 // prior-period percentages, oldest first
}

// Analyze classifies one data point. The boolean is false when BCWS is
// zero and the point carries no analyzable percentage.
func Analyze(in Input, opts Options) (Analysis, bool) {
	opts = opts.withDefaults()
	pct, ok := Percent(in.Variance, in.CumBCWS)
	if !ok {
		return Analysis{}, false
	}
	return Analysis{
		WBSID:               in.WBSID,
		PeriodID:            in.PeriodID,
		Type:                in.Type,
		Percent:             pct,
		Severity:            Classify(pct),
		ExplanationRequired: math.Abs(pct) >= opts.ExplanationThresholdPercent,
		Trend:               DetectTrend(append(append([]float64{}, in.History...), pct), opts.TrendWindow),
	}, true
}

// ProgramResult aggregates a program-wide analysis run.
type ProgramResult struct {
	Alerts       []Analysis // sorted by severity descending
	CountsBySeverity map[Severity]int
	CountsByType     map[VarianceType]int
}

// AnalyzeProgram runs Analyze over every data point and aggregates counts.
// Alerts hold every analyzable point, most severe first; ties keep WBS
// order stable by ID so report output is reproducible.
func AnalyzeProgram(inputs []Input, opts Options) ProgramResult {
	res := ProgramResult{
		CountsBySeverity: make(map[Severity]int),
		CountsByType:     make(map[VarianceType]int),
	}
	for _, in := range inputs {
		a, ok := Analyze(in, opts)
		if !ok {
			continue
		}
		res.Alerts = append(res.Alerts, a)
		res.CountsBySeverity[a.Severity]++
		res.CountsByType[a.Type]++
	}
	sort.SliceStable(res.Alerts, func(i, j int) bool {
		ri, rj := severityRank(res.Alerts[i].Severity), severityRank(res.Alerts[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return res.Alerts[i].WBSID.String() < res.Alerts[j].WBSID.String()
	})
	return res
}
