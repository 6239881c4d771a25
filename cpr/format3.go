package cpr

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironclad.dev/dpm/evms"
	"ironclad.dev/dpm/model"
)

// StatusColor is the report traffic light derived from the cumulative
// indices.
type StatusColor string

const (
	StatusGreen  StatusColor = "green"
	StatusYellow StatusColor = "yellow"
	StatusRed    StatusColor = "red"
)

// Format3Row is one reporting period: incremental figures differenced
// from the cumulative series, the cumulative totals, and the period
// variances and indices.
type Format3Row struct {
	PeriodID    uuid.UUID        `json:"period_id"`
	Label       string           `json:"label"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	BCWS        decimal.Decimal  `json:"bcws"`
	BCWP        decimal.Decimal  `json:"bcwp"`
	ACWP        decimal.Decimal  `json:"acwp"`
	CumBCWS     decimal.Decimal  `json:"cum_bcws"`
	CumBCWP     decimal.Decimal  `json:"cum_bcwp"`
	CumACWP     decimal.Decimal  `json:"cum_acwp"`
	SV          decimal.Decimal  `json:"sv"`
	CV          decimal.Decimal  `json:"cv"`
	SPI         *decimal.Decimal `json:"spi,omitempty"`
	CPI         *decimal.Decimal `json:"cpi,omitempty"`
}

// Baseline describes the program schedule baseline Format 3 measures
// performance against.
type Baseline struct {
	ScheduledStart  time.Time
	ScheduledFinish time.Time
	DurationDays    int
}

// Format3Report is the time-phased baseline-versus-performance report.
type Format3Report struct {
	ProgramID            uuid.UUID        `json:"program_id"`
	GeneratedAt          time.Time        `json:"generated_at"`
	Rows                 []Format3Row     `json:"rows"`
	CumSPI               *decimal.Decimal `json:"cum_spi,omitempty"`
	CumCPI               *decimal.Decimal `json:"cum_cpi,omitempty"`
	BaselineFinishDate   time.Time        `json:"baseline_finish_date"`
	ForecastFinishDate   *time.Time       `json:"forecast_finish_date,omitempty"`
	ScheduleVarianceDays *int             `json:"schedule_variance_days,omitempty"`
	Status               StatusColor      `json:"status"`
}

type Format3Options struct {
	GeneratedAt time.Time
}

// GenerateFormat3 builds the period-by-period report. Periods are sorted
// chronologically by start date; the stored figures are cumulative, so
// each row's period figures are differenced from the previous row.
func GenerateFormat3(programID uuid.UUID, periods []*model.EVMSPeriod, baseline Baseline, opts Format3Options) *Format3Report {
	sorted := append([]*model.EVMSPeriod{}, periods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	report := &Format3Report{
		ProgramID:          programID,
		GeneratedAt:        opts.GeneratedAt,
		BaselineFinishDate: baseline.ScheduledFinish,
	}

	var prevBCWS, prevBCWP, prevACWP decimal.Decimal
	for _, p := range sorted {
		cumBCWS := decimal.Decimal(p.CumBCWS)
		cumBCWP := decimal.Decimal(p.CumBCWP)
		cumACWP := decimal.Decimal(p.CumACWP)

		row := Format3Row{
			PeriodID: p.ID,
			Label:    p.Label,
			Start:    p.Start,
			End:      p.End,
			BCWS:     cumBCWS.Sub(prevBCWS),
			BCWP:     cumBCWP.Sub(prevBCWP),
			ACWP:     cumACWP.Sub(prevACWP),
			CumBCWS:  cumBCWS,
			CumBCWP:  cumBCWP,
			CumACWP:  cumACWP,
		}
		in := evms.Inputs{BCWS: row.BCWS, BCWP: row.BCWP, ACWP: row.ACWP}
		row.SV = evms.SV(in)
		row.CV = evms.CV(in)
		if v, ok := evms.SPI(in); ok {
			row.SPI = &v
		}
		if v, ok := evms.CPI(in); ok {
			row.CPI = &v
		}
		report.Rows = append(report.Rows, row)

		prevBCWS, prevBCWP, prevACWP = cumBCWS, cumBCWP, cumACWP
	}

	cumIn := evms.Inputs{BCWS: prevBCWS, BCWP: prevBCWP, ACWP: prevACWP}
	if v, ok := evms.SPI(cumIn); ok {
		report.CumSPI = &v
	}
	if v, ok := evms.CPI(cumIn); ok {
		report.CumCPI = &v
	}

	report.forecast(baseline)
	report.Status = statusColor(report.CumSPI, report.CumCPI)
	return report
}

// forecast derives the finish-date forecast from the cumulative SPI:
// the baseline duration stretched by 1/SPI, measured from the baseline
// start. Defined only for a positive SPI.
func (r *Format3Report) forecast(baseline Baseline) {
	if r.CumSPI == nil || !r.CumSPI.IsPositive() {
		return
	}
	stretched, _ := decimal.NewFromInt(int64(baseline.DurationDays)).Div(*r.CumSPI).Round(0).Float64()
	forecast := baseline.ScheduledStart.AddDate(0, 0, int(stretched))
	r.ForecastFinishDate = &forecast
	days := int(forecast.Sub(r.BaselineFinishDate).Hours() / 24)
	r.ScheduleVarianceDays = &days
}

// statusColor: green when both indices hold 0.9, red when both miss it,
// yellow when exactly one does. A missing index counts as a miss.
func statusColor(spi, cpi *decimal.Decimal) StatusColor {
	threshold := decimal.NewFromFloat(0.9)
	spiOK := spi != nil && spi.GreaterThanOrEqual(threshold)
	cpiOK := cpi != nil && cpi.GreaterThanOrEqual(threshold)
	switch {
	case spiOK && cpiOK:
		return StatusGreen
	case spiOK || cpiOK:
		return StatusYellow
	default:
		return StatusRed
	}
}
