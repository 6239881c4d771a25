// Package evms implements the earned-value scalar formulas: cost and
// schedule variances, performance indices, the six estimate-at-completion
// methods, ETC, VAC, and TCPI. All arithmetic is decimal with results
// rounded half-up to 2 fractional digits. Metrics that divide by zero are
// undefined and surface as an explicit absence, never as a sentinel.
package evms

import (
	"github.com/shopspring/decimal"
)

// Inputs holds the cumulative figures one EVMS calculation operates on.
// ManagerETC is the manager's estimate-to-complete, set only when a
// management EAC has been supplied.
type Inputs struct {
	BAC        decimal.Decimal
	BCWS       decimal.Decimal
	BCWP       decimal.Decimal
	ACWP       decimal.Decimal
	ManagerETC *decimal.Decimal
}

// EACMethod names one of the six estimate-at-completion formulas.
type EACMethod string

const (
	EACCPI        EACMethod = "cpi"
	EACSPI        EACMethod = "spi"
	EACComposite  EACMethod = "composite"
	EACTypical    EACMethod = "typical"
	EACAtypical   EACMethod = "atypical"
	EACManagement EACMethod = "management"
)

// AllEACMethods lists every method in report order.
var AllEACMethods = []EACMethod{EACCPI, EACSPI, EACComposite, EACTypical, EACAtypical, EACManagement}

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// CV is cost variance, BCWP - ACWP. Always defined.
func CV(in Inputs) decimal.Decimal {
	return round2(in.BCWP.Sub(in.ACWP))
}

// SV is schedule variance, BCWP - BCWS. Always defined.
func SV(in Inputs) decimal.Decimal {
	return round2(in.BCWP.Sub(in.BCWS))
}

// CPI is BCWP / ACWP; undefined when ACWP is zero.
func CPI(in Inputs) (decimal.Decimal, bool) {
	if in.ACWP.IsZero() {
		return decimal.Zero, false
	}
	return round2(in.BCWP.Div(in.ACWP)), true
}

// SPI is BCWP / BCWS; undefined when BCWS is zero.
func SPI(in Inputs) (decimal.Decimal, bool) {
	if in.BCWS.IsZero() {
		return decimal.Zero, false
	}
	return round2(in.BCWP.Div(in.BCWS)), true
}

// EAC computes the estimate at completion using the given method. The
// boolean result is false when the method's inputs make it undefined
// (an undefined index, or a missing manager ETC).
//
// Index-based methods divide by the unrounded index so the rounding step
// happens exactly once, on the final figure.
func EAC(method EACMethod, in Inputs) (decimal.Decimal, bool) {
	switch method {
	case EACCPI:
		if in.ACWP.IsZero() || in.BCWP.IsZero() {
			return decimal.Zero, false
		}
		cpi := in.BCWP.Div(in.ACWP)
		return round2(in.BAC.Div(cpi)), true
	case EACSPI:
		if in.BCWS.IsZero() || in.BCWP.IsZero() {
			return decimal.Zero, false
		}
		spi := in.BCWP.Div(in.BCWS)
		return round2(in.BAC.Div(spi)), true
	case EACComposite:
		if in.ACWP.IsZero() || in.BCWS.IsZero() || in.BCWP.IsZero() {
			return decimal.Zero, false
		}
		cpi := in.BCWP.Div(in.ACWP)
		spi := in.BCWP.Div(in.BCWS)
		denom := cpi.Mul(spi)
		if denom.IsZero() {
			return decimal.Zero, false
		}
		return round2(in.ACWP.Add(in.BAC.Sub(in.BCWP).Div(denom))), true
	case EACTypical:
		return round2(in.ACWP.Add(in.BAC.Sub(in.BCWP))), true
	case EACAtypical:
		if in.ACWP.IsZero() || in.BCWP.IsZero() {
			return decimal.Zero, false
		}
		cpi := in.BCWP.Div(in.ACWP)
		return round2(in.ACWP.Add(in.BAC.Sub(in.BCWP).Div(cpi))), true
	case EACManagement:
		if in.ManagerETC == nil {
			return decimal.Zero, false
		}
		return round2(in.ACWP.Add(*in.ManagerETC)), true
	}
	return decimal.Zero, false
}

// ETC is EAC - ACWP for the given method; undefined when EAC is.
func ETC(method EACMethod, in Inputs) (decimal.Decimal, bool) {
	eac, ok := EAC(method, in)
	if !ok {
		return decimal.Zero, false
	}
	return round2(eac.Sub(in.ACWP)), true
}

// VAC is BAC - EAC for the given method; undefined when EAC is.
func VAC(method EACMethod, in Inputs) (decimal.Decimal, bool) {
	eac, ok := EAC(method, in)
	if !ok {
		return decimal.Zero, false
	}
	return round2(in.BAC.Sub(eac)), true
}

// TCPI is the to-complete performance index against BAC:
// (BAC - BCWP) / (BAC - ACWP). A zero denominator yields 0 when the
// numerator is also zero (work complete, budget consumed), and is
// undefined otherwise.
func TCPI(in Inputs) (decimal.Decimal, bool) {
	num := in.BAC.Sub(in.BCWP)
	denom := in.BAC.Sub(in.ACWP)
	if denom.IsZero() {
		if num.IsZero() {
			return decimal.Zero, true
		}
		return decimal.Zero, false
	}
	return round2(num.Div(denom)), true
}

// SelectEAC applies the DFARS selection rule: composite when both indices
// run below 0.90, atypical when only CPI does, the CPI method otherwise.
func SelectEAC(in Inputs) EACMethod {
	threshold := decimal.NewFromFloat(0.90)
	cpi, cpiOK := CPI(in)
	spi, spiOK := SPI(in)
	cpiLow := cpiOK && cpi.LessThan(threshold)
	spiLow := spiOK && spi.LessThan(threshold)
	switch {
	case cpiLow && spiLow:
		return EACComposite
	case cpiLow:
		return EACAtypical
	default:
		return EACCPI
	}
}

// Summary bundles every metric for one input set, with the undefined ones
// left nil. Report generators consume this rather than re-deriving each
// figure.
type Summary struct {
	CV   decimal.Decimal
	SV   decimal.Decimal
	CPI  *decimal.Decimal
	SPI  *decimal.Decimal
	EAC  map[EACMethod]*decimal.Decimal
	ETC  map[EACMethod]*decimal.Decimal
	VAC  map[EACMethod]*decimal.Decimal
	TCPI *decimal.Decimal
}

// Summarize evaluates the full formula set over in.
func Summarize(in Inputs) Summary {
	s := Summary{
		CV:  CV(in),
		SV:  SV(in),
		EAC: make(map[EACMethod]*decimal.Decimal, len(AllEACMethods)),
		ETC: make(map[EACMethod]*decimal.Decimal, len(AllEACMethods)),
		VAC: make(map[EACMethod]*decimal.Decimal, len(AllEACMethods)),
	}
	if v, ok := CPI(in); ok {
		s.CPI = &v
	}
	if v, ok := SPI(in); ok {
		s.SPI = &v
	}
	for _, m := range AllEACMethods {
		if v, ok := EAC(m, in); ok {
			v := v
			s.EAC[m] = &v
		}
		if v, ok := ETC(m, in); ok {
			v := v
			s.ETC[m] = &v
		}
		if v, ok := VAC(m, in); ok {
			v := v
			s.VAC[m] = &v
		}
	}
	if v, ok := TCPI(in); ok {
		s.TCPI = &v
	}
	return s
}
