// Package cpr generates Contract Performance Report data sets: Format 1
// (WBS rollup), Format 3 (time-phased baseline versus performance), and
// Format 5 (estimate-at-completion, management reserve, and variance
// explanations). The generators are pure: they consume the WBS tree,
// period data, and MR log handed to them and emit report structs the
// rendering boundary serializes.
package cpr

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
)

// WBSData is the cumulative earned-value data for one WBS element as of
// the reporting period, before hierarchy rollup. Leaf elements carry the
// raw figures; parents may be zero and receive their values from the
// rollup.
type WBSData struct {
	Element *model.WBSElement
	BCWS    decimal.Decimal
	BCWP    decimal.Decimal
	ACWP    decimal.Decimal
}

// isDescendantPath reports whether childPath sits strictly below
// parentPath in the materialized-path hierarchy.
func isDescendantPath(parentPath, childPath string) bool {
	return strings.HasPrefix(childPath, parentPath+".")
}

// rollup returns elem's own figures plus those of every descendant.
func rollup(elem *model.WBSElement, data []WBSData) (bcws, bcwp, acwp, bac decimal.Decimal) {
	for _, d := range data {
		if d.Element.ID == elem.ID || isDescendantPath(elem.Path, d.Element.Path) {
			bcws = bcws.Add(d.BCWS)
			bcwp = bcwp.Add(d.BCWP)
			acwp = acwp.Add(d.ACWP)
			if d.Element.ID != elem.ID {
				bac = bac.Add(decimal.Decimal(d.Element.BAC))
			}
		}
	}
	bac = bac.Add(decimal.Decimal(elem.BAC))
	return
}

// leafElements filters data down to elements with no children in the set.
func leafElements(data []WBSData) []WBSData {
	var leaves []WBSData
	for _, d := range data {
		isParent := false
		for _, other := range data {
			if isDescendantPath(d.Element.Path, other.Element.Path) {
				isParent = true
				break
			}
		}
		if !isParent {
			leaves = append(leaves, d)
		}
	}
	return leaves
}

// pctOf returns value / base x 100 rounded to 2 places; false when base
// is zero.
func pctOf(value, base decimal.Decimal) (decimal.Decimal, bool) {
	if base.IsZero() {
		return decimal.Zero, false
	}
	return value.Div(base).Mul(decimal.NewFromInt(100)).Round(2), true
}

// MRRow is one line of the management-reserve tracking table, taken
// directly from the MR log.
type MRRow struct {
	Sequence    int             `json:"sequence"`
	BeginningMR decimal.Decimal `json:"beginning_mr"`
	ChangesIn   decimal.Decimal `json:"changes_in"`
	ChangesOut  decimal.Decimal `json:"changes_out"`
	EndingMR    decimal.Decimal `json:"ending_mr"`
	Reason      string          `json:"reason"`
	PeriodID    *uuid.UUID      `json:"period_id,omitempty"`
}

func mrTable(log []*model.MRLogEntry) []MRRow {
	rows := make([]MRRow, 0, len(log))
	for _, e := range log {
		rows = append(rows, MRRow{
			Sequence:    e.Sequence,
			BeginningMR: decimal.Decimal(e.BeginningMR),
			ChangesIn:   decimal.Decimal(e.ChangesIn),
			ChangesOut:  decimal.Decimal(e.ChangesOut),
			EndingMR:    decimal.Decimal(e.EndingMR),
			Reason:      e.Reason,
			PeriodID:    e.PeriodID,
		})
	}
	return rows
}

// ValidateMRLog checks the ledger invariants: each entry balances, the
// chain carries forward, and ending MR never goes negative.
func ValidateMRLog(log []*model.MRLogEntry) error {
	var prevEnding *decimal.Decimal
	for _, e := range log {
		begin := decimal.Decimal(e.BeginningMR)
		ending := begin.Add(decimal.Decimal(e.ChangesIn)).Sub(decimal.Decimal(e.ChangesOut))
		if !ending.Equal(decimal.Decimal(e.EndingMR)) {
			return apperrors.Validation("mr_unbalanced",
				fmt.Sprintf("MR log entry %d: ending MR does not equal beginning + in - out", e.Sequence))
		}
		if decimal.Decimal(e.EndingMR).IsNegative() {
			return apperrors.Validation("mr_negative",
				fmt.Sprintf("MR log entry %d: ending MR is negative", e.Sequence))
		}
		if prevEnding != nil && !begin.Equal(*prevEnding) {
			return apperrors.Validation("mr_chain_broken",
				fmt.Sprintf("MR log entry %d: beginning MR does not carry forward", e.Sequence))
		}
		end := decimal.Decimal(e.EndingMR)
		prevEnding = &end
	}
	return nil
}
