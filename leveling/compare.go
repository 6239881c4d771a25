package leveling

import (
	"context"
	"time"
)

// Algorithm names one of the two leveling strategies.
type Algorithm string

const (
	AlgorithmSerial   Algorithm = "serial"
	AlgorithmParallel Algorithm = "parallel"
)

// Comparison is the outcome of running both algorithms with identical
// options against the same snapshot.
type Comparison struct {
	Serial      *Result
	Parallel    *Result
	Recommended Algorithm
	Rationale   string
}

// Compare runs both algorithms and recommends one. On full success the
// shorter schedule extension wins (ties go to fewer shifts); on partial
// failure, fewer remaining conflicts wins (ties go to shorter extension).
func Compare(ctx context.Context, in Input, opts Options) (*Comparison, error) {
	serial, err := Serial(ctx, in, opts)
	if err != nil {
		return nil, err
	}
	parallel, err := Parallel(ctx, in, opts)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{Serial: serial, Parallel: parallel}
	sFull := len(serial.Remaining) == 0
	pFull := len(parallel.Remaining) == 0

	switch {
	case sFull && pFull:
		se, pe := extension(serial), extension(parallel)
		switch {
		case pe < se:
			cmp.Recommended, cmp.Rationale = AlgorithmParallel, "both resolved all conflicts; parallel produced the shorter extension"
		case se < pe:
			cmp.Recommended, cmp.Rationale = AlgorithmSerial, "both resolved all conflicts; serial produced the shorter extension"
		case len(parallel.Shifts) < len(serial.Shifts):
			cmp.Recommended, cmp.Rationale = AlgorithmParallel, "equal extensions; parallel needed fewer shifts"
		default:
			cmp.Recommended, cmp.Rationale = AlgorithmSerial, "equal extensions; serial needed no more shifts"
		}
	case sFull:
		cmp.Recommended, cmp.Rationale = AlgorithmSerial, "only serial resolved all conflicts"
	case pFull:
		cmp.Recommended, cmp.Rationale = AlgorithmParallel, "only parallel resolved all conflicts"
	default:
		switch {
		case len(parallel.Remaining) < len(serial.Remaining):
			cmp.Recommended, cmp.Rationale = AlgorithmParallel, "parallel left fewer conflicts unresolved"
		case len(serial.Remaining) < len(parallel.Remaining):
			cmp.Recommended, cmp.Rationale = AlgorithmSerial, "serial left fewer conflicts unresolved"
		case extension(parallel) < extension(serial):
			cmp.Recommended, cmp.Rationale = AlgorithmParallel, "equal conflicts remaining; parallel produced the shorter extension"
		default:
			cmp.Recommended, cmp.Rationale = AlgorithmSerial, "equal conflicts remaining; serial extension is no longer"
		}
	}
	return cmp, nil
}

// extension is the schedule slip in calendar days.
func extension(r *Result) time.Duration {
	return r.NewFinish.Sub(r.OriginalFinish)
}
