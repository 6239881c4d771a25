package montecarlo

import (
	"math"
	"math/rand"

	"ironclad.dev/dpm/apperrors"
	"ironclad.dev/dpm/model"
)

// Sample draws one duration from the distribution using the run's PRNG.
// Results are clamped to at least 1 day for the normal distribution,
// which is unbounded below.
func Sample(d model.DurationDistribution, rng *rand.Rand) float64 {
	switch d.Kind {
	case model.DistTriangular:
		return sampleTriangular(d.Min, d.Mode, d.Max, rng)
	case model.DistPERT:
		return samplePERT(d.Min, d.Mode, d.Max, rng)
	case model.DistNormal:
		v := sampleNormal(d.Mean, d.StdDev, rng)
		if v < 1 {
			return 1
		}
		return v
	case model.DistUniform:
		return d.Min + rng.Float64()*(d.Max-d.Min)
	}
	return d.Mode
}

// ValidateDistribution rejects parameter sets the samplers cannot handle.
func ValidateDistribution(d model.DurationDistribution) error {
	switch d.Kind {
	case model.DistTriangular, model.DistPERT:
		if d.Max <= d.Min || d.Mode < d.Min || d.Mode > d.Max {
			return apperrors.Validation("distribution_params", "require min <= mode <= max and min < max")
		}
	case model.DistNormal:
		if d.StdDev <= 0 {
			return apperrors.Validation("distribution_params", "normal distribution requires a positive std dev")
		}
	case model.DistUniform:
		if d.Max <= d.Min {
			return apperrors.Validation("distribution_params", "uniform distribution requires min < max")
		}
	default:
		return apperrors.Validation("distribution_kind", "unknown distribution kind "+string(d.Kind))
	}
	return nil
}

// sampleTriangular uses the inverse CDF.
func sampleTriangular(min, mode, max float64, rng *rand.Rand) float64 {
	u := rng.Float64()
	fc := (mode - min) / (max - min)
	if u < fc {
		return min + math.Sqrt(u*(max-min)*(mode-min))
	}
	return max - math.Sqrt((1-u)*(max-min)*(max-mode))
}

// samplePERT draws Beta(alpha, beta) with the PERT shape parameters and
// scales onto [min, max].
func samplePERT(min, mode, max float64, rng *rand.Rand) float64 {
	alpha := 1 + 4*(mode-min)/(max-min)
	beta := 1 + 4*(max-mode)/(max-min)
	return min + sampleBeta(alpha, beta, rng)*(max-min)
}

// sampleBeta draws from Beta(a, b) via two gamma variates.
func sampleBeta(a, b float64, rng *rand.Rand) float64 {
	x := sampleGamma(a, rng)
	y := sampleGamma(b, rng)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma implements Marsaglia-Tsang for shape >= 1, with the
// standard boost for shape < 1.
func sampleGamma(shape float64, rng *rand.Rand) float64 {
	if shape < 1 {
		return sampleGamma(shape+1, rng) * math.Pow(rng.Float64(), 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// sampleNormal is the basic (trigonometric) Box-Muller transform;
// rand.NormFloat64 uses the ziggurat, but the explicit transform keeps the
// stream reproducible across Go releases.
func sampleNormal(mean, std float64, rng *rand.Rand) float64 {
	var u1, u2 float64
	for {
		u1 = rng.Float64()
		if u1 > 0 {
			break
		}
	}
	u2 = rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + std*z
}
