package sim

import (
	"math"
	"math/rand"

	"github.com/anthropics/decision-engine/internal/domain"
)

// daysInMonth uses a non-leap year; the model targets a representative year,
// not a calendar one.
var daysInMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// AnnualProfitModel simulates one year of retail operation and returns net
// annual profit. Daily foot traffic is Normal, conversion rate is Beta,
// average order value is LogNormal, and fixed costs carry rent variance.
type AnnualProfitModel struct{}

func (AnnualProfitModel) Name() string { return "annual_profit" }

func (AnnualProfitModel) Trial(rng *rand.Rand, params domain.Params) (float64, error) {
	trafficMean := floatParam(params, "foot_traffic_mean", 250)
	trafficStd := floatParam(params, "foot_traffic_std", 60)
	convAlpha := floatParam(params, "conversion_alpha", 8)
	convBeta := floatParam(params, "conversion_beta", 20)
	aovMu := floatParam(params, "aov_mu", 1.6)
	aovSigma := floatParam(params, "aov_sigma", 0.3)
	rent := floatParam(params, "monthly_rent", 3500)
	rentVar := floatParam(params, "rent_variance", 0.05)
	labor := floatParam(params, "monthly_labor", 8000)
	cogsRate := floatParam(params, "cogs_rate", 0.30)
	utilities := floatParam(params, "monthly_utilities", 800)
	seasonalAmp := floatParam(params, "seasonal_amplitude", 0.15)

	var profit float64
	for month := 0; month < 12; month++ {
		// Peak in late spring, trough in late autumn.
		seasonal := 1 + seasonalAmp*math.Sin(2*math.Pi*float64(month-2)/12)
		conversion := sampleBeta(rng, convAlpha, convBeta)

		var revenue float64
		for day := 0; day < daysInMonth[month]; day++ {
			traffic := trafficMean*seasonal + trafficStd*rng.NormFloat64()
			if traffic < 0 {
				traffic = 0
			}
			aov := math.Exp(aovMu + aovSigma*rng.NormFloat64())
			revenue += traffic * conversion * aov
		}

		costs := rent*(1+rentVar*rng.NormFloat64()) + labor + utilities + cogsRate*revenue
		profit += revenue - costs
	}
	return profit, nil
}

// sampleBeta draws Beta(a, b) as Ga/(Ga+Gb).
func sampleBeta(rng *rand.Rand, a, b float64) float64 {
	x := sampleGamma(rng, a)
	y := sampleGamma(rng, b)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}

// sampleGamma draws Gamma(shape, 1) using Marsaglia-Tsang squeeze. Shapes
// below 1 are boosted and rescaled.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
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
