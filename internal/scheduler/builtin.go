package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/anthropics/decision-engine/internal/domain"
)

// ResearchExecutor produces the market assumptions a simulation consumes.
// The figures derive deterministically from the task params, so identical
// research tasks always fingerprint and cache cleanly.
type ResearchExecutor struct{}

func (ResearchExecutor) Kind() domain.TaskKind { return domain.KindResearch }

// regionFactors scale baseline foot traffic by market.
var regionFactors = map[string]float64{
	"downtown":    1.30,
	"suburban":    1.00,
	"university":  1.15,
	"residential": 0.85,
}

type researchOutput struct {
	Region           string  `json:"region"`
	FootTrafficMean  float64 `json:"foot_traffic_mean"`
	FootTrafficStd   float64 `json:"foot_traffic_std"`
	CompetitionCount int     `json:"competition_count"`
	MonthlyRent      float64 `json:"monthly_rent"`
}

func (ResearchExecutor) Execute(_ context.Context, req ExecRequest) (ExecResult, error) {
	p := req.Task.Params

	region := "suburban"
	if v, ok := p["region"].(string); ok && v != "" {
		region = v
	}
	factor, ok := regionFactors[region]
	if !ok {
		return ExecResult{}, fmt.Errorf("%w: unknown region %q", domain.ErrExecution, region)
	}

	competition := int(numParam(p, "competition_count", 2))
	// Each competitor in range peels off a share of walk-ins.
	trafficMean := numParam(p, "base_foot_traffic", 250) * factor * math.Pow(0.92, float64(competition))
	rent := numParam(p, "base_rent", 3500) * factor

	out, err := json.Marshal(researchOutput{
		Region:           region,
		FootTrafficMean:  trafficMean,
		FootTrafficStd:   trafficMean * 0.25,
		CompetitionCount: competition,
		MonthlyRent:      rent,
	})
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Output: out}, nil
}

// EvaluationExecutor turns a simulation summary into an investment verdict:
// NPV of the mean annual profit over the horizon, payback period, and a
// recommendation gated on downside risk.
type EvaluationExecutor struct{}

func (EvaluationExecutor) Kind() domain.TaskKind { return domain.KindEvaluation }

type evaluationOutput struct {
	NPV            float64  `json:"npv"`
	PaybackYears   *float64 `json:"payback_years"` // nil when the venture never pays back
	MeanProfit     float64  `json:"mean_annual_profit"`
	ProbLoss       float64  `json:"prob_loss"`
	ValueAtRisk    float64  `json:"value_at_risk"`
	Recommendation string   `json:"recommendation"`
	Degraded       bool     `json:"degraded"`
}

func (EvaluationExecutor) Execute(_ context.Context, req ExecRequest) (ExecResult, error) {
	summary, err := findSummary(req.DepOutputs)
	if err != nil {
		return ExecResult{}, err
	}

	p := req.Task.Params
	discount := numParam(p, "discount_rate", 0.08)
	horizon := int(numParam(p, "horizon_years", 5))
	investment := numParam(p, "initial_investment", 150000)
	maxProbLoss := numParam(p, "max_prob_loss", 0.30)

	npv := -investment
	for year := 1; year <= horizon; year++ {
		npv += summary.Mean / math.Pow(1+discount, float64(year))
	}

	out := evaluationOutput{
		NPV:         npv,
		MeanProfit:  summary.Mean,
		ProbLoss:    summary.ProbLoss,
		ValueAtRisk: summary.ValueAtRisk,
		Degraded:    summary.Degraded,
	}
	if summary.Mean > 0 {
		payback := investment / summary.Mean
		out.PaybackYears = &payback
	}
	switch {
	case npv > 0 && summary.ProbLoss <= maxProbLoss:
		out.Recommendation = "invest"
	case npv > 0:
		out.Recommendation = "high_risk"
	default:
		out.Recommendation = "decline"
	}

	body, err := json.Marshal(out)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Output: body, Degraded: summary.Degraded}, nil
}

// findSummary locates the simulation summary among the dependency outputs.
func findSummary(deps map[string]json.RawMessage) (*domain.SimulationSummary, error) {
	for _, raw := range deps {
		var probe struct {
			Count *int64   `json:"count"`
			Mean  *float64 `json:"mean"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.Count == nil || probe.Mean == nil {
			continue
		}
		var s domain.SimulationSummary
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		return &s, nil
	}
	return nil, fmt.Errorf("%w: no simulation summary among dependencies", domain.ErrExecution)
}

func numParam(p domain.Params, key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}
