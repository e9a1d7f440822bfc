package analyzer

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/llm"
)

const (
	quickSnippet     = 1000
	quickTemperature = 0.3
	quickMaxTokens   = 500
)

// Assessment is the scrape-time interest estimate stored with a change.
type Assessment struct {
	TechnicalInnovationScore float64  `json:"technical_innovation_score"`
	BusinessImpactScore      float64  `json:"business_impact_score"`
	InterestLevel            int      `json:"interest_level"`
	InterestDrivers          []string `json:"interest_drivers"`
	Category                 string   `json:"category"`
	ImpactAreas              []string `json:"impact_areas"`
	Summary                  string   `json:"summary"`
}

// FallbackAssessment is used whenever the model cannot produce a score.
func FallbackAssessment() Assessment {
	return Assessment{
		TechnicalInnovationScore: 5,
		BusinessImpactScore:      5,
		InterestLevel:            5,
		InterestDrivers:          []string{"Error analyzing content"},
		Category:                 "Unknown",
		ImpactAreas:              []string{},
		Summary:                  "Unable to analyze change",
	}
}

// InterestLevel averages the two scores and clamps the result to 1..10.
func InterestLevel(technical, business float64) int {
	level := int(math.Round((technical + business) / 2))
	return min(max(level, 1), 10)
}

// Assessor scores a detected change with a short, cheap model call.
type Assessor struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

// NewAssessor wires an Assessor using model for every request.
func NewAssessor(client llm.Client, model string, logger *zap.Logger) *Assessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{client: client, model: model, logger: logger}
}

// Assess never fails; any error yields FallbackAssessment.
func (a *Assessor) Assess(ctx context.Context, previous *string, current string) Assessment {
	if a == nil || a.client == nil {
		return FallbackAssessment()
	}
	raw, err := a.client.Complete(ctx, llm.Request{
		Prompt:      QuickPrompt(previous, current),
		Model:       a.model,
		Temperature: quickTemperature,
		MaxTokens:   quickMaxTokens,
		JSON:        true,
	})
	if err != nil {
		a.logger.Warn("interest assessment failed", zap.Error(err))
		return FallbackAssessment()
	}
	var reply struct {
		InterestAssessment *Assessment `json:"interest_assessment"`
	}
	if err := llm.DecodeJSON(raw, &reply); err != nil || reply.InterestAssessment == nil {
		a.logger.Warn("interest assessment unreadable", zap.Error(err))
		return FallbackAssessment()
	}
	out := *reply.InterestAssessment
	out.InterestLevel = InterestLevel(out.TechnicalInnovationScore, out.BusinessImpactScore)
	if out.InterestDrivers == nil {
		out.InterestDrivers = []string{}
	}
	if out.ImpactAreas == nil {
		out.ImpactAreas = []string{}
	}
	return out
}
