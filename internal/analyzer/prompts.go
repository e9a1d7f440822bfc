package analyzer

import (
	"fmt"
	"strings"
)

// SystemPrompt is sent with every analysis request.
const SystemPrompt = "You are an AI competitive intelligence analyst. Always respond with valid JSON only, no markdown formatting."

const newContentPlaceholder = "[This is new content - no previous version]"

const changePrompt = `You are an AI competitive intelligence analyst. Compare the two versions of a competitor web page below and explain what changed and why it matters.

Cover:
1. Change summary: exactly what changed, the kind of change (addition, removal, update, restructure) and its scale (minor, significant, major).
2. Strategic significance: the likely motive, business implications, market signals and effect on competitive positioning.
3. Entities affected: products or features, pricing, partnerships or integrations, technology, people and markets that appear in the changed text.
4. Interest level from 1 to 10:
   9-10 major strategic moves such as launches, acquisitions or pivots
   7-8 significant features, partnerships or pricing moves
   5-6 notable but modest updates
   3-4 routine edits
   1-2 trivial wording or formatting changes
5. Competitive intelligence: advantages revealed, positioning shifts, direction and innovation signals.
6. Actionable insights: opportunities, threats and recommended responses.

Return JSON with exactly this shape:
{
  "change_summary": {
    "what_changed": "",
    "change_type": "addition/removal/update/restructure",
    "change_scale": "minor/significant/major",
    "specific_changes": []
  },
  "interest_assessment": {
    "interest_level": 0,
    "reasoning": "",
    "category": "strategic_move/product_update/partnership/pricing/content_update/minor_change",
    "confidence": 0.0
  },
  "entities": {
    "products": [],
    "features": [],
    "partnerships": [],
    "technologies": [],
    "people": [],
    "pricing": [],
    "markets": []
  },
  "strategic_analysis": {
    "business_impact": "",
    "market_signals": [],
    "competitive_implications": "",
    "strategic_direction": ""
  },
  "insights": {
    "key_findings": [],
    "opportunities": [],
    "threats": [],
    "recommended_actions": []
  }
}`

const baselinePrompt = `You are an AI competitive intelligence analyst. Read the current web content of the company below and extract a structured profile, paying close attention to how entities relate to each other.

Extract products with the technologies they use, integrations they offer and markets they target; technologies with what implements them and what they enable; AI and ML concepts with their applications; integrations and platforms; partnerships and their nature; key people and their roles; pricing tiers; target markets; and competitors. Record every relationship you find as an edge between two named entities. Summarize capabilities, the current positioning and value propositions, strategic signals and any quantitative claims.

Score interest with two numbers from 1 to 10. Technical innovation: 9-10 breakthrough models or state of the art results, 7-8 significant advances, 5-6 useful incremental work, 3-4 maintenance, 1-2 no technical relevance. Business impact: 9-10 major launches, large funding or acquisitions, 7-8 important partnerships or expansion, 5-6 product updates or team growth, 3-4 routine news, 1-2 trivial. The interest level is the average of the two.

Return JSON with exactly this shape:
{
  "entities": {
    "products": [{"name": "", "type": "", "description": "", "features": [], "status": "active/beta/announced", "uses_technologies": [], "provides_integrations": [], "targets_markets": [], "ai_capabilities": []}],
    "technologies": [{"name": "", "category": "ai_ml/infrastructure/platform/tool", "purpose": "", "implemented_by": [], "enables_capabilities": [], "technical_details": ""}],
    "ai_ml_concepts": [{"concept": "", "type": "model/framework/technique/metric", "description": "", "applications": [], "performance_metrics": {}}],
    "integrations": [{"name": "", "type": "api/connector/plugin/native", "platform": "", "description": "", "available_in_products": []}],
    "partnerships": [{"partner": "", "relationship_type": "integrates_with/partners_with/depends_on/resells", "description": "", "products_affected": [], "strategic_value": ""}],
    "people": [{"name": "", "title": "", "role": "ceo/cto/founder/executive", "relationship": "leads/employs", "background": ""}],
    "pricing": [{"tier": "", "price": "", "features": [], "includes_products": [], "limitations": [], "target_segment": ""}],
    "markets": [{"segment": "", "geography": "", "size": "", "targeted_by_products": [], "growth_rate": "", "competitive_landscape": ""}],
    "competitors": [{"company": "", "compete_in": [], "our_advantages": [], "their_advantages": [], "market_position": ""}]
  },
  "relationships": [
    {"from": "", "to": "", "type": "owns/implements/integrates_with/competes_with/partners_with/uses/provides/targets/employs/leads/depends_on", "context": ""}
  ],
  "capabilities": {
    "integration_capabilities": [],
    "technical_capabilities": [],
    "business_capabilities": [],
    "ai_ml_capabilities": []
  },
  "current_state": {
    "positioning": "",
    "value_props": [],
    "core_capabilities": [],
    "recent_updates": [],
    "momentum_indicators": []
  },
  "strategic_intelligence": {
    "innovation_level": 0,
    "growth_indicators": [],
    "market_opportunities": [],
    "technology_trends": [],
    "strategic_initiatives": [],
    "interest_assessment": {
      "interest_level": 0,
      "interest_drivers": [],
      "category": "",
      "impact_areas": [],
      "technical_innovation_score": 0,
      "business_impact_score": 0,
      "summary": ""
    }
  },
  "quantitative_data": {
    "metrics": [{"name": "", "value": "", "context": "", "trend": ""}],
    "claims": [],
    "benchmarks": [],
    "kpis": []
  },
  "summary": {
    "one_line": "",
    "key_insights": [],
    "notable_facts": [],
    "action_items": []
  }
}

Be thorough: list every entity and relationship the content supports.`

const quickPrompt = `You are an AI competitive intelligence analyst. Judge how important this web page change is.

Give two scores from 1 to 10; they will be averaged.

A. Technical innovation
   9-10 breakthrough models, state of the art results, novel architectures
   7-8 significant advances or new capabilities
   5-6 useful optimizations or incremental improvements
   3-4 minor updates or maintenance
   1-2 no technical relevance

B. Business impact
   9-10 major launches, large funding rounds, acquisitions
   7-8 important partnerships or market expansion
   5-6 product updates, new features, team growth
   3-4 routine news
   1-2 trivial changes

Return JSON with exactly this shape:
{
  "interest_assessment": {
    "technical_innovation_score": 0,
    "business_impact_score": 0,
    "interest_level": 0,
    "interest_drivers": [],
    "category": "",
    "impact_areas": [],
    "summary": ""
  }
}`

// ChangePrompt builds the user message for a before/after comparison. A nil
// before marks a page seen for the first time.
func ChangePrompt(company, pageURL string, before *string, after string) string {
	prior := newContentPlaceholder
	if before != nil && *before != "" {
		prior = *before
	}
	var b strings.Builder
	b.WriteString(changePrompt)
	fmt.Fprintf(&b, "\n\nCompany: %s\nURL: %s\n\nBEFORE CONTENT:\n%s\n\nAFTER CONTENT:\n%s\n\n", company, pageURL, prior, after)
	b.WriteString("Analyze what changed and its significance.")
	return b.String()
}

// BaselinePrompt builds the user message for a full-page profile extraction.
func BaselinePrompt(company, pageURL, content string) string {
	return fmt.Sprintf("%s\n\nCompany: %s\nURL: %s\n\nContent to analyze:\n%s", baselinePrompt, company, pageURL, content)
}

// QuickPrompt builds the user message for the scrape-time interest check.
func QuickPrompt(previous *string, current string) string {
	prior := "No previous content"
	if previous != nil && *previous != "" {
		prior = Truncate(*previous, quickSnippet)
	}
	return fmt.Sprintf("%s\n\nPrevious content snippet:\n%s\n\nCurrent content snippet:\n%s\n\nFocus on AI/ML relevance and competitive intelligence value.",
		quickPrompt, prior, Truncate(current, quickSnippet))
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
