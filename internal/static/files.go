package static

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Dashboard is the content of dashboard.json.
type Dashboard struct {
	Companies   []DashboardCompany `json:"companies"`
	Stats       DashboardStats     `json:"stats"`
	LastUpdated time.Time          `json:"last_updated"`
}

// DashboardCompany is one company card of the dashboard.
type DashboardCompany struct {
	Name            string     `json:"name"`
	URLCount        int        `json:"url_count"`
	Changes7d       int        `json:"changes_7d"`
	HighInterest7d  int        `json:"high_interest_changes_7d"`
	LastScan        *time.Time `json:"last_scan"`
	TopTechnologies []string   `json:"top_technologies"`
}

// ChangeItem is a detected change as published in changes.json and by the API.
type ChangeItem struct {
	ID             int64           `json:"id"`
	Company        string          `json:"company"`
	URL            string          `json:"url"`
	URLName        string          `json:"url_name"`
	ChangeType     string          `json:"change_type"`
	DetectedAt     time.Time       `json:"detected_at"`
	InterestLevel  int             `json:"interest_level"`
	RelevanceScore int             `json:"relevance_score"`
	Analysis       json.RawMessage `json:"ai_analysis"`
	Summary        string          `json:"summary"`
	Category       string          `json:"category"`
	ImpactAreas    []string        `json:"impact_areas"`
	BeforeHash     *string         `json:"before_hash"`
	AfterHash      string          `json:"after_hash"`
}

// NewsItem is an entry of ai-news.json.
type NewsItem struct {
	ID            string    `json:"id"`
	Company       string    `json:"company"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary"`
	Category      string    `json:"category"`
	InterestLevel int       `json:"interest_level"`
	ImpactAreas   []string  `json:"impact_areas"`
	URL           string    `json:"url"`
	Date          time.Time `json:"date"`
}

// RunItem is an entry of monitoring-runs.json.
type RunItem struct {
	ID              int64           `json:"id"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
	URLsTotal       int             `json:"urls_total"`
	URLsSucceeded   int             `json:"urls_succeeded"`
	URLsFailed      int             `json:"urls_failed"`
	ChangesDetected int             `json:"changes_detected"`
	DurationSeconds int             `json:"duration_seconds"`
	SuccessRate     float64         `json:"success_rate"`
	Errors          json.RawMessage `json:"errors"`
}

// ChangeSummary is the change history block of a company detail.
type ChangeSummary struct {
	Total       int        `json:"total"`
	Last7d      int        `json:"last_7_days"`
	Last30d     int        `json:"last_30_days"`
	LastChange  *time.Time `json:"last_change"`
	AvgInterest *float64   `json:"avg_interest"`
}

// CompanyDetail is written to company-details.json and companies/<slug>.json.
type CompanyDetail struct {
	ID           int64                `json:"id"`
	Name         string               `json:"name"`
	Category     string               `json:"category"`
	Description  string               `json:"description"`
	URLs         []monitor.TrackedURL `json:"urls"`
	Changes      ChangeSummary        `json:"change_stats"`
	Insights     []Insight            `json:"top_insights"`
	Technologies []string             `json:"technologies"`
}

// Dashboard builds the dashboard document for the current time.
func (g *Generator) Dashboard(ctx context.Context) (Dashboard, error) {
	return g.dashboardAt(ctx, g.clock.Now())
}

func (g *Generator) dashboardAt(ctx context.Context, now time.Time) (Dashboard, error) {
	stats, err := g.store.DashboardStats(ctx, now)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard stats: %w", err)
	}
	activity, err := g.store.CompanyActivity(ctx, now)
	if err != nil {
		return Dashboard{}, fmt.Errorf("company activity: %w", err)
	}
	techs, err := g.technologies(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	cards := make([]DashboardCompany, 0, len(activity))
	for _, a := range activity {
		top := techs[a.Company]
		if len(top) > topTechnologies {
			top = top[:topTechnologies]
		}
		cards = append(cards, DashboardCompany{
			Name:            a.Company,
			URLCount:        a.URLCount,
			Changes7d:       a.Changes7d,
			HighInterest7d:  a.High7d,
			LastScan:        a.LastScan,
			TopTechnologies: nonNil(top),
		})
	}
	return Dashboard{Companies: cards, Stats: stats, LastUpdated: now}, nil
}

func (g *Generator) companies(ctx context.Context, now time.Time) (any, error) {
	companies, err := g.store.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	return map[string]any{"companies": companies, "total": len(companies), "last_updated": now}, nil
}

func (g *Generator) extractedData(ctx context.Context, now time.Time) (any, error) {
	pages, err := g.store.RecentPages(ctx, now.Add(-7*day))
	if err != nil {
		return nil, fmt.Errorf("recent pages: %w", err)
	}
	if pages == nil {
		pages = []ExtractedPage{}
	}
	return map[string]any{"pages": pages, "total": len(pages), "last_updated": now}, nil
}

func (g *Generator) changes(ctx context.Context, now time.Time) (any, error) {
	rows, err := g.store.DetectedChanges(ctx, now.Add(-changesWindow), 0, changesLimit)
	if err != nil {
		return nil, fmt.Errorf("detected changes: %w", err)
	}
	items := make([]ChangeItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, FormatChange(r))
	}
	return map[string]any{"changes": items, "total": len(items), "last_updated": now}, nil
}

func (g *Generator) monitoringRuns(ctx context.Context, now time.Time) (any, error) {
	rows, err := g.store.ScrapingRuns(ctx, runsLimit)
	if err != nil {
		return nil, fmt.Errorf("scraping runs: %w", err)
	}
	runs := make([]RunItem, 0, len(rows))
	for _, r := range rows {
		errs := r.Errors
		if len(errs) == 0 {
			errs = json.RawMessage("[]")
		}
		runs = append(runs, RunItem{
			ID:              r.ID,
			StartedAt:       r.StartedAt,
			CompletedAt:     r.CompletedAt,
			URLsTotal:       r.URLsTotal,
			URLsSucceeded:   r.URLsSucceeded,
			URLsFailed:      r.URLsFailed,
			ChangesDetected: r.ChangesDetected,
			DurationSeconds: r.DurationSeconds,
			SuccessRate:     SuccessRate(r.URLsSucceeded, r.URLsTotal),
			Errors:          errs,
		})
	}
	return map[string]any{"runs": runs, "total": len(runs), "last_updated": now}, nil
}

func (g *Generator) aiNews(ctx context.Context, now time.Time) (any, error) {
	rows, err := g.store.DetectedChanges(ctx, now.Add(-newsWindow), newsMinInterest, newsLimit)
	if err != nil {
		return nil, fmt.Errorf("news changes: %w", err)
	}
	news := make([]NewsItem, 0, len(rows))
	for _, r := range rows {
		item := FormatChange(r)
		title := r.Title
		if title == "" {
			title = "Update on " + r.URLName
		}
		news = append(news, NewsItem{
			ID:            fmt.Sprintf("%s-%d", r.Company, r.DetectedAt.UnixMilli()),
			Company:       r.Company,
			Title:         title,
			Summary:       item.Summary,
			Category:      item.Category,
			InterestLevel: r.InterestLevel,
			ImpactAreas:   item.ImpactAreas,
			URL:           r.URL,
			Date:          r.DetectedAt,
		})
	}
	return map[string]any{"news": news, "total": len(news), "last_updated": now}, nil
}

func (g *Generator) companyDetails(ctx context.Context, now time.Time) ([]CompanyDetail, error) {
	companies, err := g.store.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	stats, err := g.store.CompanyChangeStats(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("company change stats: %w", err)
	}
	insights, err := g.store.TopInsights(ctx, g.opts.InsightsPerCompany)
	if err != nil {
		return nil, fmt.Errorf("top insights: %w", err)
	}
	techs, err := g.technologies(ctx)
	if err != nil {
		return nil, err
	}

	statsBy := make(map[string]CompanyChangeStats, len(stats))
	for _, s := range stats {
		statsBy[s.Company] = s
	}
	insightsBy := make(map[string][]Insight)
	for _, in := range insights {
		insightsBy[in.Company] = append(insightsBy[in.Company], in)
	}

	out := make([]CompanyDetail, 0, len(companies))
	for _, c := range companies {
		st := statsBy[c.Name]
		var avg *float64
		if st.AvgInterest != nil {
			v := round1(*st.AvgInterest)
			avg = &v
		}
		urls := c.URLs
		if urls == nil {
			urls = []monitor.TrackedURL{}
		}
		ins := insightsBy[c.Name]
		if ins == nil {
			ins = []Insight{}
		}
		out = append(out, CompanyDetail{
			ID:          c.ID,
			Name:        c.Name,
			Category:    c.Category,
			Description: c.Description,
			URLs:        urls,
			Changes: ChangeSummary{
				Total:       st.Total,
				Last7d:      st.Last7d,
				Last30d:     st.Last30d,
				LastChange:  st.LastChange,
				AvgInterest: avg,
			},
			Insights:     ins,
			Technologies: nonNil(techs[c.Name]),
		})
	}
	return out, nil
}

// technologies maps company to its baseline technologies, most frequent first.
func (g *Generator) technologies(ctx context.Context) (map[string][]string, error) {
	rows, err := g.store.BaselineAnalyses(ctx)
	if err != nil {
		return nil, fmt.Errorf("baseline analyses: %w", err)
	}
	return rankTechnologies(rows), nil
}

func rankTechnologies(rows []analyzer.BaselineRow) map[string][]string {
	counts := make(map[string]map[string]int)
	for _, row := range rows {
		var names []string
		if err := json.Unmarshal([]byte(row.TechnologyStack), &names); err != nil {
			continue
		}
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if counts[row.Company] == nil {
				counts[row.Company] = make(map[string]int)
			}
			counts[row.Company][n]++
		}
	}
	out := make(map[string][]string, len(counts))
	for company, byName := range counts {
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool {
			if byName[names[i]] != byName[names[j]] {
				return byName[names[i]] > byName[names[j]]
			}
			return names[i] < names[j]
		})
		out[company] = names
	}
	return out
}

// FormatChange applies the display defaults to a change row.
func FormatChange(r ChangeRow) ChangeItem {
	analysis := r.Analysis
	if len(analysis) == 0 || !json.Valid(analysis) {
		analysis = json.RawMessage("null")
	}
	// Fields are read one by one so a single off-shape field only loses its
	// own default.
	var view struct {
		Summary     json.RawMessage `json:"summary"`
		Category    json.RawMessage `json:"category"`
		ImpactAreas json.RawMessage `json:"impact_areas"`
	}
	_ = json.Unmarshal(analysis, &view)

	summary := jsonString(view.Summary)
	if summary == "" && r.Preview != "" {
		summary = truncate(r.Preview, 200) + "..."
	}
	category := jsonString(view.Category)
	if category == "" {
		category = "General Update"
	}
	return ChangeItem{
		ID:             r.ID,
		Company:        r.Company,
		URL:            r.URL,
		URLName:        r.URLName,
		ChangeType:     r.ChangeType,
		DetectedAt:     r.DetectedAt,
		InterestLevel:  r.InterestLevel,
		RelevanceScore: r.InterestLevel,
		Analysis:       analysis,
		Summary:        summary,
		Category:       category,
		ImpactAreas:    stringList(view.ImpactAreas),
		BeforeHash:     r.OldHash,
		AfterHash:      r.NewHash,
	}
}

func jsonString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// stringList reads a JSON string array, treating a lone string as one item.
// Non-string items are skipped.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		items = []json.RawMessage{raw}
	}
	for _, it := range items {
		if s := jsonString(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SuccessRate is succeeded/total as a percentage with one decimal.
func SuccessRate(succeeded, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(succeeded) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
