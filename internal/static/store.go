package static

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Store is the read side the generator and the API dashboard need.
type Store interface {
	ListCompanies(ctx context.Context) ([]monitor.Company, error)
	BaselineAnalyses(ctx context.Context) ([]analyzer.BaselineRow, error)
	DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error)
	CompanyActivity(ctx context.Context, now time.Time) ([]CompanyActivity, error)
	RecentPages(ctx context.Context, since time.Time) ([]ExtractedPage, error)
	// DetectedChanges lists change_detection rows newer than since with at
	// least minInterest, newest first.
	DetectedChanges(ctx context.Context, since time.Time, minInterest, limit int) ([]ChangeRow, error)
	ScrapingRuns(ctx context.Context, limit int) ([]RunRow, error)
	CompanyChangeStats(ctx context.Context, now time.Time) ([]CompanyChangeStats, error)
	// TopInsights returns up to perCompany enhanced analyses per company,
	// highest interest first.
	TopInsights(ctx context.Context, perCompany int) ([]Insight, error)
}

// DashboardStats are the headline counters of the dashboard.
type DashboardStats struct {
	TotalCompanies int `json:"total_companies"`
	TotalURLs      int `json:"total_urls"`
	Changes24h     int `json:"changes_24h"`
	Changes7d      int `json:"changes_7d"`
	HighInterest7d int `json:"high_interest_7d"`
}

// CompanyActivity is the per-company monitoring activity.
type CompanyActivity struct {
	Company   string
	URLCount  int
	Changes7d int
	High7d    int
	LastScan  *time.Time
}

// ExtractedPage is a recent scraped snapshot with a content preview.
type ExtractedPage struct {
	Company       string    `json:"company"`
	URL           string    `json:"url"`
	URLName       string    `json:"url_name"`
	Title         string    `json:"title"`
	Preview       string    `json:"content_preview"`
	InterestLevel int       `json:"interest_level"`
	ContentHash   string    `json:"content_hash"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// ChangeRow is a change_detection row joined with the page that produced it.
type ChangeRow struct {
	ID            int64
	Company       string
	URL           string
	URLName       string
	ChangeType    string
	OldHash       *string
	NewHash       string
	DetectedAt    time.Time
	InterestLevel int
	Analysis      json.RawMessage
	Title         string
	Preview       string
}

// RunRow is one scraping run.
type RunRow struct {
	ID              int64
	StartedAt       time.Time
	CompletedAt     *time.Time
	URLsTotal       int
	URLsSucceeded   int
	URLsFailed      int
	ChangesDetected int
	DurationSeconds int
	Errors          json.RawMessage
}

// CompanyChangeStats aggregates analyzed changes per company.
type CompanyChangeStats struct {
	Company     string
	Total       int
	Last7d      int
	Last30d     int
	LastChange  *time.Time
	AvgInterest *float64
}

// Insight is an enhanced analysis surfaced on company pages.
type Insight struct {
	Company        string          `json:"-"`
	URL            string          `json:"url"`
	InterestLevel  int             `json:"interest_level"`
	DetectedAt     time.Time       `json:"detected_at"`
	BusinessImpact string          `json:"business_impact"`
	KeyInsights    json.RawMessage `json:"key_insights"`
}
