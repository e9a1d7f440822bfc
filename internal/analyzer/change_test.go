package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compintel-monitor/internal/cache"
	"github.com/JakeFAU/compintel-monitor/internal/clock/system"
	"github.com/JakeFAU/compintel-monitor/internal/llm"
	"github.com/JakeFAU/compintel-monitor/internal/storage/memory"
)

const analysisReply = `{
  "change_summary": {"what_changed": "pricing page"},
  "interest_assessment": {"interest_level": 8, "confidence": 0.9},
  "strategic_analysis": {"business_impact": "cheaper tier", "competitive_implications": "pressure on us", "market_signals": ["price war"]},
  "insights": {"key_findings": ["new tier"], "threats": ["undercut"]}
}`

func changeOptions() ChangeOptions {
	return ChangeOptions{
		Model:         "llama-3.3-70b-versatile",
		Temperature:   0.1,
		MaxTokens:     4000,
		RecentWindow:  24 * time.Hour,
		Limit:         500,
		ContentLimit:  15000,
		ReportWindow:  7 * 24 * time.Hour,
		ReportTop:     20,
		ModelLabel:    "groq-llama-3.3-70b",
		ReportsPrefix: "reports",
	}
}

func TestChangeAnalyzerRunStoresAnalysis(t *testing.T) {
	t.Parallel()

	longAfter := strings.Repeat("a", 16000)
	store := &fakeChangeStore{
		changes: []DetectedChange{{
			ID: 11, Company: "Acme", URL: "https://acme.test/pricing", URLName: "pricing",
			ChangeType: "modified", OldHash: ptr("old"), NewHash: "new", DetectedAt: testNow.Add(-time.Hour),
		}},
		markdown: map[string]string{"old": "# Pricing\nbefore", "new": longAfter},
	}
	client := &fakeLLM{replies: []string{analysisReply}}
	a := NewChangeAnalyzer(store, client, memory.NewBlobStore(), nil, system.Fixed(testNow), changeOptions(), nil)

	rep, err := a.Run(context.Background(), ModeRecent)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Successful)
	require.Zero(t, rep.Failed)

	require.NotNil(t, store.gotSince)
	require.Equal(t, testNow.Add(-24*time.Hour), *store.gotSince)
	require.True(t, store.gotSkip)
	require.Equal(t, 500, store.gotLimit)

	req := client.requests[0]
	require.Equal(t, SystemPrompt, req.System)
	require.True(t, req.JSON)
	require.Equal(t, 4000, req.MaxTokens)
	require.Contains(t, req.Prompt, "Company: Acme\nURL: https://acme.test/pricing")
	require.Contains(t, req.Prompt, "BEFORE CONTENT:\n# Pricing\nbefore")
	require.NotContains(t, req.Prompt, strings.Repeat("a", 15001))

	require.Len(t, store.saved, 1)
	rec := store.saved[0]
	require.Equal(t, 8, rec.InterestLevel)
	require.InDelta(t, 0.9, rec.Confidence, 1e-9)
	require.Len(t, rec.AfterSnippet, 1000)
	require.Equal(t, longAfter, rec.MarkdownAfter)
	require.Equal(t, "# Pricing\nbefore", *rec.MarkdownBefore)
	require.Equal(t, "cheaper tier", rec.BusinessImpact)
	require.JSONEq(t, `["new tier"]`, string(rec.KeyInsights))
	require.JSONEq(t, `["price war"]`, string(rec.MarketSignals))
	require.JSONEq(t, `["undercut"]`, string(rec.RiskAssessment))
	require.Equal(t, "groq-llama-3.3-70b", rec.Model)
}

func TestChangeAnalyzerDefaultsAndNewContent(t *testing.T) {
	t.Parallel()

	store := &fakeChangeStore{
		changes: []DetectedChange{
			{ID: 1, Company: "Acme", URL: "u1", NewHash: "h1", InitialInterest: ptr(6)},
			{ID: 2, Company: "Beta", URL: "u2", NewHash: "h2"},
		},
		markdown: map[string]string{"h1": "first", "h2": "second"},
	}
	client := &fakeLLM{replies: []string{`{"insights":{}}`}}
	a := NewChangeAnalyzer(store, client, memory.NewBlobStore(), nil, system.Fixed(testNow), changeOptions(), nil)

	_, err := a.Run(context.Background(), ModeFull)
	require.NoError(t, err)
	require.Nil(t, store.gotSince)
	require.False(t, store.gotSkip)

	require.Contains(t, client.requests[0].Prompt, "[This is new content - no previous version]")
	require.Equal(t, 6, store.saved[0].InterestLevel)
	require.Equal(t, 5, store.saved[1].InterestLevel)
	require.InDelta(t, 0.8, store.saved[1].Confidence, 1e-9)
	require.JSONEq(t, `[]`, string(store.saved[1].KeyInsights))
	require.Nil(t, store.saved[1].MarkdownBefore)
	require.Empty(t, store.saved[1].BeforeSnippet)
}

func TestChangeAnalyzerRecordsPerChangeErrors(t *testing.T) {
	t.Parallel()

	store := &fakeChangeStore{
		changes: []DetectedChange{
			{ID: 1, Company: "Acme", URL: "u1", NewHash: "missing"},
			{ID: 2, Company: "Beta", URL: "u2", NewHash: "h2"},
			{ID: 3, Company: "Gamma", URL: "u3", NewHash: "h3"},
		},
		markdown: map[string]string{"h2": "x", "h3": "y"},
	}
	client := &fakeLLM{
		replies: []string{analysisReply, analysisReply},
		errs:    []error{&llm.APIError{Provider: "groq", StatusCode: 401, Message: "Invalid API Key"}},
	}
	a := NewChangeAnalyzer(store, client, memory.NewBlobStore(), nil, system.Fixed(testNow), changeOptions(), nil)

	rep, err := a.Run(context.Background(), ModeFull)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Failed)
	require.Equal(t, 1, rep.Successful)
	require.Equal(t, 1, rep.CriticalErrors)
	require.Equal(t, "1", rep.Errors[0].ID)
	require.Equal(t, "2", rep.Errors[1].ID)
}

func TestChangeAnalyzerListFailure(t *testing.T) {
	t.Parallel()

	store := &fakeChangeStore{listErr: errors.New("db down")}
	a := NewChangeAnalyzer(store, &fakeLLM{}, nil, nil, system.Fixed(testNow), changeOptions(), nil)

	_, err := a.Run(context.Background(), ModeRecent)
	require.ErrorContains(t, err, "db down")

	_, err = a.Run(context.Background(), "weekly")
	require.Error(t, err)
}

func TestChangeAnalyzerUsesCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	store := &fakeChangeStore{
		changes:  []DetectedChange{{ID: 1, Company: "Acme", URL: "u", OldHash: ptr("a"), NewHash: "b"}},
		markdown: map[string]string{"a": "before", "b": "after"},
	}
	client := &fakeLLM{replies: []string{analysisReply}}
	a := NewChangeAnalyzer(store, client, memory.NewBlobStore(), rc, system.Fixed(testNow), changeOptions(), nil)

	for range 2 {
		_, err := a.Run(context.Background(), ModeFull)
		require.NoError(t, err)
	}
	require.Len(t, client.requests, 1)
	require.Len(t, store.saved, 2)
	require.True(t, mr.Exists("compintel:"+changeCacheKey(store.changes[0])))
}

func TestChangeCacheKeySeparatesPages(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	store := &fakeChangeStore{
		changes: []DetectedChange{
			{ID: 1, Company: "Acme", URL: "https://acme.test/pricing", OldHash: ptr("a"), NewHash: "b"},
			{ID: 2, Company: "Globex", URL: "https://globex.test/pricing", OldHash: ptr("a"), NewHash: "b"},
		},
		markdown: map[string]string{"a": "before", "b": "after"},
	}
	client := &fakeLLM{replies: []string{analysisReply}}
	a := NewChangeAnalyzer(store, client, memory.NewBlobStore(), rc, system.Fixed(testNow), changeOptions(), nil)

	_, err = a.Run(context.Background(), ModeFull)
	require.NoError(t, err)
	require.Len(t, client.requests, 2)
	require.NotEqual(t, changeCacheKey(store.changes[0]), changeCacheKey(store.changes[1]))

	noOld := DetectedChange{Company: "Acme", URL: "https://acme.test/pricing", NewHash: "b"}
	require.NotEqual(t, changeCacheKey(store.changes[0]), changeCacheKey(noOld))
}

func TestGenerateReport(t *testing.T) {
	t.Parallel()

	store := &fakeChangeStore{
		counts: ReportCounts{Total: 10, High: 3, Medium: 4, Low: 3, Average: ptr(5.666)},
		top: []TopChange{{
			Company: "Acme", URL: "u", InterestLevel: 9, Type: "modified",
			Impact: "big", Insights: json.RawMessage(`["x"]`),
		}},
	}
	out := memory.NewBlobStore()
	a := NewChangeAnalyzer(store, &fakeLLM{}, out, nil, system.Fixed(testNow), changeOptions(), nil)

	rep, err := a.GenerateReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, testNow.Add(-7*24*time.Hour), store.reportSince)
	require.Equal(t, "last_7_days", rep.Period)
	require.InDelta(t, 5.7, rep.Summary.AverageInterest, 1e-9)

	raw, ok := out.Get("reports/enhanced-analysis-report.json")
	require.True(t, ok)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	summary := decoded["summary"].(map[string]any)
	require.InDelta(t, 3, summary["high_interest"], 0)
	require.Contains(t, string(raw), "\n  \"period\": \"last_7_days\"")
}
