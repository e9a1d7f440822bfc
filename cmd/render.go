package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/markdown"
	"github.com/JakeFAU/compintel-monitor/internal/pipeline"
	"github.com/JakeFAU/compintel-monitor/internal/scraper"
	"github.com/JakeFAU/compintel-monitor/internal/server"
	"github.com/JakeFAU/compintel-monitor/internal/static"
)

const maxErrorRows = 10

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// render prints a stage summary. Unknown values are ignored.
func render(w io.Writer, v any) {
	switch s := v.(type) {
	case *scraper.RunSummary:
		if s != nil {
			renderScrape(w, *s)
		}
	case *markdown.Result:
		if s != nil {
			renderConvert(w, *s)
		}
	case *pipeline.AnalyzeSummary:
		if s != nil {
			renderAnalyze(w, *s)
		}
	case *analyzer.BaselineResult:
		if s != nil {
			renderBaseline(w, *s)
		}
	case *static.Status:
		if s != nil {
			renderGenerate(w, *s)
		}
	case *pipeline.PipelineSummary:
		if s != nil {
			renderPipeline(w, *s)
		}
	}
}

func renderScrape(w io.Writer, s scraper.RunSummary) {
	t := newTable(w, "Scrape")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"URLs", s.Total},
		{"Succeeded", s.Succeeded},
		{"Failed", s.Failed},
		{"New", s.New},
		{"Changed", s.Changed},
		{"Unchanged", s.Unchanged},
		{"CAPTCHA blocked", s.Captcha.Total},
		{"Published", s.Published},
		{"Duration", time.Duration(s.DurationSeconds) * time.Second},
	})
	t.Render()

	if len(s.Errors) == 0 {
		return
	}
	e := newTable(w, fmt.Sprintf("Scrape errors (%d)", len(s.Errors)))
	e.AppendHeader(table.Row{"URL", "Error"})
	for i, pe := range s.Errors {
		if i == maxErrorRows {
			e.AppendFooter(table.Row{fmt.Sprintf("… %d more", len(s.Errors)-maxErrorRows), ""})
			break
		}
		e.AppendRow(table.Row{pe.URL, pe.Error})
	}
	e.Render()
}

func renderConvert(w io.Writer, r markdown.Result) {
	t := newTable(w, "Markdown conversion")
	t.AppendHeader(table.Row{"Source", "Found", "Converted", "Skipped", "Errors"})
	for _, p := range []struct {
		name string
		pass markdown.PassResult
	}{
		{markdown.SourceScraped, r.Scraped},
		{markdown.SourceBaseline, r.Baseline},
		{markdown.SourceBackfill, r.Backfill},
	} {
		t.AppendRow(table.Row{p.name, p.pass.Found, p.pass.Converted, p.pass.Skipped, p.pass.Errors})
	}
	t.AppendFooter(table.Row{"Coverage", fmt.Sprintf("%.1f%%", r.Stats.CoveragePercent),
		fmt.Sprintf("%d/%d", r.Stats.Covered, r.Stats.UniqueContent), "", ""})
	t.Render()
}

func renderAnalyze(w io.Writer, s pipeline.AnalyzeSummary) {
	if s.Analysis != nil {
		t := newTable(w, fmt.Sprintf("Change analysis (%s)", s.Mode))
		t.AppendHeader(table.Row{"Processed", "Successful", "Failed", "Critical"})
		t.AppendRow(table.Row{s.Analysis.TotalProcessed, s.Analysis.Successful, s.Analysis.Failed, s.Analysis.CriticalErrors})
		t.Render()
	}
	if s.Report == nil {
		return
	}
	sum := s.Report.Summary
	t := newTable(w, fmt.Sprintf("Change report (%s)", s.Report.Period))
	t.AppendHeader(table.Row{"Total", "High", "Medium", "Low", "Average interest"})
	t.AppendRow(table.Row{sum.TotalChanges, sum.HighInterest, sum.MediumInterest, sum.LowInterest, fmt.Sprintf("%.1f", sum.AverageInterest)})
	t.Render()

	if len(s.Report.TopChanges) == 0 {
		return
	}
	top := newTable(w, "Top changes")
	top.AppendHeader(table.Row{"Company", "URL", "Interest", "Type", "Impact"})
	for _, c := range s.Report.TopChanges {
		top.AppendRow(table.Row{c.Company, c.URL, c.InterestLevel, c.Type, c.Impact})
	}
	top.Render()
}

func renderBaseline(w io.Writer, r analyzer.BaselineResult) {
	st := r.Report.Statistics
	t := newTable(w, "Baseline")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Skipped", r.Skipped},
		{"Companies", st.Companies},
		{"URLs analyzed", st.URLsAnalyzed},
		{"Products", st.TotalProducts},
		{"Technologies", st.TotalTechnologies},
		{"Partnerships", st.TotalPartnerships},
		{"Integrations", st.TotalIntegrations},
		{"Failed pages", r.Errors.Failed},
	})
	t.Render()

	if len(r.Report.InterestDist) > 0 {
		levels := make([]string, 0, len(r.Report.InterestDist))
		for k := range r.Report.InterestDist {
			levels = append(levels, k)
		}
		sort.Strings(levels)
		d := newTable(w, "Interest distribution")
		d.AppendHeader(table.Row{"Level", "Pages"})
		for _, k := range levels {
			d.AppendRow(table.Row{k, r.Report.InterestDist[k]})
		}
		d.Render()
	}
}

func renderGenerate(w io.Writer, s static.Status) {
	t := newTable(w, "Static JSON")
	t.AppendHeader(table.Row{"Status", "Files", "Generated at"})
	t.AppendRow(table.Row{s.Status, s.FilesGenerated, s.GeneratedAt.Format(time.RFC3339)})
	t.Render()
	if len(s.Errors) == 0 {
		return
	}
	e := newTable(w, "Failed files")
	e.AppendHeader(table.Row{"File", "Error"})
	for _, fe := range s.Errors {
		e.AppendRow(table.Row{fe.File, fe.Error})
	}
	e.Render()
}

func renderPipeline(w io.Writer, s pipeline.PipelineSummary) {
	t := newTable(w, "Pipeline")
	t.AppendHeader(table.Row{"Stage", "Duration"})
	var total time.Duration
	for _, st := range s.Timings {
		t.AppendRow(table.Row{st.Stage, st.Duration.Round(time.Millisecond)})
		total += st.Duration
	}
	t.AppendFooter(table.Row{"Total", total.Round(time.Millisecond)})
	t.Render()

	render(w, s.Scrape)
	render(w, s.Convert)
	render(w, s.Analyze)
	render(w, s.Generate)
}

func renderVerification(w io.Writer, v server.Verification) {
	t := newTable(w, "Database tables")
	t.AppendHeader(table.Row{"Table", "Status"})
	for _, tbl := range v.Tables {
		status := "ok"
		if !tbl.Present {
			status = "MISSING"
		}
		t.AppendRow(table.Row{tbl.Name, status})
	}
	t.Render()

	l := newTable(w, "LLM")
	l.AppendHeader(table.Row{"Provider", "Model", "Key"})
	key := "valid"
	switch {
	case !v.LLM.Configured:
		key = "not configured"
	case !v.LLM.Valid:
		key = "invalid: " + v.LLM.Error
	}
	l.AppendRow(table.Row{v.LLM.Provider, v.LLM.Model, key})
	l.Render()
}
