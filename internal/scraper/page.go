package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/analyzer"
	"github.com/JakeFAU/compintel-monitor/internal/captcha"
	"github.com/JakeFAU/compintel-monitor/internal/change"
	"github.com/JakeFAU/compintel-monitor/internal/extract"
	"github.com/JakeFAU/compintel-monitor/internal/monitor"
	"github.com/JakeFAU/compintel-monitor/internal/progress"
	"github.com/JakeFAU/compintel-monitor/internal/slug"
	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
)

// unchangedInterest is stored on snapshots that were not assessed.
const unchangedInterest = 5

const htmlContentType = "text/html; charset=utf-8"

type pageResult struct {
	changeType monitor.ChangeType
	published  bool
}

// challengeError marks a page served as a CAPTCHA or bot challenge.
type challengeError struct {
	kind captcha.Type
}

func (e *challengeError) Error() string {
	return fmt.Sprintf("%s: %s", monitor.ErrCaptchaDetected, e.kind)
}

func (e *challengeError) Unwrap() error {
	return monitor.ErrCaptchaDetected
}

func challengeKind(err error) (captcha.Type, bool) {
	var ce *challengeError
	if errors.As(err, &ce) {
		return ce.kind, true
	}
	return "", false
}

func retryable(err error) bool {
	return !errors.Is(err, monitor.ErrCaptchaDetected)
}

// statusObserver is implemented by limiters that adapt to server pushback.
type statusObserver interface {
	Observe(rawURL string, status int)
}

func (s *Scraper) scrapePage(ctx context.Context, company monitor.Company, u monitor.TrackedURL) (pageResult, error) {
	site := siteOf(u.URL)
	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx, u.URL); err != nil {
			return pageResult{}, err
		}
	}
	s.emit(progress.Event{Stage: progress.StageFetchStart, Company: company.Name, Site: site, URL: u.URL})

	resp, err := s.fetch(ctx, u.URL)
	if err != nil {
		telemetry.ObserveScrape(u.URL, "fetch_error", 0)
		return pageResult{}, err
	}
	if obs, ok := s.deps.Limiter.(statusObserver); ok {
		obs.Observe(u.URL, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		telemetry.ObserveScrape(u.URL, "http_error", len(resp.Body))
		return pageResult{}, fmt.Errorf("http status %d", resp.StatusCode)
	}

	html := string(resp.Body)
	if s.deps.Captcha != nil {
		if res := s.deps.Captcha.Detect(html, u.URL); res.Detected {
			telemetry.ObserveScrape(u.URL, "captcha", len(resp.Body))
			return pageResult{}, &challengeError{kind: res.Type}
		}
	}

	page, err := extract.FromHTML(html, u.URL)
	if err != nil {
		return pageResult{}, err
	}
	text := change.PageText(page.Title, page.Text)

	prev, err := s.deps.Store.LatestPage(ctx, company.Name, u.URL)
	if err != nil {
		return pageResult{}, fmt.Errorf("load previous snapshot: %w", err)
	}
	var prevHash, prevContent *string
	if prev != nil {
		prevHash, prevContent = &prev.ContentHash, &prev.Content
	}
	hash, changeType, err := s.deps.Changes.Detect(text, prevHash)
	if err != nil {
		return pageResult{}, err
	}

	record := PageRecord{
		Company:       company.Name,
		URL:           u.URL,
		URLName:       urlName(u),
		Title:         page.Title,
		Content:       text,
		HTML:          html,
		ContentHash:   hash,
		PreviousHash:  prevHash,
		ChangeType:    changeType,
		InterestLevel: unchangedInterest,
		ScrapedAt:     s.deps.Clock.Now(),
	}
	if changeType.Detected() {
		assessment := analyzer.FallbackAssessment()
		if s.deps.Assessor != nil {
			assessment = s.deps.Assessor.Assess(ctx, prevContent, text)
		}
		record.Assessment = &assessment
		record.InterestLevel = assessment.InterestLevel
	}
	record.BlobURI = s.archive(ctx, company.Name, hash, resp.Body)

	if err := s.deps.Store.SavePage(ctx, record); err != nil {
		return pageResult{}, fmt.Errorf("save page: %w", err)
	}

	result := pageResult{changeType: changeType}
	if changeType.Detected() {
		telemetry.ObserveChange(string(changeType))
		result.published = s.publish(ctx, record)
		s.emit(progress.Event{
			Stage:    progress.StageChange,
			Company:  company.Name,
			Site:     site,
			URL:      u.URL,
			Change:   changeType,
			Interest: record.InterestLevel,
		})
		s.logger.Info("change detected",
			zap.String("company", company.Name),
			zap.String("url", u.URL),
			zap.String("type", string(changeType)),
			zap.Int("interest_level", record.InterestLevel),
			zap.String("category", record.Assessment.Category),
		)
	}

	telemetry.ObserveScrape(u.URL, "success", len(resp.Body))
	s.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Company:     company.Name,
		Site:        site,
		URL:         u.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
	return result, nil
}

// fetch applies the page timeout. A timeout of the page itself is reported
// without wrapping context.DeadlineExceeded so the attempt can be retried.
func (s *Scraper) fetch(ctx context.Context, rawURL string) (monitor.FetchResponse, error) {
	pageCtx, cancel := context.WithTimeout(ctx, s.opts.PageTimeout)
	defer cancel()

	resp, err := s.deps.Fetcher.Fetch(pageCtx, monitor.FetchRequest{
		URL:           rawURL,
		RespectRobots: s.opts.RespectRobots,
	})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() == nil && errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
		return monitor.FetchResponse{}, fmt.Errorf("page timeout after %s", s.opts.PageTimeout)
	}
	return monitor.FetchResponse{}, err
}

// archive stores the raw HTML and returns its URI, or "" when archiving is
// off or fails.
func (s *Scraper) archive(ctx context.Context, company, hash string, body []byte) string {
	if !s.opts.ArchiveHTML || s.deps.Archive == nil {
		return ""
	}
	key := path.Join(s.opts.ArchivePrefix, slug.Make(company), hash+".html")
	uri, err := s.deps.Archive.PutObject(ctx, key, htmlContentType, body)
	if err != nil {
		s.logger.Warn("archive html failed", zap.String("path", key), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Scraper) publish(ctx context.Context, rec PageRecord) bool {
	if s.deps.Publisher == nil {
		return false
	}
	evt := monitor.ChangeEvent{
		Company:       rec.Company,
		URL:           rec.URL,
		URLName:       rec.URLName,
		ChangeType:    rec.ChangeType,
		OldHash:       rec.PreviousHash,
		NewHash:       rec.ContentHash,
		InterestLevel: rec.InterestLevel,
		BlobURI:       rec.BlobURI,
		DetectedAt:    rec.ScrapedAt,
	}
	if rec.Assessment != nil {
		evt.Category = rec.Assessment.Category
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := s.deps.Publisher.Publish(pubCtx, monitor.TopicPageChanged, evt); err != nil {
		s.logger.Warn("publish change event", zap.String("url", rec.URL), zap.Error(err))
		return false
	}
	return true
}

func urlName(u monitor.TrackedURL) string {
	if u.Name != "" {
		return u.Name
	}
	return u.URL
}

func siteOf(rawURL string) string {
	return telemetry.SanitizeSite(rawURL)
}
