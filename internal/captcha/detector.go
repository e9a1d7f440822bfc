// Package captcha recognizes CAPTCHA widgets and bot-protection challenge
// pages in fetched HTML so they are never mistaken for real content changes.
package captcha

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudflare/ahocorasick"
	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/telemetry"
)

// Type names the kind of challenge that was found.
type Type string

// Challenge types reported by the detector.
const (
	RecaptchaV2   Type = "recaptcha_v2"
	RecaptchaV3   Type = "recaptcha_v3"
	HCaptcha      Type = "hcaptcha"
	Cloudflare    Type = "cloudflare"
	FunCaptcha    Type = "funcaptcha"
	GeeTest       Type = "geetest"
	Custom        Type = "custom"
	Image         Type = "image"
	ChallengePage Type = "challenge_page"
)

// Detection methods, in the order they are tried.
const (
	MethodDOM     = "dom"
	MethodTitle   = "title"
	MethodPattern = "pattern"
	MethodScript  = "script"
	MethodDynamic = "dynamic"
	MethodSite    = "site"
)

// minimalContent is the visible-text length under which a page is treated as
// a possible interstitial.
const minimalContent = 100

// Result describes a detection.
type Result struct {
	Detected bool   `json:"detected"`
	Type     Type   `json:"type,omitempty"`
	Method   string `json:"method,omitempty"`
}

type selectorRule struct {
	selector string
	kind     Type
}

var domRules = []selectorRule{
	{`iframe[src*="recaptcha/api2/anchor"]`, RecaptchaV2},
	{`div.g-recaptcha[data-sitekey]`, RecaptchaV3},
	{`iframe[src*="hcaptcha.com"], div[data-hcaptcha-widget-id]`, HCaptcha},
	{`iframe[src*="challenges.cloudflare.com/cdn-cgi/challenge-platform"]`, Cloudflare},
	{`[id*="funcaptcha"], [class*="funcaptcha"], iframe[src*="funcaptcha.com"], iframe[src*="arkoselabs.com"]`, FunCaptcha},
	{`div.geetest_captcha, div[id*="geetest"], div[class*="geetest"]`, GeeTest},
	{`img[src*="captcha"], img[alt*="captcha"], div.captcha-image, div[class*="captcha"][class*="image"]`, Image},
	{`input[name*="captcha"], input[placeholder*="captcha"], label:contains("captcha"), label:contains("security code")`, Custom},
}

// Elements that show up once a deferred challenge script has run.
const dynamicSelector = `iframe[src*="recaptcha"], iframe[src*="hcaptcha"], iframe[src*="challenges.cloudflare.com"], ` +
	`div.g-recaptcha, div[id*="captcha"], div[class*="captcha"], .cf-challenge, #challenge-form`

type textRule struct {
	needle string
	kind   Type
}

var titleRules = []textRule{
	{"just a moment", Cloudflare},
	{"attention required", Cloudflare},
	{"security check", ChallengePage},
	{"access denied", ChallengePage},
	{"please wait", ChallengePage},
	{"checking your browser", Cloudflare},
	{"verify you are human", ChallengePage},
	{"one more step", ChallengePage},
	{"are you a robot", ChallengePage},
	{"prove you are human", ChallengePage},
	{"enable cookies", ChallengePage},
	{"enable javascript", ChallengePage},
}

// Script indicators are matched in priority order; earlier entries win.
var scriptRules = []textRule{
	{"recaptcha", RecaptchaV2},
	{"google.com/recaptcha", RecaptchaV2},
	{"hcaptcha.com", HCaptcha},
	{"funcaptcha", FunCaptcha},
	{"arkoselabs", FunCaptcha},
	{"geetest", GeeTest},
	{"challenges.cloudflare.com", Cloudflare},
	{"datadome", ChallengePage},
	{"perimeterx", ChallengePage},
}

type patternRule struct {
	re   *regexp.Regexp
	kind Type
}

var contentPatterns = []patternRule{
	{regexp.MustCompile(`(?i)cf-browser-verification`), Cloudflare},
	{regexp.MustCompile(`(?i)cf-challenge`), Cloudflare},
	{regexp.MustCompile(`(?i)challenge-form`), Cloudflare},
	{regexp.MustCompile(`(?i)ray\s*id:\s*[a-f0-9]+`), Cloudflare},
	{regexp.MustCompile(`(?i)checking\s+your\s+browser`), ChallengePage},
	{regexp.MustCompile(`(?i)this\s+process\s+is\s+automatic`), ChallengePage},
	{regexp.MustCompile(`(?i)you\s+will\s+be\s+redirected`), ChallengePage},
	{regexp.MustCompile(`(?i)verify\s+you\s+are\s+human`), ChallengePage},
	{regexp.MustCompile(`(?i)please\s+complete\s+the\s+security\s+check`), ChallengePage},
	{regexp.MustCompile(`(?i)enable\s+javascript\s+to\s+continue`), ChallengePage},
	{regexp.MustCompile(`(?i)ddos\s+protection\s+by`), ChallengePage},
	{regexp.MustCompile(`(?i)browser\s+verification\s+required`), ChallengePage},
	{regexp.MustCompile(`(?i)datadome[-\s]?protection`), ChallengePage},
	{regexp.MustCompile(`(?i)perimeterx`), ChallengePage},
	{regexp.MustCompile(`(?i)kasada`), ChallengePage},
	{regexp.MustCompile(`(?i)shape\s+security`), ChallengePage},
	{regexp.MustCompile(`(?i)distil\s+networks`), ChallengePage},
	{regexp.MustCompile(`(?i)incapsula`), ChallengePage},
	{regexp.MustCompile(`(?i)akamai\s+bot\s+manager`), ChallengePage},
}

var (
	titleTag   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Detector runs the detection chain and keeps per-type counts.
type Detector struct {
	logger *zap.Logger

	matchMu sync.Mutex
	scripts *ahocorasick.Matcher

	statsMu sync.Mutex
	stats   map[Type]int
	total   int
}

// NewDetector builds a Detector.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	needles := make([]string, len(scriptRules))
	for i, rule := range scriptRules {
		needles[i] = rule.needle
	}
	return &Detector{
		logger:  logger,
		scripts: ahocorasick.NewStringMatcher(needles),
		stats:   make(map[Type]int),
	}
}

// Detect inspects html fetched from pageURL.
func (d *Detector) Detect(html, pageURL string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		d.logger.Debug("captcha check skipped, unparsable html", zap.String("url", pageURL), zap.Error(err))
		return Result{}
	}
	minimal := len(visibleText(doc)) < minimalContent

	checks := []func() (Type, bool){
		func() (Type, bool) { return d.viaDOM(doc) },
		func() (Type, bool) { return viaTitle(html) },
		func() (Type, bool) {
			if !minimal {
				return "", false
			}
			return viaPatterns(html)
		},
		func() (Type, bool) { return d.viaScripts(doc) },
		func() (Type, bool) {
			if minimal && doc.Find(dynamicSelector).Length() > 0 {
				return ChallengePage, true
			}
			return "", false
		},
		func() (Type, bool) { return viaSite(pageURL, html, minimal) },
	}
	methods := []string{MethodDOM, MethodTitle, MethodPattern, MethodScript, MethodDynamic, MethodSite}

	for i, check := range checks {
		if kind, ok := check(); ok {
			d.record(kind)
			d.logger.Info("challenge detected",
				zap.String("url", pageURL),
				zap.String("type", string(kind)),
				zap.String("method", methods[i]),
			)
			return Result{Detected: true, Type: kind, Method: methods[i]}
		}
	}
	return Result{}
}

// Stats returns a copy of the per-type counts and the total.
func (d *Detector) Stats() (map[Type]int, int) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	out := make(map[Type]int, len(d.stats))
	for k, v := range d.stats {
		out[k] = v
	}
	return out, d.total
}

func (d *Detector) record(kind Type) {
	d.statsMu.Lock()
	d.stats[kind]++
	d.total++
	d.statsMu.Unlock()
	telemetry.ObserveCaptcha(string(kind))
}

func (d *Detector) viaDOM(doc *goquery.Document) (Type, bool) {
	for _, rule := range domRules {
		if doc.Find(rule.selector).Length() > 0 {
			return rule.kind, true
		}
	}
	return "", false
}

func viaTitle(html string) (Type, bool) {
	m := titleTag.FindStringSubmatch(html)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	title := strings.ToLower(m[1])
	for _, rule := range titleRules {
		if strings.Contains(title, rule.needle) {
			return rule.kind, true
		}
	}
	return "", false
}

func viaPatterns(html string) (Type, bool) {
	for _, rule := range contentPatterns {
		if rule.re.MatchString(html) {
			return rule.kind, true
		}
	}
	return "", false
}

func (d *Detector) viaScripts(doc *goquery.Document) (Type, bool) {
	best := -1
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		body := []rune(s.Text())
		if len(body) > 200 {
			body = body[:200]
		}
		combined := strings.ToLower(src + " " + string(body))

		d.matchMu.Lock()
		hits := d.scripts.Match([]byte(combined))
		d.matchMu.Unlock()
		for _, idx := range hits {
			if best == -1 || idx < best {
				best = idx
			}
		}
	})
	if best == -1 {
		return "", false
	}
	return scriptRules[best].kind, true
}

func viaSite(pageURL, html string, minimal bool) (Type, bool) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	if strings.Contains(u.Hostname(), "you.com") && minimal && strings.Contains(html, "security") {
		return ChallengePage, true
	}
	return "", false
}

func visibleText(doc *goquery.Document) string {
	clone := goquery.CloneDocument(doc)
	clone.Find("script, style").Remove()
	return strings.TrimSpace(whitespace.ReplaceAllString(clone.Text(), " "))
}
