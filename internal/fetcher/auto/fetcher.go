// Package auto routes fetches between the HTTP collector and the headless
// renderer according to scraper.fetch_mode.
package auto

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Mode selects how pages are fetched.
type Mode string

// Supported fetch modes.
const (
	ModeHTTP     Mode = "http"
	ModeHeadless Mode = "headless"
	ModeAuto     Mode = "auto"
)

// Fetcher wraps a plain and a rendering fetcher.
type Fetcher struct {
	mode     Mode
	plain    monitor.Fetcher
	rendered monitor.Fetcher
	detector monitor.HeadlessDetector
	logger   *zap.Logger
}

// New builds a routing fetcher. rendered and detector may be nil in http mode.
func New(mode Mode, plain, rendered monitor.Fetcher, detector monitor.HeadlessDetector, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if plain == nil {
		return nil, fmt.Errorf("auto fetcher: plain fetcher is required")
	}
	switch mode {
	case ModeHTTP:
	case ModeHeadless:
		if rendered == nil {
			return nil, fmt.Errorf("auto fetcher: mode %q needs a headless fetcher", mode)
		}
	case ModeAuto:
		if rendered == nil || detector == nil {
			return nil, fmt.Errorf("auto fetcher: mode %q needs a headless fetcher and detector", mode)
		}
	default:
		return nil, fmt.Errorf("auto fetcher: unknown mode %q", mode)
	}
	return &Fetcher{mode: mode, plain: plain, rendered: rendered, detector: detector, logger: logger}, nil
}

// Fetch implements monitor.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	if f.mode == ModeHeadless {
		return f.render(ctx, request)
	}

	probe, err := f.plain.Fetch(ctx, request)
	if err != nil || f.mode != ModeAuto {
		return probe, err
	}
	if !f.detector.ShouldPromote(probe) {
		return probe, nil
	}

	f.logger.Debug("promoting to headless", zap.String("url", request.URL), zap.Int("bytes", len(probe.Body)))
	rendered, err := f.render(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return monitor.FetchResponse{}, err
		}
		f.logger.Warn("headless render failed, using http response",
			zap.String("url", request.URL), zap.Error(err))
		return probe, nil
	}
	return rendered, nil
}

func (f *Fetcher) render(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	resp, err := f.rendered.Fetch(ctx, request)
	if err != nil {
		return monitor.FetchResponse{}, err
	}
	resp.UsedHeadless = true
	return resp, nil
}
