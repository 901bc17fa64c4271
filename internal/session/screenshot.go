package session

import (
	"encoding/base64"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/observability"
)

// captureTimeout bounds a single screenshot attempt so a wedged page cannot
// stall result assembly.
const captureTimeout = 10 * time.Second

// Capturer encodes the page's visual state after every action attempt.
type Capturer struct {
	logger *zap.Logger
	cfg    config.ScreenshotConfig
}

func NewCapturer(logger *zap.Logger, cfg config.ScreenshotConfig) *Capturer {
	return &Capturer{
		logger: logger.Named("screenshot"),
		cfg:    cfg,
	}
}

// Capture returns the current page state as a base64-encoded image. Capture
// is strictly best-effort: any failure degrades to an empty string so that a
// screenshot problem can never displace the action's own outcome.
func (c *Capturer) Capture(page Page) string {
	if page == nil || page.IsClosed() {
		return ""
	}

	opts := playwright.PageScreenshotOptions{
		Timeout:  playwright.Float(float64(captureTimeout.Milliseconds())),
		FullPage: playwright.Bool(c.cfg.FullPage),
	}
	switch c.cfg.Format {
	case config.ScreenshotFormatJPEG:
		opts.Type = playwright.ScreenshotTypeJpeg
		opts.Quality = playwright.Int(c.cfg.Quality)
	default:
		opts.Type = playwright.ScreenshotTypePng
	}

	raw, err := page.Screenshot(opts)
	if err != nil {
		observability.ScreenshotFailures.Inc()
		c.logger.Debug("Screenshot capture failed.", zap.Error(err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
