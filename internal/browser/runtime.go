// internal/browser/runtime.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
)

// Runtime owns the Playwright driver process and launches one browser
// instance per session. Driver startup is deferred until the first launch so
// that constructing the service stays cheap and side-effect free.
type Runtime struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	pw *playwright.Playwright

	initOnce sync.Once
	initErr  error
}

// chromiumStabilityArgs are appended to every Chromium launch. They are
// required for containerized deployments and harmless elsewhere. Firefox and
// WebKit do not understand them and never receive them.
var chromiumStabilityArgs = []string{
	"--disable-gpu",
	"--no-sandbox",
	"--disable-dev-shm-usage",
}

// NewRuntime creates the engine runtime. No driver process is started yet.
func NewRuntime(cfg config.BrowserConfig, logger *zap.Logger) *Runtime {
	return &Runtime{
		logger: logger.Named("engine"),
		cfg:    cfg,
	}
}

// initialize installs browser binaries when configured to and starts the
// Playwright driver. Runs at most once; later calls return the first error.
func (r *Runtime) initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		if r.cfg.AutoInstall {
			if err := r.ensureInstallation(ctx); err != nil {
				r.initErr = err
				return
			}
		}

		pw, err := playwright.Run()
		if err != nil {
			r.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}
		r.pw = pw
		r.logger.Info("Engine driver started.")
	})
	return r.initErr
}

// ensureInstallation downloads the driver and all three browser binaries if
// they are missing. The install call blocks with no context support, so it
// runs in a goroutine raced against the install timeout.
func (r *Runtime) ensureInstallation(ctx context.Context) error {
	r.logger.Info("Verifying browser installation...")
	installCtx, installCancel := context.WithTimeout(ctx, r.cfg.InstallTimeout)
	defer installCancel()

	installErrChan := make(chan error, 1)
	go func() {
		options := &playwright.RunOptions{
			Browsers: []string{"chromium", "firefox", "webkit"},
		}
		if err := playwright.Install(options); err != nil {
			installErrChan <- fmt.Errorf("failed to install browsers: %w", err)
		} else {
			installErrChan <- nil
		}
	}()

	select {
	case err := <-installErrChan:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for browser installation: %w", installCtx.Err())
	}
}

// browserType maps a session's browser kind onto the driver's launcher.
func (r *Runtime) browserType(kind schemas.BrowserKind) (playwright.BrowserType, error) {
	switch kind {
	case schemas.BrowserChromium:
		return r.pw.Chromium, nil
	case schemas.BrowserFirefox:
		return r.pw.Firefox, nil
	case schemas.BrowserWebKit:
		return r.pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unsupported browser kind %q", string(kind))
	}
}

func (r *Runtime) prepareLaunchOptions(kind schemas.BrowserKind, headless bool) playwright.BrowserTypeLaunchOptions {
	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Timeout:  playwright.Float(float64(r.cfg.LaunchTimeout.Milliseconds())),
	}
	if r.cfg.SlowMo > 0 {
		launchOptions.SlowMo = playwright.Float(float64(r.cfg.SlowMo.Milliseconds()))
	}
	if kind == schemas.BrowserChromium {
		launchOptions.Args = append(append([]string{}, chromiumStabilityArgs...), r.cfg.Args...)
	}
	return launchOptions
}

// Launch builds the browser/context/page triple for one session. On any
// partial failure every resource acquired so far is released before the
// error is returned; the caller never sees a half-built instance.
func (r *Runtime) Launch(ctx context.Context, req schemas.StartSessionRequest) (*Instance, error) {
	if err := r.initialize(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browserType, err := r.browserType(req.Browser)
	if err != nil {
		return nil, err
	}

	browser, err := browserType.Launch(r.prepareLaunchOptions(req.Browser, req.HeadlessOrDefault()))
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", req.Browser, err)
	}

	contextOptions := playwright.BrowserNewContextOptions{}
	if req.ViewportWidth > 0 && req.ViewportHeight > 0 {
		contextOptions.Viewport = &playwright.Size{
			Width:  req.ViewportWidth,
			Height: req.ViewportHeight,
		}
	}
	if req.DeviceScaleFactor > 0 {
		contextOptions.DeviceScaleFactor = playwright.Float(req.DeviceScaleFactor)
	}

	browserContext, err := browser.NewContext(contextOptions)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create browsing context: %w", err)
	}

	page, err := browserContext.NewPage()
	if err != nil {
		_ = browserContext.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &Instance{
		Browser: browser,
		Context: browserContext,
		Page:    page,
	}, nil
}

// Stop shuts down the Playwright driver. All launched browsers must be
// closed first; the registry guarantees that ordering during shutdown.
func (r *Runtime) Stop() error {
	if r.pw == nil {
		return nil
	}
	if err := r.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright driver: %w", err)
	}
	r.logger.Info("Engine driver stopped.")
	return nil
}

// Instance bundles the engine resources owned by exactly one session.
type Instance struct {
	Browser playwright.Browser
	Context playwright.BrowserContext
	Page    playwright.Page
}

// Close releases the triple in reverse acquisition order. Close errors on
// inner resources are collected but do not stop the outer teardown; the
// browser process going away supersedes a page that failed to close politely.
func (i *Instance) Close() error {
	var firstErr error
	if i.Page != nil && !i.Page.IsClosed() {
		if err := i.Page.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close page: %w", err)
		}
	}
	if i.Context != nil {
		if err := i.Context.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close context: %w", err)
		}
	}
	if i.Browser != nil {
		if err := i.Browser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	return firstErr
}

// Connected reports whether the underlying browser process is still alive.
func (i *Instance) Connected() bool {
	return i.Browser != nil && i.Browser.IsConnected()
}
