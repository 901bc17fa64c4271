package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/observability"
)

// State is a session's lifecycle phase, ordered so that transitions only
// ever move forward.
type State int32

const (
	StateStarting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) wire() schemas.SessionState {
	switch s {
	case StateStarting:
		return schemas.StateStarting
	case StateActive:
		return schemas.StateActive
	case StateClosing:
		return schemas.StateClosing
	default:
		return schemas.StateClosed
	}
}

func (s State) String() string {
	return string(s.wire())
}

// Teardown reasons, recorded on the session_closed_total metric.
const (
	closeReasonRequested = "requested"
	closeReasonCrash     = "crash"
	closeReasonIdle      = "idle"
	closeReasonShutdown  = "shutdown"
)

// Engine is the slice of the launched browser the handle needs for
// teardown and health checks.
type Engine interface {
	Close() error
	Connected() bool
}

// Handle owns one browser instance and its single page, and mediates every
// action against it. At most one action runs at any instant; contenders
// queue on the serialization token in arrival order.
type Handle struct {
	id      string
	logger  *zap.Logger
	browser schemas.BrowserKind
	created time.Time
	cfg     config.SessionConfig

	engine   Engine
	page     Page
	capturer *Capturer
	hub      *Hub

	// onTerminate runs exactly once, after engine resources are released.
	// The registry uses it to drop its map entry and free capacity.
	onTerminate func(*Handle)

	state atomic.Int32

	// token is the serialization primitive: capacity one, senders queued
	// FIFO. Holding a slot means holding the right to touch the page.
	token chan struct{}

	actionCount atomic.Int64
	lastUsed    atomic.Int64 // unix nanos

	closeOnce sync.Once
	closeErr  error
}

// newHandle builds a handle in the Starting state. The engine triple is
// attached by activate once the launch has succeeded; until then the handle
// must not be visible to lookups.
func newHandle(id string, logger *zap.Logger, browser schemas.BrowserKind, cfg config.SessionConfig, capturer *Capturer, hub *Hub, onTerminate func(*Handle)) *Handle {
	h := &Handle{
		id:          id,
		logger:      logger.With(zap.String("session_id", id)),
		browser:     browser,
		created:     time.Now().UTC(),
		cfg:         cfg,
		capturer:    capturer,
		hub:         hub,
		onTerminate: onTerminate,
		token:       make(chan struct{}, 1),
	}
	h.state.Store(int32(StateStarting))
	h.lastUsed.Store(h.created.UnixNano())
	return h
}

// activate attaches the launched engine and opens the handle for actions.
func (h *Handle) activate(engine Engine, page Page) {
	h.engine = engine
	h.page = page
	h.state.CompareAndSwap(int32(StateStarting), int32(StateActive))
}

// ID returns the session identifier.
func (h *Handle) ID() string {
	return h.id
}

// Browser returns the engine kind the session was created with.
func (h *Handle) Browser() schemas.BrowserKind {
	return h.browser
}

// State returns the current lifecycle phase.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Info snapshots the handle for the session listing.
func (h *Handle) Info() schemas.SessionInfo {
	return schemas.SessionInfo{
		SessionID:   h.id,
		Browser:     h.browser,
		State:       h.State().wire(),
		CreatedAt:   h.created,
		ActionCount: h.actionCount.Load(),
	}
}

// idleFor reports how long the session has gone without completing an
// action.
func (h *Handle) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.lastUsed.Load()))
}

// Execute runs one action through the full pipeline: parameter and locator
// validation, token acquisition, the engine operation, classification, and
// the unconditional screenshot.
//
// The returned error is reserved for request-level rejections (validation,
// session not active) that happen before the engine is ever touched; those
// never consume the serialization token. Every engine-level outcome, success
// or failure, is reported through the ActionResult instead.
func (h *Handle) Execute(ctx context.Context, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	if h.State() != StateActive {
		return nil, Errorf(KindNotFound, "session %s is not active", h.id)
	}

	spec, err := lookupAction(req.Action)
	if err != nil {
		return nil, err
	}
	if req.Timeout < 0 {
		return nil, NewError(KindValidation, "timeout must not be negative")
	}
	if spec.validate != nil {
		if err := spec.validate(req); err != nil {
			return nil, err
		}
	}

	var target playwright.Locator
	if spec.needsLocator {
		if target, err = resolveTarget(h.page, req.Locator); err != nil {
			return nil, err
		}
		// A position riding on the locator is shorthand for the top-level
		// field; the explicit field wins when both are present.
		if req.Position == nil && req.Locator.Position != nil {
			req.Position = req.Locator.Position
		}
	}

	timeout := h.cfg.ActionTimeout
	if spec.navigational {
		timeout = h.cfg.NavigationTimeout
	}
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	logger := h.logger.With(zap.String("action", string(req.Action)))

	waitStart := time.Now()
	if err := h.acquireToken(waitCtx); err != nil {
		observability.TokenWaitDuration.Observe(time.Since(waitStart).Seconds())
		return h.failResult(logger, req, tokenWaitError(err)), nil
	}
	observability.TokenWaitDuration.Observe(time.Since(waitStart).Seconds())

	// The token may have been handed over just as a close began; never run
	// against a page mid-teardown.
	if h.State() != StateActive {
		h.releaseToken()
		return nil, Errorf(KindNotFound, "session %s is not active", h.id)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		h.releaseToken()
		return h.failResult(logger, req, NewError(KindActionabilityTimeout, "timed out waiting for the serialization token")), nil
	}

	// Refresh before the engine call too, so the idle reaper never mistakes
	// a long-running action for an abandoned session.
	h.lastUsed.Store(time.Now().UnixNano())

	start := time.Now()
	runErr := spec.run(&execution{
		page:    h.page,
		target:  target,
		req:     req,
		timeout: float64(remaining.Milliseconds()),
	})
	duration := time.Since(start)
	h.releaseToken()

	h.actionCount.Add(1)
	h.lastUsed.Store(time.Now().UnixNano())
	observability.ActionDuration.WithLabelValues(string(req.Action)).Observe(duration.Seconds())

	if runErr != nil {
		clsErr := Classify(req.Action, runErr)
		if clsErr.Kind == KindEngineCrash {
			if h.State() == StateActive {
				logger.Error("Browser engine crashed mid-action.", zap.Error(runErr))
				h.crash()
			} else {
				// The page went away because a close tore it down, not
				// because the engine died.
				clsErr = WrapError(KindActionabilityTimeout, "session closed while the action was in flight", runErr)
			}
		}
		return h.failResult(logger, req, clsErr), nil
	}

	observability.ActionsTotal.WithLabelValues(string(req.Action), string(schemas.StatusSuccess)).Inc()
	result := &schemas.ActionResult{
		Status:     schemas.StatusSuccess,
		Screenshot: h.capturer.Capture(h.page),
	}
	logger.Debug("Action completed.", zap.Duration("duration", duration))
	h.publishActionEvent(req, result)
	return result, nil
}

// failResult assembles the error-status ActionResult for a classified
// failure, screenshot included whenever the page can still produce one.
func (h *Handle) failResult(logger *zap.Logger, req *schemas.ActionRequest, clsErr *Error) *schemas.ActionResult {
	observability.ActionsTotal.WithLabelValues(string(req.Action), string(schemas.StatusError)).Inc()
	observability.ActionErrors.WithLabelValues(string(req.Action), string(clsErr.Kind)).Inc()
	logger.Warn("Action failed.", zap.String("kind", string(clsErr.Kind)), zap.Error(clsErr))

	result := &schemas.ActionResult{
		Status:     schemas.StatusError,
		Screenshot: h.capturer.Capture(h.page),
		Error:      clsErr.Message,
	}
	h.publishActionEvent(req, result)
	return result
}

func (h *Handle) publishActionEvent(req *schemas.ActionRequest, result *schemas.ActionResult) {
	if h.hub == nil {
		return
	}
	h.hub.Publish(schemas.Event{
		Type:      schemas.EventActionDone,
		SessionID: h.id,
		Browser:   h.browser,
		Action:    req.Action,
		Status:    result.Status,
		Error:     result.Error,
	})
}

func tokenWaitError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindActionabilityTimeout, "timed out waiting for the serialization token")
	}
	return WrapError(KindActionabilityTimeout, "abandoned while waiting for the serialization token", err)
}

// acquireToken blocks until the caller owns the page, the context expires,
// or the session shuts down underneath the wait.
func (h *Handle) acquireToken(ctx context.Context) error {
	select {
	case h.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) releaseToken() {
	select {
	case <-h.token:
	default:
	}
}

// Close transitions the session to Closing, drains any in-flight action
// bounded by the drain timeout, releases engine resources, and finishes in
// Closed. A session already past Active reports not-found, on every call.
func (h *Handle) Close(ctx context.Context, reason string) error {
	if !h.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return Errorf(KindNotFound, "session %s not found", h.id)
	}
	h.logger.Info("Closing session; draining in-flight work.", zap.String("reason", reason))

	drainCtx, cancel := context.WithTimeout(ctx, h.cfg.DrainTimeout)
	defer cancel()
	if err := h.acquireToken(drainCtx); err != nil {
		// The in-flight action is abandoned; it will surface its own error
		// once the engine connection collapses underneath it.
		h.logger.Warn("Drain timed out; force-releasing engine resources.",
			zap.Duration("drain_timeout", h.cfg.DrainTimeout))
	}
	return h.terminate(reason)
}

// crash records an engine death: the session jumps straight to Closed and
// resources are reaped best-effort.
func (h *Handle) crash() {
	_ = h.terminate(closeReasonCrash)
}

// terminate is the single teardown path. It runs at most once, regardless
// of how many closers race for it.
func (h *Handle) terminate(reason string) error {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosed))

		if h.engine != nil {
			h.closeErr = h.engine.Close()
		}

		observability.SessionsClosed.WithLabelValues(string(h.browser), reason).Inc()
		observability.SessionsActive.WithLabelValues(string(h.browser)).Dec()

		if h.hub != nil {
			evType := schemas.EventSessionClosed
			if reason == closeReasonCrash {
				evType = schemas.EventSessionCrashed
			}
			h.hub.Publish(schemas.Event{
				Type:      evType,
				SessionID: h.id,
				Browser:   h.browser,
			})
		}

		if h.onTerminate != nil {
			h.onTerminate(h)
		}

		if h.closeErr != nil {
			h.logger.Warn("Session closed; engine teardown reported an error.",
				zap.String("reason", reason), zap.Error(h.closeErr))
		} else {
			h.logger.Info("Session closed.", zap.String("reason", reason))
		}
	})
	return h.closeErr
}
