package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/browser"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/observability"
)

// Launcher produces one launched browser/context/page triple per session.
// *browser.Runtime is the production implementation.
type Launcher interface {
	Launch(ctx context.Context, req schemas.StartSessionRequest) (*browser.Instance, error)
}

// Registry is the process-wide owner of the identifier→handle map. It is
// the only entry point for creating, locating, and destroying sessions; no
// other component inserts or removes entries.
type Registry struct {
	logger   *zap.Logger
	cfg      config.SessionConfig
	launcher Launcher
	capturer *Capturer
	hub      *Hub

	// capacity caps concurrent live sessions; nil means uncapped.
	capacity *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*Handle
	shutdown bool

	reapStop chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry builds the registry and, when idle reaping is configured,
// starts its background sweep.
func NewRegistry(logger *zap.Logger, cfg config.SessionConfig, launcher Launcher, capturer *Capturer, hub *Hub) *Registry {
	r := &Registry{
		logger:   logger.Named("registry"),
		cfg:      cfg,
		launcher: launcher,
		capturer: capturer,
		hub:      hub,
		sessions: make(map[string]*Handle),
	}
	if cfg.MaxSessions > 0 {
		r.capacity = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	if cfg.IdleTimeout > 0 {
		r.reapStop = make(chan struct{})
		r.wg.Add(1)
		go r.reapLoop()
	}
	return r
}

// Create validates the requested configuration, launches an engine, and
// publishes a new Active session. The identifier is generated before launch
// but never exposed unless the launch fully succeeds; a failed launch
// discards every partial resource.
func (r *Registry) Create(ctx context.Context, req schemas.StartSessionRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", NewError(KindValidation, err.Error())
	}
	if r.isShutdown() {
		return "", NewError(KindCapacity, "service is shutting down")
	}
	if r.capacity != nil && !r.capacity.TryAcquire(1) {
		return "", Errorf(KindCapacity, "session limit reached (%d)", r.cfg.MaxSessions)
	}

	id := uuid.New().String()
	handle := newHandle(id, r.logger, req.Browser, r.cfg, r.capturer, r.hub, r.onTerminate)

	inst, err := r.launcher.Launch(ctx, req)
	if err != nil {
		r.releaseCapacity()
		observability.SessionLaunchFailures.WithLabelValues(string(req.Browser)).Inc()
		r.logger.Error("Engine launch failed.",
			zap.String("browser", string(req.Browser)), zap.Error(err))
		return "", WrapError(KindLaunchFailed, "failed to launch browser engine", err)
	}
	handle.activate(inst, inst.Page)

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		// Lost the race against shutdown; tear the engine straight back down.
		_ = handle.terminate(closeReasonShutdown)
		return "", NewError(KindCapacity, "service is shutting down")
	}
	r.sessions[id] = handle
	r.mu.Unlock()

	observability.SessionsStarted.WithLabelValues(string(req.Browser)).Inc()
	observability.SessionsActive.WithLabelValues(string(req.Browser)).Inc()
	if r.hub != nil {
		r.hub.Publish(schemas.Event{
			Type:      schemas.EventSessionStarted,
			SessionID: id,
			Browser:   req.Browser,
		})
	}
	r.logger.Info("Session started.",
		zap.String("session_id", id),
		zap.String("browser", string(req.Browser)),
		zap.Bool("headless", req.HeadlessOrDefault()))
	return id, nil
}

// Get resolves an identifier to its handle. Lookup is safe under concurrent
// create/close; a session mid-teardown is reported as not-found because
// clients cannot act on it.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || h.State() != StateActive {
		return nil, Errorf(KindNotFound, "session %s not found", id)
	}
	return h, nil
}

// Execute dispatches one action against the identified session.
func (r *Registry) Execute(ctx context.Context, id string, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	h, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, req)
}

// Close tears down one session by identifier. Closing an unknown or
// already-closed identifier reports not-found, on every call.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.RLock()
	h, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Errorf(KindNotFound, "session %s not found", id)
	}
	return h.Close(ctx, closeReasonRequested)
}

// List snapshots every tracked session, oldest first.
func (r *Registry) List() []schemas.SessionInfo {
	r.mu.RLock()
	infos := make([]schemas.SessionInfo, 0, len(r.sessions))
	for _, h := range r.sessions {
		infos = append(infos, h.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown refuses new sessions, closes every live one concurrently, and
// waits for teardown to finish, bounded by the context.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	if r.reapStop != nil {
		close(r.reapStop)
	}

	r.logger.Info("Shutting down session registry.", zap.Int("sessions", len(handles)))

	var closers sync.WaitGroup
	for _, h := range handles {
		closers.Add(1)
		go func(h *Handle) {
			defer closers.Done()
			if err := h.Close(ctx, closeReasonShutdown); err != nil && !IsKind(err, KindNotFound) {
				r.logger.Warn("Session teardown failed during shutdown.",
					zap.String("session_id", h.ID()), zap.Error(err))
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		closers.Wait()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Session registry shut down gracefully.")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Session registry shutdown timed out.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (r *Registry) onTerminate(h *Handle) {
	r.mu.Lock()
	delete(r.sessions, h.ID())
	r.mu.Unlock()
	r.releaseCapacity()
}

func (r *Registry) releaseCapacity() {
	if r.capacity != nil {
		r.capacity.Release(1)
	}
}

func (r *Registry) isShutdown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shutdown
}

func (r *Registry) reapLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reapIdle()
		case <-r.reapStop:
			return
		}
	}
}

// reapIdle closes sessions that have gone without an action for longer than
// the configured idle limit.
func (r *Registry) reapIdle() {
	now := time.Now()

	r.mu.RLock()
	var idle []*Handle
	for _, h := range r.sessions {
		if h.State() == StateActive && h.idleFor(now) >= r.cfg.IdleTimeout {
			idle = append(idle, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range idle {
		r.logger.Info("Reaping idle session.",
			zap.String("session_id", h.ID()),
			zap.Duration("idle", h.idleFor(now)))
		if err := h.Close(context.Background(), closeReasonIdle); err != nil && !IsKind(err, KindNotFound) {
			r.logger.Warn("Idle session teardown failed.",
				zap.String("session_id", h.ID()), zap.Error(err))
		}
	}
}
