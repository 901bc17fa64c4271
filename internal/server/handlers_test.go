package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/session"
)

type execCall struct {
	id  string
	req schemas.ActionRequest
}

type fakeSessionService struct {
	mu         sync.Mutex
	createID   string
	createErr  error
	createReqs []schemas.StartSessionRequest
	execResult *schemas.ActionResult
	execErr    error
	execCalls  []execCall
	closeErr   error
	closedIDs  []string
	infos      []schemas.SessionInfo
}

func (f *fakeSessionService) Create(_ context.Context, req schemas.StartSessionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReqs = append(f.createReqs, req)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createID, nil
}

func (f *fakeSessionService) Execute(_ context.Context, id string, req *schemas.ActionRequest) (*schemas.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, execCall{id: id, req: *req})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return f.execResult, nil
}

func (f *fakeSessionService) Close(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedIDs = append(f.closedIDs, id)
	return f.closeErr
}

func (f *fakeSessionService) List() []schemas.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infos
}

func (f *fakeSessionService) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.infos)
}

type nopEvents struct{}

func (nopEvents) Subscribe() (<-chan schemas.Event, func()) {
	return make(chan schemas.Event), func() {}
}

func newTestServer(t *testing.T, svc SessionService, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.New()
	if mutate != nil {
		mutate(cfg)
	}
	return New(zap.NewNop(), cfg, svc, nopEvents{}, "1.2.3-test")
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, schemas.StatusError, body.Status)
	return body
}

// -- Test Cases --

func TestHandleStartSession(t *testing.T) {
	t.Run("should return the new session id", func(t *testing.T) {
		svc := &fakeSessionService{createID: "abc-123"}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/start", `{"browser":"chromium","headless":false}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp schemas.StartSessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "abc-123", resp.SessionID)

		require.Len(t, svc.createReqs, 1)
		assert.Equal(t, schemas.BrowserChromium, svc.createReqs[0].Browser)
		require.NotNil(t, svc.createReqs[0].Headless)
		assert.False(t, *svc.createReqs[0].Headless)
	})

	t.Run("should reject a malformed body before touching the service", func(t *testing.T) {
		svc := &fakeSessionService{createID: "abc-123"}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/start", `{"browser":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "invalid request body")
		assert.Empty(t, svc.createReqs)
	})

	t.Run("should map a validation failure to 400", func(t *testing.T) {
		svc := &fakeSessionService{
			createErr: session.NewError(session.KindValidation,
				`unsupported browser kind "ie" (expected chromium, firefox or webkit)`),
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/start", `{"browser":"ie"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "unsupported browser kind")
	})

	t.Run("should map a capacity failure to 503", func(t *testing.T) {
		svc := &fakeSessionService{
			createErr: session.Errorf(session.KindCapacity, "session limit reached (%d)", 16),
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/start", `{"browser":"chromium"}`)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "session limit reached")
	})

	t.Run("should map a launch failure to 502 and surface the engine message", func(t *testing.T) {
		svc := &fakeSessionService{
			createErr: session.WrapError(session.KindLaunchFailed,
				"failed to launch browser engine", errors.New("chromium: executable not found")),
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/start", `{"browser":"chromium"}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "executable not found")
	})
}

func TestHandleAction(t *testing.T) {
	t.Run("should pass the result through on success", func(t *testing.T) {
		svc := &fakeSessionService{
			execResult: &schemas.ActionResult{Status: schemas.StatusSuccess, Screenshot: "c25hcHNob3Q="},
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/click", `{"sessionId":"s1","locator":"#go"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var result schemas.ActionResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Equal(t, schemas.StatusSuccess, result.Status)
		assert.Equal(t, "c25hcHNob3Q=", result.Screenshot)

		require.Len(t, svc.execCalls, 1)
		assert.Equal(t, "s1", svc.execCalls[0].id)
		assert.Equal(t, schemas.ActionClick, svc.execCalls[0].req.Action)
		require.NotNil(t, svc.execCalls[0].req.Locator)
		assert.Equal(t, "#go", svc.execCalls[0].req.Locator.Selector)
	})

	t.Run("should return 200 with an error-status result for engine failures", func(t *testing.T) {
		svc := &fakeSessionService{
			execResult: &schemas.ActionResult{
				Status:     schemas.StatusError,
				Screenshot: "c25hcHNob3Q=",
				Error:      `element not found: locator "#missing" matched nothing`,
			},
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/click", `{"sessionId":"s1","locator":"#missing"}`)
		require.Equal(t, http.StatusOK, rec.Code, "browser-level failures are results, not HTTP errors")

		var result schemas.ActionResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Equal(t, schemas.StatusError, result.Status)
		assert.Contains(t, result.Error, "not found")
		assert.NotEmpty(t, result.Screenshot)
	})

	t.Run("should let the path override the body's action field", func(t *testing.T) {
		svc := &fakeSessionService{execResult: &schemas.ActionResult{Status: schemas.StatusSuccess}}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/hover", `{"sessionId":"s1","action":"click","locator":"#x"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, svc.execCalls, 1)
		assert.Equal(t, schemas.ActionHover, svc.execCalls[0].req.Action)
	})

	t.Run("should require a session id", func(t *testing.T) {
		svc := &fakeSessionService{execResult: &schemas.ActionResult{Status: schemas.StatusSuccess}}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/click", `{"locator":"#go"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "sessionId is required")
		assert.Empty(t, svc.execCalls)
	})

	t.Run("should map a validation rejection to 400", func(t *testing.T) {
		svc := &fakeSessionService{
			execErr: session.NewError(session.KindValidation, "goto requires a url"),
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/goto", `{"sessionId":"s1"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "goto requires a url", body.Error)
	})

	t.Run("should map an unknown session to 404", func(t *testing.T) {
		svc := &fakeSessionService{
			execErr: session.Errorf(session.KindNotFound, "session %s not found", "ghost"),
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/click", `{"sessionId":"ghost","locator":"#go"}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "not found")
	})

	t.Run("should reject a malformed locator shape", func(t *testing.T) {
		svc := &fakeSessionService{execResult: &schemas.ActionResult{Status: schemas.StatusSuccess}}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/action/click", `{"sessionId":"s1","locator":42}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Contains(t, body.Error, "invalid request body")
		assert.Empty(t, svc.execCalls)
	})
}

func TestHandleCloseSession(t *testing.T) {
	t.Run("should close and confirm", func(t *testing.T) {
		svc := &fakeSessionService{}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/close", `{"sessionId":"s1"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "success", resp["status"])
		assert.Equal(t, []string{"s1"}, svc.closedIDs)
	})

	t.Run("should report an unknown session as 404", func(t *testing.T) {
		svc := &fakeSessionService{
			closeErr: session.Errorf(session.KindNotFound, "session %s not found", "ghost"),
		}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/close", `{"sessionId":"ghost"}`)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should require a session id", func(t *testing.T) {
		svc := &fakeSessionService{}
		s := newTestServer(t, svc, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/session/close", `{}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, svc.closedIDs)
	})
}

func TestHandleListSessions(t *testing.T) {
	svc := &fakeSessionService{
		infos: []schemas.SessionInfo{
			{SessionID: "first", Browser: schemas.BrowserChromium, State: schemas.StateActive},
			{SessionID: "second", Browser: schemas.BrowserFirefox, State: schemas.StateActive},
		},
	}
	s := newTestServer(t, svc, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count    int                   `json:"count"`
		Sessions []schemas.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, "first", resp.Sessions[0].SessionID)
	assert.Equal(t, "second", resp.Sessions[1].SessionID)
}

func TestHandleBanner(t *testing.T) {
	svc := &fakeSessionService{
		infos: []schemas.SessionInfo{{SessionID: "s1"}},
	}
	s := newTestServer(t, svc, nil)

	rec := doJSON(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Service  string `json:"service"`
		Version  string `json:"version"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "forceps", resp.Service)
	assert.Equal(t, "1.2.3-test", resp.Version)
	assert.Equal(t, 1, resp.Sessions)
}

func TestHandleHealthCheck(t *testing.T) {
	s := newTestServer(t, &fakeSessionService{}, nil)

	rec := doJSON(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("should serve metrics when enabled", func(t *testing.T) {
		s := newTestServer(t, &fakeSessionService{}, nil)

		rec := doJSON(t, s, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Body.String())
	})

	t.Run("should not register the route when disabled", func(t *testing.T) {
		s := newTestServer(t, &fakeSessionService{}, func(cfg *config.Config) {
			cfg.Metrics.Enabled = false
		})

		rec := doJSON(t, s, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeSessionService{}, func(cfg *config.Config) {
		cfg.Server.RequestsPerSecond = 1
		cfg.Server.RequestBurst = 1
	})

	first := doJSON(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	body := decodeError(t, second)
	assert.Contains(t, body.Error, "rate limit")
}
