package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/session"
)

// feedFixture is one running server plus the hub feeding its event stream.
type feedFixture struct {
	hub *session.Hub
	ts  *httptest.Server
	url string
}

func newFeedFixture(t *testing.T, mutate func(*config.Config)) *feedFixture {
	t.Helper()
	cfg := config.New()
	if mutate != nil {
		mutate(cfg)
	}

	hub := session.NewHub(zap.NewNop(), 8)
	t.Cleanup(hub.Shutdown)

	s := New(zap.NewNop(), cfg, &fakeSessionService{}, hub, "test")
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return &feedFixture{
		hub: hub,
		ts:  ts,
		url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events",
	}
}

// dial connects to the feed and waits for the server side to finish
// subscribing, so events published afterwards are guaranteed a listener.
func (f *feedFixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return f.hub.Subscribers() > 0
	}, 2*time.Second, 10*time.Millisecond, "feed subscription never registered")
	return conn
}

// -- Test Cases --

func TestEventFeed_StreamsLifecycleEvents(t *testing.T) {
	f := newFeedFixture(t, nil)
	conn := f.dial(t, nil)

	f.hub.Publish(schemas.Event{
		Type:      schemas.EventSessionStarted,
		SessionID: "s1",
		Browser:   schemas.BrowserChromium,
	})
	f.hub.Publish(schemas.Event{
		Type:      schemas.EventActionDone,
		SessionID: "s1",
		Browser:   schemas.BrowserChromium,
		Action:    schemas.ActionClick,
		Status:    schemas.StatusSuccess,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var started schemas.Event
	require.NoError(t, conn.ReadJSON(&started))
	assert.Equal(t, schemas.EventSessionStarted, started.Type)
	assert.Equal(t, "s1", started.SessionID)
	assert.NotEmpty(t, started.ID, "events must arrive stamped with an identifier")
	assert.False(t, started.Timestamp.IsZero())

	var done schemas.Event
	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, schemas.EventActionDone, done.Type)
	assert.Equal(t, schemas.ActionClick, done.Action)
	assert.Equal(t, schemas.StatusSuccess, done.Status)
}

func TestEventFeed_RejectsDisallowedOrigin(t *testing.T) {
	f := newFeedFixture(t, nil)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(f.url, header)
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Nil(t, conn)
}

func TestEventFeed_AllowsConfiguredOrigin(t *testing.T) {
	f := newFeedFixture(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"http://dashboard.example"}
	})

	header := http.Header{"Origin": []string{"http://dashboard.example"}}
	conn := f.dial(t, header)

	f.hub.Publish(schemas.Event{Type: schemas.EventSessionStarted, SessionID: "s1"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev schemas.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, schemas.EventSessionStarted, ev.Type)
}

func TestEventFeed_ClosesOnHubShutdown(t *testing.T) {
	f := newFeedFixture(t, nil)
	conn := f.dial(t, nil)

	f.hub.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway),
		"expected a going-away close frame, got: %v", err)
}
