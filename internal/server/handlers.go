package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/session"
)

// json is a drop-in stdlib replacement. Action responses carry base64
// screenshots large enough for encoding speed to matter.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionService is the slice of the session registry the HTTP surface
// consumes.
type SessionService interface {
	Create(ctx context.Context, req schemas.StartSessionRequest) (string, error)
	Execute(ctx context.Context, id string, req *schemas.ActionRequest) (*schemas.ActionResult, error)
	Close(ctx context.Context, id string) error
	List() []schemas.SessionInfo
	Len() int
}

// EventSource hands out lifecycle event subscriptions for the feed.
type EventSource interface {
	Subscribe() (<-chan schemas.Event, func())
}

// Handlers manages the HTTP request handling for the session API.
type Handlers struct {
	log      *zap.Logger
	sessions SessionService
	events   EventSource
	upgrader websocket.Upgrader
	version  string
}

// NewHandlers creates a new Handlers instance. allowedOrigins lists the
// origins accepted for the event-feed upgrade beyond the server's own host.
func NewHandlers(logger *zap.Logger, sessions SessionService, events EventSource, allowedOrigins []string, version string) *Handlers {
	log := logger.Named("handlers")
	return &Handlers{
		log:      log,
		sessions: sessions,
		events:   events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(log, allowedOrigins),
		},
		version: version,
	}
}

// RegisterRoutes sets up the JSON API routing. The websocket event feed is
// registered separately by the server.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleBanner)
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session/start", h.HandleStartSession)
		r.Post("/session/close", h.HandleCloseSession)
		r.Get("/sessions", h.HandleListSessions)
		r.Post("/action/{action}", h.HandleAction)
	})
}

// HandleBanner identifies the service and reports the live session count.
func (h *Handlers) HandleBanner(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":  "forceps",
		"version":  h.version,
		"sessions": h.sessions.Len(),
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleStartSession launches a browser and returns the new session id.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req schemas.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	id, err := h.sessions.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, statusForError(err), publicMessage(err))
		return
	}
	h.respondJSON(w, http.StatusOK, schemas.StartSessionResponse{SessionID: id})
}

// HandleCloseSession tears down the identified session.
func (h *Handlers) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req schemas.CloseSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		h.respondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.sessions.Close(r.Context(), req.SessionID); err != nil {
		h.respondError(w, statusForError(err), publicMessage(err))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// HandleListSessions snapshots every live session.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.sessions.List()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(infos),
		"sessions": infos,
	})
}

// HandleAction dispatches one action against a live session. Engine-level
// failures still travel as a well-formed result with HTTP 200; the status
// field carries the outcome. Only request-level rejections map to 4xx.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req schemas.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	// The path names the action; a conflicting body field is ignored.
	req.Action = schemas.ActionName(chi.URLParam(r, "action"))
	if req.SessionID == "" {
		h.respondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	result, err := h.sessions.Execute(r.Context(), req.SessionID, &req)
	if err != nil {
		h.respondError(w, statusForError(err), publicMessage(err))
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Status schemas.ActionStatus `json:"status"`
	Error  string               `json:"error"`
}

func (h *Handlers) respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response.", zap.Error(err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, errorBody{Status: schemas.StatusError, Error: message})
}

// statusForError maps classified session errors to HTTP status codes.
func statusForError(err error) int {
	var cerr *session.Error
	if !errors.As(err, &cerr) {
		return http.StatusInternalServerError
	}
	switch cerr.Kind {
	case session.KindValidation:
		return http.StatusBadRequest
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindCapacity:
		return http.StatusServiceUnavailable
	case session.KindLaunchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage extracts the client-facing message from a classified error.
// Launch failures carry the engine's own message through; everything else
// keeps wrapped internals out of the response body.
func publicMessage(err error) string {
	var cerr *session.Error
	if !errors.As(err, &cerr) {
		return "internal error"
	}
	if cerr.Kind == session.KindLaunchFailed && cerr.Err != nil {
		return fmt.Sprintf("%s: %v", cerr.Message, cerr.Err)
	}
	return cerr.Message
}

// originChecker accepts same-host upgrades, non-browser clients (no Origin
// header), and any explicitly allowed origin. "*" allows everything.
func originChecker(logger *zap.Logger, allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		logger.Warn("Rejected cross-origin event feed subscription.", zap.String("origin", origin))
		return false
	}
}
