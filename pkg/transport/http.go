package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/richard-senior/mcpcore/internal/auth"
	"github.com/richard-senior/mcpcore/internal/logger"
)

// sseEvent is one buffered frame in a session's replay log, numbered so a
// reconnecting GET stream can resume after its Last-Event-ID.
type sseEvent struct {
	id   uint64
	data []byte
}

// HTTPSessionConnection is the Connection implementation behind one
// Streamable HTTP session: POST bodies arrive as inbound frames, and
// everything the dispatcher writes (responses, server-initiated requests,
// notifications) is both buffered for SSE replay and, when it answers an
// in-flight POST, delivered directly as that POST's response body. This
// mirrors the teacher's sseManager/sseSession split in mcp.go, generalized
// from a side-channel SSE push onto a real request/response correlation.
type HTTPSessionConnection struct {
	id string

	inbound chan []byte
	closed  chan struct{}
	closeMu sync.Once

	mu          sync.Mutex
	buffer      []sseEvent
	bufferLimit int
	nextEventID uint64
	subscribers map[string]chan sseEvent
	waiters     map[string]chan []byte

	lastActive time.Time
	log        *logger.Logger
}

func newHTTPSessionConnection(id string, bufferLimit int, log *logger.Logger) *HTTPSessionConnection {
	return &HTTPSessionConnection{
		id:          id,
		inbound:     make(chan []byte, 32),
		closed:      make(chan struct{}),
		bufferLimit: bufferLimit,
		subscribers: make(map[string]chan sseEvent),
		waiters:     make(map[string]chan []byte),
		lastActive:  time.Now(),
		log:         log,
	}
}

// Read returns the next POST body pushed into this session.
func (c *HTTPSessionConnection) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, fmt.Errorf("http transport: session %s closed", c.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write delivers one outbound frame: to a waiting POST if its JSON-RPC id
// matches, and always into the replay buffer for GET/SSE subscribers.
func (c *HTTPSessionConnection) Write(ctx context.Context, data []byte) error {
	id := peekResponseID(data)

	c.mu.Lock()
	event := sseEvent{id: c.nextEventID, data: data}
	c.nextEventID++
	c.buffer = append(c.buffer, event)
	if c.bufferLimit > 0 && len(c.buffer) > c.bufferLimit {
		c.buffer = c.buffer[len(c.buffer)-c.bufferLimit:]
	}
	c.lastActive = time.Now()

	var waiter chan []byte
	if id != "" {
		waiter = c.waiters[id]
		delete(c.waiters, id)
	}
	subs := make([]chan sseEvent, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- data:
		default:
		}
	}
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			c.log.WithFields(logger.Fields{"session": c.id}).Warn("http transport: subscriber event queue full, dropping event")
		}
	}
	return nil
}

// Close terminates the session and wakes any blocked GET subscribers.
func (c *HTTPSessionConnection) Close() error {
	c.closeMu.Do(func() { close(c.closed) })
	return nil
}

// registerWaiter arranges for the next Write whose id matches requestID to
// be delivered on the returned channel instead of only buffered.
func (c *HTTPSessionConnection) registerWaiter(requestID string) chan []byte {
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.waiters[requestID] = ch
	c.mu.Unlock()
	return ch
}

func (c *HTTPSessionConnection) forgetWaiter(requestID string) {
	c.mu.Lock()
	delete(c.waiters, requestID)
	c.mu.Unlock()
}

// subscribe registers a GET/SSE stream and replays everything buffered
// after lastEventID (0 meaning "from the start of what's retained").
func (c *HTTPSessionConnection) subscribe(subscriberID string, lastEventID uint64) (chan sseEvent, []sseEvent) {
	ch := make(chan sseEvent, 64)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[subscriberID] = ch
	var replay []sseEvent
	for _, ev := range c.buffer {
		if lastEventID == 0 || ev.id > lastEventID {
			replay = append(replay, ev)
		}
	}
	return ch, replay
}

func (c *HTTPSessionConnection) unsubscribe(subscriberID string) {
	c.mu.Lock()
	delete(c.subscribers, subscriberID)
	c.mu.Unlock()
}

func (c *HTTPSessionConnection) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActive)
}

// peekResponseID extracts the "id" field from a JSON-RPC response frame
// without fully decoding it, so Write can correlate a frame to a waiting
// POST without importing the protocol package's response type.
func peekResponseID(data []byte) string {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.ID) == 0 {
		return ""
	}
	return string(envelope.ID)
}

func peekRequestMethod(data []byte) (id string, isNotification bool, err error) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", false, err
	}
	if envelope.Method == "" {
		return "", false, fmt.Errorf("http transport: missing method")
	}
	if len(envelope.ID) == 0 {
		return "", true, nil
	}
	return string(envelope.ID), false, nil
}

// SessionHandler is invoked once per newly created session, typically to
// construct a server bound to conn and start running it in a goroutine.
// onClose is called when the session is torn down (client DELETE or idle
// eviction) so the caller can cancel that server's run loop.
type SessionHandler func(sessionID string, conn *HTTPSessionConnection) (onClose func())

// HTTPConfig is the subset of internal/config.HTTPConfig the transport
// needs, accepted by value here so this package does not import
// internal/config directly.
type HTTPConfig struct {
	EndpointPath       string
	SessionIdleTimeout time.Duration
	SSEBufferSize      int
	ConcurrencyCap     int64
	AllowedOrigins     []string
}

// HTTPServer is the server side of the Streamable HTTP transport: one
// endpoint handling POST (send a message, get a response), GET (open a
// standalone SSE stream for server-initiated pushes, with Last-Event-ID
// resumability) and DELETE (terminate the session), fronted by a single
// chi router the way the teacher's mcpRouter is, generalized from the
// teacher's toolset-scoped routes to MCP's single-session-per-connection
// model.
type HTTPServer struct {
	cfg       HTTPConfig
	log       *logger.Logger
	validator auth.Validator
	onSession SessionHandler

	sem *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*HTTPSessionConnection
	onClose  map[string]func()
}

// NewHTTPServer builds an HTTP transport server. validator may be nil, in
// which case bearer-token checks are skipped regardless of cfg.
func NewHTTPServer(cfg HTTPConfig, log *logger.Logger, validator auth.Validator, onSession SessionHandler) *HTTPServer {
	concurrency := cfg.ConcurrencyCap
	if concurrency <= 0 {
		concurrency = 64
	}
	s := &HTTPServer{
		cfg:       cfg,
		log:       log,
		validator: validator,
		onSession: onSession,
		sem:       semaphore.NewWeighted(concurrency),
		sessions:  make(map[string]*HTTPSessionConnection),
		onClose:   make(map[string]func()),
	}
	return s
}

// Handler builds the chi router for this transport. Run it behind
// http.Server the normal way; this type owns no listener itself.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(s.originCheck)
	r.Use(s.authenticate)

	path := s.cfg.EndpointPath
	if path == "" {
		path = "/mcp"
	}
	r.Route(path, func(r chi.Router) {
		r.Post("/", s.handlePost)
		r.Get("/", s.handleGet)
		r.Delete("/", s.handleDelete)
	})
	return r
}

// StartIdleReaper runs until ctx is cancelled, evicting sessions that have
// been idle longer than cfg.SessionIdleTimeout, the way the teacher's
// sseManager.cleanupRoutine does for its sse sessions.
func (s *HTTPServer) StartIdleReaper(ctx context.Context) {
	timeout := s.cfg.SessionIdleTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle(timeout)
		}
	}
}

func (s *HTTPServer) evictIdle(timeout time.Duration) {
	s.mu.Lock()
	var stale []string
	for id, conn := range s.sessions {
		if conn.idleSince() > timeout {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.closeSession(id)
	}
}

func (s *HTTPServer) closeSession(id string) {
	s.mu.Lock()
	conn, ok := s.sessions[id]
	onClose := s.onClose[id]
	delete(s.sessions, id)
	delete(s.onClose, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	conn.Close()
	if onClose != nil {
		onClose()
	}
}

func (s *HTTPServer) originCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			allowed := false
			for _, o := range s.cfg.AllowedOrigins {
				if o == origin || o == "*" {
					allowed = true
					break
				}
			}
			if origin != "" && !allowed {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.validator == nil {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := s.validator.Validate(r.Context(), header[len(prefix):])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), claimsContextKey{}, claims))
		next.ServeHTTP(w, r)
	})
}

type claimsContextKey struct{}

// ClaimsFromContext retrieves the validated token claims a handler placed
// on the request context, if authentication was configured.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims, ok
}

func (s *HTTPServer) sessionOrCreate(w http.ResponseWriter, r *http.Request) (*HTTPSessionConnection, bool) {
	id := r.Header.Get("Mcp-Session-Id")
	if id != "" {
		s.mu.Lock()
		conn, ok := s.sessions[id]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return nil, false
		}
		return conn, false
	}

	id = uuid.New().String()
	conn := newHTTPSessionConnection(id, s.cfg.SSEBufferSize, s.log)
	onClose := s.onSession(id, conn)
	s.mu.Lock()
	s.sessions[id] = conn
	s.onClose[id] = onClose
	s.mu.Unlock()
	w.Header().Set("Mcp-Session-Id", id)
	return conn, true
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.sem.TryAcquire(1) {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(1)

	body, err := readAll(r)
	if err != nil {
		renderRPCError(w, r, "", -32700, "failed to read request body")
		return
	}

	requestID, isNotification, err := peekRequestMethod(body)
	if err != nil {
		renderRPCError(w, r, "", -32700, err.Error())
		return
	}

	conn, _ := s.sessionOrCreate(w, r)
	if conn == nil {
		return
	}

	var waiter chan []byte
	if !isNotification {
		waiter = conn.registerWaiter(requestID)
	}

	select {
	case conn.inbound <- body:
	case <-r.Context().Done():
		if waiter != nil {
			conn.forgetWaiter(requestID)
		}
		return
	}

	if isNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case data := <-waiter:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case <-r.Context().Done():
		conn.forgetWaiter(requestID)
	}
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Mcp-Session-Id")
	s.mu.Lock()
	conn, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var lastEventID uint64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		fmt.Sscanf(raw, "%d", &lastEventID)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subscriberID := uuid.New().String()
	events, replay := conn.subscribe(subscriberID, lastEventID)
	defer conn.unsubscribe(subscriberID)

	for _, ev := range replay {
		writeSSE(w, ev)
	}
	flusher.Flush()

	for {
		select {
		case ev := <-events:
			writeSSE(w, ev)
			flusher.Flush()
		case <-conn.closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	s.closeSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func writeSSE(w http.ResponseWriter, ev sseEvent) {
	fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", ev.id, ev.data)
}

func renderRPCError(w http.ResponseWriter, r *http.Request, id string, code int, message string) {
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	}
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, body)
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
