package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/mcpcore/internal/logger"
)

func testHTTPServer(t *testing.T, onSession SessionHandler) *HTTPServer {
	t.Helper()
	if onSession == nil {
		onSession = func(string, *HTTPSessionConnection) func() { return func() {} }
	}
	return NewHTTPServer(HTTPConfig{EndpointPath: "/mcp", SSEBufferSize: 16, ConcurrencyCap: 4}, logger.NewLogger(logger.FATAL), nil, onSession)
}

func TestHTTPSessionConnectionWriteDeliversToWaiter(t *testing.T) {
	conn := newHTTPSessionConnection("s1", 16, logger.NewLogger(logger.FATAL))
	waiter := conn.registerWaiter(`"1"`)

	require.NoError(t, conn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","id":"1","result":{}}`)))

	select {
	case data := <-waiter:
		assert.Contains(t, string(data), `"id":"1"`)
	case <-time.After(time.Second):
		t.Fatal("waiter never received its response")
	}
}

func TestHTTPSessionConnectionSubscribeReplaysBufferedEvents(t *testing.T) {
	conn := newHTTPSessionConnection("s1", 16, logger.NewLogger(logger.FATAL))
	require.NoError(t, conn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/progress"}`)))
	require.NoError(t, conn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":2}`)))

	_, replay := conn.subscribe("sub-1", 0)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(0), replay[0].id)
	assert.Equal(t, uint64(1), replay[1].id)

	_, partial := conn.subscribe("sub-2", 0)
	conn.unsubscribe("sub-2")
	assert.Len(t, partial, 2)
}

func TestHTTPSessionConnectionBufferDropsOldestWhenFull(t *testing.T) {
	conn := newHTTPSessionConnection("s1", 2, logger.NewLogger(logger.FATAL))
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","method":"m"}`)))
	}
	conn.mu.Lock()
	bufLen := len(conn.buffer)
	last := conn.buffer[len(conn.buffer)-1].id
	conn.mu.Unlock()
	assert.Equal(t, 2, bufLen)
	assert.Equal(t, uint64(4), last)
}

func TestHTTPServerPostRoundTrip(t *testing.T) {
	var capturedID string
	srv := testHTTPServer(t, func(sessionID string, conn *HTTPSessionConnection) func() {
		capturedID = sessionID
		go func() {
			body, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			_ = conn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","id":"init","result":{"ok":true}}`))
			_ = body
		}()
		return func() {}
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":"init","method":"initialize"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
	assert.NotEmpty(t, capturedID)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"ok":true`)
}

func TestHTTPServerPostNotificationReturns202(t *testing.T) {
	srv := testHTTPServer(t, func(sessionID string, conn *HTTPSessionConnection) func() {
		go func() { _, _ = conn.Read(context.Background()) }()
		return func() {}
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHTTPServerGetStreamsSSE(t *testing.T) {
	var sessionConn *HTTPSessionConnection
	srv := testHTTPServer(t, func(sessionID string, conn *HTTPSessionConnection) func() {
		sessionConn = conn
		go func() { _, _ = conn.Read(context.Background()) }()
		return func() {}
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()
	require.NotEmpty(t, sessionID)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sessionID)

	client := &http.Client{Timeout: 2 * time.Second}
	getResp, err := client.Do(req)
	require.NoError(t, err)
	defer getResp.Body.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = sessionConn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/message","params":{"data":"hi"}}`))
	}()

	reader := bufio.NewReader(getResp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "id: 0")
}

func TestHTTPServerDeleteClosesSession(t *testing.T) {
	var closed bool
	srv := testHTTPServer(t, func(sessionID string, conn *HTTPSessionConnection) func() {
		go func() { _, _ = conn.Read(context.Background()) }()
		return func() { closed = true }
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Mcp-Session-Id", sessionID)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()

	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
	assert.True(t, closed)
}

func TestHTTPServerRejectsDisallowedOrigin(t *testing.T) {
	srv := NewHTTPServer(HTTPConfig{EndpointPath: "/mcp", AllowedOrigins: []string{"https://trusted.example"}}, logger.NewLogger(logger.FATAL), nil,
		func(string, *HTTPSessionConnection) func() { return func() {} })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"initialize"}`))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
