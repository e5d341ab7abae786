package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/mcpcore/internal/logger"
	"github.com/richard-senior/mcpcore/pkg/protocol"
)

// memConn is an in-memory transport.Connection: everything written to it
// lands on outbound, everything queued on inbound is what Read returns
// next. It stands in for a real pipe/socket in dispatcher tests so the
// read loop can be driven deterministically.
type memConn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
}

func newMemConn() *memConn {
	return &memConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *memConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) Write(ctx context.Context, data []byte) error {
	select {
	case c.outbound <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memConn) Close() error {
	close(c.closed)
	return nil
}

func testLogger() *logger.Logger { return logger.NewLogger(logger.FATAL) }

func TestDispatcherHandlesRequest(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)
	d.Handle(protocol.MethodPing, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
		return map[string]string{"pong": "true"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := protocol.NewStringID("1")
	req, err := protocol.NewJsonRpcRequest(string(protocol.MethodPing), nil, &id)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	conn.inbound <- data

	select {
	case out := <-conn.outbound:
		resp, err := protocol.ParseJsonRpcResponse(out)
		require.NoError(t, err)
		assert.Nil(t, resp.Error)
		assert.Contains(t, string(resp.Result), "pong")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestDispatcherUnknownMethod(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := protocol.NewStringID("1")
	req, err := protocol.NewJsonRpcRequest("nonexistent/method", nil, &id)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	conn.inbound <- data

	select {
	case out := <-conn.outbound:
		resp, err := protocol.ParseJsonRpcResponse(out)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.ErrMethodNotFound, resp.Error.Code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)
	d.Handle(protocol.MethodPing, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := protocol.NewStringID("1")
	req, err := protocol.NewJsonRpcRequest(string(protocol.MethodPing), nil, &id)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	conn.inbound <- data

	select {
	case out := <-conn.outbound:
		resp, err := protocol.ParseJsonRpcResponse(out)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.ErrInternal, resp.Error.Code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response, handler panic likely crashed the read loop")
	}
}

func TestDispatcherCallRoundTrip(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Simulate the peer answering whatever request it receives.
	go func() {
		data := <-conn.outbound
		req, err := protocol.ParseJsonRpcRequest(data)
		if err != nil {
			return
		}
		resp, _ := protocol.NewJsonRpcResponse(map[string]string{"echo": req.Method}, *req.ID)
		out, _ := json.Marshal(resp)
		conn.inbound <- out
	}()

	result, err := d.Call(ctx, protocol.MethodPing, nil, time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(result), "ping")
}

func TestDispatcherCallTimesOut(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Drain outbound but never answer, forcing the pending table's own timeout.
	go func() { <-conn.outbound }()

	_, err := d.Call(ctx, protocol.MethodPing, nil, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestDispatcherCallWithMetaAttachesMeta(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var gotToken string
	go func() {
		data := <-conn.outbound
		req, err := protocol.ParseJsonRpcRequest(data)
		if err != nil {
			return
		}
		if token, ok := req.Meta.ProgressToken(); ok {
			_ = json.Unmarshal(token, &gotToken)
		}
		resp, _ := protocol.NewJsonRpcResponse(struct{}{}, *req.ID)
		out, _ := json.Marshal(resp)
		conn.inbound <- out
	}()

	meta, err := protocol.ProgressTokenMeta("tok-1")
	require.NoError(t, err)
	_, err = d.CallWithMeta(ctx, protocol.MethodToolsCall, nil, meta, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", gotToken)
}

func TestDispatcherNotifyNoResponseExpected(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)

	require.NoError(t, d.Notify(context.Background(), protocol.MethodNotificationProgress, protocol.ProgressParams{Progress: 0.5}))

	select {
	case out := <-conn.outbound:
		var note protocol.JsonRpcRequest
		require.NoError(t, json.Unmarshal(out, &note))
		assert.True(t, note.IsNotification())
	case <-time.After(time.Second):
		t.Fatal("expected notification to be written")
	}
}

func TestDispatcherCancelledNotificationCancelsInflightHandler(t *testing.T) {
	conn := newMemConn()
	d := NewDispatcher(conn, testLogger(), time.Millisecond)

	handlerCtxDone := make(chan struct{})
	d.Handle(protocol.MethodToolsCall, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
		<-ctx.Done()
		close(handlerCtxDone)
		return nil, &protocol.JsonRpcError{Code: protocol.ErrRequestTimeout, Message: "cancelled"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id := protocol.NewStringID("call-1")
	req, err := protocol.NewJsonRpcRequest(string(protocol.MethodToolsCall), nil, &id)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	conn.inbound <- data

	// Drain the eventual error response so the test doesn't hang on a full channel.
	go func() { <-conn.outbound }()

	time.Sleep(20 * time.Millisecond)
	cancelNote, err := protocol.NewJsonRpcNotification(string(protocol.MethodNotificationCancelled), protocol.CancelledParams{RequestID: id})
	require.NoError(t, err)
	cancelData, err := json.Marshal(cancelNote)
	require.NoError(t, err)
	conn.inbound <- cancelData

	select {
	case <-handlerCtxDone:
	case <-time.After(time.Second):
		t.Fatal("handler context was never cancelled")
	}
}
