package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/richard-senior/mcpcore/internal/logger"
	"github.com/richard-senior/mcpcore/pkg/protocol"
	"github.com/richard-senior/mcpcore/pkg/transport"
)

// HandlerFunc answers one inbound request. A non-nil *protocol.JsonRpcError
// return becomes the response's error member; otherwise result is
// marshaled as the response's result member. Panics inside a HandlerFunc
// are recovered by the Dispatcher and surfaced as an internal error
// response without tearing down the connection (spec.md §4.5).
type HandlerFunc func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (result any, rpcErr *protocol.JsonRpcError)

// NotificationFunc handles one inbound notification. Errors are logged,
// not reported, since notifications have no response channel.
type NotificationFunc func(ctx context.Context, params json.RawMessage, meta protocol.Meta)

// Dispatcher owns one Connection's read loop: it decodes inbound frames,
// routes requests to registered handlers, completes pending outbound
// requests from inbound responses, and answers cooperative-cancellation
// notifications. Both the server and client runtimes embed one rather
// than talking to a transport.Connection directly.
type Dispatcher struct {
	conn transport.Connection
	log  *logger.Logger

	pending  *PendingTable
	progress *ProgressTracker

	mu            sync.RWMutex
	handlers      map[protocol.MethodType]HandlerFunc
	notifications map[protocol.MethodType]NotificationFunc

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	writeMu sync.Mutex
}

// NewDispatcher builds a Dispatcher over conn. progressMinGap configures
// the minimum interval between progress notifications for any one token.
func NewDispatcher(conn transport.Connection, log *logger.Logger, progressMinGap time.Duration) *Dispatcher {
	return &Dispatcher{
		conn:           conn,
		log:            log,
		pending:        NewPendingTable(),
		progress:       NewProgressTracker(progressMinGap),
		handlers:       make(map[protocol.MethodType]HandlerFunc),
		notifications:  make(map[protocol.MethodType]NotificationFunc),
		inflight:       make(map[string]context.CancelFunc),
	}
}

// Handle registers h to answer inbound requests for method. Registering
// twice for the same method replaces the prior handler.
func (d *Dispatcher) Handle(method protocol.MethodType, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// OnNotification registers f to handle inbound notifications for method.
func (d *Dispatcher) OnNotification(method protocol.MethodType, f NotificationFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications[method] = f
}

// Pending exposes the outbound pending-request table so runtimes can
// await their own requests.
func (d *Dispatcher) Pending() *PendingTable { return d.pending }

// Progress exposes the progress-emission throttle.
func (d *Dispatcher) Progress() *ProgressTracker { return d.progress }

// Run drives the read loop until ctx is cancelled or the connection
// errors (typically EOF on normal shutdown). It returns the terminal
// error, which callers generally log rather than treat as fatal once a
// shutdown was already in progress.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		data, err := d.conn.Read(ctx)
		if err != nil {
			return err
		}
		d.handleFrame(ctx, data)
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, data []byte) {
	isResponse, err := protocol.DecodeEnvelope(data)
	if err != nil {
		d.log.Warn("dropping malformed frame:", err)
		return
	}
	if isResponse {
		resp, err := protocol.ParseJsonRpcResponse(data)
		if err != nil {
			d.log.Warn("dropping malformed response:", err)
			return
		}
		if !d.pending.Complete(*resp) {
			d.log.Debug("response for unknown/expired request id:", resp.ID.String())
		}
		return
	}

	req, err := protocol.ParseJsonRpcRequest(data)
	if err != nil {
		d.log.Warn("dropping malformed request:", err)
		return
	}

	if req.IsNotification() {
		d.handleNotification(ctx, req)
		return
	}
	go d.handleRequest(ctx, req)
}

func (d *Dispatcher) handleNotification(ctx context.Context, req *protocol.JsonRpcRequest) {
	if protocol.MethodType(req.Method) == protocol.MethodNotificationCancelled {
		var params protocol.CancelledParams
		if err := protocol.DecodeParams(req.Params, &params); err != nil {
			d.log.Warn("malformed notifications/cancelled payload:", err)
			return
		}
		d.cancelInflight(params.RequestID, params.Reason)
		return
	}

	d.mu.RLock()
	f, ok := d.notifications[protocol.MethodType(req.Method)]
	d.mu.RUnlock()
	if !ok {
		d.log.Debug("no handler for notification:", req.Method)
		return
	}
	f(ctx, req.Params, req.Meta)
}

func (d *Dispatcher) handleRequest(ctx context.Context, req *protocol.JsonRpcRequest) {
	id := *req.ID
	method := protocol.MethodType(req.Method)

	d.mu.RLock()
	h, ok := d.handlers[method]
	d.mu.RUnlock()
	if !ok {
		d.writeResponse(ctx, protocol.NewJsonRpcErrorResponse(protocol.ErrMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil, id))
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	key := id.String()
	d.inflightMu.Lock()
	d.inflight[key] = cancel
	d.inflightMu.Unlock()
	defer func() {
		d.inflightMu.Lock()
		delete(d.inflight, key)
		d.inflightMu.Unlock()
		cancel()
	}()

	result, rpcErr := d.invokeSafely(reqCtx, h, req.Params, req.Meta)
	if rpcErr != nil {
		d.writeResponse(ctx, protocol.NewJsonRpcErrorResponse(rpcErr.Code, rpcErr.Message, rpcErr.Data, id))
		return
	}
	resp, err := protocol.NewJsonRpcResponse(result, id)
	if err != nil {
		d.writeResponse(ctx, protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, err.Error(), nil, id))
		return
	}
	d.writeResponse(ctx, resp)
}

// invokeSafely calls h and converts a panic into an internal error
// response rather than letting it unwind the read loop's goroutine tree
// (spec.md §4.5: a misbehaving handler must not tear down the connection).
func (d *Dispatcher) invokeSafely(ctx context.Context, h HandlerFunc, params json.RawMessage, meta protocol.Meta) (result any, rpcErr *protocol.JsonRpcError) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic recovered:", fmt.Sprintf("%v", r))
			rpcErr = &protocol.JsonRpcError{Code: protocol.ErrInternal, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return h(ctx, params, meta)
}

func (d *Dispatcher) cancelInflight(id protocol.ID, reason string) {
	d.inflightMu.Lock()
	cancel, ok := d.inflight[id.String()]
	d.inflightMu.Unlock()
	if !ok {
		d.log.Debug("cancellation for unknown/completed request id:", id.String())
		return
	}
	if reason != "" {
		d.log.Debug("cancelling request", id.String(), "reason:", reason)
	}
	cancel()
}

func (d *Dispatcher) writeResponse(ctx context.Context, resp *protocol.JsonRpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		d.log.Error("failed to marshal response:", err)
		return
	}
	if err := d.writeFrame(ctx, data); err != nil {
		d.log.Error("failed to write response:", err)
	}
}

func (d *Dispatcher) writeFrame(ctx context.Context, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.Write(ctx, data)
}

// Call sends a request for method and blocks until the matching response
// arrives, ctx is done, or timeout elapses. The caller decodes result
// into whatever type the method returns.
func (d *Dispatcher) Call(ctx context.Context, method protocol.MethodType, params any, timeout time.Duration) (json.RawMessage, error) {
	return d.CallWithMeta(ctx, method, params, nil, timeout)
}

// CallWithMeta is Call but attaches meta (e.g. a `_meta.progressToken`
// built with protocol.ProgressTokenMeta) to the outbound request, so a
// compliant peer knows where to send notifications/progress for it.
func (d *Dispatcher) CallWithMeta(ctx context.Context, method protocol.MethodType, params any, meta protocol.Meta, timeout time.Duration) (json.RawMessage, error) {
	id := d.pending.NextID()
	req, err := protocol.NewJsonRpcRequest(string(method), params, &id)
	if err != nil {
		return nil, err
	}
	req.Meta = meta
	ch := d.pending.Register(id, method, timeout)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal request: %w", err)
	}
	if err := d.writeFrame(ctx, data); err != nil {
		return nil, fmt.Errorf("dispatch: write request: %w", err)
	}

	resp, err := d.pending.Await(ctx, ch)
	if err != nil {
		d.pending.Cancel(id, "caller context done")
		d.Notify(ctx, protocol.MethodNotificationCancelled, protocol.CancelledParams{RequestID: id, Reason: "caller context done"})
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify sends a notification (fire-and-forget, no response expected).
func (d *Dispatcher) Notify(ctx context.Context, method protocol.MethodType, params any) error {
	note, err := protocol.NewJsonRpcNotification(string(method), params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("dispatch: marshal notification: %w", err)
	}
	return d.writeFrame(ctx, data)
}

// Close releases the underlying connection.
func (d *Dispatcher) Close() error {
	return d.conn.Close()
}
