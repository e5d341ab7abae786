// Package dispatch implements request/response correlation, cooperative
// cancellation and progress-notification throttling shared by the server
// and client runtimes. Neither runtime owns a transport directly; both
// drive their connection's Read/Write loop through a Dispatcher.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/richard-senior/mcpcore/pkg/protocol"
)

// pendingCall is one in-flight outbound request awaiting its response.
type pendingCall struct {
	method protocol.MethodType
	timer  *time.Timer
	result chan protocol.JsonRpcResponse
}

// PendingTable tracks outbound requests by id until their response
// arrives, their deadline elapses, or they are cancelled. It is the
// correlation primitive spec.md §4.4 describes: a unique id, a deadline,
// a cancel flag and an operation kind, cleared on whichever of those
// three happens first.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingCall
	nextNum int64
}

// NewPendingTable returns an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]*pendingCall)}
}

// NextID allocates a fresh numeric request id unique within this table's
// lifetime.
func (t *PendingTable) NextID() protocol.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextNum++
	return protocol.NewNumberID(float64(t.nextNum))
}

// Register records a pending call for id with the given timeout and
// returns a channel that receives exactly one JsonRpcResponse: the real
// response if one arrives in time, a synthesized timeout error response
// if the deadline elapses first, or a synthesized cancellation error
// response if Cancel is called first.
func (t *PendingTable) Register(id protocol.ID, method protocol.MethodType, timeout time.Duration) <-chan protocol.JsonRpcResponse {
	key := id.String()
	result := make(chan protocol.JsonRpcResponse, 1)
	call := &pendingCall{method: method, result: result}

	t.mu.Lock()
	t.entries[key] = call
	t.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() {
		t.finish(key, *protocol.NewJsonRpcErrorResponse(protocol.ErrRequestTimeout,
			fmt.Sprintf("request timed out waiting for %s", method), nil, id))
	})

	return result
}

// Complete delivers a response to the pending call registered under
// resp.ID, if any. It reports whether a matching pending call was found;
// an unmatched response (late, duplicate, or for an id nobody registered)
// is not an error and is simply dropped by the caller.
func (t *PendingTable) Complete(resp protocol.JsonRpcResponse) bool {
	return t.finish(resp.ID.String(), resp)
}

// Cancel marks the pending call for id as cancelled, if it is still
// outstanding, and wakes its waiter with a cancellation error. It
// reports whether a matching pending call was found; cancelling an
// unknown id is a silent no-op per spec.md §4.4.
func (t *PendingTable) Cancel(id protocol.ID, reason string) bool {
	msg := "request cancelled"
	if reason != "" {
		msg = fmt.Sprintf("request cancelled: %s", reason)
	}
	return t.finish(id.String(), *protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, msg, nil, id))
}

func (t *PendingTable) finish(key string, resp protocol.JsonRpcResponse) bool {
	t.mu.Lock()
	call, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.result <- resp
	return true
}

// Await blocks on a channel returned by Register until it fires or ctx is
// done. On context cancellation the pending entry remains registered
// (the caller should also call Cancel to release it) and a context error
// is returned instead.
func (t *PendingTable) Await(ctx context.Context, ch <-chan protocol.JsonRpcResponse) (protocol.JsonRpcResponse, error) {
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return protocol.JsonRpcResponse{}, ctx.Err()
	}
}

// Len reports the number of currently outstanding pending calls, used by
// tests and diagnostics.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
