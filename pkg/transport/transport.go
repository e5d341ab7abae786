// Package transport provides the wire-level connections the dispatcher
// drives: stdio (newline-delimited frames over a pipe or subprocess) and
// Streamable HTTP (a single endpoint multiplexing request/response and
// SSE push, with session resumability).
package transport

import "context"

// Connection is the symmetric duplex channel a Dispatcher reads decoded
// JSON-RPC messages from and writes them back to. Unlike the teacher's
// original Transport (one-directional ReadRequest/WriteResponse, fit only
// for a server receiving requests and sending responses), MCP connections
// carry requests, responses and notifications in both directions: a
// server sends sampling/roots/elicitation requests to its client, and a
// client sends cancellation/progress notifications to its server. Both
// ends of every connection implement the same interface.
//
// Read blocks until a complete message is available, ctx is done, or the
// connection is closed, returning the raw JSON bytes of one message.
// Write sends one message's raw JSON bytes atomically with respect to
// other Write calls on the same Connection.
type Connection interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}
