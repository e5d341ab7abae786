package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/richard-senior/mcpcore/internal/logger"
)

// StdioConnection is the server-side half of the stdio transport: frames
// are newline-delimited UTF-8 JSON, one message per line, matching the
// teacher's original brace-counting reader in spirit (read until a
// complete frame is assembled) but simplified to the newline convention
// MCP stdio actually uses, since nothing here needs to tolerate embedded
// raw newlines inside a JSON value. Diagnostics go to stderr only: stdout
// is reserved entirely for protocol frames.
type StdioConnection struct {
	reader *bufio.Reader
	in     io.Reader
	out    io.Writer

	writeMu sync.Mutex
	log     *logger.Logger
}

// NewStdioConnection builds a server-side stdio connection over the
// given streams. Passing os.Stdin/os.Stdout is the common case; tests
// pass in-memory pipes instead.
func NewStdioConnection(in io.Reader, out io.Writer, log *logger.Logger) *StdioConnection {
	return &StdioConnection{
		reader: bufio.NewReaderSize(in, 64*1024),
		in:     in,
		out:    out,
		log:    log,
	}
}

// Read blocks for the next newline-terminated frame. It honours ctx
// cancellation on a best-effort basis: the underlying blocking read on
// stdin cannot itself be interrupted, but a cancelled ctx short-circuits
// before the read is attempted and the caller is expected to treat EOF
// (process exit/pipe close) as the normal shutdown signal.
func (c *StdioConnection) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return []byte(strings.TrimSpace(line)), nil
		}
		return nil, err
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return c.Read(ctx)
	}
	return []byte(trimmed), nil
}

// Write sends one frame, terminated by a newline, flushing immediately.
func (c *StdioConnection) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.out.Write(data); err != nil {
		return fmt.Errorf("stdio: write frame: %w", err)
	}
	if _, err := c.out.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("stdio: write newline: %w", err)
	}
	if f, ok := c.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close is a no-op for the server side: stdin/stdout lifetime is owned by
// the process, not this connection.
func (c *StdioConnection) Close() error { return nil }

// StdioClientConnection is the client-side half: it spawns the server as
// a subprocess, wires the child's stdin/stdout as the framed channel, and
// forwards the child's stderr to the logger line by line so server
// diagnostics are visible without polluting the protocol stream.
type StdioClientConnection struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	log    *logger.Logger

	writeMu sync.Mutex
}

// StartStdioClient spawns name with args and returns a connection wired
// to its stdin/stdout. The child's stderr is drained into a background
// goroutine that logs each line at WARN so a noisy server can't deadlock
// on a full stderr pipe.
func StartStdioClient(ctx context.Context, log *logger.Logger, name string, args ...string) (*StdioClientConnection, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio client: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio client: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio client: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stdio client: start %s: %w", name, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 4096), 1024*1024)
		for scanner.Scan() {
			log.Warn("server stderr:", scanner.Text())
		}
	}()

	return &StdioClientConnection{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReaderSize(stdout, 64*1024),
		log:    log,
	}, nil
}

func (c *StdioClientConnection) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return []byte(strings.TrimSpace(line)), nil
		}
		return nil, err
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return c.Read(ctx)
	}
	return []byte(trimmed), nil
}

func (c *StdioClientConnection) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("stdio client: write frame: %w", err)
	}
	_, err := c.stdin.Write([]byte{'\n'})
	return err
}

// Close asks the subprocess to exit gracefully (closing its stdin, which
// for a well-behaved server triggers EOF-driven shutdown) and waits up to
// gracePeriod before escalating to an explicit kill.
const gracePeriod = 3 * time.Second

func (c *StdioClientConnection) Close() error {
	_ = c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(gracePeriod):
		c.log.Warn("server did not exit within grace period, killing")
		if err := c.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("stdio client: kill after grace period: %w", err)
		}
		<-done
		return nil
	}
}
