package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/mcpcore/internal/config"
	"github.com/richard-senior/mcpcore/internal/logger"
	"github.com/richard-senior/mcpcore/pkg/protocol"
	"github.com/richard-senior/mcpcore/pkg/server"
)

// pipeConn is a transport.Connection backed by two channels, used in
// pairs to wire a Client directly to a Server in-process without any
// real transport -- the same role memConn plays in pkg/server's tests,
// but duplex since both ends here are live dispatchers.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

func newPipe() (clientSide, serverSide *pipeConn) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	closed := make(chan struct{})
	return &pipeConn{in: a, out: b, closed: closed}, &pipeConn{in: b, out: a, closed: closed}
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func testClientOptions(t *testing.T) Options {
	return Options{
		Info:   protocol.Implementation{Name: "mcpcore-client-test", Version: "0.0.0"},
		Config: testConfig(t),
		Logger: logger.NewLogger(logger.FATAL),
	}
}

// newConnectedPair spins up a real Server and a Client joined by an
// in-memory pipe, runs both dispatch loops, and performs the
// initialize/initialized handshake. The returned cancel stops both.
func newConnectedPair(t *testing.T, configure func(*server.Server)) (*Client, context.CancelFunc) {
	t.Helper()
	clientConn, serverConn := newPipe()

	s := server.New(serverConn, server.Options{
		Info:   protocol.Implementation{Name: "mcpcore-server-test", Version: "0.0.0"},
		Config: testConfig(t),
		Logger: logger.NewLogger(logger.FATAL),
	})
	if configure != nil {
		configure(s)
	}

	c := New(clientConn, testClientOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	go c.Run(ctx)

	require.NoError(t, c.Connect(ctx))
	return c, cancel
}

func TestClientConnectNegotiatesCapabilities(t *testing.T) {
	c, cancel := newConnectedPair(t, func(s *server.Server) {
		s.Tool(protocol.Tool{Name: "echo"}, func(ctx context.Context, args json.RawMessage) (*protocol.ToolsCallResult, error) {
			return &protocol.ToolsCallResult{}, nil
		})
	})
	defer cancel()

	assert.Equal(t, protocol.StateOperating, c.State())
	assert.Equal(t, "mcpcore-server-test", c.ServerInfo().Name)
	require.NotNil(t, c.ServerCapabilities().Tools)
	assert.True(t, c.Negotiated().Supports(protocol.MethodToolsList))
}

func TestClientListAndCallTool(t *testing.T) {
	c, cancel := newConnectedPair(t, func(s *server.Server) {
		s.Tool(protocol.Tool{Name: "add"}, func(ctx context.Context, args json.RawMessage) (*protocol.ToolsCallResult, error) {
			var params struct{ A, B int }
			require.NoError(t, json.Unmarshal(args, &params))
			return &protocol.ToolsCallResult{Content: []protocol.ContentBlock{{Type: "text", Text: "3"}}}, nil
		})
	})
	defer cancel()

	ctx := context.Background()
	list, err := c.ListTools(ctx, "")
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "add", list.Tools[0].Name)

	result, err := c.CallTool(ctx, "add", json.RawMessage(`{"A":1,"B":2}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "3", result.Content[0].Text)
}

func TestClientCallToolWithProgressReceivesNotificationBeforeResult(t *testing.T) {
	c, cancel := newConnectedPair(t, func(s *server.Server) {
		s.Tool(protocol.Tool{Name: "slow"}, func(ctx context.Context, args json.RawMessage) (*protocol.ToolsCallResult, error) {
			if emit, ok := server.ProgressFromContext(ctx); ok {
				emit(1, 2, "step one")
			}
			return &protocol.ToolsCallResult{Content: []protocol.ContentBlock{{Type: "text", Text: "finished"}}}, nil
		})
	})
	defer cancel()

	progressCh := make(chan protocol.ProgressParams, 1)
	c.OnProgress(func(ctx context.Context, params protocol.ProgressParams) {
		progressCh <- params
	})

	result, err := c.CallToolWithProgress(context.Background(), "slow", nil, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "finished", result.Content[0].Text)

	select {
	case params := <-progressCh:
		assert.Equal(t, float64(1), params.Progress)
		assert.Equal(t, "step one", params.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the progress notification")
	}
}

func TestClientCallToolUnknownToolReturnsError(t *testing.T) {
	c, cancel := newConnectedPair(t, func(s *server.Server) {
		s.Tool(protocol.Tool{Name: "known"}, func(ctx context.Context, args json.RawMessage) (*protocol.ToolsCallResult, error) {
			return &protocol.ToolsCallResult{}, nil
		})
	})
	defer cancel()

	_, err := c.CallTool(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestClientReadResource(t *testing.T) {
	const uri = "mcpcore://docs/overview"
	c, cancel := newConnectedPair(t, func(s *server.Server) {
		s.Resource(protocol.Resource{URI: uri, Name: "overview"}, func(ctx context.Context, requested string) (*protocol.ResourcesReadResult, error) {
			return &protocol.ResourcesReadResult{Contents: []protocol.ResourceContents{{URI: uri, Text: "hello"}}}, nil
		})
	})
	defer cancel()

	result, err := c.ReadResource(context.Background(), uri)
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "hello", result.Contents[0].Text)
}

func TestClientGetPrompt(t *testing.T) {
	c, cancel := newConnectedPair(t, func(s *server.Server) {
		s.Prompt(protocol.Prompt{Name: "greet", Arguments: []protocol.PromptArgument{{Name: "who", Required: true}}},
			func(ctx context.Context, arguments map[string]string) (*protocol.PromptsGetResult, error) {
				return &protocol.PromptsGetResult{Messages: []protocol.PromptMessage{
					{Role: protocol.RoleUser, Content: protocol.ContentBlock{Type: "text", Text: "hi " + arguments["who"]}},
				}}, nil
			})
	})
	defer cancel()

	result, err := c.GetPrompt(context.Background(), "greet", map[string]string{"who": "world"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "hi world", result.Messages[0].Content.Text)
}

func TestClientPing(t *testing.T) {
	c, cancel := newConnectedPair(t, nil)
	defer cancel()

	require.NoError(t, c.Ping(context.Background()))
}

func TestClientCallBeforeConnectFails(t *testing.T) {
	clientConn, serverConn := newPipe()
	_ = serverConn
	c := New(clientConn, testClientOptions(t))

	_, err := c.ListTools(context.Background(), "")
	require.Error(t, err)
}

func TestClientSamplingHandlerServesServerRequest(t *testing.T) {
	clientConn, serverConn := newPipe()

	s := server.New(serverConn, server.Options{
		Info:   protocol.Implementation{Name: "mcpcore-server-test", Version: "0.0.0"},
		Config: testConfig(t),
		Logger: logger.NewLogger(logger.FATAL),
	})

	c := New(clientConn, Options{
		Info:         protocol.Implementation{Name: "mcpcore-client-test", Version: "0.0.0"},
		Capabilities: protocol.ClientCapabilities{Sampling: &struct{}{}},
		Config:       testConfig(t),
		Logger:       logger.NewLogger(logger.FATAL),
	})
	c.OnSampling(func(ctx context.Context, params protocol.SamplingCreateMessageParams) (*protocol.SamplingCreateMessageResult, error) {
		return &protocol.SamplingCreateMessageResult{
			Role:    protocol.RoleAssistant,
			Content: protocol.ContentBlock{Type: "text", Text: "sampled reply"},
			Model:   "stub-model",
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	go c.Run(ctx)
	require.NoError(t, c.Connect(ctx))

	result, err := s.RequestSampling(ctx, protocol.SamplingCreateMessageParams{
		Messages: []protocol.SamplingMessage{{Role: protocol.RoleUser, Content: protocol.ContentBlock{Type: "text", Text: "hello"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sampled reply", result.Content.Text)
}

func TestClientShutdown(t *testing.T) {
	c, cancel := newConnectedPair(t, nil)
	defer cancel()

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, protocol.StateShutdown, c.State())
}

func TestClientConnectTimesOutWithoutServer(t *testing.T) {
	clientConn, _ := newPipe()
	cfg := testConfig(t)
	cfg.Timeouts.Initialize.Default = 10 * time.Millisecond
	c := New(clientConn, Options{
		Info:   protocol.Implementation{Name: "mcpcore-client-test", Version: "0.0.0"},
		Config: cfg,
		Logger: logger.NewLogger(logger.FATAL),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	err := c.Connect(ctx)
	require.Error(t, err)
}
