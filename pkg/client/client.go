// Package client implements the client half of an MCP connection: the
// initialize/initialized handshake, typed wrappers over every operation
// a server exposes, and handler registration for the requests a server
// can send back (sampling, roots, elicitation) -- the mirror image of
// pkg/server, built on the same Dispatcher/Connection primitives so a
// client and a server drive identical wire traffic from opposite ends.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richard-senior/mcpcore/internal/config"
	"github.com/richard-senior/mcpcore/internal/logger"
	"github.com/richard-senior/mcpcore/pkg/dispatch"
	"github.com/richard-senior/mcpcore/pkg/protocol"
	"github.com/richard-senior/mcpcore/pkg/transport"
)

// SamplingHandler answers a server's sampling/createMessage request.
type SamplingHandler func(ctx context.Context, params protocol.SamplingCreateMessageParams) (*protocol.SamplingCreateMessageResult, error)

// RootsHandler answers a server's roots/list request.
type RootsHandler func(ctx context.Context) (*protocol.RootsListResult, error)

// ElicitationHandler answers a server's elicitation/create request.
type ElicitationHandler func(ctx context.Context, params protocol.ElicitationCreateParams) (*protocol.ElicitationCreateResult, error)

// ProgressNotificationHandler observes one notifications/progress message
// for a call this client made with a progress token. Registering one is
// optional; an unregistered client just logs progress at Debug.
type ProgressNotificationHandler func(ctx context.Context, params protocol.ProgressParams)

// Options configures a new Client the way server.Options configures a
// new Server.
type Options struct {
	Info         protocol.Implementation
	Capabilities protocol.ClientCapabilities
	Config       *config.Config
	Logger       *logger.Logger
}

// Client is the client side of one MCP connection. It is not safe to
// share a Client across more than one logical session; build one per
// connection the same way Server is built one per connection.
type Client struct {
	info         protocol.Implementation
	capabilities protocol.ClientCapabilities
	cfg          *config.Config
	log          *logger.Logger

	lifecycle *protocol.Lifecycle
	dispatch  *dispatch.Dispatcher

	negotiated   protocol.NegotiatedCapabilities
	serverInfo   protocol.Implementation
	serverCaps   protocol.ServerCapabilities
	instructions string

	sampling    SamplingHandler
	roots       RootsHandler
	elicitation ElicitationHandler
	onProgress  ProgressNotificationHandler
}

// New builds a Client bound to conn. Register any sampling/roots/
// elicitation handlers with OnSampling/OnRoots/OnElicitation before
// calling Connect, since the server may request them immediately after
// the handshake completes.
func New(conn transport.Connection, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load("")
		if err != nil {
			log.Warn("client: failed to load default config, using zero value: %s", err)
			cfg = &config.Config{}
		}
	}

	c := &Client{
		info:         opts.Info,
		capabilities: opts.Capabilities,
		cfg:          cfg,
		log:          log,
		lifecycle:    protocol.NewLifecycle(),
		dispatch:     dispatch.NewDispatcher(conn, log, cfg.ProgressMinGap),
	}
	c.registerNotificationHandlers()
	return c
}

// OnSampling registers the handler invoked when the server sends
// sampling/createMessage. Required before Connect if the client
// advertises the sampling capability.
func (c *Client) OnSampling(h SamplingHandler) { c.sampling = h }

// OnRoots registers the handler invoked when the server sends
// roots/list. Required before Connect if the client advertises roots.
func (c *Client) OnRoots(h RootsHandler) { c.roots = h }

// OnElicitation registers the handler invoked when the server sends
// elicitation/create. Required before Connect if the client advertises
// elicitation.
func (c *Client) OnElicitation(h ElicitationHandler) { c.elicitation = h }

// OnProgress registers the handler invoked for each notifications/progress
// message the server sends for a call this client made with a progress
// token. Safe to register at any time; it only affects notifications
// delivered after it's set.
func (c *Client) OnProgress(h ProgressNotificationHandler) { c.onProgress = h }

// Run drives the connection's read loop; it must be running (typically
// in its own goroutine) for Connect and every other call to make
// progress, the same way Server.Run must be running for a server.
func (c *Client) Run(ctx context.Context) error {
	return c.dispatch.Run(ctx)
}

// Connect performs the initialize/initialized handshake: sends
// initialize with this client's declared capabilities, records the
// server's response, computes negotiated capabilities, registers
// server-initiated handlers for whatever the negotiation actually
// turned on, and sends notifications/initialized to complete the
// lifecycle transition into the operating state.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.lifecycle.To(protocol.StateInitializing); err != nil {
		return err
	}

	raw, err := c.dispatch.Call(ctx, protocol.MethodInitialize, protocol.InitializeRequestParams{
		ProtocolVersion: protocol.LatestProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}, c.cfg.Timeouts.Initialize.Default)
	if err != nil {
		return fmt.Errorf("client: initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("client: decode initialize result: %w", err)
	}
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.instructions = result.Instructions
	c.negotiated = result.Capabilities.Intersect(c.capabilities)

	if err := c.registerServerInitiatedHandlers(); err != nil {
		return err
	}

	if err := c.dispatch.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return fmt.Errorf("client: send initialized: %w", err)
	}
	return c.lifecycle.To(protocol.StateOperating)
}

// registerServerInitiatedHandlers wires sampling/roots/elicitation
// handlers for whichever of those capabilities this client advertised
// and the server negotiated in. A capability the server negotiated
// without a registered handler is a caller bug: it means Capabilities
// claimed support Connect was never given a handler for.
func (c *Client) registerServerInitiatedHandlers() error {
	if c.capabilities.Sampling != nil {
		if c.sampling == nil {
			return fmt.Errorf("client: sampling capability advertised but no SamplingHandler registered")
		}
		c.dispatch.Handle(protocol.MethodSamplingCreateMessage, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
			var req protocol.SamplingCreateMessageParams
			if err := protocol.DecodeParams(params, &req); err != nil {
				return nil, &protocol.JsonRpcError{Code: protocol.ErrInvalidParams, Message: err.Error()}
			}
			result, err := c.sampling(ctx, req)
			if err != nil {
				return nil, &protocol.JsonRpcError{Code: protocol.ErrInternal, Message: err.Error()}
			}
			return result, nil
		})
	}

	if c.capabilities.Roots != nil {
		if c.roots == nil {
			return fmt.Errorf("client: roots capability advertised but no RootsHandler registered")
		}
		c.dispatch.Handle(protocol.MethodRootsList, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
			result, err := c.roots(ctx)
			if err != nil {
				return nil, &protocol.JsonRpcError{Code: protocol.ErrInternal, Message: err.Error()}
			}
			return result, nil
		})
	}

	if c.capabilities.Elicitation != nil {
		if c.elicitation == nil {
			return fmt.Errorf("client: elicitation capability advertised but no ElicitationHandler registered")
		}
		c.dispatch.Handle(protocol.MethodElicitationCreate, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
			var req protocol.ElicitationCreateParams
			if err := protocol.DecodeParams(params, &req); err != nil {
				return nil, &protocol.JsonRpcError{Code: protocol.ErrInvalidParams, Message: err.Error()}
			}
			result, err := c.elicitation(ctx, req)
			if err != nil {
				return nil, &protocol.JsonRpcError{Code: protocol.ErrInternal, Message: err.Error()}
			}
			return result, nil
		})
	}
	return nil
}

// registerNotificationHandlers wires the server-initiated notifications
// a client should at least acknowledge, logging them since most callers
// don't need anything more specific than "the server logged a message".
func (c *Client) registerNotificationHandlers() {
	c.dispatch.OnNotification(protocol.MethodNotificationMessage, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) {
		var msg protocol.NotificationMessageParams
		if err := protocol.DecodeParams(params, &msg); err == nil {
			c.log.WithFields(logger.Fields{"server_logger": msg.Logger}).Debug("server log: %v", msg.Data)
		}
	})

	c.dispatch.OnNotification(protocol.MethodNotificationProgress, func(ctx context.Context, params json.RawMessage, meta protocol.Meta) {
		var p protocol.ProgressParams
		if err := protocol.DecodeParams(params, &p); err != nil {
			c.log.Warn("malformed notifications/progress payload: %s", err)
			return
		}
		if c.onProgress != nil {
			c.onProgress(ctx, p)
			return
		}
		c.log.WithFields(logger.Fields{"progress_token": string(p.ProgressToken)}).Debug("progress %v/%v: %s", p.Progress, p.Total, p.Message)
	})
}

func (c *Client) checkOperating() error {
	if s := c.lifecycle.Current(); s != protocol.StateOperating {
		return fmt.Errorf("client: not connected (state %s)", s)
	}
	return nil
}

// ServerInfo returns the server's declared implementation identity.
// Only meaningful after a successful Connect.
func (c *Client) ServerInfo() protocol.Implementation { return c.serverInfo }

// ServerCapabilities returns the server's advertised capabilities as
// received during the handshake, before intersection with this
// client's own.
func (c *Client) ServerCapabilities() protocol.ServerCapabilities { return c.serverCaps }

// Instructions returns the server's free-form usage instructions, if any.
func (c *Client) Instructions() string { return c.instructions }

// Negotiated returns the capability set both sides agreed to after
// Connect.
func (c *Client) Negotiated() protocol.NegotiatedCapabilities { return c.negotiated }

// State returns the client's current lifecycle state.
func (c *Client) State() protocol.State { return c.lifecycle.Current() }

// ListTools returns one page of the server's tools starting at cursor.
func (c *Client) ListTools(ctx context.Context, cursor protocol.Cursor) (*protocol.ToolsListResult, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	raw, err := c.dispatch.Call(ctx, protocol.MethodToolsList, protocol.PaginatedParams{Cursor: cursor}, c.cfg.Timeouts.ToolCall.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode tools/list result: %w", err)
	}
	return &result, nil
}

// CallTool invokes a tool by name with the given raw JSON arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*protocol.ToolsCallResult, error) {
	return c.CallToolWithProgress(ctx, name, arguments, "")
}

// CallToolWithProgress is CallTool but attaches progressToken to the
// outbound request's `_meta`, so a compliant server emits one or more
// notifications/progress for it before the final response -- route
// those to OnProgress to observe them. An empty progressToken behaves
// exactly like CallTool.
func (c *Client) CallToolWithProgress(ctx context.Context, name string, arguments json.RawMessage, progressToken string) (*protocol.ToolsCallResult, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	var meta protocol.Meta
	if progressToken != "" {
		var err error
		meta, err = protocol.ProgressTokenMeta(progressToken)
		if err != nil {
			return nil, err
		}
	}
	raw, err := c.dispatch.CallWithMeta(ctx, protocol.MethodToolsCall, protocol.ToolsCallParams{Name: name, Arguments: arguments}, meta, c.cfg.Timeouts.ToolCall.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.ToolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode tools/call result: %w", err)
	}
	return &result, nil
}

// ListResources returns one page of the server's resources.
func (c *Client) ListResources(ctx context.Context, cursor protocol.Cursor) (*protocol.ResourcesListResult, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	raw, err := c.dispatch.Call(ctx, protocol.MethodResourcesList, protocol.PaginatedParams{Cursor: cursor}, c.cfg.Timeouts.ResourceRead.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.ResourcesListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode resources/list result: %w", err)
	}
	return &result, nil
}

// ReadResource fetches one resource's contents by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ResourcesReadResult, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	raw, err := c.dispatch.Call(ctx, protocol.MethodResourcesRead, protocol.ResourcesReadParams{URI: uri}, c.cfg.Timeouts.ResourceRead.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.ResourcesReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode resources/read result: %w", err)
	}
	return &result, nil
}

// SubscribeResource asks the server to notify this client of updates to
// uri via notifications/resources/updated.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	if err := c.checkOperating(); err != nil {
		return err
	}
	_, err := c.dispatch.Call(ctx, protocol.MethodResourcesSubscribe, protocol.ResourcesSubscribeParams{URI: uri}, c.cfg.Timeouts.ResourceRead.Default)
	return err
}

// UnsubscribeResource reverses a prior SubscribeResource.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	if err := c.checkOperating(); err != nil {
		return err
	}
	_, err := c.dispatch.Call(ctx, protocol.MethodResourcesUnsubscribe, protocol.ResourcesSubscribeParams{URI: uri}, c.cfg.Timeouts.ResourceRead.Default)
	return err
}

// ListPrompts returns one page of the server's prompts.
func (c *Client) ListPrompts(ctx context.Context, cursor protocol.Cursor) (*protocol.PromptsListResult, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	raw, err := c.dispatch.Call(ctx, protocol.MethodPromptsList, protocol.PaginatedParams{Cursor: cursor}, c.cfg.Timeouts.Completion.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.PromptsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode prompts/list result: %w", err)
	}
	return &result, nil
}

// GetPrompt renders a named prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.PromptsGetResult, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	raw, err := c.dispatch.Call(ctx, protocol.MethodPromptsGet, protocol.PromptsGetParams{Name: name, Arguments: arguments}, c.cfg.Timeouts.Completion.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.PromptsGetResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode prompts/get result: %w", err)
	}
	return &result, nil
}

// Complete requests completion candidates for one argument of a prompt
// or resource reference.
func (c *Client) Complete(ctx context.Context, ref protocol.CompletionReference, arg protocol.CompletionArgument) (*protocol.Completion, error) {
	if err := c.checkOperating(); err != nil {
		return nil, err
	}
	raw, err := c.dispatch.Call(ctx, protocol.MethodCompletionComplete, protocol.CompletionCompleteParams{Ref: ref, Argument: arg}, c.cfg.Timeouts.Completion.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.CompletionCompleteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("client: decode completion/complete result: %w", err)
	}
	return &result.Completion, nil
}

// SetLoggingLevel sends logging/setLevel with level. The server runtime
// in this module applies it to its own logger's minimum level; it does
// not filter the notifications/message it sends.
func (c *Client) SetLoggingLevel(ctx context.Context, level protocol.LogLevel) error {
	if err := c.checkOperating(); err != nil {
		return err
	}
	_, err := c.dispatch.Call(ctx, protocol.MethodLoggingSetLevel, protocol.LoggingSetLevelParams{Level: level}, c.cfg.Timeouts.Ping.Default)
	return err
}

// Ping round-trips a liveness check against the server.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.dispatch.Call(ctx, protocol.MethodPing, struct{}{}, c.cfg.Timeouts.Ping.Default)
	return err
}

// Shutdown requests a graceful shutdown and advances this client's
// lifecycle to match.
func (c *Client) Shutdown(ctx context.Context) error {
	if err := c.lifecycle.To(protocol.StateShuttingDown); err != nil {
		return err
	}
	_, err := c.dispatch.Call(ctx, protocol.MethodShutdown, struct{}{}, c.cfg.Timeouts.Shutdown.Default)
	if err != nil {
		return err
	}
	return c.lifecycle.To(protocol.StateShutdown)
}

// Close releases the underlying connection without attempting a
// graceful shutdown handshake first; prefer Shutdown when the server is
// still reachable.
func (c *Client) Close() error {
	return c.dispatch.Close()
}
