// Package server implements the MCP server runtmie: lifecycle handling,
// capability negotiation, and a pluggable handler registry per feature
// family (tools, resources, prompts, completion, logging) driven by a
// dispatch.Dispatcher. Unlike the teacher's package-level singleton
// (GetInstance/InitInstance via sync.Once), a Server here is an ordinary
// value returned by New: nothing about the MCP lifecycle requires global
// state, and a process embedding this module may run more than one
// server (e.g. one per inbound HTTP session).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/richard-senior/mcpcore/internal/config"
	"github.com/richard-senior/mcpcore/internal/logger"
	"github.com/richard-senior/mcpcore/pkg/dispatch"
	"github.com/richard-senior/mcpcore/pkg/protocol"
	"github.com/richard-senior/mcpcore/pkg/transport"
)

// ToolHandler executes one tool call. When the call carried a
// `_meta.progressToken`, ProgressFromContext(ctx) returns an emitter the
// handler may call zero or more times before returning.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (*protocol.ToolsCallResult, error)

// ResourceHandler reads the contents of one resource by URI. Like
// ToolHandler, it may observe a progress emitter via ProgressFromContext.
type ResourceHandler func(ctx context.Context, uri string) (*protocol.ResourcesReadResult, error)

// PromptHandler renders one prompt template given its arguments. Like
// ToolHandler, it may observe a progress emitter via ProgressFromContext.
type PromptHandler func(ctx context.Context, arguments map[string]string) (*protocol.PromptsGetResult, error)

// ProgressEmitter reports incremental progress for the call that
// produced it. progress and total follow spec.md's `notifications/progress`
// shape (total 0 means unknown); message is optional. Emission is
// throttled to the server's configured minimum interval per token, so
// calling it more often than that is harmless.
type ProgressEmitter func(progress, total float64, message string)

type progressEmitterKey struct{}

// ProgressFromContext returns the progress emitter threaded into ctx for
// a request that carried `_meta.progressToken`. ok is false when the
// caller didn't ask for progress, in which case the handler should just
// skip emitting.
func ProgressFromContext(ctx context.Context) (emit ProgressEmitter, ok bool) {
	emit, ok = ctx.Value(progressEmitterKey{}).(ProgressEmitter)
	return emit, ok
}

// withProgressEmitter threads a ProgressEmitter backed by s.SendProgress
// into ctx when meta carries a progressToken, satisfying spec.md's
// requirement that the handler context provide a progress emitter.
func (s *Server) withProgressEmitter(ctx context.Context, meta protocol.Meta) context.Context {
	token, ok := meta.ProgressToken()
	if !ok {
		return ctx
	}
	var emit ProgressEmitter = func(progress, total float64, message string) {
		s.SendProgress(ctx, token, progress, total, message)
	}
	return context.WithValue(ctx, progressEmitterKey{}, emit)
}

// CompletionHandler proposes completions for a partially-typed argument.
type CompletionHandler func(ctx context.Context, ref protocol.CompletionReference, arg protocol.CompletionArgument) (*protocol.Completion, error)

type toolEntry struct {
	tool    protocol.Tool
	handler ToolHandler
}

type resourceEntry struct {
	resource protocol.Resource
	handler  ResourceHandler
}

type promptEntry struct {
	prompt  protocol.Prompt
	handler PromptHandler
}

// Server is one MCP server-side connection: everything needed to answer
// a single client's requests from initialize through shutdown. A process
// hosting several simultaneous client sessions (e.g. the HTTP transport)
// constructs one Server per session, and handlers are registered on each
// Server separately.
type Server struct {
	info         protocol.Implementation
	instructions string
	caps         protocol.ServerCapabilities
	cfg          *config.Config
	log          *logger.Logger

	lifecycle *protocol.Lifecycle
	dispatch  *dispatch.Dispatcher
	negotiated protocol.NegotiatedCapabilities

	mu           sync.RWMutex
	tools        []toolEntry
	resources    []resourceEntry
	templates    []protocol.ResourceTemplate
	prompts      []promptEntry
	completion   CompletionHandler
	subscribed   map[string]bool
	pageSize     int
}

// Options configures a new Server. Handlers are registered after
// construction via Server.Tool/Resource/Prompt/CompletionFunc.
type Options struct {
	Info         protocol.Implementation
	Instructions string
	Config       *config.Config
	Logger       *logger.Logger
	PageSize     int
}

// New builds a Server bound to conn. It does not start reading until Run
// is called.
func New(conn transport.Connection, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg, _ = config.Load("")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	s := &Server{
		info:         opts.Info,
		instructions: opts.Instructions,
		cfg:          cfg,
		log:          log,
		lifecycle:    protocol.NewLifecycle(),
		subscribed:   make(map[string]bool),
		pageSize:     pageSize,
	}
	s.dispatch = dispatch.NewDispatcher(conn, log, cfg.ProgressMinGap)
	s.registerCoreHandlers()
	return s
}

// Tool registers a callable tool.
func (s *Server) Tool(t protocol.Tool, h ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, toolEntry{tool: t, handler: h})
}

// Resource registers a readable resource.
func (s *Server) Resource(r protocol.Resource, h ResourceHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = append(s.resources, resourceEntry{resource: r, handler: h})
}

// ResourceTemplate registers a resource template for resources/templates/list.
func (s *Server) ResourceTemplate(t protocol.ResourceTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, t)
}

// Prompt registers a prompt template.
func (s *Server) Prompt(p protocol.Prompt, h PromptHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, promptEntry{prompt: p, handler: h})
}

// CompletionFunc registers the completion/complete handler.
func (s *Server) CompletionFunc(h CompletionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completion = h
}

// capabilities computes this server's advertised capability record from
// what has actually been registered, rather than a fixed declaration, so
// a server with no prompts never claims prompts support.
func (s *Server) capabilities() protocol.ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var caps protocol.ServerCapabilities
	caps.Logging = &struct{}{}
	if len(s.tools) > 0 {
		caps.Tools = &protocol.ToolsCapability{ListChanged: true}
	}
	if len(s.resources) > 0 || len(s.templates) > 0 {
		caps.Resources = &protocol.ResourcesCapability{Subscribe: true, ListChanged: true}
	}
	if len(s.prompts) > 0 {
		caps.Prompts = &protocol.PromptsCapability{ListChanged: true}
	}
	if s.completion != nil {
		caps.Completions = &struct{}{}
	}
	return caps
}

// Dispatcher exposes the underlying dispatcher for transports that need
// to drive progress/cancellation plumbing directly.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatch }

// Run drives the connection's read loop until ctx is cancelled or the
// connection errs (typically client disconnect). Call it after
// registering handlers.
func (s *Server) Run(ctx context.Context) error {
	return s.dispatch.Run(ctx)
}

func (s *Server) registerCoreHandlers() {
	s.dispatch.Handle(protocol.MethodInitialize, s.handleInitialize)
	s.dispatch.Handle(protocol.MethodPing, s.handlePing)
	s.dispatch.Handle(protocol.MethodShutdown, s.handleShutdown)
	s.dispatch.Handle(protocol.MethodToolsList, s.handleToolsList)
	s.dispatch.Handle(protocol.MethodToolsCall, s.handleToolsCall)
	s.dispatch.Handle(protocol.MethodResourcesList, s.handleResourcesList)
	s.dispatch.Handle(protocol.MethodResourcesRead, s.handleResourcesRead)
	s.dispatch.Handle(protocol.MethodResourcesSubscribe, s.handleResourcesSubscribe)
	s.dispatch.Handle(protocol.MethodResourcesUnsubscribe, s.handleResourcesUnsubscribe)
	s.dispatch.Handle(protocol.MethodResourcesTemplatesList, s.handleResourcesTemplatesList)
	s.dispatch.Handle(protocol.MethodPromptsList, s.handlePromptsList)
	s.dispatch.Handle(protocol.MethodPromptsGet, s.handlePromptsGet)
	s.dispatch.Handle(protocol.MethodCompletionComplete, s.handleCompletionComplete)
	s.dispatch.Handle(protocol.MethodLoggingSetLevel, s.handleLoggingSetLevel)

	s.dispatch.OnNotification(protocol.MethodInitialized, s.handleInitialized)
}

func rpcErrorf(code int, format string, args ...any) *protocol.JsonRpcError {
	return &protocol.JsonRpcError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (s *Server) requireState(state protocol.State) *protocol.JsonRpcError {
	if got := s.lifecycle.Current(); got != state {
		return rpcErrorf(protocol.ErrInvalidRequest, "not permitted in lifecycle state %s", got)
	}
	return nil
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if err := s.lifecycle.To(protocol.StateInitializing); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidRequest, "%s", err)
	}

	var req protocol.InitializeRequestParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid initialize params: %s", err)
	}

	version := protocol.NegotiateVersion(req.ProtocolVersion)
	caps := s.capabilities()
	s.negotiated = caps.Intersect(req.Capabilities)

	return protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage, meta protocol.Meta) {
	if err := s.lifecycle.To(protocol.StateOperating); err != nil {
		s.log.Warn("client sent initialized notification out of sequence:", err)
	}
}

func (s *Server) handlePing(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	return struct{}{}, nil
}

func (s *Server) handleShutdown(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if err := s.lifecycle.To(protocol.StateShuttingDown); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidRequest, "%s", err)
	}
	defer s.lifecycle.To(protocol.StateShutdown)
	return struct{}{}, nil
}

func (s *Server) checkOperating(m protocol.MethodType) *protocol.JsonRpcError {
	if err := s.lifecycle.RequireOperating(m); err != nil {
		return rpcErrorf(protocol.ErrInvalidRequest, "%s", err)
	}
	if !s.negotiated.Supports(m) {
		return rpcErrorf(protocol.ErrCapabilityNotSupported, "capability required for %s was not negotiated", m)
	}
	return nil
}

// --- pagination -------------------------------------------------------

// encodeCursor/decodeCursor implement opaque integer-offset pagination.
// Clients must treat the cursor as opaque; nothing requires it to be a
// plain offset, but an offset is simple, stateless, and sufficient for
// registries that don't mutate mid-page.
func encodeCursor(offset int) protocol.Cursor {
	if offset <= 0 {
		return ""
	}
	return protocol.Cursor(strconv.Itoa(offset))
}

func decodeCursor(c protocol.Cursor) (int, error) {
	if c == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(string(c))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", c)
	}
	return n, nil
}

func paginate[T any](items []T, cursor protocol.Cursor, pageSize int) ([]T, protocol.Cursor, error) {
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if offset > len(items) {
		return nil, "", fmt.Errorf("cursor out of range")
	}
	end := offset + pageSize
	if end > len(items) {
		end = len(items)
	}
	page := items[offset:end]
	next := encodeCursor(end)
	if end >= len(items) {
		next = ""
	}
	return page, next, nil
}

// --- tools --------------------------------------------------------------

func (s *Server) handleToolsList(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodToolsList); e != nil {
		return nil, e
	}
	var req protocol.PaginatedParams
	_ = protocol.DecodeParams(params, &req)

	s.mu.RLock()
	all := make([]protocol.Tool, len(s.tools))
	for i, e := range s.tools {
		all[i] = e.tool
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	page, next, err := paginate(all, req.Cursor, s.pageSize)
	if err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "%s", err)
	}
	return protocol.ToolsListResult{PaginatedResult: protocol.PaginatedResult{NextCursor: next}, Tools: page}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodToolsCall); e != nil {
		return nil, e
	}
	var req protocol.ToolsCallParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid tools/call params: %s", err)
	}

	s.mu.RLock()
	var handler ToolHandler
	for _, e := range s.tools {
		if e.tool.Name == req.Name {
			handler = e.handler
			break
		}
	}
	s.mu.RUnlock()
	if handler == nil {
		return nil, rpcErrorf(protocol.ErrToolNotFound, "tool not found: %s", req.Name)
	}

	timeout := s.cfg.Timeouts.ToolCall.Default
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx = s.withProgressEmitter(callCtx, meta)

	result, err := handler(callCtx, req.Arguments)
	if err != nil {
		return protocol.ToolsCallResult{
			Content: []protocol.ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return result, nil
}

// --- resources ------------------------------------------------------------

func (s *Server) handleResourcesList(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodResourcesList); e != nil {
		return nil, e
	}
	var req protocol.PaginatedParams
	_ = protocol.DecodeParams(params, &req)

	s.mu.RLock()
	all := make([]protocol.Resource, len(s.resources))
	for i, e := range s.resources {
		all[i] = e.resource
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].URI < all[j].URI })

	page, next, err := paginate(all, req.Cursor, s.pageSize)
	if err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "%s", err)
	}
	return protocol.ResourcesListResult{PaginatedResult: protocol.PaginatedResult{NextCursor: next}, Resources: page}, nil
}

func (s *Server) handleResourcesTemplatesList(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodResourcesTemplatesList); e != nil {
		return nil, e
	}
	s.mu.RLock()
	templates := append([]protocol.ResourceTemplate(nil), s.templates...)
	s.mu.RUnlock()
	return protocol.ResourcesTemplatesListResult{ResourceTemplates: templates}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodResourcesRead); e != nil {
		return nil, e
	}
	var req protocol.ResourcesReadParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid resources/read params: %s", err)
	}

	s.mu.RLock()
	var handler ResourceHandler
	for _, e := range s.resources {
		if e.resource.URI == req.URI {
			handler = e.handler
			break
		}
	}
	s.mu.RUnlock()
	if handler == nil {
		return nil, rpcErrorf(protocol.ErrResourceNotFound, "resource not found: %s", req.URI)
	}

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.ResourceRead.Default)
	defer cancel()
	readCtx = s.withProgressEmitter(readCtx, meta)
	result, err := handler(readCtx, req.URI)
	if err != nil {
		return nil, rpcErrorf(protocol.ErrInternal, "resource read failed: %s", err)
	}
	return result, nil
}

func (s *Server) handleResourcesSubscribe(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodResourcesSubscribe); e != nil {
		return nil, e
	}
	var req protocol.ResourcesSubscribeParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid resources/subscribe params: %s", err)
	}
	s.mu.Lock()
	s.subscribed[req.URI] = true
	s.mu.Unlock()
	return struct{}{}, nil
}

func (s *Server) handleResourcesUnsubscribe(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodResourcesUnsubscribe); e != nil {
		return nil, e
	}
	var req protocol.ResourcesSubscribeParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid resources/unsubscribe params: %s", err)
	}
	s.mu.Lock()
	delete(s.subscribed, req.URI)
	s.mu.Unlock()
	return struct{}{}, nil
}

// NotifyResourceUpdated sends notifications/resources/updated for uri to
// every client currently subscribed to it.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	s.mu.RLock()
	subscribed := s.subscribed[uri]
	s.mu.RUnlock()
	if !subscribed {
		return nil
	}
	return s.dispatch.Notify(ctx, protocol.MethodNotificationResourcesUpdated, protocol.ResourcesUpdatedParams{URI: uri})
}

// --- prompts --------------------------------------------------------------

func (s *Server) handlePromptsList(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodPromptsList); e != nil {
		return nil, e
	}
	var req protocol.PaginatedParams
	_ = protocol.DecodeParams(params, &req)

	s.mu.RLock()
	all := make([]protocol.Prompt, len(s.prompts))
	for i, e := range s.prompts {
		all[i] = e.prompt
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	page, next, err := paginate(all, req.Cursor, s.pageSize)
	if err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "%s", err)
	}
	return protocol.PromptsListResult{PaginatedResult: protocol.PaginatedResult{NextCursor: next}, Prompts: page}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodPromptsGet); e != nil {
		return nil, e
	}
	var req protocol.PromptsGetParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid prompts/get params: %s", err)
	}

	s.mu.RLock()
	var handler PromptHandler
	for _, e := range s.prompts {
		if e.prompt.Name == req.Name {
			handler = e.handler
			break
		}
	}
	s.mu.RUnlock()
	if handler == nil {
		return nil, rpcErrorf(protocol.ErrPromptNotFound, "prompt not found: %s", req.Name)
	}

	result, err := handler(s.withProgressEmitter(ctx, meta), req.Arguments)
	if err != nil {
		return nil, rpcErrorf(protocol.ErrInternal, "prompt render failed: %s", err)
	}
	return result, nil
}

// --- completion & logging ---------------------------------------------

func (s *Server) handleCompletionComplete(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	if e := s.checkOperating(protocol.MethodCompletionComplete); e != nil {
		return nil, e
	}
	var req protocol.CompletionCompleteParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid completion/complete params: %s", err)
	}
	s.mu.RLock()
	handler := s.completion
	s.mu.RUnlock()
	if handler == nil {
		return nil, rpcErrorf(protocol.ErrCapabilityNotSupported, "no completion handler registered")
	}
	completion, err := handler(ctx, req.Ref, req.Argument)
	if err != nil {
		return nil, rpcErrorf(protocol.ErrInternal, "completion failed: %s", err)
	}
	return protocol.CompletionCompleteResult{Completion: *completion}, nil
}

func (s *Server) handleLoggingSetLevel(ctx context.Context, params json.RawMessage, meta protocol.Meta) (any, *protocol.JsonRpcError) {
	var req protocol.LoggingSetLevelParams
	if err := protocol.DecodeParams(params, &req); err != nil {
		return nil, rpcErrorf(protocol.ErrInvalidParams, "invalid logging/setLevel params: %s", err)
	}
	s.log.SetLevel(logger.LevelFromMCP(string(req.Level)))
	return struct{}{}, nil
}

// --- server-initiated requests (sampling, roots, elicitation) ---------

// RequestSampling asks the client to sample from its model, blocking
// until the client answers or the sampling timeout elapses.
func (s *Server) RequestSampling(ctx context.Context, params protocol.SamplingCreateMessageParams) (*protocol.SamplingCreateMessageResult, error) {
	if !s.negotiated.Sampling {
		return nil, fmt.Errorf("server: client did not advertise sampling capability")
	}
	raw, err := s.dispatch.Call(ctx, protocol.MethodSamplingCreateMessage, params, s.cfg.Timeouts.Sampling.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.SamplingCreateMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("server: decode sampling result: %w", err)
	}
	return &result, nil
}

// RequestRoots asks the client for its current filesystem/workspace roots.
func (s *Server) RequestRoots(ctx context.Context) (*protocol.RootsListResult, error) {
	if !s.negotiated.Roots {
		return nil, fmt.Errorf("server: client did not advertise roots capability")
	}
	raw, err := s.dispatch.Call(ctx, protocol.MethodRootsList, struct{}{}, s.cfg.Timeouts.Ping.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.RootsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("server: decode roots result: %w", err)
	}
	return &result, nil
}

// RequestElicitation asks the client's user to supply information
// matching requestedSchema.
func (s *Server) RequestElicitation(ctx context.Context, params protocol.ElicitationCreateParams) (*protocol.ElicitationCreateResult, error) {
	if !s.negotiated.Elicitation {
		return nil, fmt.Errorf("server: client did not advertise elicitation capability")
	}
	raw, err := s.dispatch.Call(ctx, protocol.MethodElicitationCreate, params, s.cfg.Timeouts.Elicitation.Default)
	if err != nil {
		return nil, err
	}
	var result protocol.ElicitationCreateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("server: decode elicitation result: %w", err)
	}
	return &result, nil
}

// SendProgress emits notifications/progress for token, throttled to the
// configured minimum interval per token.
func (s *Server) SendProgress(ctx context.Context, token json.RawMessage, progress, total float64, message string) {
	if !s.dispatch.Progress().Allow(token) {
		return
	}
	_ = s.dispatch.Notify(ctx, protocol.MethodNotificationProgress, protocol.ProgressParams{
		ProgressToken: token, Progress: progress, Total: total, Message: message,
	})
}

// SendLogMessage emits notifications/message.
func (s *Server) SendLogMessage(ctx context.Context, level protocol.LogLevel, loggerName string, data any) {
	_ = s.dispatch.Notify(ctx, protocol.MethodNotificationMessage, protocol.NotificationMessageParams{
		Level: level, Logger: loggerName, Data: data,
	})
}

// State returns the server's current lifecycle state.
func (s *Server) State() protocol.State { return s.lifecycle.Current() }
