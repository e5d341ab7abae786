package protocol

import "encoding/json"

// Implementation identifies a client or server by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Role identifies the originator of a message in a sampling conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Cursor is an opaque pagination token. Clients must treat it as opaque;
// servers may encode whatever they need into it.
type Cursor string

// ClientCapabilities is the component-wise capability record a client
// advertises during initialize.
type ClientCapabilities struct {
	Roots        *RootsCapability        `json:"roots,omitempty"`
	Sampling     *struct{}               `json:"sampling,omitempty"`
	Elicitation  *struct{}               `json:"elicitation,omitempty"`
	Experimental map[string]any          `json:"experimental,omitempty"`
}

// RootsCapability describes client support for the roots family.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the component-wise capability record a server
// advertises during initialize.
type ServerCapabilities struct {
	Logging      *struct{}              `json:"logging,omitempty"`
	Completions  *struct{}              `json:"completions,omitempty"`
	Prompts      *PromptsCapability     `json:"prompts,omitempty"`
	Resources    *ResourcesCapability   `json:"resources,omitempty"`
	Tools        *ToolsCapability       `json:"tools,omitempty"`
	Experimental map[string]any         `json:"experimental,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Intersect flattens the two capability records into one set. Each
// feature family is read from the one side that owns it: logging,
// completions, prompts, resources and tools are enabled iff the server
// advertises them, and roots, sampling and elicitation iff the client
// does. The other side's record is not consulted for a family, so a
// client that omits, say, tools does not disable tools. Used after negotiation to decide which operations are legal to invoke
// on a given connection (spec.md §4.3).
func (s ServerCapabilities) Intersect(c ClientCapabilities) NegotiatedCapabilities {
	return NegotiatedCapabilities{
		Logging:              s.Logging != nil,
		Completions:          s.Completions != nil,
		Prompts:              s.Prompts != nil,
		PromptsListChanged:   s.Prompts != nil && s.Prompts.ListChanged,
		Resources:            s.Resources != nil,
		ResourcesSubscribe:   s.Resources != nil && s.Resources.Subscribe,
		ResourcesListChanged: s.Resources != nil && s.Resources.ListChanged,
		Tools:                s.Tools != nil,
		ToolsListChanged:     s.Tools != nil && s.Tools.ListChanged,
		Roots:                c.Roots != nil,
		RootsListChanged:     c.Roots != nil && c.Roots.ListChanged,
		Sampling:             c.Sampling != nil,
		Elicitation:          c.Elicitation != nil,
	}
}

// NegotiatedCapabilities is the flattened result of intersecting server
// and client capability records, used by the server runtime to reject
// calls to operations that were not negotiated.
type NegotiatedCapabilities struct {
	Logging              bool
	Completions          bool
	Prompts              bool
	PromptsListChanged   bool
	Resources            bool
	ResourcesSubscribe   bool
	ResourcesListChanged bool
	Tools                bool
	ToolsListChanged     bool
	Roots                bool
	RootsListChanged     bool
	Sampling             bool
	Elicitation          bool
}

// Supports reports whether the negotiated capabilities allow the named
// method to be invoked at all. Methods with no associated capability
// (lifecycle, ping) always report true.
func (n NegotiatedCapabilities) Supports(m MethodType) bool {
	switch m {
	case MethodToolsList, MethodToolsCall:
		return n.Tools
	case MethodResourcesList, MethodResourcesRead, MethodResourcesTemplatesList:
		return n.Resources
	case MethodResourcesSubscribe, MethodResourcesUnsubscribe:
		return n.ResourcesSubscribe
	case MethodPromptsList, MethodPromptsGet:
		return n.Prompts
	case MethodCompletionComplete:
		return n.Completions
	case MethodLoggingSetLevel:
		return n.Logging
	case MethodSamplingCreateMessage:
		return n.Sampling
	case MethodRootsList:
		return n.Roots
	case MethodElicitationCreate:
		return n.Elicitation
	default:
		return true
	}
}

// InitializeRequestParams is the params payload of an `initialize` call.
type InitializeRequestParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the result payload of an `initialize` call.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// PaginatedParams is embedded by every list-style request.
type PaginatedParams struct {
	Cursor Cursor `json:"cursor,omitempty"`
}

// PaginatedResult is embedded by every list-style result.
type PaginatedResult struct {
	NextCursor Cursor `json:"nextCursor,omitempty"`
}

// ToolInputSchema is a JSON-Schema-shaped description of a tool's
// arguments. It is carried as a raw object rather than typed per-field
// since schema derivation from handler types is explicitly out of scope;
// handler authors supply it directly.
type ToolInputSchema struct {
	Type                 string                     `json:"type"`
	Properties           map[string]json.RawMessage `json:"properties,omitempty"`
	Required             []string                   `json:"required,omitempty"`
	AdditionalProperties bool                       `json:"additionalProperties"`
}

// Tool describes one callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolsListResult is the result of `tools/list`.
type ToolsListResult struct {
	PaginatedResult
	Tools []Tool `json:"tools"`
}

// ToolsCallParams is the params of `tools/call`.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentBlock is a single piece of tool/prompt/sampling content. Exactly
// one of Text/Data is populated depending on Type.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolsCallResult is the result of `tools/call`.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Resource describes a single addressable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parametrized family of resource URIs.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourcesListResult is the result of `resources/list`.
type ResourcesListResult struct {
	PaginatedResult
	Resources []Resource `json:"resources"`
}

// ResourcesTemplatesListResult is the result of `resources/templates/list`.
type ResourcesTemplatesListResult struct {
	PaginatedResult
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ResourcesReadParams is the params of `resources/read`.
type ResourcesReadParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one resource's body, returned by `resources/read`.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ResourcesReadResult is the result of `resources/read`.
type ResourcesReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ResourcesSubscribeParams is the params of `resources/subscribe` and
// `resources/unsubscribe`.
type ResourcesSubscribeParams struct {
	URI string `json:"uri"`
}

// Prompt describes a single named prompt template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one argument a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptsListResult is the result of `prompts/list`.
type PromptsListResult struct {
	PaginatedResult
	Prompts []Prompt `json:"prompts"`
}

// PromptsGetParams is the params of `prompts/get`.
type PromptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one rendered message of a prompt template.
type PromptMessage struct {
	Role    Role         `json:"role"`
	Content ContentBlock `json:"content"`
}

// PromptsGetResult is the result of `prompts/get`.
type PromptsGetResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// CompletionReference identifies what a completion/complete call is
// completing against: a prompt name or a resource template URI.
type CompletionReference struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// CompletionArgument is the partially-typed argument being completed.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompletionCompleteParams is the params of `completion/complete`.
type CompletionCompleteParams struct {
	Ref      CompletionReference `json:"ref"`
	Argument CompletionArgument  `json:"argument"`
}

// Completion is the candidate-list payload of a completion result.
type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// CompletionCompleteResult is the result of `completion/complete`.
type CompletionCompleteResult struct {
	Completion Completion `json:"completion"`
}

// LogLevel is one of the RFC 5424 syslog severities MCP logging uses.
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

// LoggingSetLevelParams is the params of `logging/setLevel`.
type LoggingSetLevelParams struct {
	Level LogLevel `json:"level"`
}

// NotificationMessageParams is the params of `notifications/message`.
type NotificationMessageParams struct {
	Level  LogLevel `json:"level"`
	Logger string   `json:"logger,omitempty"`
	Data   any      `json:"data"`
}

// ProgressParams is the params of `notifications/progress`.
type ProgressParams struct {
	ProgressToken json.RawMessage `json:"progressToken"`
	Progress      float64         `json:"progress"`
	Total         float64         `json:"total,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// CancelledParams is the params of `notifications/cancelled`.
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// SamplingMessage is one message in a `sampling/createMessage` exchange.
type SamplingMessage struct {
	Role    Role         `json:"role"`
	Content ContentBlock `json:"content"`
}

// ModelPreferences biases server-requested model selection on the client.
type ModelPreferences struct {
	CostPriority         float64 `json:"costPriority,omitempty"`
	SpeedPriority        float64 `json:"speedPriority,omitempty"`
	IntelligencePriority float64 `json:"intelligencePriority,omitempty"`
}

// SamplingCreateMessageParams is the params of the server-initiated
// `sampling/createMessage` request.
type SamplingCreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
}

// SamplingCreateMessageResult is the client's response to a
// `sampling/createMessage` request.
type SamplingCreateMessageResult struct {
	Role       Role         `json:"role"`
	Content    ContentBlock `json:"content"`
	Model      string       `json:"model,omitempty"`
	StopReason string       `json:"stopReason,omitempty"`
}

// Root is one filesystem/workspace root the client exposes to the server.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// RootsListResult is the client's response to the server-initiated
// `roots/list` request.
type RootsListResult struct {
	Roots []Root `json:"roots"`
}

// ElicitationCreateParams is the params of the server-initiated
// `elicitation/create` request.
type ElicitationCreateParams struct {
	Message         string          `json:"message"`
	RequestedSchema json.RawMessage `json:"requestedSchema"`
}

// ElicitationAction is the user's disposition on an elicitation prompt.
type ElicitationAction string

const (
	ElicitationAccept  ElicitationAction = "accept"
	ElicitationDecline ElicitationAction = "decline"
	ElicitationCancel  ElicitationAction = "cancel"
)

// ElicitationCreateResult is the client's response to an
// `elicitation/create` request.
type ElicitationCreateResult struct {
	Action  ElicitationAction `json:"action"`
	Content json.RawMessage   `json:"content,omitempty"`
}

// ResourcesUpdatedParams is the params of
// `notifications/resources/updated`.
type ResourcesUpdatedParams struct {
	URI string `json:"uri"`
}
