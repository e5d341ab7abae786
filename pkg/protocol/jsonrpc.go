package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

// JsonRpcVersion is the JSON-RPC protocol version this codec speaks.
const JsonRpcVersion = "2.0"

// ID is a JSON-RPC request identifier: a string, a finite number, or unset
// (on notifications, which carry no id at all). The zero value is unset.
type ID struct {
	str      string
	num      float64
	isString bool
	isSet    bool
}

// NewStringID builds a string-valued request id.
func NewStringID(s string) ID { return ID{str: s, isString: true, isSet: true} }

// NewNumberID builds a numeric request id.
func NewNumberID(n float64) ID { return ID{num: n, isSet: true} }

// IsSet reports whether the id was actually assigned a value.
func (id ID) IsSet() bool { return id.isSet }

// IsString reports whether the id holds a string value.
func (id ID) IsString() bool { return id.isSet && id.isString }

// String renders the id for logging and correlation-map keys.
func (id ID) String() string {
	if !id.isSet {
		return "<unset>"
	}
	if id.isString {
		return id.str
	}
	if id.num == math.Trunc(id.num) && !math.IsInf(id.num, 0) {
		return fmt.Sprintf("%d", int64(id.num))
	}
	return fmt.Sprintf("%v", id.num)
}

// Validate enforces that a set id is not NaN/Inf when numeric.
func (id ID) Validate() error {
	if !id.isSet {
		return fmt.Errorf("jsonrpc: id is not set")
	}
	if !id.isString && (math.IsNaN(id.num) || math.IsInf(id.num, 0)) {
		return fmt.Errorf("jsonrpc: numeric id must be finite, got %v", id.num)
	}
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.isSet {
		return []byte("null"), nil
	}
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = NewStringID(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = NewNumberID(n)
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string or number, got %s", data)
}

// Meta is the `_meta` bag carried on requests, responses and notifications.
// Unknown keys round-trip untouched so forward-compatible extensions are
// not silently dropped by servers or clients built against an older copy
// of this package.
type Meta map[string]json.RawMessage

// ProgressToken returns the raw `_meta.progressToken` value, if present.
func (m Meta) ProgressToken() (json.RawMessage, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m["progressToken"]
	return v, ok
}

// ProgressTokenMeta builds the `_meta` bag for an outbound request that
// wants progress notifications for token.
func ProgressTokenMeta(token string) (Meta, error) {
	raw, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal progress token: %w", err)
	}
	return Meta{"progressToken": raw}, nil
}

// JsonRpcRequest represents a JSON-RPC 2.0 request or notification object.
// A Message is a notification when ID is unset.
type JsonRpcRequest struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
	Meta    Meta            `json:"_meta,omitempty"`
}

// IsNotification reports whether this message carries no id.
func (r *JsonRpcRequest) IsNotification() bool { return r.ID == nil }

// JsonRpcResponse represents a JSON-RPC 2.0 response object: exactly one
// of Result/Error is populated.
type JsonRpcResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
	ID      ID              `json:"id"`
	Meta    Meta            `json:"_meta,omitempty"`
}

// JsonRpcError represents a JSON-RPC 2.0 error object.
type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("jsonrpc error: code=%d message=%s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

// MCP-reserved error codes, in the -32000..-32099 implementation-defined
// band (spec.md §7).
const (
	ErrRequestTimeout        = -32001
	ErrInvalidProtoVersion   = -32002
	ErrCapabilityNotSupported = -32003
	ErrResourceNotFound      = -32004
	ErrToolNotFound          = -32005
	ErrPromptNotFound        = -32006
	ErrPermissionDenied      = -32007
)

// NewJsonRpcRequest builds a request (id set) or notification (id nil).
func NewJsonRpcRequest(method string, params any, id *ID) (*JsonRpcRequest, error) {
	if method == "" {
		return nil, fmt.Errorf("jsonrpc: method must be non-empty")
	}
	raw, err := marshalAny(params)
	if err != nil {
		return nil, err
	}
	return &JsonRpcRequest{JsonRPC: JsonRpcVersion, Method: method, Params: raw, ID: id}, nil
}

// NewJsonRpcNotification builds a notification (a request with no id).
func NewJsonRpcNotification(method string, params any) (*JsonRpcRequest, error) {
	return NewJsonRpcRequest(method, params, nil)
}

// NewJsonRpcResponse builds a success response for id.
func NewJsonRpcResponse(result any, id ID) (*JsonRpcResponse, error) {
	raw, err := marshalAny(result)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	return &JsonRpcResponse{JsonRPC: JsonRpcVersion, Result: raw, ID: id}, nil
}

// NewJsonRpcErrorResponse builds an error response for id.
func NewJsonRpcErrorResponse(code int, message string, data any, id ID) *JsonRpcResponse {
	return &JsonRpcResponse{
		JsonRPC: JsonRpcVersion,
		Error:   &JsonRpcError{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

func marshalAny(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal: %w", err)
	}
	return b, nil
}

// ParseJsonRpcRequest decodes and structurally validates a request or
// notification object: jsonrpc must be "2.0" and method must be present.
func ParseJsonRpcRequest(data []byte) (*JsonRpcRequest, error) {
	var req JsonRpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("jsonrpc: parse error: %w", err)
	}
	if req.JsonRPC != JsonRpcVersion {
		return nil, fmt.Errorf("jsonrpc: invalid version %q", req.JsonRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("jsonrpc: request missing method")
	}
	return &req, nil
}

// ParseJsonRpcResponse decodes and structurally validates a response
// object: exactly one of result/error must be present.
func ParseJsonRpcResponse(data []byte) (*JsonRpcResponse, error) {
	var resp JsonRpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("jsonrpc: parse error: %w", err)
	}
	if resp.JsonRPC != JsonRpcVersion {
		return nil, fmt.Errorf("jsonrpc: invalid version %q", resp.JsonRPC)
	}
	if (resp.Result == nil) == (resp.Error == nil) {
		return nil, fmt.Errorf("jsonrpc: response must carry exactly one of result or error")
	}
	return &resp, nil
}

// DecodeEnvelope peeks at a raw JSON-RPC message and reports whether it is
// a response (true) or a request/notification (false), without committing
// to a concrete type: it is a response iff it has no method and has a
// result or error member.
func DecodeEnvelope(data []byte) (isResponse bool, err error) {
	var probe struct {
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false, fmt.Errorf("jsonrpc: parse error: %w", err)
	}
	if probe.Method != "" {
		return false, nil
	}
	if probe.Result != nil || probe.Error != nil {
		return true, nil
	}
	return false, fmt.Errorf("jsonrpc: message has neither method nor result/error")
}

// DecodeParams unmarshals raw request/notification params into v. An
// absent params member decodes to a zero-value v.
func DecodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// BatchRequest represents a batch of JSON-RPC 2.0 requests.
type BatchRequest []*JsonRpcRequest

// BatchResponse represents a batch of JSON-RPC 2.0 responses.
type BatchResponse []*JsonRpcResponse

func (r *JsonRpcRequest) String() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("error marshaling request: %v", err)
	}
	return string(b)
}

func (r *JsonRpcResponse) String() string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("error marshaling response: %v", err)
	}
	return string(b)
}

func (e *JsonRpcError) String() string {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Sprintf("error marshaling error: %v", err)
	}
	return string(b)
}
