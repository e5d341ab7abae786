package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	id := NewStringID("abc")
	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(data))

	var decoded ID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.IsString())
	assert.Equal(t, "abc", decoded.String())

	numID := NewNumberID(42)
	data, err = json.Marshal(numID)
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	var decodedNum ID
	require.NoError(t, json.Unmarshal(data, &decodedNum))
	assert.False(t, decodedNum.IsString())
	assert.Equal(t, "42", decodedNum.String())
}

func TestIDUnset(t *testing.T) {
	var id ID
	assert.False(t, id.IsSet())
	assert.Equal(t, "<unset>", id.String())
	assert.Error(t, id.Validate())

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestParseJsonRpcRequest(t *testing.T) {
	id := NewStringID("1")
	req, err := NewJsonRpcRequest("ping", nil, &id)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)

	parsed, err := ParseJsonRpcRequest(data)
	require.NoError(t, err)
	assert.Equal(t, "ping", parsed.Method)
	assert.False(t, parsed.IsNotification())
}

func TestParseJsonRpcRequestRejectsMissingMethod(t *testing.T) {
	_, err := ParseJsonRpcRequest([]byte(`{"jsonrpc":"2.0","id":"1"}`))
	assert.Error(t, err)
}

func TestParseJsonRpcRequestRejectsBadVersion(t *testing.T) {
	_, err := ParseJsonRpcRequest([]byte(`{"jsonrpc":"1.0","method":"ping","id":"1"}`))
	assert.Error(t, err)
}

func TestNotificationHasNoID(t *testing.T) {
	note, err := NewJsonRpcNotification("notifications/initialized", nil)
	require.NoError(t, err)
	assert.True(t, note.IsNotification())
}

func TestParseJsonRpcResponseExactlyOneOf(t *testing.T) {
	id := NewNumberID(1)
	_, err := ParseJsonRpcResponse([]byte(`{"jsonrpc":"2.0","id":1}`))
	assert.Error(t, err, "response with neither result nor error must be rejected")

	resp, err := NewJsonRpcResponse(map[string]string{"ok": "true"}, id)
	require.NoError(t, err)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	parsed, err := ParseJsonRpcResponse(data)
	require.NoError(t, err)
	assert.Nil(t, parsed.Error)

	errResp := NewJsonRpcErrorResponse(ErrMethodNotFound, "nope", nil, id)
	data, err = json.Marshal(errResp)
	require.NoError(t, err)
	parsed, err = ParseJsonRpcResponse(data)
	require.NoError(t, err)
	assert.Nil(t, parsed.Result)
	assert.Equal(t, ErrMethodNotFound, parsed.Error.Code)
}

func TestDecodeEnvelope(t *testing.T) {
	id := NewStringID("1")
	req, err := NewJsonRpcRequest("ping", nil, &id)
	require.NoError(t, err)
	reqData, err := json.Marshal(req)
	require.NoError(t, err)
	isResp, err := DecodeEnvelope(reqData)
	require.NoError(t, err)
	assert.False(t, isResp)

	resp, err := NewJsonRpcResponse(nil, id)
	require.NoError(t, err)
	respData, err := json.Marshal(resp)
	require.NoError(t, err)
	isResp, err = DecodeEnvelope(respData)
	require.NoError(t, err)
	assert.True(t, isResp)

	_, err = DecodeEnvelope([]byte(`{"jsonrpc":"2.0"}`))
	assert.Error(t, err)
}

func TestMetaProgressToken(t *testing.T) {
	var m Meta
	_, ok := m.ProgressToken()
	assert.False(t, ok)

	m = Meta{"progressToken": json.RawMessage(`"tok-1"`)}
	token, ok := m.ProgressToken()
	assert.True(t, ok)
	assert.Equal(t, `"tok-1"`, string(token))
}
