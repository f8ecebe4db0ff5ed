package message

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clickArgs struct {
	Source string `json:"source"`
}

func TestClassification(t *testing.T) {
	req, err := NewRequest("msg_1", "on_wallpaper_click", clickArgs{Source: "test-button"})
	require.NoError(t, err)
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsResponse())

	resp, err := Reply(req, map[string]bool{"ok": true})
	require.NoError(t, err)
	assert.False(t, resp.IsRequest())
	assert.True(t, resp.IsResponse())
	assert.True(t, resp.OK())
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, req.Method, resp.Method)

	// neither: no method and no code
	var garbage Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"foo":"bar"}`), &garbage))
	assert.False(t, garbage.IsRequest())
	assert.False(t, garbage.IsResponse())
	assert.Empty(t, garbage.ID)
}

func TestNotFoundWireShape(t *testing.T) {
	req := &Envelope{ID: "msg_2", Method: "not_a_real_method"}
	buf, err := json.Marshal(NotFound(req))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"msg_2","method":"not_a_real_method","code":404,"data":null,"msg":"unknown method"}`, string(buf))
}

func TestRequestWithoutPayloadOmitsField(t *testing.T) {
	req, err := NewRequest("msg_3", "get_system_stats", nil)
	require.NoError(t, err)
	buf, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"msg_3","method":"get_system_stats"}`, string(buf))
}

func TestBind(t *testing.T) {
	var args clickArgs
	require.NoError(t, Bind(json.RawMessage(`{"source":"tray"}`), &args))
	assert.Equal(t, "tray", args.Source)

	args = clickArgs{Source: "keep"}
	require.NoError(t, Bind(nil, &args))
	require.NoError(t, Bind(json.RawMessage("null"), &args))
	assert.Equal(t, "keep", args.Source)

	assert.Error(t, Bind(json.RawMessage(`{"source":`), &args))
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.True(t, strings.HasPrefix(id, "msg_"), id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
