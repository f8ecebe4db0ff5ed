package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opaper/message"
)

type clickArgs struct {
	Source string `json:"source"`
}

func TestServeUnknownMethod(t *testing.T) {
	reg := NewRegistry()
	req := &message.Envelope{ID: "msg_1", Method: "does_not_exist"}

	reply := reg.Serve(context.Background(), req)
	require.NotNil(t, reply)
	assert.Equal(t, "msg_1", reply.ID)
	assert.Equal(t, "does_not_exist", reply.Method)
	assert.Equal(t, message.CodeNotFound, reply.Code)
	assert.Equal(t, "unknown method", reply.Msg)
	assert.JSONEq(t, "null", string(reply.Data))
}

func TestServeSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("on_wallpaper_click", Func(func(_ context.Context, a clickArgs) (map[string]any, error) {
		return map[string]any{"ok": true, "source": a.Source}, nil
	})))

	req, err := message.NewRequest("msg_2", "on_wallpaper_click", clickArgs{Source: "test-button"})
	require.NoError(t, err)

	reply := reg.Serve(context.Background(), req)
	assert.Equal(t, message.CodeOK, reply.Code)
	assert.Equal(t, "msg_2", reply.ID)
	assert.JSONEq(t, `{"ok":true,"source":"test-button"}`, string(reply.Data))
	assert.Empty(t, reply.Msg)
}

func TestServeErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("plain", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	}))
	require.NoError(t, reg.Register("typed", func(context.Context, json.RawMessage) (any, error) {
		return nil, Unavailable("busy")
	}))
	require.NoError(t, reg.Register("wrapped", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.Join(errors.New("ctx"), Errorf(message.CodeTooManyRequests, "slow down"))
	}))
	require.NoError(t, reg.Register("decode", Func(func(_ context.Context, a clickArgs) (string, error) {
		return a.Source, nil
	})))

	cases := []struct {
		method  string
		payload string
		code    int
		msg     string
	}{
		{"plain", "", message.CodeInternal, "disk on fire"},
		{"typed", "", message.CodeUnavailable, "busy"},
		{"wrapped", "", message.CodeTooManyRequests, "slow down"},
		{"decode", `{"source":42}`, message.CodeBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			req := &message.Envelope{ID: "msg_" + tc.method, Method: tc.method}
			if tc.payload != "" {
				req.Payload = json.RawMessage(tc.payload)
			}
			reply := reg.Serve(context.Background(), req)
			assert.Equal(t, tc.code, reply.Code)
			assert.Equal(t, req.ID, reply.ID)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, reply.Msg)
			} else {
				assert.Contains(t, reply.Msg, "invalid payload")
			}
		})
	}
}

func TestServeNilResultIsNullData(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("noop", func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	}))
	reply := reg.Serve(context.Background(), &message.Envelope{ID: "msg_3", Method: "noop"})
	assert.Equal(t, message.CodeOK, reply.Code)
	assert.Equal(t, "null", string(reply.Data))
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", NoArgs(func(context.Context) (int, error) { return 1, nil })))
	assert.Error(t, reg.Register("x", nil))
	assert.Error(t, reg.RegisterWithSchema("x", `{"type": 12}`, NoArgs(func(context.Context) (int, error) { return 1, nil })))
}

func TestRegistryMethodsAndUnregister(t *testing.T) {
	reg := NewRegistry()
	fn := NoArgs(func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, reg.Register("screenshot", fn))
	require.NoError(t, reg.RegisterWithSchema("open_executable", `{"type":"object","required":["path"]}`, fn))
	require.NoError(t, reg.Register("get_system_stats", fn))

	assert.Equal(t, []string{"get_system_stats", "open_executable", "screenshot"}, reg.Methods())

	_, ok := reg.Schema("open_executable")
	assert.True(t, ok)
	_, ok = reg.Schema("screenshot")
	assert.False(t, ok)

	reg.Unregister("screenshot")
	_, ok = reg.Lookup("screenshot")
	assert.False(t, ok)
	reply := reg.Serve(context.Background(), &message.Envelope{ID: "msg_4", Method: "screenshot"})
	assert.Equal(t, message.CodeNotFound, reply.Code)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	fn := NoArgs(func(context.Context) (string, error) { return "pong", nil })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Register("ping", fn)
		}()
		go func() {
			defer wg.Done()
			reply := reg.Serve(context.Background(), &message.Envelope{ID: "msg", Method: "ping"})
			assert.Contains(t, []int{message.CodeOK, message.CodeNotFound}, reply.Code)
		}()
	}
	wg.Wait()
}
