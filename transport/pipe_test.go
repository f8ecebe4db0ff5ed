package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opaper/message"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	ctx := context.Background()

	req, err := message.NewRequest("msg_1", "get_system_stats", nil)
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, req))

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", got.ID)
	assert.Equal(t, "get_system_stats", got.Method)
	assert.True(t, got.IsRequest())

	// the ends never share the envelope
	assert.NotSame(t, req, got)
}

func TestPipeSerializesPayload(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	ctx := context.Background()

	payload := map[string]string{"source": "test-button"}
	req, err := message.NewRequest("msg_2", "on_wallpaper_click", payload)
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, req))

	payload["source"] = "mutated"

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &decoded))
	assert.Equal(t, "test-button", decoded["source"])
}

func TestPipeGarbage(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, a.SendRaw(ctx, []byte(`not json`)))
	_, err := b.Recv(ctx)
	assert.ErrorIs(t, err, ErrMalformed)

	// a foreign object decodes into an envelope without an id
	require.NoError(t, a.SendRaw(ctx, []byte(`{"foo":"bar"}`)))
	env, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Empty(t, env.ID)
	assert.False(t, env.IsRequest())
	assert.False(t, env.IsResponse())
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	_, err := b.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Send(context.Background(), &message.Envelope{ID: "x"}), ErrClosed)
}

func TestPipeRecvContext(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
