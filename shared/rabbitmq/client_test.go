package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimVHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "/", want: ""},
		{in: "/voicenote", want: "voicenote"},
		{in: "voicenote", want: "voicenote"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, trimVHost(tt.in))
		})
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := &Client{
		config: &Config{PublishRetries: 3},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := client.PublishWithRetry(context.Background(), "events", "note.status.ready", []byte(`{}`), "application/json")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.Consume("worker-1", 10)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.False(t, client.IsConnected())
}
