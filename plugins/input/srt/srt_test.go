package srt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsswitch/internal/core"
)

func TestSRTInput_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"caller", map[string]any{"address": "10.0.0.1:9000", "streamid": "live/a"}, false},
		{"listener", map[string]any{"mode": "listener", "address": ":9000", "latency": "200ms"}, false},
		{"missing address", map[string]any{}, true},
		{"bad mode", map[string]any{"mode": "rendezvous", "address": ":9000"}, true},
		{"zero dial timeout", map[string]any{"address": ":9000", "dial_timeout": "0s"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Init(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrPluginInitFailed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSRTInput_Defaults(t *testing.T) {
	in := New().(*Input)
	require.NoError(t, in.Init(map[string]any{"address": "10.0.0.1:9000"}))
	assert.Equal(t, ModeCaller, in.config.Mode)
	assert.Equal(t, 120*time.Millisecond, in.config.Latency)
	assert.Equal(t, 10*time.Second, in.config.DialTimeout)
}

func TestSRTInput_NotStarted(t *testing.T) {
	in := New()
	require.NoError(t, in.Init(map[string]any{"address": "10.0.0.1:9000"}))

	_, err := in.Receive(context.Background(), make([]core.Packet, 7))
	assert.ErrorIs(t, err, core.ErrPluginNotStarted)
	assert.NoError(t, in.Stop(context.Background()))
}

func TestSRTInput_DialCancelled(t *testing.T) {
	in := New()
	require.NoError(t, in.Init(map[string]any{"address": "127.0.0.1:1", "dial_timeout": "5s"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, in.Start(ctx))
}
