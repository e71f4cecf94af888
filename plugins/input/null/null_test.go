package null

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsswitch/internal/core"
)

func started(t *testing.T, cfg map[string]any) *Input {
	t.Helper()
	in := New().(*Input)
	require.NoError(t, in.Init(cfg))
	require.NoError(t, in.Start(context.Background()))
	return in
}

func TestNullInput_Count(t *testing.T) {
	in := started(t, map[string]any{"count": 10})
	buf := make([]core.Packet, 4)

	total := 0
	for {
		n, err := in.Receive(context.Background(), buf)
		for i := 0; i < n; i++ {
			assert.Equal(t, uint16(core.NullPID), buf[i].PID())
		}
		total += n
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, 10, total)
}

func TestNullInput_CountSurvivesRestart(t *testing.T) {
	in := started(t, map[string]any{"count": 5})
	n, err := in.Receive(context.Background(), make([]core.Packet, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, in.Stop(context.Background()))
	require.NoError(t, in.Start(context.Background()))

	n, err = in.Receive(context.Background(), make([]core.Packet, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNullInput_Unlimited(t *testing.T) {
	in := started(t, map[string]any{})
	for i := 0; i < 100; i++ {
		n, err := in.Receive(context.Background(), make([]core.Packet, 16))
		require.NoError(t, err)
		require.Equal(t, 16, n)
	}
}

func TestNullInput_Rate(t *testing.T) {
	in := started(t, map[string]any{"rate": 100})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := in.Receive(context.Background(), make([]core.Packet, 50))
		require.NoError(t, err)
	}
	// 100 packets of burst, then 50 more at 100 per second.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestNullInput_RateCancelled(t *testing.T) {
	in := started(t, map[string]any{"rate": 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := in.Receive(ctx, make([]core.Packet, 1))
	require.NoError(t, err)
	n, err := in.Receive(ctx, make([]core.Packet, 1))
	assert.Equal(t, 1, n)
	assert.Error(t, err)
}

func TestNullInput_InitAndState(t *testing.T) {
	assert.ErrorIs(t, New().Init(map[string]any{"count": -1}), core.ErrPluginInitFailed)

	in := New()
	require.NoError(t, in.Init(nil))
	_, err := in.Receive(context.Background(), make([]core.Packet, 1))
	assert.ErrorIs(t, err, core.ErrPluginNotStarted)
}
