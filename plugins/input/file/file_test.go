package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsswitch/internal/core"
)

func writeStream(t *testing.T, n int, prefix []byte) string {
	t.Helper()
	pkts := make([]core.Packet, n)
	for i := range pkts {
		pkts[i] = core.NullPacket
		pkts[i][4] = byte(i)
	}
	data := append(append([]byte{}, prefix...), core.PacketsToBytes(pkts)...)
	path := filepath.Join(t.TempDir(), "in.ts")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func receiveAll(t *testing.T, in *Input) []byte {
	t.Helper()
	var seqs []byte
	buf := make([]core.Packet, 3)
	for {
		n, err := in.Receive(context.Background(), buf)
		for i := 0; i < n; i++ {
			seqs = append(seqs, buf[i][4])
		}
		if err == io.EOF {
			return seqs
		}
		require.NoError(t, err)
	}
}

func newStarted(t *testing.T, cfg map[string]any) *Input {
	t.Helper()
	in := New().(*Input)
	require.NoError(t, in.Init(cfg))
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(context.Background()) })
	return in
}

func TestFileInput_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"path": "/tmp/x.ts"}, false},
		{"missing path", map[string]any{}, true},
		{"bad repeat", map[string]any{"path": "x", "repeat": -2}, true},
		{"unknown key", map[string]any{"path": "x", "loop": true}, true},
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

func TestFileInput_ReadsOnce(t *testing.T) {
	path := writeStream(t, 7, nil)
	in := newStarted(t, map[string]any{"path": path})

	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6}, receiveAll(t, in))
}

func TestFileInput_Repeat(t *testing.T) {
	path := writeStream(t, 3, nil)
	in := newStarted(t, map[string]any{"path": path, "repeat": 3})

	assert.Equal(t, []byte{0, 1, 2, 0, 1, 2, 0, 1, 2}, receiveAll(t, in))
}

func TestFileInput_ResyncsOnGarbage(t *testing.T) {
	path := writeStream(t, 4, []byte{1, 2, 3})
	in := newStarted(t, map[string]any{"path": path})

	assert.Equal(t, []byte{0, 1, 2, 3}, receiveAll(t, in))
	assert.Equal(t, uint64(3), in.split.Skipped())
}

func TestFileInput_EmptyFileEndsEvenWhenLooping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ts")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	in := newStarted(t, map[string]any{"path": path, "repeat": -1})

	n, err := in.Receive(context.Background(), make([]core.Packet, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestFileInput_Rate(t *testing.T) {
	path := writeStream(t, 20, nil)
	in := newStarted(t, map[string]any{"path": path, "rate": 10})

	start := time.Now()
	got := receiveAll(t, in)
	assert.Len(t, got, 20)
	// The first 10 packets are the initial burst; the next 10 take a second.
	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)
}

func TestFileInput_NotStarted(t *testing.T) {
	in := New()
	require.NoError(t, in.Init(map[string]any{"path": "x"}))
	_, err := in.Receive(context.Background(), make([]core.Packet, 1))
	assert.ErrorIs(t, err, core.ErrPluginNotStarted)
}

func TestFileInput_StartMissingFile(t *testing.T) {
	in := New()
	require.NoError(t, in.Init(map[string]any{"path": filepath.Join(t.TempDir(), "nope.ts")}))
	assert.Error(t, in.Start(context.Background()))
}

func TestFileInput_CancelledContext(t *testing.T) {
	path := writeStream(t, 2, nil)
	in := newStarted(t, map[string]any{"path": path})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Receive(ctx, make([]core.Packet, 2))
	assert.ErrorIs(t, err, context.Canceled)
}
