package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsswitch/internal/command"
	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/switcher"
	_ "firestige.xyz/tsswitch/plugins"
)

type testPaths struct {
	dir    string
	config string
	socket string
	pid    string
	output string
}

func writeConfig(t *testing.T, p testPaths, level, inputs string) {
	t.Helper()
	content := `
tsswitch:
  node:
    hostname: test-daemon-001
  control:
    socket: ` + p.socket + `
    pid_file: ` + p.pid + `
  log:
    level: ` + level + `
    format: text
  metrics:
    enabled: false
  switch:
    buffer_packets: 64
    max_input_packets: 16
    max_output_packets: 16
    output_poll_interval: 10ms
  inputs:
` + inputs + `
  output:
    name: file
    config:
      path: ` + p.output + `
`
	require.NoError(t, os.WriteFile(p.config, []byte(content), 0644))
}

func newPaths(t *testing.T) testPaths {
	dir := t.TempDir()
	return testPaths{
		dir:    dir,
		config: filepath.Join(dir, "tsswitch.yml"),
		socket: filepath.Join(dir, "tsswitch.sock"),
		pid:    filepath.Join(dir, "tsswitch.pid"),
		output: filepath.Join(dir, "out.ts"),
	}
}

const twoNullInputs = `    - name: "null"
      config:
        rate: 2000
    - name: "null"
      config:
        rate: 2000
`

func startDaemon(t *testing.T, p testPaths) (*Daemon, <-chan error) {
	t.Helper()
	d, err := New(p.config, "", "")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	client := command.NewUDSClient(p.socket, time.Second)
	require.Eventually(t, func() bool {
		return client.Ping(context.Background()) == nil
	}, 5*time.Second, 20*time.Millisecond, "daemon did not answer on its socket")
	return d, errCh
}

func waitExit(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit")
		return nil
	}
}

func TestDaemon_RunAndShutdown(t *testing.T) {
	p := newPaths(t)
	writeConfig(t, p, "debug", twoNullInputs)

	d, errCh := startDaemon(t, p)
	client := command.NewUDSClient(p.socket, time.Second)
	ctx := context.Background()

	data, err := os.ReadFile(p.pid)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	res, err := client.SelectInput(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Current)
	assert.Equal(t, 1, d.Engine().Current())

	st, err := client.EngineStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Len(t, st.Inputs, 2)
	assert.Equal(t, "file", st.Output)

	ds, err := client.DaemonStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Version, ds.Version)
	assert.Equal(t, 2, ds.Inputs)

	require.NoError(t, client.Shutdown(ctx))
	require.NoError(t, waitExit(t, errCh))

	_, err = os.Stat(p.pid)
	assert.True(t, os.IsNotExist(err), "PID file must be removed")
	_, err = os.Stat(p.socket)
	assert.True(t, os.IsNotExist(err), "socket must be removed")

	out, err := os.ReadFile(p.output)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Zero(t, len(out)%core.PacketSize)
}

func TestDaemon_ContextCancel(t *testing.T) {
	p := newPaths(t)
	writeConfig(t, p, "info", twoNullInputs)

	d, err := New(p.config, "", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	client := command.NewUDSClient(p.socket, time.Second)
	require.Eventually(t, func() bool {
		return client.Ping(context.Background()) == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, waitExit(t, errCh))
}

func TestDaemon_AllInputsEnded(t *testing.T) {
	p := newPaths(t)
	writeConfig(t, p, "info", `    - name: "null"
      config:
        count: 10
`)

	d, err := New(p.config, "", "")
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	out, err := os.ReadFile(p.output)
	require.NoError(t, err)
	assert.Len(t, out, 10*core.PacketSize, "buffered packets are drained before exit")
}

func TestDaemon_BuildFailure(t *testing.T) {
	p := newPaths(t)
	writeConfig(t, p, "info", `    - name: "carrier-pigeon"
`)

	d, err := New(p.config, "", "")
	require.NoError(t, err)
	err = d.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrPluginNotFound)

	_, statErr := os.Stat(p.pid)
	assert.True(t, os.IsNotExist(statErr), "no PID file is left behind")
}

func TestDaemon_Reload(t *testing.T) {
	p := newPaths(t)
	writeConfig(t, p, "info", twoNullInputs)

	d, err := New(p.config, "", "")
	require.NoError(t, err)
	assert.Equal(t, "info", d.Config().Log.Level)

	writeConfig(t, p, "debug", `    - name: "null"
`)
	require.NoError(t, d.Reload())

	cfg := d.Config()
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.Inputs, 2, "inputs require a restart")

	require.NoError(t, os.WriteFile(p.config, []byte("tsswitch: ["), 0644))
	assert.Error(t, d.Reload())
	assert.Equal(t, "debug", d.Config().Log.Level)
}

func TestColdChanges(t *testing.T) {
	old := &config.GlobalConfig{
		Node:    config.NodeConfig{Hostname: "a"},
		Switch:  config.SwitchConfig{BufferPackets: 10},
		Inputs:  []config.PluginConfig{{Name: "null"}},
		Output:  config.PluginConfig{Name: "drop"},
		Metrics: config.MetricsConfig{Listen: ":9091"},
	}
	next := *old
	assert.Empty(t, coldChanges(old, &next))

	next.Node.Hostname = "b"
	next.Switch.FastSwitch = true
	next.Output.Name = "file"
	assert.Equal(t, []string{"node.hostname", "switch", "output"}, coldChanges(old, &next))
}

func TestBuildEngine(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		cfg := &config.GlobalConfig{
			Switch: config.SwitchConfig{BufferPackets: 32, MaxInputPackets: 8, MaxOutputPackets: 8, PrimaryInput: -1},
			Inputs: []config.PluginConfig{
				{Name: "null", Config: map[string]any{"count": 5}},
				{Name: "null"},
			},
			Output: config.PluginConfig{Name: "drop"},
		}
		engine, err := BuildEngine(cfg)
		require.NoError(t, err)
		assert.Equal(t, 2, engine.Inputs())
		engine.Stop()
	})

	tests := []struct {
		name    string
		inputs  []config.PluginConfig
		output  config.PluginConfig
		wantErr error
	}{
		{"unknown input", []config.PluginConfig{{Name: "nope"}}, config.PluginConfig{Name: "drop"}, core.ErrPluginNotFound},
		{"unknown output", []config.PluginConfig{{Name: "null"}}, config.PluginConfig{Name: "nope"}, core.ErrPluginNotFound},
		{"bad input config", []config.PluginConfig{{Name: "null", Config: map[string]any{"colour": "red"}}}, config.PluginConfig{Name: "drop"}, core.ErrPluginInitFailed},
		{"bad output config", []config.PluginConfig{{Name: "null"}}, config.PluginConfig{Name: "file"}, core.ErrPluginInitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.GlobalConfig{
				Switch: config.SwitchConfig{PrimaryInput: -1},
				Inputs: tt.inputs,
				Output: tt.output,
			}
			_, err := BuildEngine(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "unexpected error %v", err)
		})
	}
}

func TestEngineOptions(t *testing.T) {
	sc := config.SwitchConfig{
		BufferPackets:        100,
		MaxInputPackets:      10,
		MaxOutputPackets:     20,
		FirstInput:           1,
		PrimaryInput:         0,
		FastSwitch:           true,
		DelayedSwitch:        true,
		DelayedSwitchTimeout: 3 * time.Second,
		ReceiveTimeout:       time.Second,
		TerminateOnInputEnd:  true,
		NonCurrentPolicy:     "drop_oldest",
		OutputPollInterval:   5 * time.Millisecond,
		SinkRetry:            config.SinkRetryConfig{Attempts: 4, Delay: time.Millisecond},
	}

	opts := EngineOptions(sc)
	assert.Equal(t, 100, opts.BufferPackets)
	assert.Equal(t, 1, opts.FirstInput)
	assert.Equal(t, 0, opts.PrimaryInput)
	assert.True(t, opts.FastSwitch)
	assert.True(t, opts.DelayedSwitch)
	assert.True(t, opts.TerminateOnInputEnd)
	assert.Equal(t, switcher.PolicyDropOldest, opts.NonCurrentPolicy)
	assert.Equal(t, uint(4), opts.SinkRetryAttempts)
	assert.Equal(t, time.Millisecond, opts.SinkRetryDelay)
}
