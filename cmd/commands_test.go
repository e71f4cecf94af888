package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/tsswitch/internal/command"
	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/switcher"
	_ "firestige.xyz/tsswitch/plugins"
)

// execute runs a subcommand under a fresh root with the given client.
func execute(t *testing.T, c ClientInterface, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()
	withClient(t, c)

	root := &cobra.Command{Use: "tsswitch", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(sub)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestSwitchCmd_Execute(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("SelectInput", mock.Anything, 2).Return(command.InputResult{Current: 2, Pending: -1}, nil)

	out, err := execute(t, mockClient, switchCmd, "switch", "2")

	require.NoError(t, err)
	assert.Equal(t, "current input: 2\n", out)
	mockClient.AssertExpectations(t)
}

func TestSwitchCmd_InvalidIndex(t *testing.T) {
	for _, arg := range []string{"two", "-1"} {
		mockClient := new(MockClient)
		_, err := execute(t, mockClient, switchCmd, "switch", "--", arg)
		assert.Error(t, err, arg)
		mockClient.AssertNotCalled(t, "SelectInput", mock.Anything, mock.Anything)
	}
}

func TestNextPreviousCmd_Execute(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("NextInput", mock.Anything).Return(command.InputResult{Current: 1, Pending: 3}, nil)
	mockClient.On("PreviousInput", mock.Anything).Return(command.InputResult{}, &command.ErrorInfo{
		Code: command.ErrCodeEngineStopped, Message: "engine stopped",
	})

	out, err := execute(t, mockClient, nextCmd, "next")
	require.NoError(t, err)
	assert.Equal(t, "current input: 1 (switching to 3)\n", out)

	_, err = execute(t, mockClient, previousCmd, "prev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine stopped")
	mockClient.AssertExpectations(t)
}

func statusFixtures() (command.DaemonStatus, switcher.Status) {
	ds := command.DaemonStatus{Version: "0.1.0", PID: 42, UptimeSec: 90, Running: true, Current: 1, Inputs: 2}
	es := switcher.Status{
		Running: true,
		Current: 1,
		Pending: -1,
		Output:  "udp",
		Inputs: []switcher.ExecutorStatus{
			{Index: 0, Plugin: "udp", State: "running", Capacity: 512, Received: 100, Delivered: 90},
			{Index: 1, Plugin: "file", State: "running", Current: true, Buffered: 7, Capacity: 512, Received: 300},
		},
	}
	return ds, es
}

func TestRunStatus_Formats(t *testing.T) {
	ds, es := statusFixtures()
	mockClient := new(MockClient)
	mockClient.On("DaemonStatus", mock.Anything).Return(ds, nil)
	mockClient.On("EngineStatus", mock.Anything).Return(es, nil)
	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runStatus(ctx, mockClient, &buf, "text"))
		out := buf.String()
		assert.Contains(t, out, "tsswitch 0.1.0 (pid 42), up 1m30s, running")
		assert.Contains(t, out, "output: udp")
		assert.Contains(t, out, "current input: 1\n")
		assert.Contains(t, out, "7/512")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runStatus(ctx, mockClient, &buf, "json"))
		var report statusReport
		require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
		assert.Equal(t, 42, report.Daemon.PID)
		assert.Len(t, report.Engine.Inputs, 2)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, runStatus(ctx, mockClient, &buf, "yaml"))
		var report statusReport
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &report))
		assert.Equal(t, "udp", report.Engine.Output)
		assert.Equal(t, "file", report.Engine.Inputs[1].Plugin)
	})

	t.Run("unknown", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, runStatus(ctx, mockClient, &buf, "xml"))
	})
}

func TestRunStatus_DaemonDown(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("DaemonStatus", mock.Anything).Return(command.DaemonStatus{}, core.ErrDaemonNotRunning)

	var buf bytes.Buffer
	err := runStatus(context.Background(), mockClient, &buf, "text")
	assert.ErrorIs(t, err, core.ErrDaemonNotRunning)
	assert.Empty(t, buf.String())
	mockClient.AssertNotCalled(t, "EngineStatus", mock.Anything)
}

func TestRunStop(t *testing.T) {
	tests := []struct {
		name         string
		shutdownErr  error
		fallbackErr  error
		withFallback bool
		wantErr      bool
		wantOutput   string
		fallbackRuns bool
	}{
		{name: "graceful", wantOutput: "✓ Shutdown requested"},
		{name: "not running without pidfile", shutdownErr: core.ErrDaemonNotRunning, wantErr: true},
		{name: "not running with pidfile", shutdownErr: core.ErrDaemonNotRunning, withFallback: true,
			wantOutput: "✓ Daemon stopped by signal", fallbackRuns: true},
		{name: "fallback fails", shutdownErr: core.ErrDaemonNotRunning, withFallback: true,
			fallbackErr: errors.New("no such process"), wantErr: true, fallbackRuns: true},
		{name: "rpc error skips fallback", shutdownErr: errors.New("timeout"), withFallback: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("Shutdown", mock.Anything).Return(tt.shutdownErr)

			ran := false
			var fallback func() error
			if tt.withFallback {
				fallback = func() error {
					ran = true
					return tt.fallbackErr
				}
			}

			var buf bytes.Buffer
			err := runStop(context.Background(), mockClient, &buf, fallback)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Contains(t, buf.String(), tt.wantOutput)
			}
			assert.Equal(t, tt.fallbackRuns, ran)
			mockClient.AssertExpectations(t)
		})
	}
}

func TestRunReload(t *testing.T) {
	tests := []struct {
		name           string
		mockError      error
		expectedOutput string
	}{
		{name: "reloaded", expectedOutput: "✓ Configuration reloaded successfully"},
		{name: "network error", mockError: errors.New("network timeout")},
		{name: "daemon not running", mockError: fmt.Errorf("%w: /tmp/x.sock", core.ErrDaemonNotRunning)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockClient)
			mockClient.On("ConfigReload", mock.Anything).Return(tt.mockError)

			var buf bytes.Buffer
			err := runReload(context.Background(), mockClient, &buf)

			if tt.mockError != nil {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "failed to reload")
				assert.Contains(t, err.Error(), tt.mockError.Error())
				assert.Empty(t, buf.String())
			} else {
				assert.NoError(t, err)
				assert.Contains(t, buf.String(), tt.expectedOutput)
			}
			mockClient.AssertExpectations(t)
		})
	}
}

func TestReloadCmd_Execute(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ConfigReload", mock.Anything).Return(nil)

	out, err := execute(t, mockClient, reloadCmd, "reload")

	assert.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration reloaded successfully")
	mockClient.AssertExpectations(t)
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}

	valid := write("valid.yml", `
tsswitch:
  node:
    hostname: validate-test
  inputs:
    - name: "null"
    - name: file
      config:
        path: /tmp/in.ts
  output:
    name: drop
`)
	badPlugin := write("bad.yml", `
tsswitch:
  node:
    hostname: validate-test
  inputs:
    - name: udp
      config:
        adress: 239.1.1.1:1234
  output:
    name: drop
`)

	var buf bytes.Buffer
	require.NoError(t, runValidate(valid, &buf))
	assert.Equal(t, "VALID: 2 input(s) [null, file], output drop\n", buf.String())

	err := runValidate(badPlugin, &buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPluginInitFailed)

	assert.Error(t, runValidate(filepath.Join(dir, "missing.yml"), &buf))
}

func TestWritePlugins(t *testing.T) {
	var buf bytes.Buffer
	writePlugins(&buf)
	assert.Equal(t, "inputs:  file, null, pcap, srt, udp\noutputs: drop, file, kafka, udp\n", buf.String())
}
