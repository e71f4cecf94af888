package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/tsswitch/internal/core"
)

func startUDSServer(t *testing.T, engine Engine) (string, *CommandHandler) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "test.sock")
	handler := NewCommandHandler(engine, nil)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("server stop failed: %v", err)
		}
	})

	select {
	case <-server.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}
	return socketPath, handler
}

func TestUDSServerClient_Integration(t *testing.T) {
	engine := newFakeEngine(3)
	socketPath, handler := startUDSServer(t, engine)
	client := NewUDSClient(socketPath, 5*time.Second)
	ctx := context.Background()

	t.Run("SelectInput", func(t *testing.T) {
		res, err := client.SelectInput(ctx, 2)
		if err != nil {
			t.Fatalf("SelectInput failed: %v", err)
		}
		if res.Current != 2 || res.Pending != -1 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("NextPrevious", func(t *testing.T) {
		res, err := client.NextInput(ctx)
		if err != nil {
			t.Fatalf("NextInput failed: %v", err)
		}
		if res.Current != 0 {
			t.Errorf("expected wrap to input 0, got %d", res.Current)
		}
		res, err = client.PreviousInput(ctx)
		if err != nil {
			t.Fatalf("PreviousInput failed: %v", err)
		}
		if res.Current != 2 {
			t.Errorf("expected input 2, got %d", res.Current)
		}
	})

	t.Run("InvalidIndex", func(t *testing.T) {
		_, err := client.SelectInput(ctx, 9)
		var info *ErrorInfo
		if !errors.As(err, &info) {
			t.Fatalf("expected ErrorInfo, got %v", err)
		}
		if info.Code != ErrCodeInvalidParams {
			t.Errorf("expected code %d, got %d", ErrCodeInvalidParams, info.Code)
		}
	})

	t.Run("EngineStatus", func(t *testing.T) {
		st, err := client.EngineStatus(ctx)
		if err != nil {
			t.Fatalf("EngineStatus failed: %v", err)
		}
		if len(st.Inputs) != 3 || st.Current != 2 || st.Output != "drop" {
			t.Errorf("unexpected status %+v", st)
		}
	})

	t.Run("DaemonStatus", func(t *testing.T) {
		st, err := client.DaemonStatus(ctx)
		if err != nil {
			t.Fatalf("DaemonStatus failed: %v", err)
		}
		if st.Version != core.Version || st.Inputs != 3 {
			t.Errorf("unexpected daemon status %+v", st)
		}
		if err := client.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Shutdown", func(t *testing.T) {
		done := make(chan struct{})
		handler.SetShutdownFunc(func() { close(done) })
		if err := client.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("shutdown func not called")
		}
	})
}

func TestUDSServer_MalformedRequests(t *testing.T) {
	socketPath, _ := startUDSServer(t, newFakeEngine(2))

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(conn)

	tests := []struct {
		name string
		line string
		code int
	}{
		{"parse error", `{"jsonrpc":`, ErrCodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"engine_status","id":1}`, ErrCodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":2}`, ErrCodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"bogus","id":3}`, ErrCodeMethodNotFound},
	}

	// One connection serves many requests.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := conn.Write([]byte(tt.line + "\n")); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if !scanner.Scan() {
				t.Fatalf("no response: %v", scanner.Err())
			}
			var resp JSONRPCResponse
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				t.Fatalf("invalid response: %v", err)
			}
			if resp.JSONRPC != "2.0" {
				t.Errorf("expected jsonrpc 2.0, got %q", resp.JSONRPC)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("expected code %d, got %+v", tt.code, resp.Error)
			}
		})
	}
}

func TestUDSClient_DaemonNotRunning(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "missing.sock"), time.Second)

	_, err := client.EngineStatus(context.Background())
	if !errors.Is(err, core.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
