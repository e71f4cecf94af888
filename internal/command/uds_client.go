package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/switcher"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response. A daemon that is not listening
// on the socket is reported as core.ErrDaemonNotRunning.
func (c *UDSClient) Call(ctx context.Context, method string, params any) (*Response, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
		}
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := uuid.NewString()
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     respID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// call runs a command and decodes a successful result into out, which may be nil.
func (c *UDSClient) call(ctx context.Context, method string, params, out any) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return resp.DecodeResult(out)
}

// SelectInput switches to the input at index.
func (c *UDSClient) SelectInput(ctx context.Context, index int) (InputResult, error) {
	var res InputResult
	err := c.call(ctx, MethodInputSelect, InputSelectParams{Index: &index}, &res)
	return res, err
}

// NextInput switches to the next input.
func (c *UDSClient) NextInput(ctx context.Context) (InputResult, error) {
	var res InputResult
	err := c.call(ctx, MethodInputNext, nil, &res)
	return res, err
}

// PreviousInput switches to the previous input.
func (c *UDSClient) PreviousInput(ctx context.Context) (InputResult, error) {
	var res InputResult
	err := c.call(ctx, MethodInputPrevious, nil, &res)
	return res, err
}

// EngineStatus returns the switch engine status.
func (c *UDSClient) EngineStatus(ctx context.Context) (switcher.Status, error) {
	var st switcher.Status
	err := c.call(ctx, MethodEngineStatus, nil, &st)
	return st, err
}

// DaemonStatus returns the daemon status.
func (c *UDSClient) DaemonStatus(ctx context.Context) (DaemonStatus, error) {
	var st DaemonStatus
	err := c.call(ctx, MethodDaemonStatus, nil, &st)
	return st, err
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.call(ctx, MethodDaemonShutdown, nil, nil)
}

// ConfigReload asks the daemon to reload its configuration.
func (c *UDSClient) ConfigReload(ctx context.Context) error {
	return c.call(ctx, MethodConfigReload, nil, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.DaemonStatus(ctx)
	return err
}
