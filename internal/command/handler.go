// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/switcher"
)

// Method names.
const (
	MethodInputSelect    = "input_select"
	MethodInputNext      = "input_next"
	MethodInputPrevious  = "input_previous"
	MethodEngineStatus   = "engine_status"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonShutdown = "daemon_shutdown"
	MethodConfigReload   = "config_reload"
)

// Engine is the part of the switch engine driven by commands.
type Engine interface {
	SetInput(index int) error
	NextInput() error
	PreviousInput() error
	Status() switcher.Status
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	engine         Engine
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(engine Engine, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		engine:         engine,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "input_select", "engine_status"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`               // matches request ID
	Result any        `json:"result,omitempty"` // success result
	Error  *ErrorInfo `json:"error,omitempty"`  // error info if failed
}

// DecodeResult converts the generic result into v.
func (r *Response) DecodeResult(v any) error {
	data, err := json.Marshal(r.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeEngineStopped  = -32000 // Engine no longer accepts commands
)

func errorResponse(id string, code int, format string, args ...any) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Info("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodInputSelect:
		return h.handleInputSelect(ctx, cmd)
	case MethodInputNext:
		return h.handleInputStep(cmd, h.engine.NextInput)
	case MethodInputPrevious:
		return h.handleInputStep(cmd, h.engine.PreviousInput)
	case MethodEngineStatus:
		return h.handleEngineStatus(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

// InputSelectParams represents parameters for input_select command.
type InputSelectParams struct {
	Index *int `json:"index"`
}

// InputResult is the result of the input switching commands. Pending is the
// target of a delayed switch, or -1.
type InputResult struct {
	Current int `json:"current" yaml:"current"`
	Pending int `json:"pending" yaml:"pending"`
}

func (h *CommandHandler) handleInputSelect(_ context.Context, cmd Command) Response {
	var params InputSelectParams
	if len(cmd.Params) == 0 {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: index is required")
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	if params.Index == nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: index is required")
	}

	if err := h.engine.SetInput(*params.Index); err != nil {
		return h.engineError(cmd.ID, "select input", err)
	}
	return h.inputResult(cmd.ID)
}

func (h *CommandHandler) handleInputStep(cmd Command, step func() error) Response {
	if err := step(); err != nil {
		return h.engineError(cmd.ID, cmd.Method, err)
	}
	return h.inputResult(cmd.ID)
}

func (h *CommandHandler) inputResult(id string) Response {
	st := h.engine.Status()
	return Response{
		ID:     id,
		Result: InputResult{Current: st.Current, Pending: st.Pending},
	}
}

func (h *CommandHandler) engineError(id, op string, err error) Response {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return errorResponse(id, ErrCodeInvalidParams, "%s: %v", op, err)
	case errors.Is(err, core.ErrEngineStopped):
		return errorResponse(id, ErrCodeEngineStopped, "%s: %v", op, err)
	default:
		return errorResponse(id, ErrCodeInternalError, "%s: %v", op, err)
	}
}

// handleEngineStatus returns the switch engine status.
func (h *CommandHandler) handleEngineStatus(_ context.Context, cmd Command) Response {
	return Response{
		ID:     cmd.ID,
		Result: h.engine.Status(),
	}
}

// DaemonStatus is the result of daemon_status.
type DaemonStatus struct {
	Version   string `json:"version" yaml:"version"`
	PID       int    `json:"pid" yaml:"pid"`
	UptimeSec int64  `json:"uptime_sec" yaml:"uptime_sec"`
	Running   bool   `json:"running" yaml:"running"`
	Current   int    `json:"current" yaml:"current"`
	Inputs    int    `json:"inputs" yaml:"inputs"`
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	st := h.engine.Status()
	return Response{
		ID: cmd.ID,
		Result: DaemonStatus{
			Version:   core.Version,
			PID:       os.Getpid(),
			UptimeSec: int64(time.Since(h.startTime).Seconds()),
			Running:   st.Running,
			Current:   st.Current,
			Inputs:    len(st.Inputs),
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID:     cmd.ID,
		Result: map[string]any{"status": "shutting_down"},
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "reload config failed: %v", err)
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]any{"status": "reloaded"},
	}
}
