// Package file implements an output plugin writing packets to a file.
package file

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const writeBufferSize = 64 * 1024

// Config represents file output configuration.
type Config struct {
	Path   string `mapstructure:"path"`   // required
	Append bool   `mapstructure:"append"` // optional, truncate by default
}

// Output writes packets to a file.
type Output struct {
	name    string
	config  Config
	file    *os.File
	writer  *bufio.Writer
	written uint64
}

// New creates a new file output.
func New() plugin.Output {
	return &Output{name: "file"}
}

// Name returns the plugin name.
func (o *Output) Name() string { return o.name }

// Init parses the configuration.
func (o *Output) Init(config map[string]any) error {
	var cfg Config
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Path == "" {
		return fmt.Errorf("%w: file output: path is required", core.ErrPluginInitFailed)
	}
	o.config = cfg
	return nil
}

// Start creates or opens the file.
func (o *Output) Start(_ context.Context) error {
	flags := os.O_CREATE | os.O_WRONLY
	if o.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(o.config.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", o.config.Path, err)
	}
	o.file = f
	o.writer = bufio.NewWriterSize(f, writeBufferSize)
	slog.Info("file output started", "path", o.config.Path, "append", o.config.Append)
	return nil
}

// Stop flushes and closes the file.
func (o *Output) Stop(_ context.Context) error {
	if o.file == nil {
		return nil
	}
	flushErr := o.writer.Flush()
	closeErr := o.file.Close()
	o.file = nil
	o.writer = nil
	slog.Info("file output stopped", "path", o.config.Path, "packets", o.written)
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", o.config.Path, flushErr)
	}
	return closeErr
}

// Send writes the packets and flushes them to the file.
func (o *Output) Send(_ context.Context, pkts []core.Packet) error {
	if o.file == nil {
		return core.ErrPluginNotStarted
	}
	for i := range pkts {
		if _, err := o.writer.Write(pkts[i][:]); err != nil {
			return fmt.Errorf("write %s: %w", o.config.Path, err)
		}
	}
	if err := o.writer.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", o.config.Path, err)
	}
	o.written += uint64(len(pkts))
	return nil
}
