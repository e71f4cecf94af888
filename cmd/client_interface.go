package cmd

import (
	"context"

	"firestige.xyz/tsswitch/internal/command"
	"firestige.xyz/tsswitch/internal/switcher"
)

// ClientInterface lists the daemon calls made by the CLI commands.
type ClientInterface interface {
	SelectInput(ctx context.Context, index int) (command.InputResult, error)
	NextInput(ctx context.Context) (command.InputResult, error)
	PreviousInput(ctx context.Context) (command.InputResult, error)
	EngineStatus(ctx context.Context) (switcher.Status, error)
	DaemonStatus(ctx context.Context) (command.DaemonStatus, error)
	Shutdown(ctx context.Context) error
	ConfigReload(ctx context.Context) error
}

// cli overrides the socket client; tests inject a mock through SetClient.
var cli ClientInterface

// SetClient replaces the client used by the commands. Nil restores the
// socket client.
func SetClient(c ClientInterface) {
	cli = c
}

// GetClient returns the client used by the commands.
func GetClient() ClientInterface {
	if cli != nil {
		return cli
	}
	return command.NewUDSClient(socketPath, callTimeout)
}
