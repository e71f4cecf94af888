package cmd

import (
	"context"

	"github.com/stretchr/testify/mock"

	"firestige.xyz/tsswitch/internal/command"
	"firestige.xyz/tsswitch/internal/switcher"
)

// MockClient implements ClientInterface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SelectInput(ctx context.Context, index int) (command.InputResult, error) {
	args := m.Called(ctx, index)
	return args.Get(0).(command.InputResult), args.Error(1)
}

func (m *MockClient) NextInput(ctx context.Context) (command.InputResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(command.InputResult), args.Error(1)
}

func (m *MockClient) PreviousInput(ctx context.Context) (command.InputResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(command.InputResult), args.Error(1)
}

func (m *MockClient) EngineStatus(ctx context.Context) (switcher.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(switcher.Status), args.Error(1)
}

func (m *MockClient) DaemonStatus(ctx context.Context) (command.DaemonStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(command.DaemonStatus), args.Error(1)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) ConfigReload(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// withClient injects c for the duration of the test.
func withClient(t interface{ Cleanup(func()) }, c ClientInterface) {
	original := cli
	SetClient(c)
	t.Cleanup(func() { SetClient(original) })
}
