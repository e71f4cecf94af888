package switcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"firestige.xyz/tsswitch/internal/core"
)

var errBoom = errors.New("boom")

// pkt builds a packet tagged with an input id and a sequence number.
func pkt(input byte, seq int) core.Packet {
	p := core.NullPacket
	p[4] = input
	p[5] = byte(seq >> 8)
	p[6] = byte(seq)
	return p
}

type tag struct {
	input byte
	seq   int
}

func tagOf(p core.Packet) tag {
	return tag{input: p[4], seq: int(p[5])<<8 | int(p[6])}
}

func tags(input byte, from, to int) []tag {
	var out []tag
	for i := from; i <= to; i++ {
		out = append(out, tag{input, i})
	}
	return out
}

// scriptInput delivers the batches pushed into ch. Closing ch ends the stream.
type scriptInput struct {
	name     string
	ch       chan []core.Packet
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32

	mu      sync.Mutex
	pending []core.Packet
}

func newScriptInput(name string) *scriptInput {
	return &scriptInput{name: name, ch: make(chan []core.Packet, 64)}
}

// feed queues one single-packet batch per sequence number.
func (s *scriptInput) feed(input byte, from, to int) {
	for i := from; i <= to; i++ {
		s.ch <- []core.Packet{pkt(input, i)}
	}
}

func (s *scriptInput) Name() string                   { return s.name }
func (s *scriptInput) Init(map[string]any) error      { return nil }
func (s *scriptInput) Stop(ctx context.Context) error { s.stops.Add(1); return nil }

func (s *scriptInput) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.starts.Add(1)
	return nil
}

func (s *scriptInput) Receive(ctx context.Context, pkts []core.Packet) (int, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		n := copy(pkts, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case batch, ok := <-s.ch:
		if !ok {
			return 0, io.EOF
		}
		n := copy(pkts, batch)
		s.mu.Lock()
		s.pending = append(s.pending, batch[n:]...)
		s.mu.Unlock()
		return n, nil
	}
}

// captureOutput records delivered packets. failures > 0 fails that many
// sends first; a negative value fails forever.
type captureOutput struct {
	failures atomic.Int32
	fails    atomic.Int32
	started  atomic.Bool
	stopped  atomic.Bool

	mu   sync.Mutex
	seen []tag
}

func (o *captureOutput) Name() string                    { return "capture" }
func (o *captureOutput) Init(map[string]any) error       { return nil }
func (o *captureOutput) Start(ctx context.Context) error { o.started.Store(true); return nil }
func (o *captureOutput) Stop(ctx context.Context) error  { o.stopped.Store(true); return nil }

func (o *captureOutput) Send(ctx context.Context, pkts []core.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f := o.failures.Load(); f != 0 {
		if f > 0 {
			o.failures.Add(-1)
		}
		o.fails.Add(1)
		return errBoom
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range pkts {
		o.seen = append(o.seen, tagOf(p))
	}
	return nil
}

func (o *captureOutput) tags() []tag {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]tag(nil), o.seen...)
}

func (o *captureOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}

// expectPanicIs runs fn and requires a panic carrying an error matching target.
func expectPanicIs(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		rec := recover()
		require.NotNil(t, rec, "expected panic")
		err, ok := rec.(error)
		require.True(t, ok, "panic value is not an error: %v", rec)
		require.ErrorIs(t, err, target)
	}()
	fn()
}

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)
