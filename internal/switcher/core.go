package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/metrics"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const outputStopTimeout = 5 * time.Second

// Core owns the input executors and forwards packets of the current input
// to the output.
//
// Lock order is Core.mu before Executor.mu. Executors never call into the
// core while holding their own lock; they signal it through notify and
// events.
type Core struct {
	opts    Options
	inputs  []*Executor
	output  plugin.Output
	current atomic.Int32

	notify chan struct{}
	events chan inputEvent
	quit   chan struct{}
	done   chan struct{}

	stopOnce sync.Once

	mu              sync.Mutex
	running         bool
	stopped         bool
	pending         int
	pendingReason   string
	pendingDeadline time.Time
	switchedAt      time.Time
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running bool             `json:"running" yaml:"running"`
	Current int              `json:"current" yaml:"current"`
	Pending int              `json:"pending" yaml:"pending"`
	Output  string           `json:"output" yaml:"output"`
	Inputs  []ExecutorStatus `json:"inputs" yaml:"inputs"`
}

// New creates a core for the given inputs and output. Plugins must already
// be initialised; the core starts and stops them.
func New(opts Options, inputs []plugin.Input, output plugin.Output) (*Core, error) {
	if len(inputs) == 0 {
		return nil, core.ErrNoInputs
	}
	if output == nil {
		return nil, fmt.Errorf("%w: no output", core.ErrConfigInvalid)
	}
	if err := opts.normalize(len(inputs)); err != nil {
		return nil, err
	}

	c := &Core{
		opts:    opts,
		output:  output,
		notify:  make(chan struct{}, 1),
		events:  make(chan inputEvent, len(inputs)),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: -1,
	}
	c.current.Store(int32(opts.FirstInput))
	c.inputs = make([]*Executor, len(inputs))
	for i, in := range inputs {
		c.inputs[i] = newExecutor(i, in, &c.opts, c.inputReceived, c.events)
	}
	return c, nil
}

// Inputs returns the number of inputs.
func (c *Core) Inputs() int { return len(c.inputs) }

// Current returns the index of the current input.
func (c *Core) Current() int { return int(c.current.Load()) }

// Executor returns the executor of input i.
func (c *Core) Executor(i int) *Executor { return c.inputs[i] }

// SetInput makes index the current input. Selecting the current input is a
// no-op. With delayed switching the change takes effect once the new input
// has received packets or the delay expires.
func (c *Core) SetInput(index int) error {
	if index < 0 || index >= len(c.inputs) {
		return fmt.Errorf("%w: %d, have %d inputs", core.ErrInvalidInput, index, len(c.inputs))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return core.ErrEngineStopped
	}
	if !c.running {
		c.current.Store(int32(index))
		return nil
	}
	if index == c.Current() {
		c.dropPendingLocked(index)
		return nil
	}
	if c.opts.DelayedSwitch {
		if c.pending == index {
			return nil
		}
		c.dropPendingLocked(index)
		c.pending = index
		c.pendingReason = metrics.ReasonCommand
		c.pendingDeadline = time.Now().Add(c.opts.DelayedSwitchTimeout)
		c.inputs[index].StartInput(false)
		slog.Info("delayed switch requested", "from", c.Current(), "to", index)
		c.wake()
		return nil
	}
	c.switchLocked(index, metrics.ReasonCommand)
	return nil
}

// NextInput selects the input after the current one, wrapping around.
func (c *Core) NextInput() error {
	return c.SetInput((c.Current() + 1) % len(c.inputs))
}

// PreviousInput selects the input before the current one, wrapping around.
func (c *Core) PreviousInput() error {
	return c.SetInput((c.Current() + len(c.inputs) - 1) % len(c.inputs))
}

// Status returns a snapshot of the engine and every input.
func (c *Core) Status() Status {
	c.mu.Lock()
	st := Status{
		Running: c.running && !c.stopped,
		Current: c.Current(),
		Pending: c.pending,
		Output:  c.output.Name(),
	}
	c.mu.Unlock()

	st.Inputs = make([]ExecutorStatus, len(c.inputs))
	for i, e := range c.inputs {
		st.Inputs[i] = e.Status()
	}
	return st
}

// Stop terminates all inputs, joins their goroutines and makes Run return.
// No packet reaches the output after Stop returns. It is safe to call more
// than once and before Run.
func (c *Core) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })

	c.mu.Lock()
	c.stopped = true
	running := c.running
	c.mu.Unlock()

	if running {
		<-c.done
		return
	}
	c.terminateInputs()
}

// Run starts the output and the inputs and forwards packets until Stop is
// called, ctx is cancelled or the engine fails. It returns nil on a
// requested stop, core.ErrAllInputsEnded when no live input remains and an
// error wrapping core.ErrSinkFailed when the output keeps failing.
func (c *Core) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return core.ErrEngineStopped
	}
	if c.running {
		c.mu.Unlock()
		return core.ErrEngineRunning
	}
	c.running = true
	c.mu.Unlock()
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := c.output.Start(runCtx); err != nil {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		return fmt.Errorf("start output %s: %w", c.output.Name(), err)
	}
	defer c.shutdown()

	c.startInputs()
	return c.loop(runCtx)
}

func (c *Core) startInputs() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.inputs {
		e.launch()
	}
	cur := c.Current()
	c.inputs[cur].StartInput(true)
	for i, e := range c.inputs {
		if i != cur && (c.opts.FastSwitch || i == c.opts.PrimaryInput) {
			e.StartInput(false)
		}
	}
	c.switchedAt = time.Now()
	metrics.CurrentInput.Set(float64(cur))
	slog.Info("switch engine started", "inputs", len(c.inputs), "current", cur,
		"output", c.output.Name(), "fast_switch", c.opts.FastSwitch)
}

func (c *Core) shutdown() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.terminateInputs()

	ctx, cancel := context.WithTimeout(context.Background(), outputStopTimeout)
	defer cancel()
	if err := c.output.Stop(ctx); err != nil {
		slog.Warn("output stop failed", "output", c.output.Name(), "error", err)
	}
	slog.Info("switch engine stopped")
}

func (c *Core) terminateInputs() {
	for _, e := range c.inputs {
		e.TerminateInput()
	}
	for _, e := range c.inputs {
		e.Wait()
	}
}

// loop is the output loop.
func (c *Core) loop(ctx context.Context) error {
	timer := time.NewTimer(c.opts.OutputPollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if done, err := c.supervise(); done {
			return err
		}

		n, err := c.forward(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if n > 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.opts.OutputPollInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-c.notify:
		case ev := <-c.events:
			if ev.err != nil {
				slog.Warn("input ended with error", "input", ev.index, "error", ev.err)
			} else {
				slog.Info("input ended", "input", ev.index)
			}
		case <-timer.C:
		}
	}
}

// forward moves one claimed run of the current input to the output.
func (c *Core) forward(ctx context.Context) (int, error) {
	c.mu.Lock()
	e := c.inputs[c.Current()]
	pkts := e.GetOutputArea()
	c.mu.Unlock()

	if len(pkts) == 0 {
		e.FreeOutput(0)
		return 0, nil
	}
	if err := c.send(ctx, pkts); err != nil {
		e.FreeOutput(0)
		return 0, err
	}
	e.FreeOutput(len(pkts))
	metrics.OutputPacketsTotal.Add(float64(len(pkts)))
	return len(pkts), nil
}

func (c *Core) send(ctx context.Context, pkts []core.Packet) error {
	err := retry.Do(
		func() error {
			if err := c.output.Send(ctx, pkts); err != nil {
				metrics.OutputErrorsTotal.Inc()
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.SinkRetryAttempts),
		retry.Delay(c.opts.SinkRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("output send failed, retrying", "output", c.output.Name(), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrSinkFailed, c.output.Name(), err)
	}
	return nil
}

// supervise applies the switching policies. It returns done when the engine
// must stop, with the error Run should return.
func (c *Core) supervise() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cur := c.Current()
	curExec := c.inputs[cur]
	// Ended is set after the last commit, so read it before the length.
	curEnded := curExec.Ended()
	curDrained := curExec.Len() == 0

	if c.opts.TerminateOnInputEnd {
		for i, e := range c.inputs {
			if (i == cur && curEnded && curDrained) || (i != cur && e.Ended()) {
				slog.Info("input ended, terminating", "input", i)
				return true, nil
			}
		}
	}

	if curEnded && curDrained {
		next := c.nextLiveLocked(cur)
		if next < 0 {
			slog.Error("all inputs ended")
			return true, core.ErrAllInputsEnded
		}
		c.switchLocked(next, metrics.ReasonEnded)
		return false, nil
	}

	if c.pending >= 0 {
		target := c.inputs[c.pending]
		if target.Len() > 0 || target.Ended() || now.After(c.pendingDeadline) {
			c.switchLocked(c.pending, c.pendingReason)
		}
		return false, nil
	}

	if p := c.opts.PrimaryInput; p != NoPrimary && p != cur {
		if pe := c.inputs[p]; !pe.Ended() && pe.LastReceive().After(c.switchedAt) {
			c.switchLocked(p, metrics.ReasonPrimary)
			return false, nil
		}
	}

	if c.opts.ReceiveTimeout > 0 {
		last := curExec.LastReceive()
		if last.Before(c.switchedAt) {
			last = c.switchedAt
		}
		if now.Sub(last) >= c.opts.ReceiveTimeout {
			next := c.nextLiveLocked(cur)
			if next < 0 {
				// Nothing to fail over to; restart the timeout window.
				c.switchedAt = now
				return false, nil
			}
			slog.Warn("receive timeout on current input", "input", cur, "timeout", c.opts.ReceiveTimeout)
			c.switchLocked(next, metrics.ReasonTimeout)
		}
	}
	return false, nil
}

// nextLiveLocked returns the first input after from that has not ended, or
// -1 when there is none.
func (c *Core) nextLiveLocked(from int) int {
	n := len(c.inputs)
	for step := 1; step < n; step++ {
		i := (from + step) % n
		if !c.inputs[i].Ended() {
			return i
		}
	}
	return -1
}

// switchLocked moves the current selection to index. The old input is
// demoted before the new index is published so that no claim can observe
// two current inputs.
func (c *Core) switchLocked(index int, reason string) {
	old := c.Current()
	c.dropPendingLocked(index)
	if index == old {
		return
	}

	oldExec := c.inputs[old]
	oldExec.SetCurrent(false)
	c.current.Store(int32(index))
	c.inputs[index].StartInput(true)
	if !c.opts.FastSwitch && old != c.opts.PrimaryInput {
		oldExec.StopInput()
	}
	c.switchedAt = time.Now()

	metrics.SwitchesTotal.WithLabelValues(reason).Inc()
	metrics.CurrentInput.Set(float64(index))
	slog.Info("input switched", "from", old, "to", index, "reason", reason)
	c.wake()
}

// dropPendingLocked abandons the pending delayed switch. Its target is
// stopped again unless it is keep or must keep running anyway.
func (c *Core) dropPendingLocked(keep int) {
	target := c.pending
	c.pending = -1
	if target < 0 || target == keep || target == c.Current() {
		return
	}
	if !c.opts.FastSwitch && target != c.opts.PrimaryInput {
		c.inputs[target].StopInput()
	}
	slog.Info("delayed switch abandoned", "target", target)
}

// inputReceived is called by executors after committing packets.
func (c *Core) inputReceived(int) {
	c.wake()
}

func (c *Core) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
