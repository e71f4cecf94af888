package switcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/tsswitch/internal/buffer"
	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/metrics"
	"firestige.xyz/tsswitch/pkg/plugin"
)

// Executor states reported by Status.
const (
	StateCreated    = "created"
	StateStarted    = "started"
	StateStopped    = "stopped"
	StateEnded      = "ended"
	StateTerminated = "terminated"
)

const pluginStopTimeout = 5 * time.Second

// inputEvent reports the end of an input stream to the core.
type inputEvent struct {
	index int
	err   error
}

// Executor runs one input plugin in its own goroutine and buffers its
// packets until the core claims them.
//
// All fields below mu are protected by it. cond is signalled whenever the
// producer or the consumer changes the buffer or a request flag.
type Executor struct {
	index     int
	input     plugin.Input
	maxInput  int
	maxOutput int
	policy    Policy
	notify    func(index int)
	events    chan<- inputEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	packets  prometheus.Counter
	invalids prometheus.Counter
	drops    prometheus.Counter
	buffered prometheus.Gauge

	mu             sync.Mutex
	cond           *sync.Cond
	ring           *buffer.Ring
	scratch        []core.Packet // overflow batch of a full drop-oldest buffer
	launched       bool
	isCurrent      bool
	startRequested bool
	stopRequested  bool
	terminated     bool
	running        bool
	everStarted    bool
	ended          bool
	endErr         error
	runCtx         context.Context
	runCancel      context.CancelFunc
	received       uint64
	delivered      uint64
	dropped        uint64
	invalid        uint64
	lastReceive    time.Time
}

// ExecutorStatus is a point-in-time view of an executor.
type ExecutorStatus struct {
	Index       int       `json:"index" yaml:"index"`
	Plugin      string    `json:"plugin" yaml:"plugin"`
	State       string    `json:"state" yaml:"state"`
	Current     bool      `json:"current" yaml:"current"`
	Buffered    int       `json:"buffered" yaml:"buffered"`
	Capacity    int       `json:"capacity" yaml:"capacity"`
	Received    uint64    `json:"received" yaml:"received"`
	Delivered   uint64    `json:"delivered" yaml:"delivered"`
	Dropped     uint64    `json:"dropped" yaml:"dropped"`
	Invalid     uint64    `json:"invalid" yaml:"invalid"`
	LastReceive time.Time `json:"last_receive,omitempty" yaml:"last_receive,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func newExecutor(index int, in plugin.Input, opts *Options, notify func(int), events chan<- inputEvent) *Executor {
	label := strconv.Itoa(index)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		index:     index,
		input:     in,
		maxInput:  opts.MaxInputPackets,
		maxOutput: opts.MaxOutputPackets,
		policy:    opts.NonCurrentPolicy,
		notify:    notify,
		events:    events,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		packets:   metrics.InputPacketsTotal.WithLabelValues(label),
		invalids:  metrics.InputInvalidPacketsTotal.WithLabelValues(label),
		drops:     metrics.InputDroppedPacketsTotal.WithLabelValues(label),
		buffered:  metrics.InputBufferPackets.WithLabelValues(label),
		ring:      buffer.New(opts.BufferPackets),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Index returns the input index.
func (e *Executor) Index() int { return e.index }

// launch starts the producer goroutine. The plugin itself is started only
// once StartInput has been requested.
func (e *Executor) launch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.launched {
		return
	}
	e.launched = true
	go e.run()
}

// StartInput asks the producer to start (or resume) receiving.
func (e *Executor) StartInput(isCurrent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isCurrent = isCurrent
	e.startRequested = true
	e.stopRequested = false
	e.cond.Broadcast()
}

// StopInput asks the producer to stop its plugin and park. Buffered packets
// are kept and delivered after a later StartInput.
func (e *Executor) StopInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
	e.startRequested = false
	if e.runCancel != nil {
		e.runCancel()
	}
	e.cond.Broadcast()
}

// SetCurrent changes whether the core may claim output from this executor.
func (e *Executor) SetCurrent(isCurrent bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isCurrent = isCurrent
	e.cond.Broadcast()
}

// TerminateInput asks the producer goroutine to exit. Use Wait to join it.
func (e *Executor) TerminateInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = true
	e.cancel()
	e.cond.Broadcast()
}

// Wait blocks until the producer goroutine has exited. It returns at once
// when the goroutine was never launched.
func (e *Executor) Wait() {
	e.mu.Lock()
	launched := e.launched
	e.mu.Unlock()
	if launched {
		<-e.done
	}
}

// GetOutputArea claims the next contiguous run of buffered packets. The
// returned slice aliases the buffer and stays valid until FreeOutput. An
// empty slice means nothing is buffered. Calling it on a non-current
// executor is a protocol violation and panics with core.ErrNotCurrent.
func (e *Executor) GetOutputArea() []core.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isCurrent {
		panic(fmt.Errorf("%w: input %d", core.ErrNotCurrent, e.index))
	}
	first, count := e.ring.Claim(e.maxOutput)
	return e.ring.Slice(first, count)
}

// FreeOutput releases count packets of the last claim. Any remainder of the
// claim becomes readable again. Releasing more than was claimed panics with
// core.ErrOverRelease.
func (e *Executor) FreeOutput(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ring.Release(count)
	e.ring.Unclaim()
	e.delivered += uint64(count)
	if count > 0 {
		e.buffered.Set(float64(e.ring.Len()))
		e.cond.Broadcast()
	}
}

// Ended reports whether the input stream has finished or failed.
func (e *Executor) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

// Len returns the number of buffered packets.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ring.Len()
}

// LastReceive returns the time of the last accepted batch.
func (e *Executor) LastReceive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReceive
}

// Status returns a snapshot of the executor.
func (e *Executor) Status() ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := ExecutorStatus{
		Index:       e.index,
		Plugin:      e.input.Name(),
		State:       e.stateLocked(),
		Current:     e.isCurrent,
		Buffered:    e.ring.Len(),
		Capacity:    e.ring.Cap(),
		Received:    e.received,
		Delivered:   e.delivered,
		Dropped:     e.dropped,
		Invalid:     e.invalid,
		LastReceive: e.lastReceive,
	}
	if e.endErr != nil {
		st.Error = e.endErr.Error()
	}
	return st
}

func (e *Executor) stateLocked() string {
	switch {
	case e.terminated:
		return StateTerminated
	case e.ended:
		return StateEnded
	case e.running && !e.stopRequested:
		return StateStarted
	case e.everStarted:
		return StateStopped
	default:
		return StateCreated
	}
}

// run is the producer loop.
func (e *Executor) run() {
	defer close(e.done)
	log := slog.With("input", e.index, "plugin", e.input.Name())

	for {
		area, ctx, overflow, ok := e.waitForWork(log)
		if !ok {
			return
		}

		n, err := e.input.Receive(ctx, area)
		if n > len(area) {
			n = len(area)
		}

		e.mu.Lock()
		if err != nil && ctx.Err() != nil {
			// Interrupted by StopInput or TerminateInput.
			err = nil
		}
		valid := 0
		for i := 0; i < n; i++ {
			if !area[i].HasValidSync() {
				continue
			}
			if valid != i {
				area[valid] = area[i]
			}
			valid++
		}
		invalid := n - valid
		dropped := 0
		if overflow {
			dropped = e.absorbLocked(area[:valid])
		} else {
			e.ring.Commit(valid)
		}
		if valid > 0 {
			e.received += uint64(valid)
			e.lastReceive = time.Now()
			e.cond.Broadcast()
		}
		e.invalid += uint64(invalid)
		buffered := e.ring.Len()
		e.mu.Unlock()

		if dropped > 0 {
			e.drops.Add(float64(dropped))
		}
		if invalid > 0 {
			e.invalids.Add(float64(invalid))
			log.Debug("dropped packets without sync byte", "count", invalid)
		}
		if valid > 0 {
			e.packets.Add(float64(valid))
			e.buffered.Set(float64(buffered))
			if e.notify != nil {
				e.notify(e.index)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("input end of stream")
				err = nil
			} else {
				log.Error("input receive failed", "error", err)
			}
			e.finish(log, err)
			return
		}
	}
}

// waitForWork blocks until the producer may receive into a non-empty write
// area. It handles stop, start and termination requests on the way and
// returns ok=false once the goroutine must exit. overflow reports that the
// area is the scratch batch of a full drop-oldest buffer.
func (e *Executor) waitForWork(log *slog.Logger) (area []core.Packet, ctx context.Context, overflow, ok bool) {
	e.mu.Lock()
	for {
		if e.terminated {
			e.mu.Unlock()
			e.stopPlugin(log)
			return nil, nil, false, false
		}
		if e.stopRequested {
			if e.running {
				e.mu.Unlock()
				e.stopPlugin(log)
				e.mu.Lock()
				continue
			}
			e.cond.Wait()
			continue
		}
		if e.running && e.runCtx.Err() != nil {
			// A StopInput was superseded by StartInput before the plugin
			// stopped. Restart it under a fresh context.
			e.mu.Unlock()
			e.stopPlugin(log)
			e.mu.Lock()
			continue
		}
		if !e.running {
			if !e.startRequested {
				e.cond.Wait()
				continue
			}
			runCtx, runCancel := context.WithCancel(e.ctx)
			e.mu.Unlock()

			if err := e.input.Start(runCtx); err != nil {
				runCancel()
				log.Error("input start failed", "error", err)
				e.finish(log, fmt.Errorf("start input %d: %w", e.index, err))
				return nil, nil, false, false
			}
			log.Info("input started")

			e.mu.Lock()
			e.running = true
			e.everStarted = true
			e.runCtx = runCtx
			e.runCancel = runCancel
			continue
		}
		if e.ring.Full() {
			if !e.isCurrent && e.policy == PolicyDropOldest {
				if e.scratch == nil {
					e.scratch = make([]core.Packet, min(e.maxInput, e.ring.Cap()))
				}
				ctx = e.runCtx
				e.mu.Unlock()
				return e.scratch, ctx, true, true
			}
			e.cond.Wait()
			continue
		}
		break
	}
	first, count := e.ring.WriteArea(e.maxInput)
	area = e.ring.Slice(first, count)
	ctx = e.runCtx
	e.mu.Unlock()
	return area, ctx, false, true
}

// absorbLocked appends packets received while the buffer was full, discarding
// one buffered packet for each packet that does not fit. Claimed packets are
// never discarded; arrivals that still find no room are discarded instead.
// It returns the number of packets lost.
func (e *Executor) absorbLocked(pkts []core.Packet) int {
	dropped := 0
	for need := len(pkts) - e.ring.Free(); need > 0 && e.ring.DropOldest(); need-- {
		dropped++
	}
	for len(pkts) > 0 {
		first, count := e.ring.WriteArea(len(pkts))
		if count == 0 {
			break
		}
		copy(e.ring.Slice(first, count), pkts)
		e.ring.Commit(count)
		pkts = pkts[count:]
	}
	dropped += len(pkts)
	e.dropped += uint64(dropped)
	return dropped
}

// finish marks the stream as ended, reports it to the core and parks until
// the buffer is drained or the executor is terminated.
func (e *Executor) finish(log *slog.Logger, err error) {
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrInputEnded, err)
	}
	e.mu.Lock()
	e.ended = true
	e.endErr = err
	e.cond.Broadcast()
	e.mu.Unlock()

	if e.events != nil {
		e.events <- inputEvent{index: e.index, err: err}
	}
	if e.notify != nil {
		e.notify(e.index)
	}

	e.mu.Lock()
	for e.ring.Len() > 0 && !e.terminated {
		e.cond.Wait()
	}
	e.mu.Unlock()

	e.stopPlugin(log)
	log.Info("input terminated")
}

func (e *Executor) stopPlugin(log *slog.Logger) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	e.runCtx = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pluginStopTimeout)
	defer cancel()
	if err := e.input.Stop(ctx); err != nil {
		log.Warn("input stop failed", "error", err)
		return
	}
	log.Info("input stopped")
}
