package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// KeepAliveInterval returns the probe period for a server's MaxPingTime:
// half of it, so one lost probe still fits inside the server's window.
// A zero MaxPingTime disables the keep-alive and yields 0.
func KeepAliveInterval(maxPingTime time.Duration) time.Duration {
	return maxPingTime / 2
}

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// Interval is the period between probe starts.
	Interval time.Duration

	// ProbeTimeout bounds a single probe. 0 means the probe is bounded only
	// by Stop or the Start context.
	ProbeTimeout time.Duration
}

// ProbeFunc sends one liveness probe and waits for it to be acknowledged.
type ProbeFunc func(ctx context.Context, seq uint32) error

// KeepAliveFault wraps the error of the probe that failed.
type KeepAliveFault struct {
	Seq uint32
	Err error
}

func (f *KeepAliveFault) Error() string {
	return fmt.Sprintf("keep-alive probe %d failed: %v", f.Seq, f.Err)
}

func (f *KeepAliveFault) Unwrap() error {
	return f.Err
}

// KeepAlive probes a connection on a fixed period.
type KeepAlive struct {
	config KeepAliveConfig

	probe     ProbeFunc
	onFault   func(err error)
	onSuccess func(seq uint32, latency time.Duration)

	sequence atomic.Uint32

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	lastProbe   time.Time
	lastLatency time.Duration
	succeeded   uint64
}

// NewKeepAlive creates a keep-alive that calls probe every config.Interval
// and reports the first failure to onFault.
func NewKeepAlive(config KeepAliveConfig, probe ProbeFunc, onFault func(err error)) *KeepAlive {
	done := make(chan struct{})
	close(done)
	return &KeepAlive{
		config:  config,
		probe:   probe,
		onFault: onFault,
		done:    done,
	}
}

// SetProbeSucceededCallback sets a callback for acknowledged probes.
func (ka *KeepAlive) SetProbeSucceededCallback(cb func(seq uint32, latency time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onSuccess = cb
}

// Start launches the probe loop. The first probe is sent immediately.
// Start on a running keep-alive, or with a non-positive interval, is a no-op.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running || ka.config.Interval <= 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ka.running = true
	ka.cancel = cancel
	ka.done = make(chan struct{})

	go ka.loop(loopCtx, cancel, ka.done)
}

// Stop halts the loop and cancels an in-flight probe. No probe starts after
// Stop returns. Stop does not wait; use Wait for that.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	ka.cancel()
}

// Wait blocks until the loop has exited. Must not be called from the
// fault callback.
func (ka *KeepAlive) Wait() {
	ka.mu.Lock()
	done := ka.done
	ka.mu.Unlock()
	<-done
}

// IsRunning returns true if the loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastProbeTime: ka.lastProbe,
		LastLatency:   ka.lastLatency,
		Succeeded:     ka.succeeded,
		CurrentSeq:    ka.sequence.Load(),
	}
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	LastProbeTime time.Time
	LastLatency   time.Duration
	Succeeded     uint64
	CurrentSeq    uint32
}

func (ka *KeepAlive) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer func() {
		ka.mu.Lock()
		if ka.done == done {
			ka.running = false
		}
		ka.mu.Unlock()
	}()
	defer cancel()

	ticker := time.NewTicker(ka.config.Interval)
	defer ticker.Stop()

	for {
		if err := ka.runProbe(ctx); err != nil {
			ka.fault(ctx, done, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runProbe runs one probe unless the keep-alive was stopped.
func (ka *KeepAlive) runProbe(ctx context.Context) error {
	ka.mu.Lock()
	if !ka.running {
		ka.mu.Unlock()
		return nil
	}
	seq := ka.sequence.Add(1)
	start := time.Now()
	ka.lastProbe = start
	ka.mu.Unlock()

	pctx := ctx
	if ka.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, ka.config.ProbeTimeout)
		defer cancel()
	}

	if err := ka.probe(pctx, seq); err != nil {
		return &KeepAliveFault{Seq: seq, Err: err}
	}

	latency := time.Since(start)
	ka.mu.Lock()
	ka.lastLatency = latency
	ka.succeeded++
	cb := ka.onSuccess
	ka.mu.Unlock()

	if cb != nil {
		cb(seq, latency)
	}
	return nil
}

// fault reports err unless the failure was caused by Stop or the parent
// context ending.
func (ka *KeepAlive) fault(ctx context.Context, done chan struct{}, err error) {
	ka.mu.Lock()
	current := ka.done == done
	stopped := !current || !ka.running || ctx.Err() != nil
	if current {
		ka.running = false
	}
	ka.mu.Unlock()

	if stopped {
		return
	}
	if ka.onFault != nil {
		ka.onFault(err)
	}
}
