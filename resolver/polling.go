package resolver

import (
	"context"
	"sync"
	"time"

	"svcpool/internal/clock"

	"golang.org/x/time/rate"
)

// Prober performs single-shot resolution, e.g. a DNS lookup or a static
// list read from configuration. The returned ttl, if non-zero, overrides
// the polling resolver's default interval for the next poll.
type Prober interface {
	Resolve(ctx context.Context) (backends []Backend, ttl time.Duration, err error)
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) ([]Backend, time.Duration, error)

// Resolve calls f.
func (f ProberFunc) Resolve(ctx context.Context) ([]Backend, time.Duration, error) {
	return f(ctx)
}

// NewPolling wraps prober in a Resolver that re-probes on defaultTTL (or the
// TTL the prober itself returns), diffing each result set against the last
// one delivered and emitting OnAdded/OnRemoved for the difference.
func NewPolling(prober Prober, defaultTTL time.Duration, clk clock.Clock) Resolver {
	return &pollingResolver{
		prober:     prober,
		defaultTTL: defaultTTL,
		clock:      clk,
		// One out-of-cycle refresh per TTL window; RefreshHint beyond that
		// is silently dropped rather than hammering the prober.
		refreshLimiter: rate.NewLimiter(rate.Every(maxDuration(defaultTTL, time.Second)), 1),
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

type pollingResolver struct {
	prober         Prober
	defaultTTL     time.Duration
	clock          clock.Clock
	refreshLimiter *rate.Limiter

	mu    sync.Mutex
	refCh chan struct{}
}

func (r *pollingResolver) Start(ctx context.Context, receiver Receiver) Closer {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.refCh = make(chan struct{}, 1)
	refCh := r.refCh
	r.mu.Unlock()

	done := make(chan struct{})
	task := &pollingTask{cancel: cancel, done: done}
	go r.run(ctx, receiver, refCh, done)
	return task
}

func (r *pollingResolver) RefreshHint() {
	if !r.refreshLimiter.Allow() {
		return
	}
	r.mu.Lock()
	ch := r.refCh
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (r *pollingResolver) run(ctx context.Context, receiver Receiver, refCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	known := map[string]Backend{}
	first := true
	timer := r.clock.NewTimer(0)
	if !timer.Stop() {
		<-timer.Chan()
	}

	for {
		backends, ttl, err := r.prober.Resolve(ctx)
		if err != nil {
			receiver.OnResolveError(err)
		} else {
			r.deliverDiff(receiver, known, backends)
			if first {
				receiver.OnSteadyState()
				first = false
			}
		}

		if ttl == 0 {
			ttl = r.defaultTTL
		}
		timer.Reset(ttl)

		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.Chan()
			}
			return
		case <-refCh:
			if !timer.Stop() {
				<-timer.Chan()
			}
		case <-timer.Chan():
		}
	}
}

func (r *pollingResolver) deliverDiff(receiver Receiver, known map[string]Backend, fresh []Backend) {
	seen := make(map[string]struct{}, len(fresh))
	for _, b := range fresh {
		seen[b.Key] = struct{}{}
		if _, ok := known[b.Key]; !ok {
			known[b.Key] = b
			receiver.OnAdded(b)
		}
	}
	for key := range known {
		if _, ok := seen[key]; !ok {
			delete(known, key)
			receiver.OnRemoved(key)
		}
	}
}

type pollingTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *pollingTask) Close() error {
	t.cancel()
	<-t.done
	return nil
}
