package svcpool

import (
	"fmt"
	"time"

	"svcpool/backoff"
	"svcpool/codel"
	"svcpool/conn"
	"svcpool/internal/clock"
	"svcpool/resolver"

	"go.uber.org/multierr"
)

// Overload selects which overload-control variant a Pool uses to shed
// queued claims under sustained load.
type Overload int

const (
	// OverloadDisabled never sheds claims.
	OverloadDisabled Overload = iota
	// OverloadModifiedCodel is the Facebook-style variant.
	OverloadModifiedCodel
	// OverloadOriginalCodel is the Nichols/Jacobson variant.
	OverloadOriginalCodel
)

type options struct {
	resolver    resolver.Resolver
	constructor conn.Constructor
	domain      string

	spares  int
	maximum int
	target  int

	recovery backoff.Descriptor

	decoherenceInterval time.Duration
	maxChainedBackoff   time.Duration
	checkTimeout        time.Duration

	overload Overload

	// clock is an internal test seam; unexported, defaults to the real
	// clock.
	clock clock.Clock
}

func defaultOptions() options {
	return options{
		domain:   "",
		spares:   2,
		maximum:  0, // resolved against spares in validate()
		target:   0, // resolved against spares in validate()
		recovery: backoff.Descriptor{"default": {Retries: 3, Timeout: time.Second, Delay: 100 * time.Millisecond}},
		overload: OverloadDisabled,
	}
}

// Option configures a Pool at construction time.
type Option func(*options)

// WithResolver supplies the backend resolver. Required.
func WithResolver(r resolver.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithConstructor supplies the connection constructor. Required.
func WithConstructor(c conn.Constructor) Option {
	return func(o *options) { o.constructor = c }
}

// WithDomain sets the logical service name used only for diagnostics.
func WithDomain(domain string) Option {
	return func(o *options) { o.domain = domain }
}

// WithSpares sets the minimum idle connection count the pool tries to
// maintain per healthy backend population. Must be >= 1.
func WithSpares(spares int) Option {
	return func(o *options) { o.spares = spares }
}

// WithMaximum sets the hard ceiling on slots per backend. Must be >= spares.
func WithMaximum(maximum int) Option {
	return func(o *options) { o.maximum = maximum }
}

// WithTarget sets the configured target slot count, distributed across
// healthy backends by the rebalancer. Defaults to spares.
func WithTarget(target int) Option {
	return func(o *options) { o.target = target }
}

// WithRecovery sets the retry/backoff descriptor used by normal slots.
func WithRecovery(d backoff.Descriptor) Option {
	return func(o *options) { o.recovery = d }
}

// WithDecoherenceInterval enables periodic randomized slot recycling: over
// roughly this interval, the running slot population is rotated once.
// Zero (the default) disables decoherence.
func WithDecoherenceInterval(d time.Duration) Option {
	return func(o *options) { o.decoherenceInterval = d }
}

// WithMaxChainedBackoff caps the delay between chained retry attempts,
// independent of any per-policy MaxDelay.
func WithMaxChainedBackoff(d time.Duration) Option {
	return func(o *options) { o.maxChainedBackoff = d }
}

// WithCheckTimeout sets the timeout used for monitor-slot connection
// attempts that watch a dead backend for recovery. Zero uses the recovery
// descriptor's own monitor-derived timeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(o *options) { o.checkTimeout = d }
}

// WithOverload selects the overload-shedding variant.
func WithOverload(v Overload) Option {
	return func(o *options) { o.overload = v }
}

// withClock is an internal test seam overriding the pool's time source.
func withClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// validate checks the fully-applied options, collecting every violation
// rather than stopping at the first so a caller sees the complete list of
// what's wrong with one NewPool call.
func (o *options) validate() error {
	var errs error

	if o.resolver == nil {
		errs = multierr.Append(errs, fmt.Errorf("resolver is required"))
	}
	if o.constructor == nil {
		errs = multierr.Append(errs, fmt.Errorf("constructor is required"))
	}
	if o.spares < 1 {
		errs = multierr.Append(errs, fmt.Errorf("spares must be >= 1, got %d", o.spares))
	}
	if o.maximum == 0 {
		o.maximum = o.spares
	}
	if o.maximum < o.spares {
		errs = multierr.Append(errs, fmt.Errorf("maximum (%d) must be >= spares (%d)", o.maximum, o.spares))
	}
	if o.target == 0 {
		o.target = o.spares
	}
	if o.target < 0 {
		errs = multierr.Append(errs, fmt.Errorf("target must be >= 0, got %d", o.target))
	}
	if o.recovery != nil {
		if err := o.recovery.Validate(); err != nil {
			errs = multierr.Append(errs, err)
		}
	} else {
		errs = multierr.Append(errs, fmt.Errorf("recovery descriptor is required"))
	}

	if errs != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}
	return nil
}

func newOverloadController(cfg options, clk clock.Clock) codel.Controller {
	switch cfg.overload {
	case OverloadModifiedCodel:
		return codel.NewModified(codel.Params{Clock: clk})
	case OverloadOriginalCodel:
		return codel.NewOriginal(codel.Params{Clock: clk})
	default:
		return codel.Disabled()
	}
}
