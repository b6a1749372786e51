package svcpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"svcpool/codel"
	"svcpool/conn"
	"svcpool/internal/clock"
	"svcpool/internal/claim"
	"svcpool/internal/hashrank"
	"svcpool/internal/rebalance"
	"svcpool/internal/slot"
	"svcpool/resolver"

	"golang.org/x/sync/errgroup"
)

// State is one of the pool controller's top-level states.
type State int

const (
	// StateStarting is the initial state: waiting for the resolver to
	// report steady state or a first backend.
	StateStarting State = iota
	// StateRunning serves claims normally.
	StateRunning
	// StateFailed means every known backend is dead; claims fail
	// immediately and only monitor slots remain active.
	StateFailed
	// StateStopping is draining: queued claims are cancelled, every slot
	// is marked unwanted, and the pool waits for them all to stop.
	StateStopping
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// slotRecord is the pool's bookkeeping for one slot.Slot, normal or
// monitor.
type slotRecord struct {
	id         string
	backendKey string
	mode       slot.Mode
	slot       *slot.Slot
	// idleSince is set whenever the slot joins the ready set, so the
	// max-idle sweep can find slots that have sat unclaimed longer than
	// the overload controller's current GetMaxIdle ceiling.
	idleSince time.Time
}

// pendingClaim tracks one waiting claim.Handle until it resolves.
type pendingClaim struct {
	handle       *claim.Handle
	resCh        chan claimResult
	timeoutTimer clock.Timer
}

type claimResult struct {
	handle *ClaimHandle
	err    error
}

// Pool is a client-side connection pool for one logical service.
type Pool struct {
	cfg options
	clk clock.Clock

	cmdCh chan func()

	state State

	backends map[string]*backendEntry
	slots    map[string]*slotRecord
	monitors map[string]*slotRecord
	nextSlot uint64

	readyOrder []string

	queue      *claim.Queue
	pending    map[uint64]*pendingClaim
	active     map[uint64]*claim.Handle
	nextHandle uint64

	everHadBackend bool

	driver           *rebalance.Driver
	codelCtrl        codel.Controller
	decoherenceTimer clock.Timer
	maxIdleTimer     clock.Timer
	resolverCloser   resolver.Closer

	events    chan Event
	stoppedCh chan struct{}
}

// NewPool constructs a Pool from opts, starts its resolver, and begins
// converging toward the configured target slot distribution. Construction
// errors (missing resolver/constructor, maximum < spares, an invalid
// recovery descriptor) are validated eagerly and returned synchronously,
// wrapped with ErrInvalidConfig.
func NewPool(opts ...Option) (*Pool, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	clk := cfg.clock
	if clk == nil {
		clk = clock.New()
	}

	p := &Pool{
		cfg:       cfg,
		clk:       clk,
		cmdCh:     make(chan func(), 256),
		state:     StateStarting,
		backends:  map[string]*backendEntry{},
		slots:     map[string]*slotRecord{},
		monitors:  map[string]*slotRecord{},
		queue:     claim.NewQueue(),
		pending:   map[uint64]*pendingClaim{},
		active:    map[uint64]*claim.Handle{},
		events:    make(chan Event, 64),
		stoppedCh: make(chan struct{}),
	}
	p.codelCtrl = newOverloadController(cfg, clk)
	p.driver = rebalance.NewDriver(rebalance.DriverConfig{
		Clock:            clk,
		Post:             p.post,
		SelectionKey:     cfg.domain,
		ConfiguredTarget: cfg.target,
		Maximum:          cfg.maximum,
		Debounce:         50 * time.Millisecond,
		EnvelopeTau:      5 * time.Second,
		BuildSnapshot:    p.buildSnapshot,
		Apply:            p.applyActions,
	})

	go p.loop()

	if cfg.decoherenceInterval > 0 {
		p.post(p.armDecoherenceTimer)
	}
	p.post(p.armMaxIdleSweep)

	p.resolverCloser = cfg.resolver.Start(context.Background(), &poolReceiver{p: p})

	return p, nil
}

// post submits fn to the pool's actor loop. Safe to call from any
// goroutine, including from within a closure already executing on the
// loop (it simply enqueues a continuation rather than running fn inline).
func (p *Pool) post(fn func()) {
	p.cmdCh <- fn
}

func (p *Pool) loop() {
	for fn := range p.cmdCh {
		fn()
	}
}

// Claim blocks until a connection becomes available, is shed by the
// overload controller, the pool fails or stops, ctx is cancelled, or
// timeout (if positive) elapses since the call began.
func (p *Pool) Claim(ctx context.Context, timeout time.Duration) (*ClaimHandle, error) {
	resCh := make(chan claimResult, 1)
	registered := make(chan uint64, 1)
	p.post(func() {
		registered <- p.startClaim(timeout, resCh)
	})
	id := <-registered

	select {
	case res := <-resCh:
		return res.handle, res.err
	case <-ctx.Done():
		p.post(func() { p.cancelWaitingHandle(id, ErrClaimCancelled) })
		res := <-resCh
		return res.handle, res.err
	}
}

func (p *Pool) startClaim(timeout time.Duration, resCh chan claimResult) uint64 {
	p.nextHandle++
	id := p.nextHandle
	now := p.clk.Now()

	var deadline time.Time
	if timeout > 0 {
		deadline = now.Add(timeout)
	}
	h := claim.New(id, now, deadline)
	p.pending[id] = &pendingClaim{handle: h, resCh: resCh}

	switch p.state {
	case StateFailed:
		err := ErrPoolFailed
		if !p.everHadBackend {
			err = ErrNoBackends
		}
		h.Fail(err)
		p.resolveClaim(id, nil, err)
		return id
	case StateStopping, StateStopped:
		h.Fail(ErrPoolStopping)
		p.resolveClaim(id, nil, ErrPoolStopping)
		return id
	}

	if !deadline.IsZero() {
		p.scheduleClaimTimeout(id, deadline)
	}
	p.queue.Push(h)
	p.tryMatch()
	return id
}

func (p *Pool) scheduleClaimTimeout(id uint64, deadline time.Time) {
	d := deadline.Sub(p.clk.Now())
	if d < 0 {
		d = 0
	}
	timer := p.clk.AfterFunc(d, func() {
		p.post(func() { p.onClaimTimeout(id) })
	})
	if pc, ok := p.pending[id]; ok {
		pc.timeoutTimer = timer
	}
}

func (p *Pool) onClaimTimeout(id uint64) {
	pc, ok := p.pending[id]
	if !ok || pc.handle.State() != claim.StateWaiting {
		return
	}
	p.queue.Remove(id)
	pc.handle.Fail(ErrClaimTimeout)
	p.resolveClaim(id, nil, ErrClaimTimeout)
}

func (p *Pool) cancelWaitingHandle(id uint64, err error) {
	pc, ok := p.pending[id]
	if !ok || pc.handle.State() != claim.StateWaiting {
		return
	}
	p.queue.Remove(id)
	pc.handle.Cancel(err)
	p.resolveClaim(id, nil, err)
}

func (p *Pool) resolveClaim(id uint64, handle *ClaimHandle, err error) {
	pc, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)
	if pc.timeoutTimer != nil {
		pc.timeoutTimer.Stop()
	}
	pc.resCh <- claimResult{handle: handle, err: err}
}

// tryMatch walks the claim queue in FIFO order, pairing head handles
// against ready slots and shedding sojourns the overload controller
// rejects, until either the queue or the ready set is exhausted.
func (p *Pool) tryMatch() {
	for {
		h := p.queue.Front()
		if h == nil {
			return
		}

		sojourn := p.clk.Now().Sub(h.EnqueuedAt())
		if p.codelCtrl.Overloaded(sojourn) {
			p.queue.PopFront()
			h.Fail(ErrOverloaded)
			p.resolveClaim(h.ID(), nil, ErrOverloaded)
			continue
		}

		slotID, s := p.pickReadySlot()
		if s == nil {
			return
		}
		if h.Try(s) {
			p.queue.PopFront()
			p.removeReady(slotID)
			p.active[h.ID()] = h
			p.resolveClaim(h.ID(), p.wrapHandle(h), nil)
			continue
		}
		// The slot stopped being idle between joining the ready set and
		// this offer; drop it and retry the same head handle against the
		// next candidate.
		p.removeReady(slotID)
	}
}

func (p *Pool) pickReadySlot() (string, *slot.Slot) {
	if len(p.readyOrder) == 0 {
		return "", nil
	}
	id := p.readyOrder[0]
	rec, ok := p.slots[id]
	if !ok {
		p.removeReady(id)
		return p.pickReadySlot()
	}
	return id, rec.slot
}

func (p *Pool) removeReady(id string) {
	for i, rid := range p.readyOrder {
		if rid == id {
			p.readyOrder = append(p.readyOrder[:i], p.readyOrder[i+1:]...)
			break
		}
	}
	if len(p.readyOrder) == 0 {
		p.codelCtrl.Empty()
	}
}

func (p *Pool) wrapHandle(h *claim.Handle) *ClaimHandle {
	c := h.Conn()
	assertf(c != nil, "svcpool: wrapHandle called on claim %d with no resolved connection", h.ID())
	return &ClaimHandle{pool: p, id: h.ID(), conn: c}
}

func (p *Pool) releaseActive(id uint64, ok bool) error {
	h, found := p.active[id]
	if !found {
		return nil
	}
	delete(p.active, id)
	err := h.Release(ok)
	if errors.Is(err, claim.ErrAlreadyResolved) {
		err = nil
	}
	p.driver.Trigger(p.currentDemand())
	return err
}

func (p *Pool) currentDemand() int {
	claimed := 0
	for _, rec := range p.slots {
		if rec.slot.State() == slot.StateClaimed {
			claimed++
		}
	}
	return p.queue.Len() + claimed
}

// Stop transitions the pool to stopping, cancels every queued claim with
// ErrPoolStopping, marks every slot unwanted, and waits for the resolver to
// close and (bounded by ctx) for every slot to fully stop.
func (p *Pool) Stop(ctx context.Context) error {
	p.post(p.enterStopping)

	var eg errgroup.Group
	eg.Go(func() error {
		if p.resolverCloser == nil {
			return nil
		}
		if err := p.resolverCloser.Close(); err != nil {
			return fmt.Errorf("stopping resolver: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		select {
		case <-p.stoppedCh:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for slots to drain: %w", ctx.Err())
		}
	})
	return eg.Wait()
}

func (p *Pool) enterStopping() {
	if p.state == StateStopping || p.state == StateStopped {
		return
	}
	p.state = StateStopping
	p.emitStateChanged()

	for {
		h := p.queue.PopFront()
		if h == nil {
			break
		}
		h.Fail(ErrPoolStopping)
		p.resolveClaim(h.ID(), nil, ErrPoolStopping)
	}
	for _, rec := range p.slots {
		rec.slot.SetUnwanted()
	}
	for _, rec := range p.monitors {
		rec.slot.SetUnwanted()
	}
	if p.decoherenceTimer != nil {
		p.decoherenceTimer.Stop()
	}
	if p.maxIdleTimer != nil {
		p.maxIdleTimer.Stop()
	}
	p.checkStoppingDrained()
}

func (p *Pool) checkStoppingDrained() {
	if p.state != StateStopping {
		return
	}
	if len(p.slots) == 0 && len(p.monitors) == 0 {
		p.state = StateStopped
		p.emitStateChanged()
		close(p.stoppedCh)
	}
}

// Events returns the channel on which the pool reports observable state
// transitions. The channel is never closed; callers stop reading when they
// stop caring (typically after Stop returns).
func (p *Pool) Events() <-chan Event {
	return p.events
}

func (p *Pool) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Pool) emitStateChanged() {
	p.emit(Event{Kind: EventStateChanged, State: p.state})
}

// --- resolver wiring -------------------------------------------------

type poolReceiver struct{ p *Pool }

func (r *poolReceiver) OnAdded(b resolver.Backend) {
	r.p.post(func() { r.p.onBackendAdded(b) })
}

func (r *poolReceiver) OnRemoved(key string) {
	r.p.post(func() { r.p.onBackendRemoved(key) })
}

func (r *poolReceiver) OnSteadyState() {
	r.p.post(r.p.onSteadyState)
}

func (r *poolReceiver) OnResolveError(error) {
	// Informational only; the resolver keeps retrying on its own schedule.
	// The pool has no action to take beyond what OnAdded/OnRemoved already
	// drive.
}

func (p *Pool) onBackendAdded(b resolver.Backend) {
	entry, existed := p.backends[b.Key]
	if !existed {
		p.backends[b.Key] = &backendEntry{backend: b, health: backendHealthy}
	} else {
		entry.backend = b
		entry.removed = false
	}
	p.everHadBackend = true
	if p.state == StateStarting {
		p.enterRunning()
		return
	}
	p.driver.ReplanNow(p.currentDemand())
}

func (p *Pool) onBackendRemoved(key string) {
	entry, ok := p.backends[key]
	if !ok {
		return
	}
	entry.removed = true
	if rec, ok := p.monitors[key]; ok {
		rec.slot.SetUnwanted()
	}
	p.maybeForgetBackend(key)
	p.driver.ReplanNow(p.currentDemand())
}

func (p *Pool) onSteadyState() {
	if p.state != StateStarting {
		return
	}
	if len(p.backends) == 0 {
		p.state = StateFailed
		p.emitStateChanged()
		return
	}
	p.enterRunning()
}

func (p *Pool) enterRunning() {
	p.state = StateRunning
	p.emitStateChanged()
	p.driver.ReplanNow(p.currentDemand())
}

func (p *Pool) maybeForgetBackend(key string) {
	entry, ok := p.backends[key]
	if !ok || !entry.removed {
		return
	}
	for _, rec := range p.slots {
		if rec.backendKey == key {
			return
		}
	}
	if _, ok := p.monitors[key]; ok {
		return
	}
	delete(p.backends, key)
}

// --- rebalancer wiring -------------------------------------------------

func (p *Pool) buildSnapshot() rebalance.Snapshot {
	var healthy []string
	var deadNeedingMonitor []string
	for key, b := range p.backends {
		if b.removed {
			continue
		}
		switch b.health {
		case backendHealthy:
			healthy = append(healthy, key)
		case backendDead:
			if _, hasMonitor := p.monitors[key]; !hasMonitor {
				deadNeedingMonitor = append(deadNeedingMonitor, key)
			}
		}
	}
	sort.Strings(healthy)
	sort.Strings(deadNeedingMonitor)

	slots := make([]rebalance.SlotSnapshot, 0, len(p.slots))
	ids := make([]string, 0, len(p.slots))
	for id := range p.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := p.slots[id]
		st, ok := toRebalanceState(rec.slot.State())
		if !ok {
			continue
		}
		slots = append(slots, rebalance.SlotSnapshot{ID: id, BackendKey: rec.backendKey, State: st})
	}

	return rebalance.Snapshot{
		HealthyBackends:            healthy,
		DeadBackendsNeedingMonitor: deadNeedingMonitor,
		Slots:                      slots,
	}
}

func toRebalanceState(s slot.State) (rebalance.SlotState, bool) {
	switch s {
	case slot.StateStarting:
		return rebalance.SlotStarting, true
	case slot.StateIdle:
		return rebalance.SlotIdle, true
	case slot.StateClaimed:
		return rebalance.SlotClaimed, true
	default:
		return 0, false
	}
}

func (p *Pool) applyActions(actions []rebalance.Action) {
	for _, a := range actions {
		switch a.Kind {
		case rebalance.ActionCreate:
			if p.state == StateStopping || p.state == StateStopped {
				continue
			}
			p.createSlot(a.BackendKey, slot.ModeNormal)
		case rebalance.ActionCreateMonitor:
			if p.state == StateStopping || p.state == StateStopped {
				continue
			}
			p.createMonitor(a.BackendKey)
		case rebalance.ActionMarkUnwanted:
			if rec, ok := p.slots[a.SlotID]; ok {
				rec.slot.SetUnwanted()
			}
		}
	}
}

func (p *Pool) createMonitor(backendKey string) {
	if _, exists := p.monitors[backendKey]; exists {
		return
	}
	p.createSlotInternal(backendKey, slot.ModeMonitor)
}

func (p *Pool) createSlot(backendKey string, mode slot.Mode) {
	p.createSlotInternal(backendKey, mode)
}

func (p *Pool) createSlotInternal(backendKey string, mode slot.Mode) {
	p.nextSlot++
	id := fmt.Sprintf("slot-%d", p.nextSlot)

	schedule := p.cfg.recovery.NewSchedule("connect")
	if mode == slot.ModeMonitor {
		schedule = schedule.Monitor(p.cfg.checkTimeout)
	}

	s := slot.New(slot.Config{
		Clock:             p.clk,
		Post:              p.post,
		NewConn:           p.cfg.constructor,
		BackendKey:        backendKey,
		Mode:              mode,
		Schedule:          schedule,
		MaxChainedBackoff: p.cfg.maxChainedBackoff,
		OnIdle:             func(sl *slot.Slot) { p.onSlotIdle(id, sl) },
		OnExhausted:        func(sl *slot.Slot) { p.onSlotExhausted(id, sl) },
		OnClosing:          func(sl *slot.Slot) { p.onSlotClosing(id, sl) },
		OnStopped:          func(sl *slot.Slot) { p.onSlotStopped(id, sl) },
		OnMonitorRecovered: func(sl *slot.Slot) { p.onMonitorRecovered(id, sl) },
	})

	rec := &slotRecord{id: id, backendKey: backendKey, mode: mode, slot: s}
	if mode == slot.ModeMonitor {
		p.monitors[backendKey] = rec
	} else {
		p.slots[id] = rec
	}
	s.Start()
}

// --- slot callbacks -------------------------------------------------

func (p *Pool) onSlotIdle(id string, sl *slot.Slot) {
	p.readyOrder = append(p.readyOrder, id)
	// A slot holds one connection for its whole life, so its first idle is
	// the moment that connection was established; later ones are releases.
	firstIdle := true
	if rec, ok := p.slots[id]; ok {
		firstIdle = rec.idleSince.IsZero()
		rec.idleSince = p.clk.Now()
	}
	if firstIdle {
		p.emit(Event{Kind: EventConnectedToBackend, BackendKey: sl.BackendKey()})
	}
	p.tryMatch()
	p.driver.Trigger(p.currentDemand())
}

func (p *Pool) onSlotExhausted(id string, sl *slot.Slot) {
	backendKey := sl.BackendKey()
	entry, ok := p.backends[backendKey]
	if ok && entry.health != backendDead {
		entry.health = backendDead
		entry.deadSince = p.clk.Now()
		for _, other := range p.slots {
			if other.backendKey == backendKey {
				other.slot.SetUnwanted()
			}
		}
		p.maybeEnterFailed()
	}
	p.driver.ReplanNow(p.currentDemand())
}

func (p *Pool) maybeEnterFailed() {
	if p.state != StateRunning {
		return
	}
	any := false
	allDead := true
	for _, b := range p.backends {
		if b.removed {
			continue
		}
		any = true
		if b.health != backendDead {
			allDead = false
			break
		}
	}
	if any && allDead {
		p.enterFailed()
	}
}

func (p *Pool) enterFailed() {
	p.state = StateFailed
	p.emitStateChanged()
	p.cfg.resolver.RefreshHint()
	for {
		h := p.queue.PopFront()
		if h == nil {
			break
		}
		err := ErrPoolFailed
		if !p.everHadBackend {
			err = ErrNoBackends
		}
		h.Fail(err)
		p.resolveClaim(h.ID(), nil, err)
	}
}

func (p *Pool) onMonitorRecovered(id string, sl *slot.Slot) {
	backendKey := sl.BackendKey()
	if entry, ok := p.backends[backendKey]; ok {
		entry.health = backendHealthy
	}
	if p.state == StateFailed {
		p.state = StateRunning
		p.emitStateChanged()
	}
	p.driver.ReplanNow(p.currentDemand())
}

func (p *Pool) onSlotClosing(id string, sl *slot.Slot) {
	p.removeReady(id)
	p.emit(Event{Kind: EventClosedConnection, BackendKey: sl.BackendKey()})
}

func (p *Pool) onSlotStopped(id string, sl *slot.Slot) {
	backendKey := sl.BackendKey()
	if sl.Mode() == slot.ModeMonitor {
		if rec, ok := p.monitors[backendKey]; ok && rec.id == id {
			delete(p.monitors, backendKey)
		}
	} else {
		delete(p.slots, id)
		p.removeReady(id)
	}
	p.maybeForgetBackend(backendKey)
	p.checkStoppingDrained()
	p.driver.Trigger(p.currentDemand())
}

// --- decoherence -------------------------------------------------

func (p *Pool) armDecoherenceTimer() {
	if p.cfg.decoherenceInterval <= 0 {
		return
	}
	n := len(p.slots)
	if n == 0 {
		n = 1
	}
	next := p.cfg.decoherenceInterval / time.Duration(n)
	if next <= 0 {
		next = p.cfg.decoherenceInterval
	}
	p.decoherenceTimer = p.clk.AfterFunc(next, func() {
		p.post(p.decohereOne)
	})
}

func (p *Pool) decohereOne() {
	if p.state != StateRunning {
		p.armDecoherenceTimer()
		return
	}
	var candidates []*slotRecord
	backendSet := map[string]struct{}{}
	for _, rec := range p.slots {
		if rec.slot.State() == slot.StateIdle && !rec.slot.Unwanted() {
			candidates = append(candidates, rec)
			backendSet[rec.backendKey] = struct{}{}
		}
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })
		backendKeys := make([]string, 0, len(backendSet))
		for k := range backendSet {
			backendKeys = append(backendKeys, k)
		}
		sort.Strings(backendKeys)
		// The rendezvous hash over (pool selection key, backend key) picks
		// which backend gives up a slot this round; ties within that backend
		// break by slot id, the same stable order the rebalancer itself uses.
		targetBackend := hashrank.Best(p.cfg.domain, backendKeys)
		for _, rec := range candidates {
			if rec.backendKey == targetBackend {
				rec.slot.SetUnwanted()
				break
			}
		}
		p.driver.Trigger(p.currentDemand())
	}
	p.armDecoherenceTimer()
}

// --- max-idle sweep -------------------------------------------------

// maxIdleSweepInterval is how often the pool checks ready slots against the
// overload controller's current GetMaxIdle ceiling. It is independent of
// decoherence, which is optional; this sweep always runs.
const maxIdleSweepInterval = time.Second

func (p *Pool) armMaxIdleSweep() {
	if p.state == StateStopping || p.state == StateStopped {
		return
	}
	p.maxIdleTimer = p.clk.AfterFunc(maxIdleSweepInterval, func() {
		p.post(p.sweepMaxIdle)
	})
}

func (p *Pool) sweepMaxIdle() {
	maxIdle := p.codelCtrl.GetMaxIdle()
	if maxIdle > 0 {
		now := p.clk.Now()
		for _, id := range p.readyOrder {
			rec, ok := p.slots[id]
			if !ok || rec.slot.Unwanted() {
				continue
			}
			if now.Sub(rec.idleSince) >= maxIdle {
				rec.slot.SetUnwanted()
			}
		}
	}
	p.armMaxIdleSweep()
}

// --- claim handle -------------------------------------------------

// ClaimHandle wraps a successfully claimed connection. Release must be
// called exactly once when the caller is done with Conn.
type ClaimHandle struct {
	pool *Pool
	id   uint64
	conn conn.Conn

	released   bool
	releaseErr error
}

// Conn returns the claimed connection. Valid for the life of the handle.
func (ch *ClaimHandle) Conn() conn.Conn { return ch.conn }

// Release returns the connection to the pool. ok=true means the caller
// observed it as healthy; ok=false means the caller observed it as broken.
// Idempotent: a second call returns the first call's outcome without
// touching the slot again.
func (ch *ClaimHandle) Release(ok bool) error {
	if ch.released {
		return ch.releaseErr
	}
	resultCh := make(chan error, 1)
	ch.pool.post(func() {
		resultCh <- ch.pool.releaseActive(ch.id, ok)
	})
	err := <-resultCh
	ch.released = true
	ch.releaseErr = err
	return err
}
