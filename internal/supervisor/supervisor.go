// Package supervisor keeps one poller running per tracked wallet.
package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/poller"
	"solana-wallet-ledger/internal/solana"
)

// DefaultReconcileInterval is how often the watchlist is re-read.
const DefaultReconcileInterval = 30 * time.Second

// AddressSource lists every tracked wallet address.
type AddressSource interface {
	DistinctAddresses(ctx context.Context) ([]string, error)
}

// Tracker is the per-wallet worker the supervisor runs.
type Tracker interface {
	Run(ctx context.Context) error
	Refresh()
	Status() poller.Status
}

// TrackerFactory builds the tracker for one address.
type TrackerFactory func(address string) Tracker

// Options contains the collaborators of a Supervisor.
type Options struct {
	Addresses         AddressSource
	NewTracker        TrackerFactory
	WS                solana.WSClient // optional push wakeups
	ReconcileInterval time.Duration
	Logger            *zap.Logger
}

type task struct {
	tracker Tracker
	cancel  context.CancelFunc
	done    chan struct{}
	wsDone  chan struct{} // nil without a websocket client

	subMu   sync.Mutex
	sub     *solana.LogSubscription
	stopped bool // guarded by subMu
}

func (t *task) exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Supervisor reconciles running trackers against the watchlist.
type Supervisor struct {
	addresses  AddressSource
	newTracker TrackerFactory
	ws         solana.WSClient
	interval   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	invalid map[string]struct{} // addresses already warned about
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.ReconcileInterval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Supervisor{
		addresses:  opts.Addresses,
		newTracker: opts.NewTracker,
		ws:         opts.WS,
		interval:   interval,
		logger:     logger.Named("supervisor"),
		tasks:      make(map[string]*task),
		invalid:    make(map[string]struct{}),
	}
}

// Run reconciles immediately and then every interval until ctx is cancelled.
// On return every tracker has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started", zap.Duration("interval", s.interval))
	defer s.stopAll()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("reconcile failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reconcile starts trackers for new addresses, cancels trackers of removed
// addresses and restarts trackers that exited. On a read error the running
// set is left as is.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	addrs, err := s.addresses.DistinctAddresses(ctx)
	if err != nil {
		return faults.Persistence("list tracked addresses", err)
	}

	want := make(map[string]struct{}, len(addrs))
	for _, address := range addrs {
		if err := solana.ValidateWalletAddress(address); err != nil {
			s.warnInvalid(address, err)
			continue
		}
		want[address] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for address, t := range s.tasks {
		if _, ok := want[address]; !ok {
			s.stop(t)
			delete(s.tasks, address)
			s.logger.Info("tracker stopped", zap.String("wallet", address))
		}
	}

	for address := range want {
		if t, ok := s.tasks[address]; ok {
			if !t.exited() {
				continue
			}
			s.stop(t)
			s.logger.Warn("tracker exited, restarting", zap.String("wallet", address))
		}
		s.tasks[address] = s.start(ctx, address)
	}

	observability.SetActivePollers(len(s.tasks))
	return nil
}

// Refresh wakes the tracker of address. It reports false when address is not tracked.
func (s *Supervisor) Refresh(address string) bool {
	s.mu.Lock()
	t, ok := s.tasks[address]
	s.mu.Unlock()
	if !ok {
		return false
	}
	observability.RecordWakeup("manual")
	t.tracker.Refresh()
	return true
}

// Running returns the tracked addresses, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.tasks))
	for address := range s.tasks {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// Statuses returns a snapshot of every tracker, sorted by wallet.
func (s *Supervisor) Statuses() []poller.Status {
	s.mu.Lock()
	trackers := make([]Tracker, 0, len(s.tasks))
	for _, t := range s.tasks {
		trackers = append(trackers, t.tracker)
	}
	s.mu.Unlock()

	out := make([]poller.Status, 0, len(trackers))
	for _, tr := range trackers {
		out = append(out, tr.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// start launches a tracker. The logs subscription is made by the task's own
// goroutine so a slow websocket never holds s.mu. Caller holds s.mu.
func (s *Supervisor) start(ctx context.Context, address string) *task {
	tctx, cancel := context.WithCancel(ctx)
	t := &task{
		tracker: s.newTracker(address),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	logger := s.logger.With(zap.String("wallet", address))

	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tracker panicked", zap.Any("panic", r))
			}
		}()
		if err := t.tracker.Run(tctx); err != nil && tctx.Err() == nil {
			logger.Error("tracker exited", zap.Error(err))
		}
	}()

	if s.ws != nil {
		t.wsDone = make(chan struct{})
		go s.subscribe(tctx, t, address, logger)
	}

	logger.Info("tracker started")
	return t
}

// subscribe attaches push wakeups to t. A subscription that completes after
// the task was stopped is released at once.
func (s *Supervisor) subscribe(ctx context.Context, t *task, address string, logger *zap.Logger) {
	defer close(t.wsDone)

	sub, err := s.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{address}})
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("logs subscription failed, polling only", zap.Error(err))
		}
		return
	}

	t.subMu.Lock()
	if t.stopped {
		t.subMu.Unlock()
		s.unsubscribe(sub)
		return
	}
	t.sub = sub
	t.subMu.Unlock()

	forward(ctx, sub, t.tracker)
}

// stop cancels a tracker without waiting for it. Caller holds s.mu.
func (s *Supervisor) stop(t *task) {
	t.cancel()

	t.subMu.Lock()
	t.stopped = true
	sub := t.sub
	t.sub = nil
	t.subMu.Unlock()

	if sub != nil {
		s.unsubscribe(sub)
	}
}

func (s *Supervisor) unsubscribe(sub *solana.LogSubscription) {
	if err := s.ws.Unsubscribe(context.Background(), sub); err != nil {
		s.logger.Debug("unsubscribe failed", zap.Error(err))
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	dones := make([]chan struct{}, 0, 2*len(s.tasks))
	for address, t := range s.tasks {
		s.stop(t)
		dones = append(dones, t.done)
		if t.wsDone != nil {
			dones = append(dones, t.wsDone)
		}
		delete(s.tasks, address)
	}
	s.mu.Unlock()

	for _, done := range dones {
		<-done
	}
	observability.SetActivePollers(0)
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) warnInvalid(address string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.invalid[address]; seen {
		return
	}
	s.invalid[address] = struct{}{}
	s.logger.Warn("skipping invalid wallet address", zap.String("wallet", address), zap.Error(err))
}

// forward turns log notifications into wakeups until the subscription or ctx ends.
func forward(ctx context.Context, sub *solana.LogSubscription, tr Tracker) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			observability.RecordWakeup("ws")
			tr.Refresh()
		}
	}
}
