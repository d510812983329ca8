// Package poller runs the per-wallet fetch → normalize → apply loop.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"solana-wallet-ledger/internal/domain"
	"solana-wallet-ledger/internal/faults"
	"solana-wallet-ledger/internal/helius"
	"solana-wallet-ledger/internal/observability"
	"solana-wallet-ledger/internal/solana"
)

// State is the poller's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateNormalizing
	StateApplying
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateNormalizing:
		return "normalizing"
	case StateApplying:
		return "applying"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Config tunes one poller.
type Config struct {
	PageSize     int           // signatures fetched per cycle
	MaxBatch     int           // signatures enriched per cycle
	Interval     time.Duration // sleep after a successful cycle
	ErrorBackoff time.Duration // sleep after a failed cycle
	CallTimeout  time.Duration // ceiling for each provider call
	ApplyTimeout time.Duration // ceiling for the apply phase, which ignores cancellation

	// MissingRetries is how many failed cycles a signature the enrichment
	// provider did not return may hold the cursor back. Negative disables it.
	MissingRetries int
}

// DefaultConfig returns the production polling cadence.
func DefaultConfig() Config {
	return Config{
		PageSize:     25,
		MaxBatch:     20,
		Interval:     15 * time.Second,
		ErrorBackoff: 20 * time.Second,
		CallTimeout:  20 * time.Second,
		ApplyTimeout: 2 * time.Minute,

		MissingRetries: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.MaxBatch
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = d.ApplyTimeout
	}
	if c.MissingRetries == 0 {
		c.MissingRetries = d.MissingRetries
	}
	if c.MissingRetries < 0 {
		c.MissingRetries = 0
	}
	return c
}

// Options contains the collaborators of a Poller.
type Options struct {
	Wallet       string
	Config       Config
	Signatures   SignatureSource
	Transactions TransactionSource
	Normalizer   EventNormalizer
	Ledger       EventApplier
	Cursors      CursorStore
	Logger       *zap.Logger
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	CycleID      string
	Fetched      int    // signatures in the page
	Batch        int    // signatures processed this cycle
	Transactions int    // enriched transactions returned
	Events       int    // swap events found
	Applied      int    // events booked
	Duplicates   int    // events already booked earlier
	Cursor       string // cursor after the cycle
}

// Status is a snapshot for operators.
type Status struct {
	Wallet            string `json:"wallet"`
	State             string `json:"state"`
	LastCycleAt       int64  `json:"last_cycle_at"` // Unix milliseconds, 0 before the first cycle
	LastSuccessAt     int64  `json:"last_success_at"`
	LastError         string `json:"last_error,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

// Poller tracks one wallet. It never stops on errors; only cancellation ends Run.
type Poller struct {
	wallet       string
	cfg          Config
	signatures   SignatureSource
	transactions TransactionSource
	normalizer   EventNormalizer
	ledger       EventApplier
	cursors      CursorStore
	logger       *zap.Logger

	state atomic.Int32
	wake  chan struct{}

	// missing counts cycles each unreturned signature has held back. Only Cycle touches it.
	missing map[string]int

	mu                sync.Mutex
	lastCycleAt       int64
	lastSuccessAt     int64
	lastErr           string
	consecutiveErrors int
}

// New creates a Poller.
func New(opts Options) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		wallet:       opts.Wallet,
		cfg:          opts.Config.withDefaults(),
		signatures:   opts.Signatures,
		transactions: opts.Transactions,
		normalizer:   opts.Normalizer,
		ledger:       opts.Ledger,
		cursors:      opts.Cursors,
		logger:       logger.Named("poller").With(zap.String("wallet", opts.Wallet)),
		wake:         make(chan struct{}, 1),
		missing:      make(map[string]int),
	}
}

// Wallet returns the tracked address.
func (p *Poller) Wallet() string {
	return p.wallet
}

// State returns the current state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Refresh wakes a sleeping poller. Calls while a wakeup is pending coalesce.
func (p *Poller) Refresh() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the poller.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Wallet:            p.wallet,
		State:             p.State().String(),
		LastCycleAt:       p.lastCycleAt,
		LastSuccessAt:     p.lastSuccessAt,
		LastError:         p.lastErr,
		ConsecutiveErrors: p.consecutiveErrors,
	}
}

// Run loops until ctx is cancelled and returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started")
	defer func() {
		p.setState(StateStopped)
		p.logger.Info("poller stopped")
	}()

	for {
		p.setState(StateIdle)
		_, err := p.Cycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := p.cfg.Interval
		if err != nil {
			delay = p.cfg.ErrorBackoff
			p.logger.Warn("poll cycle failed",
				zap.String("kind", faults.Kind(err)),
				zap.Duration("backoff", delay),
				zap.Error(err))
		}

		p.setState(StateSleeping)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Cycle runs one fetch → normalize → apply pass. The cursor moves only after
// every event of the batch was applied.
func (p *Poller) Cycle(ctx context.Context) (res CycleResult, err error) {
	res.CycleID = uuid.NewString()
	started := time.Now()
	logger := p.logger.With(zap.String("cycle_id", res.CycleID))

	defer func() {
		p.recordCycle(started, err)
		result := "ok"
		if err != nil {
			result = faults.Kind(err)
		}
		observability.RecordPollCycle(result, time.Since(started).Seconds(), res.Fetched)
	}()

	p.setState(StateFetching)
	cursor, err := p.cursors.GetCursor(ctx, p.wallet)
	if err != nil {
		return res, faults.Persistence("get cursor", err)
	}
	res.Cursor = cursor

	page, err := p.fetchPage(ctx)
	if err != nil {
		return res, err
	}
	res.Fetched = len(page)

	batch := Batch(Delta(page, cursor), p.cfg.MaxBatch)
	res.Batch = len(batch)
	if len(batch) == 0 {
		return res, nil
	}
	newest := batch[0].Signature

	p.setState(StateNormalizing)
	events, txCount, err := p.collectEvents(ctx, batch)
	if err != nil {
		return res, err
	}
	res.Transactions = txCount
	res.Events = len(events)

	// Once fetched, the batch is applied to completion even if ctx is cancelled.
	p.setState(StateApplying)
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ApplyTimeout)
	defer cancel()

	for _, ev := range events {
		r, err := p.ledger.Apply(applyCtx, ev)
		if err != nil {
			return res, errors.Wrapf(err, "apply %s#%d", ev.TxSignature, ev.EventIndex)
		}
		if r.Duplicate {
			res.Duplicates++
		} else {
			res.Applied++
		}
	}

	if err := p.cursors.SetCursor(applyCtx, p.wallet, newest); err != nil {
		return res, faults.Persistence("set cursor", err)
	}
	res.Cursor = newest

	logger.Info("poll cycle applied",
		zap.Int("fetched", res.Fetched),
		zap.Int("batch", res.Batch),
		zap.Int("events", res.Events),
		zap.Int("applied", res.Applied),
		zap.Int("duplicates", res.Duplicates),
		zap.String("cursor", newest))
	return res, nil
}

func (p *Poller) fetchPage(ctx context.Context) ([]solana.SignatureInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	page, err := p.signatures.GetSignaturesForAddress(callCtx, p.wallet, &solana.SignaturesOpts{Limit: p.cfg.PageSize})
	observability.RecordProviderCall("rpc", "getSignaturesForAddress", time.Since(started).Seconds(), err)
	if err != nil {
		return nil, faults.Transient("rpc", "getSignaturesForAddress", err)
	}
	return page, nil
}

// collectEvents enriches the successful signatures of batch and returns their
// swap events oldest first. Failed signatures still count as processed.
func (p *Poller) collectEvents(ctx context.Context, batch []solana.SignatureInfo) ([]domain.SwapEvent, int, error) {
	slots := make(map[string]int64, len(batch))
	var sigs []string
	for _, s := range batch {
		if s.Failed() {
			continue
		}
		slots[s.Signature] = s.Slot
		sigs = append(sigs, s.Signature)
	}
	if len(sigs) == 0 {
		return nil, 0, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	txs, err := p.transactions.GetTransactions(callCtx, sigs)
	if err != nil {
		if faults.IsTransient(err) {
			return nil, 0, err
		}
		return nil, 0, faults.Transient("helius", "transactions", err)
	}

	if err := p.checkMissing(sigs, txs); err != nil {
		return nil, len(txs), err
	}

	var events []domain.SwapEvent
	for i := range txs {
		tx := &txs[i]
		slot, requested := slots[tx.Signature]
		if !requested {
			continue
		}
		for _, ev := range p.normalizer.Normalize(tx, p.wallet) {
			if ev.Slot == 0 {
				ev.Slot = slot
			}
			events = append(events, ev)
		}
	}

	SortEvents(events, ageRank(batch))
	return events, len(txs), nil
}

// checkMissing fails the cycle while a requested signature is absent from the
// enrichment response and still has retries left. Once a signature runs out of
// retries it is skipped and the cursor may pass it.
func (p *Poller) checkMissing(requested []string, txs []helius.EnhancedTransaction) error {
	returned := make(map[string]struct{}, len(txs))
	for i := range txs {
		returned[txs[i].Signature] = struct{}{}
	}

	var missing, exhausted []string
	for _, sig := range requested {
		if _, ok := returned[sig]; ok {
			continue
		}
		p.missing[sig]++
		if p.missing[sig] > p.cfg.MissingRetries {
			exhausted = append(exhausted, sig)
			continue
		}
		missing = append(missing, sig)
	}

	if len(missing) > 0 {
		return faults.Transient("helius", "transactions",
			errors.Errorf("%d of %d signatures not returned, first %s", len(missing), len(requested), missing[0]))
	}
	if len(exhausted) > 0 {
		p.logger.Warn("skipping signatures the enrichment provider never returned",
			zap.Strings("signatures", exhausted),
			zap.Int("attempts", p.cfg.MissingRetries+1))
	}
	for _, sig := range requested {
		delete(p.missing, sig)
	}
	return nil
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

func (p *Poller) recordCycle(started time.Time, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastCycleAt = started.UnixMilli()
	if err != nil {
		p.lastErr = err.Error()
		p.consecutiveErrors++
		return
	}
	p.lastErr = ""
	p.consecutiveErrors = 0
	p.lastSuccessAt = started.UnixMilli()
	observability.RecordSuccessfulCycle(started.Unix())
}
