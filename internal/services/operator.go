package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ledger_operator/internal/ledger"
	"ledger_operator/internal/metrics"
	"ledger_operator/internal/models"
	"ledger_operator/internal/repository"

	"github.com/ethereum/go-ethereum"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const mailboxSize = 256

// Chain is the source of on-chain revenue.
type Chain interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
	GetTransferEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.TransferEvent, error)
	SubscribeTransferEvents(ctx context.Context, sink chan<- models.TransferEvent) (ethereum.Subscription, error)
}

// Channel is the source of membership and off-chain revenue commands.
type Channel interface {
	SubscribeCommands(ctx context.Context, sink chan<- models.Command) (ethereum.Subscription, error)
}

type OperatorConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Chain   Chain
	Channel Channel
	Store   repository.LedgerRepository

	ContractAddress string
	StartBlock      uint64
	// Confirmations is how deep a block must be before its transfers are credited.
	Confirmations uint64

	// CheckpointInterval of zero disables periodic state saves.
	CheckpointInterval time.Duration
	// ResyncSchedule is a cron expression with a seconds field; empty disables scheduled playback.
	ResyncSchedule        string
	BlockSnapshotInterval uint64
	SnapshotShortcut      bool
	// TokenDecimals only affects how amounts are logged.
	TokenDecimals int

	MaxRetries           uint
	RetryInitialInterval time.Duration
}

func (cfg *OperatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain is required")
	}
	if cfg.Channel == nil {
		return errors.New("channel is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ContractAddress == "" {
		return errors.New("contract address is required")
	}
	if cfg.CheckpointInterval < 0 {
		return errors.New("checkpoint interval must not be negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return nil
}

type job struct {
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// Operator owns the ledger. Every mutation runs as a job on a single loop goroutine;
// chain and channel subscriptions only enqueue jobs.
type Operator struct {
	log         *slog.Logger
	cfg         OperatorConfig
	retry       retryPolicy
	checkpoints *Checkpointer

	mailbox   chan job
	loopDone  chan struct{}
	phase     atomic.Int32
	listening atomic.Bool

	// Owned by the loop goroutine once Start returns.
	ledger *ledger.Ledger
	cursor models.LedgerState

	viewMu sync.RWMutex
	view   models.LedgerState

	runCancel    context.CancelFunc
	listenCancel context.CancelFunc
	listeners    sync.WaitGroup
	cron         *cron.Cron

	stopOnce sync.Once
	stopErr  error
}

func NewOperator(cfg OperatorConfig) (*Operator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy := retryPolicy{
		maxTries:        cfg.MaxRetries,
		initialInterval: cfg.RetryInitialInterval,
		log:             cfg.Logger,
	}
	return &Operator{
		log:         cfg.Logger,
		cfg:         cfg,
		retry:       policy,
		checkpoints: NewCheckpointer(cfg.Logger, cfg.Store, cfg.Clock, cfg.BlockSnapshotInterval, policy),
		mailbox:     make(chan job, mailboxSize),
		loopDone:    make(chan struct{}),
		ledger:      ledger.New(),
	}, nil
}

// Start loads the last checkpoint, plays back up to the confirmed head and starts listening.
// Any failure is returned as a *StartupError.
func (o *Operator) Start(ctx context.Context) error {
	if !o.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseLoading)) {
		return &StartupError{Err: errors.New("operator already started")}
	}
	metrics.Phase.Set(float64(PhaseLoading))

	if err := o.load(ctx); err != nil {
		o.setPhase(PhaseStopped)
		return &StartupError{Err: err}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	o.runCancel = runCancel
	go o.run(runCtx)

	if err := o.Sync(ctx); err != nil {
		o.halt()
		return &StartupError{Err: err}
	}

	listenCtx, listenCancel := context.WithCancel(runCtx)
	o.listenCancel = listenCancel
	if err := o.listen(listenCtx); err != nil {
		o.halt()
		return &StartupError{Err: err}
	}

	o.listening.Store(true)
	o.setPhase(PhaseListening)
	snapshot := o.Snapshot()
	o.log.Info("operator listening", "root_chain_block", snapshot.RootChainBlock, "members", len(snapshot.Balances))
	return nil
}

// Stop closes both subscriptions, lets the job in flight finish and saves a final checkpoint.
func (o *Operator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() {
		o.stopErr = o.stop(ctx)
	})
	return o.stopErr
}

func (o *Operator) stop(ctx context.Context) error {
	if o.runCancel == nil || o.Phase() == PhaseStopped {
		o.setPhase(PhaseStopped)
		return nil
	}
	o.listening.Store(false)
	if o.listenCancel != nil {
		o.listenCancel()
	}
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	o.listeners.Wait()

	err := o.submit(ctx, "save_state", o.saveState)
	o.halt()
	if err != nil {
		return fmt.Errorf("failed to save final state: %w", err)
	}
	o.log.Info("operator stopped")
	return nil
}

func (o *Operator) halt() {
	if o.listenCancel != nil {
		o.listenCancel()
	}
	o.runCancel()
	<-o.loopDone
	o.setPhase(PhaseStopped)
}

// SaveState checkpoints the current ledger and cursor.
func (o *Operator) SaveState(ctx context.Context) error {
	return o.submit(ctx, "save_state", o.saveState)
}

// Sync plays back from the cursor to the chain head observed now.
func (o *Operator) Sync(ctx context.Context) error {
	return o.submit(ctx, "sync", o.sync)
}

// Playback replays [fromBlock, toBlock]. Blocks the cursor already covers are skipped.
func (o *Operator) Playback(ctx context.Context, fromBlock, toBlock uint64) error {
	return o.submit(ctx, "playback", func(ctx context.Context) error {
		return o.playback(ctx, fromBlock, toBlock)
	})
}

// Snapshot returns a copy of the ledger as of the last completed job.
func (o *Operator) Snapshot() models.LedgerState {
	o.viewMu.RLock()
	defer o.viewMu.RUnlock()
	return o.view.Copy()
}

// Ready reports whether startup playback is done and both subscriptions are open.
func (o *Operator) Ready() bool {
	return o.listening.Load()
}

func (o *Operator) Phase() Phase {
	return Phase(o.phase.Load())
}

func (o *Operator) setPhase(p Phase) {
	o.phase.Store(int32(p))
	metrics.Phase.Set(float64(p))
}

func (o *Operator) load(ctx context.Context) error {
	state, err := o.checkpoints.LoadState(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		genesis := models.GenesisState(o.cfg.ContractAddress, o.cfg.StartBlock)
		state = &genesis
		o.log.Info("no checkpoint found, starting from genesis", "root_chain_block", state.RootChainBlock)
	} else if !strings.EqualFold(state.ContractAddress, o.cfg.ContractAddress) {
		return fmt.Errorf("%w: stored state is for contract %q, configured %q", ErrConfigurationMismatch, state.ContractAddress, o.cfg.ContractAddress)
	}

	l, err := ledger.FromState(state.Balances, state.Unallocated)
	if err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}
	o.ledger = l
	o.cursor = cursorOf(*state)
	o.log.Info("state loaded", "root_chain_block", o.cursor.RootChainBlock, "members", l.Len())

	if o.cfg.SnapshotShortcut {
		if err := o.adoptHeadSnapshot(ctx); err != nil {
			return err
		}
	}
	o.publishView()
	return nil
}

// adoptHeadSnapshot skips playback when the confirmed head was already committed by an earlier run.
func (o *Operator) adoptHeadSnapshot(ctx context.Context) error {
	head, ok, err := o.confirmedHead(ctx)
	if err != nil || !ok {
		return err
	}
	if int64(head) <= o.cursor.RootChainBlock {
		return nil
	}
	exists, err := o.checkpoints.BlockExists(ctx, head)
	if err != nil || !exists {
		return err
	}
	snapshot, err := o.checkpoints.LoadBlock(ctx, head)
	if err != nil {
		return err
	}
	l, err := ledger.FromState(snapshot.Balances, o.ledger.Unallocated().String())
	if err != nil {
		return fmt.Errorf("failed to restore block %d snapshot: %w", head, err)
	}
	cursor := o.cursor.Copy()
	cursor.RootChainBlock = int64(head)
	if err := o.checkpoints.SaveState(ctx, fullState(cursor, l)); err != nil {
		return err
	}
	o.ledger, o.cursor = l, cursor
	o.log.Info("adopted committed block snapshot", "block", head, "members", l.Len())
	return nil
}

func (o *Operator) run(ctx context.Context) {
	defer close(o.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.mailbox:
			o.handle(ctx, j)
		}
	}
}

func (o *Operator) handle(ctx context.Context, j job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v", j.name, r)
			}
		}()
		err = j.fn(ctx)
	}()

	if err != nil {
		metrics.MutationFailuresTotal.WithLabelValues(j.name).Inc()
		if j.done == nil {
			o.log.Error("ledger job failed", "job", j.name, "error", err)
		}
	}
	o.publishView()
	if o.listening.Load() {
		o.setPhase(PhaseListening)
	}
	if j.done != nil {
		j.done <- err
	}
}

// submit runs fn on the loop and waits for its result.
func (o *Operator) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	switch o.Phase() {
	case PhaseIdle, PhaseStopped:
		return ErrNotRunning
	}
	done := make(chan error, 1)
	if err := o.send(ctx, job{name: name, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.loopDone:
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

// enqueue hands fn to the loop without waiting for it to run.
func (o *Operator) enqueue(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return o.send(ctx, job{name: name, fn: fn})
}

func (o *Operator) send(ctx context.Context, j job) error {
	select {
	case o.mailbox <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.loopDone:
		return ErrStopped
	}
}

func (o *Operator) saveState(ctx context.Context) error {
	o.setPhase(PhaseCheckpointing)
	return o.checkpoints.SaveState(ctx, fullState(o.cursor, o.ledger))
}

func (o *Operator) publishView() {
	state := fullState(o.cursor, o.ledger)
	o.viewMu.Lock()
	o.view = state
	o.viewMu.Unlock()

	metrics.RootChainBlock.Set(float64(state.RootChainBlock))
	metrics.Members.Set(float64(len(state.Balances)))
}

func (o *Operator) latestBlock(ctx context.Context) (uint64, error) {
	head, err := retry(ctx, o.retry, "get block number", func() (uint64, error) {
		return o.cfg.Chain.GetLatestBlock(ctx)
	})
	if err != nil {
		return 0, unavailable("get block number", err)
	}
	return head, nil
}

// cursorOf keeps the synchronization fields of state and drops the balances.
func cursorOf(state models.LedgerState) models.LedgerState {
	cursor := state.Copy()
	cursor.Balances = nil
	cursor.Unallocated = ""
	return cursor
}

func fullState(cursor models.LedgerState, l *ledger.Ledger) models.LedgerState {
	state := cursor.Copy()
	state.Balances = l.Balances()
	state.Unallocated = l.Unallocated().String()
	return state
}
