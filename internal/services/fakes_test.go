package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"ledger_operator/internal/models"
	"ledger_operator/internal/repository"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	contractAddress = "0xc0ffee254729296a45a3885639ac7e10f9d54979"
	addrA           = "0x2f428050ea2448ed2e4409be47e1a50ebac0b2d2"
	addrB           = "0xb3428050ea2448ed2e4409be47e1a50ebac0b2d2"
	addrC           = "0x5ffe8050112448ed2e4409be47e1a50ebac0b299"
)

var errUnavailable = errors.New("connection refused")

type blockRange struct {
	from, to uint64
}

type fakeChain struct {
	mu         sync.Mutex
	head       uint64
	events     []models.TransferEvent
	ranges     []blockRange
	fetchErr   error
	subscribed int
	sink       chan<- models.TransferEvent
	drop       chan error
}

func newFakeChain(head uint64, events ...models.TransferEvent) *fakeChain {
	c := &fakeChain{head: head, drop: make(chan error, 1)}
	c.addEvents(events...)
	return c
}

func (c *fakeChain) addEvents(events ...models.TransferEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	sort.Slice(c.events, func(i, j int) bool {
		return c.events[j].Position().After(c.events[i].Position())
	})
}

// reorg replaces the canonical history.
func (c *fakeChain) reorg(events ...models.TransferEvent) {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
	c.addEvents(events...)
}

func (c *fakeChain) setHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *fakeChain) setFetchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

func (c *fakeChain) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) GetTransferEvents(ctx context.Context, fromBlock, toBlock uint64) ([]models.TransferEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = append(c.ranges, blockRange{fromBlock, toBlock})
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	var out []models.TransferEvent
	for _, ev := range c.events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeChain) SubscribeTransferEvents(ctx context.Context, sink chan<- models.TransferEvent) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed++
	c.sink = sink
	drop := c.drop
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case err := <-drop:
			return err
		case <-quit:
			return nil
		}
	}), nil
}

func (c *fakeChain) emit(t *testing.T, ev models.TransferEvent) {
	t.Helper()
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	require.NotNil(t, sink)
	sink <- ev
}

func (c *fakeChain) fetched() []blockRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]blockRange(nil), c.ranges...)
}

func (c *fakeChain) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

type fakeChannel struct {
	mu   sync.Mutex
	sink chan<- models.Command
	err  error
}

func (c *fakeChannel) SubscribeCommands(ctx context.Context, sink chan<- models.Command) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.sink = sink
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func (c *fakeChannel) emit(t *testing.T, cmd models.Command) {
	t.Helper()
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	require.NotNil(t, sink)
	sink <- cmd
}

type fakeStore struct {
	mu      sync.Mutex
	state   *models.LedgerState
	blocks  map[uint64]models.BlockSnapshot
	saves    int
	attempts int
	saveErr  error
}

func newFakeStore(state *models.LedgerState) *fakeStore {
	return &fakeStore{state: state, blocks: make(map[uint64]models.BlockSnapshot)}
}

func (s *fakeStore) LoadState(ctx context.Context) (*models.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, repository.ErrNotFound
	}
	state := s.state.Copy()
	return &state, nil
}

func (s *fakeStore) SaveState(ctx context.Context, state models.LedgerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.saveErr != nil {
		return s.saveErr
	}
	saved := state.Copy()
	s.state = &saved
	s.saves++
	return nil
}

func (s *fakeStore) LoadBlock(ctx context.Context, blockNumber uint64) (*models.BlockSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.blocks[blockNumber]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &snapshot, nil
}

func (s *fakeStore) SaveBlock(ctx context.Context, snapshot models.BlockSnapshot) error {
	return s.SaveBlocks(ctx, []models.BlockSnapshot{snapshot})
}

func (s *fakeStore) SaveBlocks(ctx context.Context, snapshots []models.BlockSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	for _, snapshot := range snapshots {
		if _, ok := s.blocks[snapshot.BlockNumber]; !ok {
			s.blocks[snapshot.BlockNumber] = snapshot
		}
	}
	return nil
}

func (s *fakeStore) BlockExists(ctx context.Context, blockNumber uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[blockNumber]
	return ok, nil
}

func (s *fakeStore) saved() (*models.LedgerState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, s.saves
	}
	state := s.state.Copy()
	return &state, s.saves
}

func (s *fakeStore) blockNumbers() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	numbers := make([]uint64, 0, len(s.blocks))
	for n := range s.blocks {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}

func (s *fakeStore) saveAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConfig(chain Chain, channel Channel, store repository.LedgerRepository) OperatorConfig {
	return OperatorConfig{
		Logger:               newTestLogger(),
		Clock:                clockwork.NewFakeClock(),
		Chain:                chain,
		Channel:              channel,
		Store:                store,
		ContractAddress:      contractAddress,
		StartBlock:           6,
		MaxRetries:           1,
		RetryInitialInterval: time.Millisecond,
	}
}

func startOperator(t *testing.T, cfg OperatorConfig) *Operator {
	t.Helper()
	op, err := NewOperator(cfg)
	require.NoError(t, err)
	require.NoError(t, op.Start(context.Background()))
	t.Cleanup(func() {
		_ = op.Stop(context.Background())
	})
	return op
}

func storedState(root int64, balances ...models.BalanceEntry) *models.LedgerState {
	return &models.LedgerState{
		ContractAddress: contractAddress,
		RootChainBlock:  root,
		Unallocated:     "0",
		Balances:        balances,
	}
}

func balance(address string, earnings int64) models.BalanceEntry {
	return models.BalanceEntry{Address: address, Earnings: big.NewInt(earnings).String(), Weight: 1}
}

func transfer(block uint64, index uint, amount int64) models.TransferEvent {
	return models.TransferEvent{
		BlockNumber: block,
		LogIndex:    index,
		From:        "0x0000000000000000000000000000000000000001",
		To:          contractAddress,
		Amount:      big.NewInt(amount),
	}
}
