package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/Swapica/order-ledger-svc/internal/metrics"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

func TestBlockWindows(t *testing.T) {
	cases := []struct {
		name           string
		from, to, size uint64
		expected       []blockWindow
	}{
		{"split", 10, 20, 5, []blockWindow{{10, 14}, {15, 19}, {20, 20}}},
		{"exact", 10, 19, 5, []blockWindow{{10, 14}, {15, 19}}},
		{"single block", 10, 10, 5, []blockWindow{{10, 10}}},
		{"no windowing", 10, 20, 0, []blockWindow{{10, 20}}},
		{"empty", 11, 10, 5, nil},
		{"top of range", math.MaxUint64 - 1, math.MaxUint64, 5, []blockWindow{{math.MaxUint64 - 1, math.MaxUint64}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, blockWindows(tc.from, tc.to, tc.size))
		})
	}
}

type listenerSuite struct {
	chain    *fakeChain
	orders   *memOrders
	block    *memBlock
	listener *Listener
}

func newListenerSuite(blockRange uint64) *listenerSuite {
	s := &listenerSuite{
		chain:  newFakeChain(),
		orders: newMemOrders(),
		block:  &memBlock{},
	}
	ledger := NewLedger(s.orders, newMemUsers(), &memRefreshTokens{})
	ingestor := NewIngestor(logan.New(), s.chain, chain.NewTokenDecimals(s.chain), ledger, testIngestorConfig(), metrics.New())
	s.listener = NewListener(logan.New(), s.chain, ingestor, s.block, blockRange, 4)
	return s
}

func (s *listenerSuite) status(id string) data.OrderStatus {
	order, _ := s.orders.Get(id)
	if order == nil {
		return ""
	}
	return order.Status
}

func TestCatchUpReplaysFromSavedBlock(t *testing.T) {
	s := newListenerSuite(10)
	s.chain.head = 120
	s.chain.logs = []types.Log{
		createdLog(t, 1, 100, 200, alice),
		cancelledLog(t, 1, 115),
	}
	s.chain.logs[0].BlockNumber = 100
	require.NoError(t, s.block.Set(100))

	require.NoError(t, s.listener.catchUp(context.Background()))

	assert.Equal(t, [][2]uint64{{100, 109}, {110, 119}, {120, 120}}, s.chain.windows)
	assert.Equal(t, data.OrderCancelled, s.status("1"))

	last, err := s.block.Get()
	require.NoError(t, err)
	assert.Equal(t, uint64(120), *last)
}

func TestCatchUpStartsFromHeadWithoutSavedBlock(t *testing.T) {
	s := newListenerSuite(10)
	s.chain.head = 77

	require.NoError(t, s.listener.catchUp(context.Background()))

	assert.Empty(t, s.chain.windows)
	last, err := s.block.Get()
	require.NoError(t, err)
	assert.Equal(t, uint64(77), *last)
}

func TestCatchUpRejectsSavedBlockAheadOfChain(t *testing.T) {
	s := newListenerSuite(10)
	s.chain.head = 5
	require.NoError(t, s.block.Set(6))

	assert.Error(t, s.listener.catchUp(context.Background()))
}

func TestRunHandlesLiveEvents(t *testing.T) {
	s := newListenerSuite(10)
	s.chain.head = 50

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.listener.Run(ctx) }()

	require.Eventually(t, func() bool {
		s.chain.mu.Lock()
		defer s.chain.mu.Unlock()
		return s.chain.sub != nil
	}, time.Second, 5*time.Millisecond)

	live := createdLog(t, 3, 100, 200, bob)
	live.BlockNumber = 60
	s.chain.sub.sink <- live

	require.Eventually(t, func() bool {
		last, _ := s.block.Get()
		return s.status("3") == data.OrderActive && last != nil && *last == 60
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRunReturnsOnSubscriptionError(t *testing.T) {
	s := newListenerSuite(10)

	done := make(chan error, 1)
	go func() { done <- s.listener.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		s.chain.mu.Lock()
		defer s.chain.mu.Unlock()
		return s.chain.sub != nil
	}, time.Second, 5*time.Millisecond)
	s.chain.sub.errs <- errors.New("websocket closed")

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "websocket closed")
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestWatermarkWaitsForLowerBlocks(t *testing.T) {
	w := newWatermark()
	w.start(10)
	w.start(10)
	w.start(11)
	w.start(12)

	assert.Equal(t, uint64(10), w.done(12))
	assert.Equal(t, uint64(10), w.done(10))
	assert.Equal(t, uint64(10), w.done(11), "block 10 still has a log in flight")
	assert.Equal(t, uint64(12), w.done(10))
}

func TestRunDoesNotSaveBlockPastUnfinishedHandler(t *testing.T) {
	s := newListenerSuite(10)
	s.chain.head = 50

	// order 4 is not stored yet, so the match at block 60 reads it from chain
	// and hangs there until released
	release := make(chan struct{})
	s.chain.addOrder(info(4, alice, 100, 200, 0, 0))
	s.chain.infoGates["4"] = release

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.listener.Run(ctx) }()

	require.Eventually(t, func() bool {
		s.chain.mu.Lock()
		defer s.chain.mu.Unlock()
		return s.chain.sub != nil
	}, time.Second, 5*time.Millisecond)

	slow := matchedLog(t, 4, 80, 40, 60)
	slow.BlockNumber = 60
	fast := createdLog(t, 3, 100, 200, bob)
	fast.BlockNumber = 61
	s.chain.sub.sink <- slow
	s.chain.sub.sink <- fast

	// block 61 is handled, but 60 is still in flight
	require.Eventually(t, func() bool {
		last, _ := s.block.Get()
		return s.status("3") == data.OrderActive && last != nil && *last == 60
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	last, err := s.block.Get()
	require.NoError(t, err)
	assert.Equal(t, uint64(60), *last)

	close(release)
	require.Eventually(t, func() bool {
		last, _ := s.block.Get()
		return last != nil && *last == 61
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
