package service

import (
	"context"
	"sync"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/ethereum/go-ethereum/core/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
	"golang.org/x/sync/errgroup"
)

const logsBuffer = 64

// Listener feeds contract logs into the ingestor: first the ones emitted since
// the last handled block, then the live subscription.
type Listener struct {
	log         *logan.Entry
	chain       LiveChain
	ingestor    *Ingestor
	block       data.LastBlock
	blockRange  uint64
	concurrency int
}

func NewListener(log *logan.Entry, c LiveChain, ingestor *Ingestor, block data.LastBlock, blockRange uint64, concurrency int) *Listener {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Listener{
		log:         log.WithField("runner", "listener"),
		chain:       c,
		ingestor:    ingestor,
		block:       block,
		blockRange:  blockRange,
		concurrency: concurrency,
	}
}

// Run subscribes before catching up, so nothing emitted in between is lost. It
// returns when the subscription fails or ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	logs := make(chan types.Log, logsBuffer)
	sub, err := l.chain.SubscribeEvents(ctx, logs, chain.OrderEvents...)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to order events")
	}
	defer sub.Unsubscribe()

	handlers := new(errgroup.Group)
	handlers.SetLimit(l.concurrency)
	defer func() { _ = handlers.Wait() }()
	inFlight := newWatermark()

	if err = l.catchUp(ctx); err != nil {
		return errors.Wrap(err, "failed to catch up")
	}

	l.log.Info("listening to order events")
	for {
		select {
		case raw := <-logs:
			inFlight.start(raw.BlockNumber)
			handlers.Go(func() error {
				l.ingestor.HandleLog(ctx, raw)
				l.saveBlock(inFlight.done(raw.BlockNumber))
				return nil
			})
		case err = <-sub.Err():
			return errors.Wrap(err, "subscription error occurred")
		case <-ctx.Done():
			return nil
		}
	}
}

// catchUp replays stored block..head in windows of blockRange. The stored block
// is replayed too, since it might have been handled only partially.
func (l *Listener) catchUp(ctx context.Context) error {
	head, err := l.chain.HeadBlock(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get latest block from the network")
	}

	last, err := l.block.Get()
	if err != nil {
		return errors.Wrap(err, "failed to get last block")
	}
	if last == nil {
		l.log.WithField("block", head).Info("no saved block, starting from the head")
		return errors.Wrap(l.block.Set(head), "failed to save last block")
	}
	if *last > head {
		return errors.Errorf("saved_last_block=%d is greater than network_latest_block=%d", *last, head)
	}

	for _, w := range blockWindows(*last, head, l.blockRange) {
		to := w.to
		logs, err := l.chain.FilterEvents(ctx, w.from, &to, chain.OrderEvents...)
		if err != nil {
			return errors.Wrap(err, "failed to filter order events", logan.F{"from": w.from, "to": w.to})
		}

		for _, raw := range logs {
			l.ingestor.HandleLog(ctx, raw)
		}
		l.saveBlock(w.to)
		l.log.WithFields(logan.F{"from": w.from, "to": w.to, "logs": len(logs)}).Debug("caught up window")
	}

	l.log.WithFields(logan.F{"from": *last, "to": head}).Info("caught up with the chain")
	return nil
}

func (l *Listener) saveBlock(number uint64) {
	if err := l.block.Set(number); err != nil {
		l.log.WithError(err).WithField("block", number).Error("failed to save last block")
	}
}

type blockWindow struct {
	from, to uint64
}

// blockWindows splits [from, to] into inclusive windows of at most size blocks.
// A zero size yields a single window.
func blockWindows(from, to, size uint64) []blockWindow {
	if from > to {
		return nil
	}
	if size == 0 {
		return []blockWindow{{from: from, to: to}}
	}

	var windows []blockWindow
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		windows = append(windows, blockWindow{from: start, to: end})
		if end == to {
			break
		}
	}
	return windows
}

// watermark tracks blocks whose logs are still being handled. The block it
// reports is safe to resume from: every lower block is fully handled, and the
// block itself is replayed by catch-up.
type watermark struct {
	mu      sync.Mutex
	pending map[uint64]int
	highest uint64
}

func newWatermark() *watermark {
	return &watermark{pending: make(map[uint64]int)}
}

func (w *watermark) start(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[block]++
}

func (w *watermark) done(block uint64) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[block]--
	if w.pending[block] <= 0 {
		delete(w.pending, block)
	}
	if block > w.highest {
		w.highest = block
	}

	safe := w.highest
	for pending := range w.pending {
		if pending < safe {
			safe = pending
		}
	}
	return safe
}
