package service

import (
	"context"
	"math/big"
	"time"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/config"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/Swapica/order-ledger-svc/internal/metrics"
	"github.com/Swapica/order-ledger-svc/internal/retry"
	"github.com/ethereum/go-ethereum/core/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const (
	outcomeCreated          = "created"
	outcomeAlreadyExisted   = "already_existed"
	outcomeUpdated          = "updated"
	outcomeCancelled        = "cancelled"
	outcomeCreatedCancelled = "created_cancelled"
	outcomeDropped          = "dropped"
	outcomeMalformed        = "malformed"
	outcomeRemoved          = "removed"
	outcomeFailed           = "failed"
	outcomePanicked         = "panicked"
)

// Ingestor applies live contract events to the ledger. Every handler is
// idempotent and tolerates the same order being written by other handlers or
// by the backfill at the same time. Failures never leave Handle.
type Ingestor struct {
	log      *logan.Entry
	chain    Chain
	decimals Decimals
	ledger   *Ledger
	cfg      config.Ingestor
	metrics  *metrics.Metrics
}

func NewIngestor(log *logan.Entry, c Chain, decimals Decimals, ledger *Ledger, cfg config.Ingestor, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		log:      log.WithField("runner", "ingestor"),
		chain:    c,
		decimals: decimals,
		ledger:   ledger,
		cfg:      cfg,
		metrics:  m,
	}
}

// HandleLog decodes a raw contract log and handles it. Removed and malformed logs are dropped.
func (i *Ingestor) HandleLog(ctx context.Context, raw types.Log) {
	log := i.log.WithFields(logan.F{"tx": raw.TxHash.Hex(), "block": raw.BlockNumber})
	if raw.Removed {
		log.Debug("skipping log removed by reorg")
		i.metrics.Events.WithLabelValues("unknown", outcomeRemoved).Inc()
		return
	}

	evt, err := chain.DecodeEvent(raw)
	if err != nil {
		log.WithError(err).Warn("dropping malformed log")
		i.metrics.Events.WithLabelValues("unknown", outcomeMalformed).Inc()
		return
	}
	i.Handle(ctx, evt)
}

func (i *Ingestor) Handle(ctx context.Context, evt chain.Event) {
	log := i.log.WithFields(logan.F{
		"event":    evt.Name(),
		"order_id": evt.OrderID().String(),
		"block":    evt.Log().BlockNumber,
	})

	defer func() {
		if rvr := recover(); rvr != nil {
			log.WithRecover(rvr).Error("event handler panicked")
			i.metrics.Events.WithLabelValues(evt.Name(), outcomePanicked).Inc()
		}
	}()

	var (
		outcome string
		err     error
	)
	switch e := evt.(type) {
	case *chain.OrderCreated:
		outcome, err = i.orderCreated(ctx, log, e)
	case *chain.OrderMatched:
		outcome, err = i.orderMatched(ctx, log, e)
	case *chain.OrderCancelled:
		outcome, err = i.orderCancelled(ctx, log, e)
	default:
		err = errors.From(errors.New("unsupported event"), logan.F{"event": evt.Name()})
	}

	if err != nil {
		log.WithError(err).Error("failed to handle event")
		outcome = outcomeFailed
	} else {
		log.WithField("outcome", outcome).Info("event handled")
	}
	i.metrics.Events.WithLabelValues(evt.Name(), outcome).Inc()
}

func (i *Ingestor) orderCreated(ctx context.Context, log *logan.Entry, e *chain.OrderCreated) (string, error) {
	info := chain.OrderInfo{
		ID:       e.ID,
		AmountA:  e.AmountA,
		AmountB:  e.AmountB,
		TokenA:   e.TokenA,
		TokenB:   e.TokenB,
		User:     e.User,
		IsMarket: e.IsMarket,
	}
	if !info.Complete() {
		return "", errors.From(ErrInvalidChainData, logan.F{"reason": "zero address in OrderCreated"})
	}

	buyDecimals, sellDecimals, err := i.pairDecimals(ctx, info)
	if err != nil {
		return "", err
	}

	res, err := i.ledger.CreateOrder(pristineOrder(info, buyDecimals, sellDecimals))
	if err != nil {
		return "", err
	}
	if res == data.AlreadyExisted {
		log.Warn("order already exists, skipping creation")
		return outcomeAlreadyExisted, nil
	}
	return outcomeCreated, nil
}

// orderMatched applies the fill from the event. The order row may not exist yet
// if its OrderCreated is still in flight: then it is created from the chain
// record and the update is retried a few times with a linear delay.
func (i *Ingestor) orderMatched(ctx context.Context, log *logan.Entry, e *chain.OrderMatched) (string, error) {
	info, err := i.chain.OrderInfo(ctx, e.ID)
	if err != nil {
		return "", errors.Wrap(err, "failed to get order info")
	}
	if !info.Complete() {
		return "", errors.From(ErrInvalidChainData, logan.F{"reason": "incomplete order info"})
	}

	buyDecimals, sellDecimals, err := i.pairDecimals(ctx, info)
	if err != nil {
		return "", err
	}

	update := data.OrderUpdate{
		OrderID:          e.ID.String(),
		BuyAmountFilled:  toDecimal(e.AmountPaid, buyDecimals),
		SellAmountFilled: toDecimal(e.AmountReceived, sellDecimals),
		Status:           matchedStatus(e.AmountLeftToFill),
	}

	retries := i.cfg.MatchRetries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		res, err := i.ledger.UpdateOrder(update)
		if err != nil {
			return "", err
		}
		if res != data.NotFound {
			return outcomeUpdated, nil
		}

		if attempt == 0 {
			log.Debug("matched order is not mirrored yet, creating it")
			created, err := i.ledger.CreateOrder(pristineOrder(info, buyDecimals, sellDecimals))
			if err != nil {
				return "", errors.Wrap(err, "failed to create matched order")
			}
			if created == data.AlreadyExisted {
				log.Warn("order already exists, will retry update")
			}
		}

		if attempt == retries-1 {
			break
		}
		if err := retry.Sleep(ctx, i.cfg.MatchRetryStep*time.Duration(attempt+1)); err != nil {
			return "", err
		}
	}

	log.WithField("attempts", retries).Warn("failed to update matched order, dropping event")
	return outcomeDropped, nil
}

func matchedStatus(leftToFill *big.Int) data.OrderStatus {
	if leftToFill == nil || leftToFill.Sign() == 0 {
		return data.OrderFilled
	}
	return data.OrderPartiallyFilled
}

// orderCancelled marks the order CANCELLED. An unseen order is created right
// away in the CANCELLED state.
func (i *Ingestor) orderCancelled(ctx context.Context, log *logan.Entry, e *chain.OrderCancelled) (string, error) {
	orderID := e.ID.String()
	res, err := i.ledger.CancelOrder(orderID)
	if err != nil {
		return "", err
	}
	if res != data.NotFound {
		return outcomeCancelled, nil
	}

	log.Info("cancelled order is not mirrored, creating it as cancelled")
	info, err := i.chain.OrderInfo(ctx, e.ID)
	if err != nil {
		return "", errors.Wrap(err, "failed to get order info")
	}
	if !info.Complete() {
		return "", errors.From(ErrInvalidChainData, logan.F{"reason": "incomplete order info"})
	}

	buyDecimals, sellDecimals, err := i.pairDecimals(ctx, info)
	if err != nil {
		return "", err
	}

	order := orderFromInfo(info, buyDecimals, sellDecimals)
	order.Status = data.OrderCancelled

	created, err := i.ledger.CreateOrder(order)
	if err != nil {
		return "", errors.Wrap(err, "failed to create cancelled order")
	}
	if created == data.Created {
		return outcomeCreatedCancelled, nil
	}

	// Someone else created it in between.
	if _, err = i.ledger.CancelOrder(orderID); err != nil {
		return "", err
	}
	return outcomeCancelled, nil
}

func (i *Ingestor) pairDecimals(ctx context.Context, info chain.OrderInfo) (buy, sell uint8, err error) {
	buy, err = i.decimals.Get(ctx, info.TokenA)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get buy token decimals", logan.F{"token": info.TokenA.Hex()})
	}
	sell, err = i.decimals.Get(ctx, info.TokenB)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get sell token decimals", logan.F{"token": info.TokenB.Hex()})
	}
	return buy, sell, nil
}
