package service

import (
	"context"
	"time"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/config"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/Swapica/order-ledger-svc/internal/metrics"
	"github.com/Swapica/order-ledger-svc/internal/retry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Tally counts what happened to every order the backfill fetched.
type Tally struct {
	Attempted          int
	Created            int
	SkippedExisting    int
	SkippedMissingUser int
	SkippedInvalid     int
	Failed             int
}

func (t Tally) fields() logan.F {
	return logan.F{
		"attempted":            t.Attempted,
		"created":              t.Created,
		"skipped_existing":     t.SkippedExisting,
		"skipped_missing_user": t.SkippedMissingUser,
		"skipped_invalid":      t.SkippedInvalid,
		"failed":               t.Failed,
	}
}

// Backfill inserts every on-chain order the database is missing, then replays
// historical cancellations. Each stage is a diff against the stored state, so a
// run can be repeated at any time.
type Backfill struct {
	log     *logan.Entry
	ledger  *Ledger
	fetcher *fetcher
	cfg     config.Backfill
	metrics *metrics.Metrics
}

func NewBackfill(log *logan.Entry, c Chain, decimals Decimals, ledger *Ledger, cfg config.Backfill, m *metrics.Metrics) *Backfill {
	log = log.WithField("runner", "backfill")
	return &Backfill{
		log:    log,
		ledger: ledger,
		fetcher: &fetcher{
			log:      log,
			chain:    c,
			decimals: decimals,
			cfg:      cfg,
			metrics:  m,
		},
		cfg:     cfg,
		metrics: m,
	}
}

// Run returns a *retry.StageError when a stage ran out of attempts.
func (b *Backfill) Run(ctx context.Context) (Tally, error) {
	var tally Tally
	b.log.Info("starting backfill")

	count, err := stage(ctx, b, "order count", b.fetcher.orderCount)
	if err != nil {
		return tally, err
	}
	if count == 0 {
		b.log.Info("no orders on chain, nothing to backfill")
		return tally, nil
	}

	stored, err := stage(ctx, b, "stored order ids", func(context.Context) ([]string, error) {
		return b.ledger.OrderIDs()
	})
	if err != nil {
		return tally, err
	}
	if len(stored) >= count {
		b.log.WithFields(logan.F{"chain": count, "stored": len(stored)}).Info("database is up to date")
		return tally, nil
	}

	missing, err := stage(ctx, b, "missing order ids", func(ctx context.Context) ([]string, error) {
		onChain, err := b.fetcher.orderIDs(ctx, count)
		if err != nil {
			return nil, err
		}
		return missingOrderIDs(onChain, stored), nil
	})
	if err != nil {
		return tally, err
	}
	if len(missing) == 0 {
		b.log.Info("no missing orders")
		return tally, nil
	}
	b.log.WithField("missing", len(missing)).Info("found missing orders")

	infos, err := stage(ctx, b, "order info", func(ctx context.Context) ([]chain.OrderInfo, error) {
		return b.fetcher.orderInfos(ctx, missing)
	})
	if err != nil {
		return tally, err
	}

	tokens := distinctTokens(infos)
	if len(tokens) == 0 {
		b.log.WithField("orders", len(infos)).Warn("fetched orders reference no tokens, skipping normalization")
		return tally, nil
	}
	decimals, err := stage(ctx, b, "token decimals", func(ctx context.Context) (map[common.Address]uint8, error) {
		return b.fetcher.tokenDecimals(ctx, tokens)
	})
	if err != nil {
		return tally, err
	}

	users := b.ensureUsers(infos)
	tally = b.createOrders(infos, users, decimals)
	b.log.WithFields(tally.fields()).Info("finished creating orders")

	if err := b.replayCancellations(ctx); err != nil {
		b.log.WithError(err).Error("failed to replay cancelled orders")
	}

	b.log.Info("backfill completed")
	return tally, nil
}

func stage[T any](ctx context.Context, b *Backfill, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		b.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return retry.Stage(ctx, b.log, name, b.cfg.Stage, fn)
}

// ensureUsers returns the set of owner addresses that exist in the database.
func (b *Backfill) ensureUsers(infos []chain.OrderInfo) map[string]struct{} {
	resolved := make(map[string]struct{})
	for _, info := range infos {
		if info.User == (common.Address{}) {
			b.log.WithField("order_id", info.ID).Warn("order has no owner")
			continue
		}

		address := canonicalAddress(info.User)
		if _, ok := resolved[address]; ok {
			continue
		}
		if _, err := b.ledger.EnsureUser(address); err != nil {
			b.log.WithError(err).WithField("user", address).Error("failed to resolve user")
			continue
		}
		resolved[address] = struct{}{}
	}
	return resolved
}

func (b *Backfill) createOrders(infos []chain.OrderInfo, users map[string]struct{}, decimals map[common.Address]uint8) Tally {
	var tally Tally
	outcome := func(name string) {
		b.metrics.BackfillOrders.WithLabelValues(name).Inc()
	}

	for _, info := range infos {
		tally.Attempted++
		outcome("attempted")

		if !info.Complete() {
			b.log.WithField("order_id", info.ID).Warn("order misses mandatory fields, skipping")
			tally.SkippedInvalid++
			outcome("skipped_invalid")
			continue
		}

		log := b.log.WithField("order_id", info.ID.String())
		if _, ok := users[canonicalAddress(info.User)]; !ok {
			log.Warn("order owner was not resolved, skipping")
			tally.SkippedMissingUser++
			outcome("skipped_missing_user")
			continue
		}

		existing, err := b.ledger.OrderByOrderID(info.ID.String())
		if err != nil {
			log.WithError(err).Error("failed to check order")
			tally.Failed++
			outcome("failed")
			continue
		}
		if existing != nil {
			log.Debug("order already exists, skipping")
			tally.SkippedExisting++
			outcome("skipped_existing")
			continue
		}

		order := orderFromInfo(info, decimalsOf(decimals, info.TokenA), decimalsOf(decimals, info.TokenB))
		res, err := b.ledger.CreateOrder(order)
		switch {
		case err != nil:
			log.WithError(err).Error("failed to create order")
			tally.Failed++
			outcome("failed")
		case res == data.AlreadyExisted:
			log.Debug("order was created concurrently, skipping")
			tally.SkippedExisting++
			outcome("skipped_existing")
		default:
			log.WithField("status", order.Status).Debug("order created")
			tally.Created++
			outcome("created")
		}
	}
	return tally
}

func decimalsOf(resolved map[common.Address]uint8, token common.Address) uint8 {
	if d, ok := resolved[token]; ok {
		return d
	}
	return defaultDecimals
}

// replayCancellations marks every order with a historical OrderCancelled log as
// CANCELLED. Per-log failures are logged and skipped.
func (b *Backfill) replayCancellations(ctx context.Context) error {
	logs, err := stage(ctx, b, "cancelled logs", func(ctx context.Context) ([]types.Log, error) {
		return retry.Call(ctx, b.log, "filter OrderCancelled", b.fetcher.backoff("filter_logs"),
			func(ctx context.Context) ([]types.Log, error) {
				return b.fetcher.chain.FilterEvents(ctx, 0, nil, chain.EventOrderCancelled)
			})
	})
	if err != nil {
		return errors.Wrap(err, "failed to query cancelled logs")
	}
	b.log.WithField("logs", len(logs)).Info("replaying cancelled orders")

	outcome := func(name string) {
		b.metrics.CancelledReplay.WithLabelValues(name).Inc()
	}
	for _, raw := range logs {
		evt, err := chain.DecodeEvent(raw)
		if err != nil {
			b.log.WithError(err).WithField("tx", raw.TxHash.Hex()).Warn("cancelled log without order id, skipping")
			outcome("skipped")
			continue
		}

		orderID := evt.OrderID().String()
		res, err := b.ledger.CancelOrder(orderID)
		switch {
		case err != nil:
			b.log.WithError(err).WithField("order_id", orderID).Error("failed to cancel order")
			outcome("failed")
		case res == data.NotFound:
			b.log.WithField("order_id", orderID).Debug("cancelled order is not mirrored")
			outcome("not_found")
		default:
			outcome("cancelled")
		}
	}
	return nil
}
