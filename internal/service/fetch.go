package service

import (
	"context"
	"math/big"

	"github.com/Swapica/order-ledger-svc/internal/batch"
	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/config"
	"github.com/Swapica/order-ledger-svc/internal/metrics"
	"github.com/Swapica/order-ledger-svc/internal/retry"
	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type fetcher struct {
	log      *logan.Entry
	chain    Chain
	decimals Decimals
	cfg      config.Backfill
	metrics  *metrics.Metrics
}

func (f *fetcher) backoff(call string) retry.Backoff {
	b := f.cfg.Item
	b.OnFailure = func(int, error) {
		f.metrics.ChainCallRetries.WithLabelValues(call).Inc()
	}
	return b
}

func (f *fetcher) orderCount(ctx context.Context) (int, error) {
	count, err := retry.Call(ctx, f.log, "getOrderIdLength", f.backoff("order_count"), f.chain.OrderCount)
	if err != nil {
		return 0, err
	}
	if count == nil || count.Sign() < 0 || !count.IsInt64() || count.Int64() > int64(maxInt) {
		return 0, retry.Permanent(errors.From(ErrInvalidChainData, logan.F{"count": count}))
	}
	return int(count.Int64()), nil
}

// orderIDs reads every on-chain order id by index.
func (f *fetcher) orderIDs(ctx context.Context, count int) ([]string, error) {
	c := batch.Chunked{
		Size:  f.cfg.ChunkSize,
		Pause: f.cfg.IDChunkPause,
		Progress: func(done, total int) {
			f.log.WithFields(logan.F{"done": done, "total": total}).Debug("fetched order ids chunk")
		},
	}

	return batch.Fetch(ctx, c, count, func(ctx context.Context, i int) (string, error) {
		id, err := retry.Call(ctx, f.log, "getOrderId", f.backoff("order_id"), func(ctx context.Context) (*big.Int, error) {
			return f.chain.OrderIDAt(ctx, uint64(i))
		})
		if err != nil {
			return "", err
		}
		if id == nil || id.Sign() < 0 {
			return "", retry.Permanent(errors.From(ErrInvalidChainData, logan.F{"index": i}))
		}
		return id.String(), nil
	})
}

// missingOrderIDs returns ids present on chain but absent from stored, keeping chain order.
func missingOrderIDs(onChain, stored []string) []string {
	known := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		known[id] = struct{}{}
	}

	missing := make([]string, 0)
	for _, id := range onChain {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (f *fetcher) orderInfos(ctx context.Context, ids []string) ([]chain.OrderInfo, error) {
	c := batch.Chunked{
		Size:  f.cfg.ChunkSize,
		Pause: f.cfg.InfoChunkPause,
		Progress: func(done, total int) {
			f.log.WithFields(logan.F{"done": done, "total": total}).Debug("fetched order info chunk")
		},
	}

	return batch.Each(ctx, c, ids, func(ctx context.Context, id string) (chain.OrderInfo, error) {
		orderID, ok := new(big.Int).SetString(id, 10)
		if !ok {
			return chain.OrderInfo{}, retry.Permanent(errors.From(ErrInvalidChainData, logan.F{"order_id": id}))
		}
		return retry.Call(ctx, f.log.WithField("order_id", id), "getOrderInfo", f.backoff("order_info"),
			func(ctx context.Context) (chain.OrderInfo, error) {
				return f.chain.OrderInfo(ctx, orderID)
			})
	})
}

func (f *fetcher) tokenDecimals(ctx context.Context, tokens []common.Address) (map[common.Address]uint8, error) {
	c := batch.Chunked{Size: f.cfg.ChunkSize, Pause: f.cfg.DecimalsChunkPause}

	resolved, err := batch.Each(ctx, c, tokens, func(ctx context.Context, token common.Address) (uint8, error) {
		return retry.Call(ctx, f.log.WithField("token", token.Hex()), "decimals", f.backoff("decimals"),
			func(ctx context.Context) (uint8, error) {
				return f.decimals.Get(ctx, token)
			})
	})
	if err != nil {
		return nil, err
	}

	result := make(map[common.Address]uint8, len(tokens))
	for i, token := range tokens {
		result[token] = resolved[i]
	}
	return result, nil
}

// distinctTokens collects the non-zero tokens referenced by infos in first-seen order.
func distinctTokens(infos []chain.OrderInfo) []common.Address {
	seen := make(map[common.Address]struct{})
	tokens := make([]common.Address, 0)
	for _, info := range infos {
		for _, token := range []common.Address{info.TokenA, info.TokenB} {
			if token == (common.Address{}) {
				continue
			}
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return tokens
}

const maxInt = int(^uint(0) >> 1)
