package service

import (
	"context"
	"math/big"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Chain is the read side of the order controller, satisfied by *chain.Client.
type Chain interface {
	OrderCount(ctx context.Context) (*big.Int, error)
	OrderIDAt(ctx context.Context, index uint64) (*big.Int, error)
	OrderInfo(ctx context.Context, id *big.Int) (chain.OrderInfo, error)
	FilterEvents(ctx context.Context, from uint64, to *uint64, names ...string) ([]types.Log, error)
}

// LiveChain adds what the listener needs on top of Chain.
type LiveChain interface {
	Chain
	HeadBlock(ctx context.Context) (uint64, error)
	SubscribeEvents(ctx context.Context, sink chan<- types.Log, names ...string) (ethereum.Subscription, error)
}

// Decimals resolves token precision, satisfied by *chain.TokenDecimals.
type Decimals interface {
	Get(ctx context.Context, token common.Address) (uint8, error)
}
