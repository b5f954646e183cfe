package config

import (
	"time"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"gitlab.com/distributed_lab/figure/v3"
	"gitlab.com/distributed_lab/kit/kv"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

type Network struct {
	*chain.Client
	ContractAddress common.Address
	// BlockRange bounds a single eth_getLogs window
	BlockRange     uint64
	RequestTimeout time.Duration
}

const (
	defaultRequestTimeout = 10 * time.Second
	defaultBlockRange     = 5000
)

func (c *config) Network() Network {
	return c.networkOnce.Do(func() interface{} {
		var cfg struct {
			RPC            string         `fig:"rpc,required"`
			Contract       common.Address `fig:"contract,required"`
			BlockRange     uint64         `fig:"block_range"`
			RequestTimeout time.Duration  `fig:"request_timeout"`
		}

		err := figure.Out(&cfg).
			With(figure.BaseHooks, figure.EthereumHooks).
			From(kv.MustGetStringMap(c.getter, "network")).
			Please()
		if err != nil {
			panic(errors.Wrap(err, "failed to figure out network"))
		}

		if cfg.RequestTimeout == 0 {
			cfg.RequestTimeout = defaultRequestTimeout
		}
		if cfg.BlockRange == 0 {
			cfg.BlockRange = defaultBlockRange
		}

		cli, err := ethclient.Dial(cfg.RPC)
		if err != nil {
			panic(errors.Wrap(err, "failed to connect to RPC provider"))
		}

		return Network{
			Client:          chain.NewClient(cli, cfg.Contract, cfg.RequestTimeout),
			ContractAddress: cfg.Contract,
			BlockRange:      cfg.BlockRange,
			RequestTimeout:  cfg.RequestTimeout,
		}
	}).(Network)
}
