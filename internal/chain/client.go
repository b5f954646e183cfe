package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Backend is the subset of ethclient.Client used by Client.
type Backend interface {
	bind.ContractCaller
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// OrderInfo is the full on-chain order record returned by getOrderInfo.
type OrderInfo struct {
	ID            *big.Int
	AmountA       *big.Int
	AmountB       *big.Int
	AmountFilledA *big.Int
	AmountFilledB *big.Int
	TokenA        common.Address
	TokenB        common.Address
	User          common.Address
	IsMarket      bool
}

// Complete reports whether the record carries every field an order row needs.
func (o OrderInfo) Complete() bool {
	return o.ID != nil &&
		o.User != (common.Address{}) &&
		o.TokenA != (common.Address{}) &&
		o.TokenB != (common.Address{})
}

// Client is a read-only adapter over the order controller contract.
type Client struct {
	backend  Backend
	address  common.Address
	contract *bind.BoundContract
	timeout  time.Duration
}

func NewClient(backend Backend, contract common.Address, timeout time.Duration) *Client {
	return &Client{
		backend:  backend,
		address:  contract,
		contract: bind.NewBoundContract(contract, orderControllerABI, backend, nil, backend),
		timeout:  timeout,
	}
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) OrderCount(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.call(ctx, c.contract, &out, "getOrderIdLength"); err != nil {
		return nil, errors.Wrap(err, "failed to call getOrderIdLength")
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) OrderIDAt(ctx context.Context, index uint64) (*big.Int, error) {
	var out []interface{}
	err := c.call(ctx, c.contract, &out, "getOrderId", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, errors.Wrap(err, "failed to call getOrderId", logan.F{"index": index})
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) OrderInfo(ctx context.Context, id *big.Int) (OrderInfo, error) {
	var out []interface{}
	if err := c.call(ctx, c.contract, &out, "getOrderInfo", id); err != nil {
		return OrderInfo{}, errors.Wrap(err, "failed to call getOrderInfo", logan.F{"order_id": id.String()})
	}
	if len(out) != 9 {
		return OrderInfo{}, errors.From(errors.New("unexpected getOrderInfo output"), logan.F{"outputs": len(out)})
	}

	return OrderInfo{
		ID:            *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		AmountA:       *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		AmountB:       *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		AmountFilledA: *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		AmountFilledB: *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
		TokenA:        *abi.ConvertType(out[5], new(common.Address)).(*common.Address),
		TokenB:        *abi.ConvertType(out[6], new(common.Address)).(*common.Address),
		User:          *abi.ConvertType(out[7], new(common.Address)).(*common.Address),
		IsMarket:      *abi.ConvertType(out[8], new(bool)).(*bool),
	}, nil
}

// Decimals reads the ERC20 decimals() of the token. Use TokenDecimals for a memoized view.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	erc20 := bind.NewBoundContract(token, erc20ABI, c.backend, nil, nil)

	var out []interface{}
	if err := c.call(ctx, erc20, &out, "decimals"); err != nil {
		return 0, errors.Wrap(err, "failed to call decimals", logan.F{"token": token.Hex()})
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	child, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.backend.BlockNumber(child)
	return n, errors.Wrap(err, "failed to get eth_blockNumber")
}

// FilterEvents returns the logs of the named events in [from, to]. A nil to means the latest block.
func (c *Client) FilterEvents(ctx context.Context, from uint64, to *uint64, names ...string) ([]types.Log, error) {
	query := c.filters(names...)
	query.FromBlock = new(big.Int).SetUint64(from)
	if to != nil {
		query.ToBlock = new(big.Int).SetUint64(*to)
	}

	child, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logs, err := c.backend.FilterLogs(child, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter logs", logan.F{"from": from, "events": names})
	}
	return logs, nil
}

// SubscribeEvents streams new logs of the named events into sink.
func (c *Client) SubscribeEvents(ctx context.Context, sink chan<- types.Log, names ...string) (ethereum.Subscription, error) {
	sub, err := c.backend.SubscribeFilterLogs(ctx, c.filters(names...), sink)
	return sub, errors.Wrap(err, "failed to subscribe to logs", logan.F{"events": names})
}

func (c *Client) filters(names ...string) ethereum.FilterQuery {
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		topics = append(topics, orderControllerABI.Events[name].ID)
	}

	return ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{topics},
	}
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, out *[]interface{}, method string, params ...interface{}) error {
	child, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return contract.Call(&bind.CallOpts{Context: child}, out, method, params...)
}
