package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderMatched   = "OrderMatched"
	EventOrderCancelled = "OrderCancelled"
)

// OrderEvents lists every event the ledger mirrors.
var OrderEvents = []string{EventOrderCreated, EventOrderMatched, EventOrderCancelled}

const orderControllerABIJSON = `[
  {"type":"function","name":"getOrderIdLength","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getOrderId","stateMutability":"view",
   "inputs":[{"name":"index","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getOrderInfo","stateMutability":"view",
   "inputs":[{"name":"id","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"amountA","type":"uint256"},
     {"name":"amountB","type":"uint256"},
     {"name":"amountFilledA","type":"uint256"},
     {"name":"amountFilledB","type":"uint256"},
     {"name":"tokenA","type":"address"},
     {"name":"tokenB","type":"address"},
     {"name":"user","type":"address"},
     {"name":"isMarket","type":"bool"}]},
  {"type":"event","name":"OrderCreated","anonymous":false,"inputs":[
     {"name":"id","type":"uint256","indexed":true},
     {"name":"amountA","type":"uint256","indexed":false},
     {"name":"amountB","type":"uint256","indexed":false},
     {"name":"tokenA","type":"address","indexed":false},
     {"name":"tokenB","type":"address","indexed":false},
     {"name":"user","type":"address","indexed":false},
     {"name":"isMarket","type":"bool","indexed":false}]},
  {"type":"event","name":"OrderMatched","anonymous":false,"inputs":[
     {"name":"id","type":"uint256","indexed":true},
     {"name":"matchedId","type":"uint256","indexed":false},
     {"name":"amountReceived","type":"uint256","indexed":false},
     {"name":"amountPaid","type":"uint256","indexed":false},
     {"name":"amountLeftToFill","type":"uint256","indexed":false},
     {"name":"fee","type":"uint256","indexed":false},
     {"name":"feeRate","type":"uint256","indexed":false}]},
  {"type":"event","name":"OrderCancelled","anonymous":false,"inputs":[
     {"name":"id","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]}
]`

var (
	orderControllerABI = mustParseABI(orderControllerABIJSON)
	erc20ABI           = mustParseABI(erc20ABIJSON)
)

// OrderControllerABI returns the parsed contract interface the ledger talks to.
func OrderControllerABI() abi.ABI {
	return orderControllerABI
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
