package service

import (
	"math/big"
	"strings"

	"github.com/Swapica/order-ledger-svc/internal/chain"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// defaultDecimals is assumed for tokens whose precision could not be resolved.
const defaultDecimals = 18

// DeriveStatus computes the order status from raw on-chain amounts. Either side
// being fully consumed makes the order FILLED, even if the other side is not.
func DeriveStatus(amountA, amountB, filledA, filledB *big.Int) data.OrderStatus {
	amountA, amountB = orZero(amountA), orZero(amountB)
	filledA, filledB = orZero(filledA), orZero(filledB)

	if filledA.Cmp(amountA) == 0 || filledB.Cmp(amountB) == 0 {
		return data.OrderFilled
	}
	if partial(amountA, filledA) || partial(amountB, filledB) {
		return data.OrderPartiallyFilled
	}
	return data.OrderActive
}

func partial(total, filled *big.Int) bool {
	return filled.Sign() > 0 && filled.Cmp(total) < 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func toDecimal(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

func canonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// orderFromInfo builds a row out of a chain record. The A side is always the buy
// side and B the sell side.
func orderFromInfo(info chain.OrderInfo, buyDecimals, sellDecimals uint8) data.Order {
	return data.Order{
		OrderID:          info.ID.String(),
		User:             canonicalAddress(info.User),
		BuyToken:         canonicalAddress(info.TokenA),
		SellToken:        canonicalAddress(info.TokenB),
		BuyAmount:        toDecimal(info.AmountA, buyDecimals),
		SellAmount:       toDecimal(info.AmountB, sellDecimals),
		BuyAmountFilled:  toDecimal(info.AmountFilledA, buyDecimals),
		SellAmountFilled: toDecimal(info.AmountFilledB, sellDecimals),
		IsMarketOrder:    info.IsMarket,
		Status:           DeriveStatus(info.AmountA, info.AmountB, info.AmountFilledA, info.AmountFilledB),
	}
}

// pristineOrder is a freshly created order: nothing filled yet, ACTIVE.
func pristineOrder(info chain.OrderInfo, buyDecimals, sellDecimals uint8) data.Order {
	o := orderFromInfo(info, buyDecimals, sellDecimals)
	o.BuyAmountFilled = decimal.Zero
	o.SellAmountFilled = decimal.Zero
	o.Status = data.OrderActive
	return o
}
