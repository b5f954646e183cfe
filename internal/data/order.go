package data

import (
	"time"

	"github.com/shopspring/decimal"
)

type Orders interface {
	// Insert creates the row unless an order with the same OrderID exists, in
	// which case it returns AlreadyExisted and leaves the row untouched.
	Insert(Order) (WriteResult, error)
	// Update applies fill progress; filled amounts never decrease and CANCELLED rows
	// keep their status. A FILLED row changes status only if the update carries more
	// fill than stored. Returns NotFound if there is no such order.
	Update(OrderUpdate) (WriteResult, error)
	// Cancel sets CANCELLED unconditionally. Returns NotFound if there is no such order.
	Cancel(orderID string) (WriteResult, error)
	// Get returns nil if the order does not exist.
	Get(orderID string) (*Order, error)
	OrderIDs() ([]string, error)
	Select(OrderBookFilter) ([]Order, error)
	MatchingCandidates(MatchQuery) ([]string, error)
}

type OrderStatus string

const (
	OrderActive          OrderStatus = "ACTIVE"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

type Order struct {
	ID      int64  `structs:"-" db:"id"`
	OrderID string `structs:"order_id" db:"order_id"`
	// User is the lower-cased owner address, a foreign key for users(address)
	User      string `structs:"user_address" db:"user_address"`
	BuyToken  string `structs:"buy_token" db:"buy_token"`
	SellToken string `structs:"sell_token" db:"sell_token"`

	BuyAmount        decimal.Decimal `structs:"buy_amount,omitnested" db:"buy_amount"`
	SellAmount       decimal.Decimal `structs:"sell_amount,omitnested" db:"sell_amount"`
	BuyAmountFilled  decimal.Decimal `structs:"buy_amount_filled,omitnested" db:"buy_amount_filled"`
	SellAmountFilled decimal.Decimal `structs:"sell_amount_filled,omitnested" db:"sell_amount_filled"`

	IsMarketOrder bool        `structs:"is_market_order" db:"is_market_order"`
	Status        OrderStatus `structs:"status" db:"status"`
	CreatedAt     time.Time   `structs:"-" db:"created_at"`
}

type OrderUpdate struct {
	OrderID          string
	BuyAmountFilled  decimal.Decimal
	SellAmountFilled decimal.Decimal
	Status           OrderStatus
}

// OrderBookFilter narrows the order book; empty fields are not applied.
type OrderBookFilter struct {
	BuyToken   string
	SellToken  string
	User       string
	ActiveOnly bool
}

// MatchQuery asks for resting orders that could fill a taker selling AmountA of
// TokenA for AmountB of TokenB. A zero AmountA means a market order.
type MatchQuery struct {
	TokenA  string
	TokenB  string
	AmountA decimal.Decimal
	AmountB decimal.Decimal
}

func (q MatchQuery) IsMarket() bool {
	return q.AmountA.IsZero()
}

// ActiveStatuses are the statuses of orders that can still be filled.
var ActiveStatuses = []OrderStatus{OrderActive, OrderPartiallyFilled}
