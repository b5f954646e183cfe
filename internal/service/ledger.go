package service

import (
	"strings"

	"github.com/Swapica/order-ledger-svc/internal/data"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

// Ledger is the order repository surface shared by the backfill, the live
// ingestor and read-side callers.
type Ledger struct {
	orders data.Orders
	users  data.Users
	tokens data.RefreshTokens
}

func NewLedger(orders data.Orders, users data.Users, tokens data.RefreshTokens) *Ledger {
	return &Ledger{orders: orders, users: users, tokens: tokens}
}

// EnsureUser returns the user, creating it on first reference.
func (l *Ledger) EnsureUser(address string) (*data.User, error) {
	user, err := l.users.GetOrCreate(strings.ToLower(address))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get or create user", logan.F{"user": address})
	}
	return user, nil
}

// CreateOrder inserts the order together with its owner. AlreadyExisted means
// another writer got there first.
func (l *Ledger) CreateOrder(order data.Order) (data.WriteResult, error) {
	order.User = strings.ToLower(order.User)
	if _, err := l.EnsureUser(order.User); err != nil {
		return 0, err
	}

	res, err := l.orders.Insert(order)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert order", logan.F{"order_id": order.OrderID})
	}
	return res, nil
}

func (l *Ledger) UpdateOrder(update data.OrderUpdate) (data.WriteResult, error) {
	res, err := l.orders.Update(update)
	if err != nil {
		return 0, errors.Wrap(err, "failed to update order", logan.F{"order_id": update.OrderID})
	}
	return res, nil
}

func (l *Ledger) CancelOrder(orderID string) (data.WriteResult, error) {
	res, err := l.orders.Cancel(orderID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cancel order", logan.F{"order_id": orderID})
	}
	return res, nil
}

// OrderByOrderID returns nil if the order is not mirrored.
func (l *Ledger) OrderByOrderID(orderID string) (*data.Order, error) {
	order, err := l.orders.Get(orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get order", logan.F{"order_id": orderID})
	}
	return order, nil
}

func (l *Ledger) OrderIDs() ([]string, error) {
	ids, err := l.orders.OrderIDs()
	return ids, errors.Wrap(err, "failed to select order ids")
}

func (l *Ledger) OrderBook(filter data.OrderBookFilter) ([]data.Order, error) {
	filter.BuyToken = strings.ToLower(filter.BuyToken)
	filter.SellToken = strings.ToLower(filter.SellToken)
	filter.User = strings.ToLower(filter.User)

	orders, err := l.orders.Select(filter)
	return orders, errors.Wrap(err, "failed to select order book")
}

// MatchingCandidates lists order ids on the opposite side of the pair, best price first.
func (l *Ledger) MatchingCandidates(query data.MatchQuery) ([]string, error) {
	query.TokenA = strings.ToLower(query.TokenA)
	query.TokenB = strings.ToLower(query.TokenB)

	ids, err := l.orders.MatchingCandidates(query)
	return ids, errors.Wrap(err, "failed to select matching candidates", logan.F{
		"token_a": query.TokenA,
		"token_b": query.TokenB,
	})
}

// RevokeSessions drops the refresh tokens of the user. Orders and the user row stay.
func (l *Ledger) RevokeSessions(address string) error {
	err := l.tokens.DeleteByUser(strings.ToLower(address))
	return errors.Wrap(err, "failed to delete refresh tokens", logan.F{"user": address})
}
