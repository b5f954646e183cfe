package postgres

import (
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"github.com/fatih/structs"
	"gitlab.com/distributed_lab/kit/pgdb"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const ordersTable = "orders"

var orderBookColumns = []string{
	"order_id",
	"user_address",
	"buy_token",
	"sell_token",
	"buy_amount",
	"sell_amount",
	"buy_amount_filled",
	"sell_amount_filled",
	"is_market_order",
	"status",
	"created_at",
}

type orders struct {
	db *pgdb.DB
}

func NewOrders(db *pgdb.DB) data.Orders {
	return orders{db: db}
}

func (q orders) Insert(order data.Order) (data.WriteResult, error) {
	var id int64
	err := q.db.Get(&id, insertOrderStmt(order))
	if isNoRows(err) {
		return data.AlreadyExisted, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert order", logan.F{"order_id": order.OrderID})
	}
	return data.Created, nil
}

func (q orders) Update(upd data.OrderUpdate) (data.WriteResult, error) {
	var id int64
	err := q.db.Get(&id, updateOrderStmt(upd))
	if isNoRows(err) {
		return data.NotFound, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to update order", logan.F{"order_id": upd.OrderID})
	}
	return data.Updated, nil
}

func (q orders) Cancel(orderID string) (data.WriteResult, error) {
	stmt := squirrel.Update(ordersTable).
		Set("status", data.OrderCancelled).
		Where(squirrel.Eq{"order_id": orderID}).
		Suffix("RETURNING id")

	var id int64
	err := q.db.Get(&id, stmt)
	if isNoRows(err) {
		return data.NotFound, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to cancel order", logan.F{"order_id": orderID})
	}
	return data.Updated, nil
}

func (q orders) Get(orderID string) (*data.Order, error) {
	var result data.Order
	stmt := squirrel.Select("*").From(ordersTable).Where(squirrel.Eq{"order_id": orderID})

	err := q.db.Get(&result, stmt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select order", logan.F{"order_id": orderID})
	}
	return &result, nil
}

func (q orders) OrderIDs() ([]string, error) {
	var ids []string
	err := q.db.Select(&ids, squirrel.Select("order_id").From(ordersTable))
	return ids, errors.Wrap(err, "failed to select order ids")
}

func (q orders) Select(filter data.OrderBookFilter) ([]data.Order, error) {
	var result []data.Order
	err := q.db.Select(&result, orderBookStmt(filter))
	return result, errors.Wrap(err, "failed to select order book")
}

func (q orders) MatchingCandidates(query data.MatchQuery) ([]string, error) {
	var ids []string
	err := q.db.Select(&ids, matchingCandidatesStmt(query))
	return ids, errors.Wrap(err, "failed to select matching orders", logan.F{
		"token_a": query.TokenA,
		"token_b": query.TokenB,
	})
}

func insertOrderStmt(order data.Order) squirrel.InsertBuilder {
	return squirrel.Insert(ordersTable).
		SetMap(structs.Map(order)).
		Suffix("ON CONFLICT (order_id) DO NOTHING RETURNING id")
}

func updateOrderStmt(upd data.OrderUpdate) squirrel.UpdateBuilder {
	return squirrel.Update(ordersTable).
		Set("buy_amount_filled", squirrel.Expr("GREATEST(buy_amount_filled, ?)", upd.BuyAmountFilled)).
		Set("sell_amount_filled", squirrel.Expr("GREATEST(sell_amount_filled, ?)", upd.SellAmountFilled)).
		Set("status", squirrel.Expr(
			"CASE WHEN status = ? THEN status "+
				"WHEN status = ? AND buy_amount_filled >= ? AND sell_amount_filled >= ? THEN status "+
				"ELSE ? END",
			data.OrderCancelled, data.OrderFilled, upd.BuyAmountFilled, upd.SellAmountFilled, upd.Status)).
		Where(squirrel.Eq{"order_id": upd.OrderID}).
		Suffix("RETURNING id")
}

func orderBookStmt(filter data.OrderBookFilter) squirrel.SelectBuilder {
	stmt := squirrel.Select(orderBookColumns...).From(ordersTable).OrderBy("id")

	if filter.BuyToken != "" {
		stmt = stmt.Where(squirrel.Eq{"buy_token": filter.BuyToken})
	}
	if filter.SellToken != "" {
		stmt = stmt.Where(squirrel.Eq{"sell_token": filter.SellToken})
	}
	if filter.User != "" {
		stmt = stmt.Where(squirrel.Eq{"user_address": filter.User})
	}
	if filter.ActiveOnly {
		stmt = stmt.Where(squirrel.Eq{"status": statuses(data.ActiveStatuses)})
	}
	return stmt
}

// matchingCandidatesStmt looks for resting orders on the opposite side of the
// pair, best price (highest sell/buy ratio) first.
func matchingCandidatesStmt(query data.MatchQuery) squirrel.SelectBuilder {
	stmt := squirrel.Select("order_id").From(ordersTable).
		Where(squirrel.Eq{"buy_token": query.TokenB}).
		Where(squirrel.Eq{"sell_token": query.TokenA}).
		Where(squirrel.Eq{"status": statuses(data.ActiveStatuses)}).
		OrderBy("CASE WHEN buy_amount = 0 THEN 0 ELSE sell_amount / buy_amount END DESC", "id")

	if query.IsMarket() {
		return stmt.
			Where("(buy_amount - buy_amount_filled) > 0").
			Where("(sell_amount - sell_amount_filled) > 0")
	}
	return stmt.
		Where("(buy_amount - buy_amount_filled) >= ?", query.AmountB).
		Where("(sell_amount - sell_amount_filled) >= ?", query.AmountA)
}

func statuses(list []data.OrderStatus) []string {
	result := make([]string, len(list))
	for i, s := range list {
		result[i] = string(s)
	}
	return result
}

func isNoRows(err error) bool {
	return err != nil && (err == sql.ErrNoRows || errors.Cause(err) == sql.ErrNoRows)
}
