package postgres

import (
	"github.com/Masterminds/squirrel"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"gitlab.com/distributed_lab/kit/pgdb"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const refreshTokensTable = "refresh_tokens"

type refreshTokens struct {
	db *pgdb.DB
}

func NewRefreshTokens(db *pgdb.DB) data.RefreshTokens {
	return refreshTokens{db: db}
}

func (q refreshTokens) DeleteByUser(address string) error {
	err := q.db.Exec(deleteRefreshTokensStmt(address))
	return errors.Wrap(err, "failed to delete refresh tokens", logan.F{"address": address})
}

func deleteRefreshTokensStmt(address string) squirrel.DeleteBuilder {
	return squirrel.Delete(refreshTokensTable).Where(squirrel.Eq{"user_address": address})
}
