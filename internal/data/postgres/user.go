package postgres

import (
	"github.com/Masterminds/squirrel"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"gitlab.com/distributed_lab/kit/pgdb"
	"gitlab.com/distributed_lab/logan/v3"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const usersTable = "users"

type users struct {
	db *pgdb.DB
}

func NewUsers(db *pgdb.DB) data.Users {
	return users{db: db}
}

func (q users) GetOrCreate(address string) (*data.User, error) {
	stmt := squirrel.Insert(usersTable).Columns("address").Values(address).
		Suffix("ON CONFLICT (address) DO NOTHING")
	if err := q.db.Exec(stmt); err != nil {
		return nil, errors.Wrap(err, "failed to insert user", logan.F{"address": address})
	}

	user, err := q.Get(address)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.From(errors.New("user vanished right after insert"), logan.F{"address": address})
	}
	return user, nil
}

func (q users) Get(address string) (*data.User, error) {
	var result data.User
	stmt := squirrel.Select("*").From(usersTable).Where(squirrel.Eq{"address": address})

	err := q.db.Get(&result, stmt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select user", logan.F{"address": address})
	}
	return &result, nil
}
