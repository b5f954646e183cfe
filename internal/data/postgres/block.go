package postgres

import (
	"github.com/Masterminds/squirrel"
	"github.com/Swapica/order-ledger-svc/internal/data"
	"gitlab.com/distributed_lab/kit/pgdb"
	"gitlab.com/distributed_lab/logan/v3/errors"
)

const blockTable = "last_blocks"
const contractCol = "contract"

type block struct {
	db       *pgdb.DB
	contract string
}

// NewLastBlock stores the cursor per contract address, so one database can mirror several deployments.
func NewLastBlock(db *pgdb.DB, contract string) data.LastBlock {
	return block{db: db, contract: contract}
}

func (q block) Set(number uint64) error {
	err := q.db.Exec(setBlockStmt(q.contract, number))
	return errors.Wrap(err, "failed to update last block")
}

func (q block) Get() (*uint64, error) {
	var result struct {
		Block uint64 `db:"block"`
	}
	stmt := squirrel.Select("block").From(blockTable).Where(squirrel.Eq{contractCol: q.contract})

	err := q.db.Get(&result, stmt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select last block")
	}

	return &result.Block, nil
}

func setBlockStmt(contract string, number uint64) squirrel.InsertBuilder {
	return squirrel.Insert(blockTable).
		Columns(contractCol, "block").
		Values(contract, number).
		Suffix("ON CONFLICT (contract) DO UPDATE SET block = GREATEST(last_blocks.block, EXCLUDED.block)")
}
