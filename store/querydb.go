package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
)

// GetBalance reads one account balance. Unknown accounts read as zero, the
// same value they would hold after an insert-at-zero upsert.
func (ledgerDb *LedgerDatabase) GetBalance(ctx context.Context, address string) (*big.Int, error) {

	query := "SELECT balance FROM accounts WHERE address = ?"

	var balanceRaw string
	err := ledgerDb.connection.QueryRowContext(ctx, query, address).Scan(&balanceRaw)

	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(balanceRaw, 10)
	if !ok {
		return nil, fmt.Errorf("account %v holds a non numeric balance %q", address, balanceRaw)
	}

	return balance, nil
}

func (ledgerDb *LedgerDatabase) ListTransfers(ctx context.Context, filter TransferFilter) ([]*TransferRecord, error) {

	query, arguments := listTransfersQuery(filter)

	rows, err := ledgerDb.connection.QueryContext(ctx, query, arguments...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*TransferRecord, 0)

	for rows.Next() {

		var record TransferRecord
		var amountRaw string
		var blockHash sql.NullString
		var blockNumber sql.NullInt64
		var transactionHash sql.NullString

		err = rows.Scan(&record.Id, &record.FromAddress, &record.ToAddress,
			&amountRaw, &blockHash, &blockNumber, &transactionHash)
		if err != nil {
			return nil, err
		}

		amount, ok := new(big.Int).SetString(amountRaw, 10)
		if !ok {
			return nil, fmt.Errorf("transfer %v holds a non numeric amount %q", record.Id, amountRaw)
		}

		record.Amount = amount
		record.BlockHash = blockHash.String
		record.TransactionHash = transactionHash.String
		if blockNumber.Valid {
			record.BlockNumber = uint64(blockNumber.Int64)
		}

		records = append(records, &record)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func listTransfersQuery(filter TransferFilter) (string, []interface{}) {

	query := "SELECT id, from_address, to_address, amount, block_hash, block_number, transaction_hash FROM transfers"
	arguments := make([]interface{}, 0, 4)

	conditions := ""

	appendCondition := func(condition string, values ...interface{}) {
		if len(conditions) == 0 {
			conditions = " WHERE " + condition
		} else {
			conditions += " AND " + condition
		}
		arguments = append(arguments, values...)
	}

	if len(filter.Address) > 0 {
		appendCondition("(from_address = ? OR to_address = ?)", filter.Address, filter.Address)
	}

	if filter.FromBlock > 0 {
		appendCondition("block_number >= ?", filter.FromBlock)
	}

	if filter.ToBlock > 0 {
		appendCondition("block_number <= ?", filter.ToBlock)
	}

	query += conditions + " ORDER BY id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		arguments = append(arguments, filter.Limit)
	}

	return query, arguments
}
