package store

import (
	"context"
	"database/sql"
)

// The journal is append only. No update or delete helpers exist on purpose.
func appendTransfer(ctx context.Context, tx *sql.Tx, record *TransferRecord) (int64, error) {

	insertSql := "INSERT INTO transfers(from_address, to_address, amount, block_hash, block_number, transaction_hash) " +
		"VALUES(?, ?, ?, ?, ?, ?)"

	// block_number is written as-is: getLogs always carries one, and block
	// zero is a real block. NULL stays reserved for absent hash metadata.
	result, err := tx.ExecContext(ctx, insertSql,
		record.FromAddress,
		record.ToAddress,
		record.Amount.String(),
		nullableString(record.BlockHash),
		record.BlockNumber,
		nullableString(record.TransactionHash),
	)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// LatestJournaledBlock returns the highest block number already journaled.
// Used as the backfill checkpoint; zero when the journal is empty.
func (ledgerDb *LedgerDatabase) LatestJournaledBlock(ctx context.Context) (uint64, error) {

	query := "SELECT COALESCE(MAX(block_number), 0) FROM transfers"

	var blockNumber uint64
	err := ledgerDb.connection.QueryRowContext(ctx, query).Scan(&blockNumber)
	if err != nil {
		return 0, err
	}

	return blockNumber, nil
}

func nullableString(value string) interface{} {
	if len(value) == 0 {
		return nil
	}
	return value
}
