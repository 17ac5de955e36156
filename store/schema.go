package store

import "context"

var schemaStatements = []string{

	"CREATE TABLE IF NOT EXISTS accounts(" +
		"address VARCHAR(64) NOT NULL, " +
		"balance DECIMAL(65,0) NOT NULL DEFAULT 0, " +
		"PRIMARY KEY (address))",

	"CREATE TABLE IF NOT EXISTS transfers(" +
		"id BIGINT NOT NULL AUTO_INCREMENT, " +
		"from_address VARCHAR(64) NOT NULL, " +
		"to_address VARCHAR(64) NOT NULL, " +
		"amount DECIMAL(65,0) NOT NULL, " +
		"block_hash VARCHAR(66) NULL, " +
		"block_number BIGINT UNSIGNED NOT NULL, " +
		"transaction_hash VARCHAR(66) NULL, " +
		"PRIMARY KEY (id), " +
		"KEY idx_transfers_from (from_address), " +
		"KEY idx_transfers_to (to_address))",

	"CREATE TABLE IF NOT EXISTS task_execution(" +
		"identity VARCHAR(80) NOT NULL, " +
		"status ENUM('pending','completed') NOT NULL DEFAULT 'pending', " +
		"block_number BIGINT UNSIGNED NOT NULL DEFAULT 0, " +
		"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, " +
		"PRIMARY KEY (identity), " +
		"KEY idx_task_status_block (status, block_number))",
}

// EnsureSchema creates the ledger tables when they do not exist yet.
// DECIMAL(65,0) covers the full uint256 value range without floats.
func (ledgerDb *LedgerDatabase) EnsureSchema(ctx context.Context) error {

	for _, statement := range schemaStatements {

		_, err := ledgerDb.connection.ExecContext(ctx, statement)
		if err != nil {
			return err
		}
	}

	return nil
}
