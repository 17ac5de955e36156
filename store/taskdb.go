package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
)

// mysql ER_DUP_ENTRY
const duplicateEntryNumber = 1062

// ClaimTask is the atomic test-and-set that owns an event identity.
// The primary key on task_execution makes a second concurrent claim collide
// instead of duplicating; the collision is answered with the current status.
// The claim carries the event's block number so a claimed-but-uncommitted
// identity keeps its block rescannable across a restart.
func (ledgerDb *LedgerDatabase) ClaimTask(ctx context.Context, identity string, blockNumber uint64) (TaskState, error) {

	insertSql := "INSERT INTO task_execution(identity, status, block_number) VALUES(?, ?, ?)"

	_, err := ledgerDb.connection.ExecContext(ctx, insertSql, identity, statusPending, blockNumber)
	if err == nil {
		return TaskNew, nil
	}

	if !isDuplicateEntry(err) {
		return TaskNew, err
	}

	var status string
	selectSql := "SELECT status FROM task_execution WHERE identity = ?"

	err = ledgerDb.connection.QueryRowContext(ctx, selectSql, identity).Scan(&status)
	if err != nil {
		return TaskNew, err
	}

	return taskStateFromStatus(status), nil
}

// BackfillCheckpoint returns the block the next backfill must start from.
// A pending claim bounds the checkpoint: its unit of work never committed,
// so its block has to be rescanned. Only when no claim is pending is the
// highest journaled block a safe floor.
func (ledgerDb *LedgerDatabase) BackfillCheckpoint(ctx context.Context) (uint64, error) {

	query := "SELECT MIN(block_number) FROM task_execution WHERE status = ?"

	var pendingBlock sql.NullInt64
	err := ledgerDb.connection.QueryRowContext(ctx, query, statusPending).Scan(&pendingBlock)
	if err != nil {
		return 0, err
	}

	if pendingBlock.Valid {
		return uint64(pendingBlock.Int64), nil
	}

	return ledgerDb.LatestJournaledBlock(ctx)
}

// completeTask flips a pending claim inside the work transaction.
// result false : another execution already completed the identity.
func completeTask(ctx context.Context, tx *sql.Tx, identity string) (bool, error) {

	updateSql := "UPDATE task_execution SET status = ? WHERE identity = ? AND status = ?"

	result, err := tx.ExecContext(ctx, updateSql, statusCompleted, identity, statusPending)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func isDuplicateEntry(err error) bool {

	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}

	return mysqlErr.Number == duplicateEntryNumber
}
