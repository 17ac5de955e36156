package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	_ "github.com/go-sql-driver/mysql"
)

// LedgerDatabase holds the account ledger, the transfer journal and the
// task claim table behind one MySQL connection pool.
type LedgerDatabase struct {
	ConnectString string
	connection    *sql.DB
	maxConnection int
}

func NewDatabase(connString string) (*LedgerDatabase, error) {

	database := LedgerDatabase{
		ConnectString: connString,
	}

	err := database.open()
	if err != nil {
		return nil, err
	}

	return &database, nil
}

func (ledgerDb *LedgerDatabase) open() error {

	var err error
	ledgerDb.connection, err = sql.Open("mysql", ledgerDb.ConnectString)
	if err != nil {
		return err
	}

	return nil
}

func (ledgerDb *LedgerDatabase) SetMaxOpenConns(connCount int) {

	ledgerDb.maxConnection = connCount

	ledgerDb.connection.SetMaxIdleConns(connCount)
	ledgerDb.connection.SetMaxOpenConns(connCount)
}

func (ledgerDb *LedgerDatabase) Close() {
	if ledgerDb.connection == nil {
		return
	}

	ledgerDb.connection.Close()
}

const upsertBalanceSql = "INSERT INTO accounts(address, balance) VALUES(?, ?) " +
	"ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance)"

// ApplyTransfer runs the whole unit of work for one claimed identity:
// debit, credit, journal append and claim completion in a single transaction.
// The balance merge is a single atomic arithmetic update, so concurrent
// transfers touching the same account serialize inside MySQL.
//
// If another execution completed the identity first the transaction rolls
// back and ErrAlreadyApplied is returned.
func (ledgerDb *LedgerDatabase) ApplyTransfer(ctx context.Context, identity string, record *TransferRecord) (*TransferResult, error) {

	if err := validateRecord(record); err != nil {
		return nil, err
	}

	tx, err := ledgerDb.connection.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	isComplete := false
	defer func(isComplete *bool) {
		if !*isComplete {
			tx.Rollback()
		}
	}(&isComplete)

	// Flipping the claim row first also takes its row lock, so a second
	// execution for the same identity blocks here and then sees zero rows.
	completed, err := completeTask(ctx, tx, identity)
	if err != nil {
		return nil, err
	}
	if !completed {
		return nil, ErrAlreadyApplied
	}

	err = applyBalanceDeltas(ctx, tx, record)
	if err != nil {
		return nil, err
	}

	journalId, err := appendTransfer(ctx, tx, record)
	if err != nil {
		return nil, err
	}

	fromBalance, toBalance, err := readBalancePair(ctx, tx, record.FromAddress, record.ToAddress)
	if err != nil {
		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}

	isComplete = true
	record.Id = journalId

	return &TransferResult{
		JournalId:   journalId,
		FromBalance: fromBalance,
		ToBalance:   toBalance,
	}, nil
}

func applyBalanceDeltas(ctx context.Context, tx *sql.Tx, record *TransferRecord) error {

	// Self transfer nets to zero but still touches the row once, so the
	// account exists afterwards.
	if record.FromAddress == record.ToAddress {
		_, err := tx.ExecContext(ctx, upsertBalanceSql, record.FromAddress, "0")
		return err
	}

	debit := new(big.Int).Neg(record.Amount)

	_, err := tx.ExecContext(ctx, upsertBalanceSql, record.FromAddress, debit.String())
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, upsertBalanceSql, record.ToAddress, record.Amount.String())
	if err != nil {
		return err
	}

	return nil
}

func readBalancePair(ctx context.Context, tx *sql.Tx, fromAddress string, toAddress string) (*big.Int, *big.Int, error) {

	query := "SELECT address, balance FROM accounts WHERE address IN (?, ?)"

	rows, err := tx.QueryContext(ctx, query, fromAddress, toAddress)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	balances := make(map[string]*big.Int, 2)

	for rows.Next() {

		var address string
		var balanceRaw string

		err = rows.Scan(&address, &balanceRaw)
		if err != nil {
			return nil, nil, err
		}

		balance, ok := new(big.Int).SetString(balanceRaw, 10)
		if !ok {
			return nil, nil, fmt.Errorf("account %v holds a non numeric balance %q", address, balanceRaw)
		}

		balances[address] = balance
	}

	if err = rows.Err(); err != nil {
		return nil, nil, err
	}

	fromBalance, exists := balances[fromAddress]
	if !exists {
		return nil, nil, fmt.Errorf("account %v missing after upsert", fromAddress)
	}

	toBalance, exists := balances[toAddress]
	if !exists {
		return nil, nil, fmt.Errorf("account %v missing after upsert", toAddress)
	}

	return fromBalance, toBalance, nil
}
