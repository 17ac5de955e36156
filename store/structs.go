package store

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidAmount marks a transfer whose amount is missing or not positive.
	// Permanent for the event, never retried.
	ErrInvalidAmount = errors.New("transfer amount must be a positive integer")

	// ErrAlreadyApplied is returned when the claim row for an identity was
	// already flipped to completed by another execution.
	ErrAlreadyApplied = errors.New("task already applied")
)

type Account struct {
	Address string
	Balance *big.Int
}

// TransferRecord is one journal row. Id is zero until the row is written.
type TransferRecord struct {
	Id int64

	FromAddress string
	ToAddress   string
	Amount      *big.Int

	BlockHash       string
	BlockNumber     uint64
	TransactionHash string
}

type TransferResult struct {
	JournalId   int64
	FromBalance *big.Int
	ToBalance   *big.Int
}

type TaskState int

const (
	// TaskNew : identity claimed now, work has not run yet
	TaskNew TaskState = iota
	// TaskResumed : identity was claimed before but never completed (crash mid-flight)
	TaskResumed
	// TaskCompleted : identity already executed to completion
	TaskCompleted
)

type TransferFilter struct {
	Address   string // matches either side when set
	FromBlock uint64
	ToBlock   uint64
	Limit     int
}

func validateRecord(record *TransferRecord) error {

	if record == nil {
		return ErrInvalidAmount
	}

	if record.Amount == nil || record.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	return nil
}

func taskStateFromStatus(status string) TaskState {

	if status == statusCompleted {
		return TaskCompleted
	}

	return TaskResumed
}
