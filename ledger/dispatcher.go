package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/umbracle/go-web3"
	"github.com/vtok/token_ledger/ledger/logger"
	"github.com/vtok/token_ledger/store"
)

// TransferStore is the persistence contract the dispatcher drives: an atomic
// claim on an event identity and the idempotent unit of work behind it.
type TransferStore interface {
	ClaimTask(ctx context.Context, identity string, blockNumber uint64) (store.TaskState, error)
	ApplyTransfer(ctx context.Context, identity string, record *store.TransferRecord) (*store.TransferResult, error)
}

const (
	maxDispatchAttempt = 10
	dispatchRetryWait  = 200 * time.Millisecond
	storeOpTimeout     = 10 * time.Second
	completedCacheSize = 65536
)

// Dispatcher maps every submitted log onto at most one successful execution
// of the ledger+journal update. Distinct identities run concurrently on a
// fixed worker pool; same-identity submissions collapse on the claim.
type Dispatcher struct {
	WorkerName string

	maxWorker  int
	queuedLogs chan *web3.Log

	wait sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	store   TransferStore
	decoder *TransferDecoder

	// completed identities seen by this process, saves the claim round trip
	completed *lru.Cache
}

func NewDispatcher(ctx context.Context, maxWorker int, transferStore TransferStore, decoder *TransferDecoder) (*Dispatcher, error) {

	completed, err := lru.New(completedCacheSize)
	if err != nil {
		return nil, err
	}

	dispatcherCtx, cancel := context.WithCancel(ctx)

	return &Dispatcher{
		WorkerName: "dispatch",
		maxWorker:  maxWorker,
		queuedLogs: make(chan *web3.Log, 1024),

		ctx:    dispatcherCtx,
		cancel: cancel,

		store:     transferStore,
		decoder:   decoder,
		completed: completed,
	}, nil
}

func (d *Dispatcher) Run() {

	for i := 0; i < d.maxWorker; i++ {

		d.wait.Add(1)
		go func(workerId int) {
			defer d.wait.Done()
			defer logger.WorkerStopLog(d.WorkerName, workerId)

			logger.WorkerStartLog(d.WorkerName, workerId)

			for {
				select {
				case <-d.ctx.Done():
					return
				case log, ok := <-d.queuedLogs:
					if !ok {
						return
					}

					d.dispatch(log)
				}
			}
		}(i)
	}

	go func() {
		<-d.ctx.Done()
		close(d.queuedLogs)
	}()
}

// Submit enqueues one log for dispatch. Safe to call from multiple
// goroutines; logs submitted after Done are dropped.
func (d *Dispatcher) Submit(log *web3.Log) {
	defer func() {
		recover()
	}()

	if d.IsDone() {
		logger.Warnf("dispatcher stopped, event %v not queued", EventIdentity(log))
		return
	}

	d.queuedLogs <- log
}

func (d *Dispatcher) Done() {
	d.cancel()
}

func (d *Dispatcher) IsDone() bool {
	return d.ctx.Err() != nil
}

func (d *Dispatcher) Wait() {
	d.wait.Wait()
}

func (d *Dispatcher) dispatch(log *web3.Log) {

	identity := EventIdentity(log)

	if d.completed.Contains(identity) {
		metricDispatchOutcome.WithLabelValues(outcomeDuplicate).Inc()
		logger.DuplicateSkipLog(identity)
		return
	}

	// Decode before claiming so a poisoned payload never owns an identity.
	arguments, err := d.decoder.Decode(log)
	if err != nil {
		metricDispatchOutcome.WithLabelValues(outcomePoisoned).Inc()
		logger.PoisonedEventLog(identity, err)
		return
	}

	state, err := d.claimTask(identity, log.BlockNumber)
	if err != nil {
		metricDispatchOutcome.WithLabelValues(outcomeFailed).Inc()
		logger.DispatchErrorLog(identity, err)
		return
	}

	if state == store.TaskCompleted {
		d.completed.Add(identity, true)
		metricDispatchOutcome.WithLabelValues(outcomeDuplicate).Inc()
		logger.DuplicateSkipLog(identity)
		return
	}

	record := &store.TransferRecord{
		FromAddress:     arguments.From.String(),
		ToAddress:       arguments.To.String(),
		Amount:          arguments.Amount,
		BlockHash:       log.BlockHash.String(),
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TransactionHash.String(),
	}

	result, err := d.applyTransfer(identity, record)

	if errors.Is(err, store.ErrAlreadyApplied) {
		d.completed.Add(identity, true)
		metricDispatchOutcome.WithLabelValues(outcomeDuplicate).Inc()
		logger.DuplicateSkipLog(identity)
		return
	}

	if errors.Is(err, store.ErrInvalidAmount) {
		metricDispatchOutcome.WithLabelValues(outcomePoisoned).Inc()
		logger.PoisonedEventLog(identity, err)
		return
	}

	if err != nil {
		// claim row stays pending, the identity resumes on redelivery or restart
		metricDispatchOutcome.WithLabelValues(outcomeFailed).Inc()
		logger.DispatchErrorLog(identity, err)
		return
	}

	d.completed.Add(identity, true)

	if state == store.TaskResumed {
		metricDispatchOutcome.WithLabelValues(outcomeResumed).Inc()
	} else {
		metricDispatchOutcome.WithLabelValues(outcomeApplied).Inc()
	}

	logger.TransferAppliedLog(identity, record.FromAddress, record.ToAddress, record.Amount, result.JournalId)
}

func (d *Dispatcher) claimTask(identity string, blockNumber uint64) (store.TaskState, error) {

	var state store.TaskState
	var err error

	attempt := 0
	for attempt < maxDispatchAttempt {

		opCtx, cancel := context.WithTimeout(d.ctx, storeOpTimeout)
		state, err = d.store.ClaimTask(opCtx, identity, blockNumber)
		cancel()

		if err == nil {
			return state, nil
		}

		if d.ctx.Err() != nil {
			return state, err
		}

		attempt++
		time.Sleep(dispatchRetryWait)
	}

	return state, err
}

func (d *Dispatcher) applyTransfer(identity string, record *store.TransferRecord) (*store.TransferResult, error) {

	var result *store.TransferResult
	var err error

	attempt := 0
	for attempt < maxDispatchAttempt {

		opCtx, cancel := context.WithTimeout(d.ctx, storeOpTimeout)
		result, err = d.store.ApplyTransfer(opCtx, identity, record)
		cancel()

		if err == nil {
			return result, nil
		}

		// permanent outcomes, not worth a retry
		if errors.Is(err, store.ErrAlreadyApplied) || errors.Is(err, store.ErrInvalidAmount) {
			return nil, err
		}

		if d.ctx.Err() != nil {
			return nil, err
		}

		attempt++
		time.Sleep(dispatchRetryWait)
	}

	return nil, err
}
