package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/umbracle/go-web3"
	"github.com/vtok/token_ledger/ledger/logger"
)

// Submitter receives every log the watcher forwards. Submissions are fire
// and forget; exactly-once semantics live behind the submitter.
type Submitter interface {
	Submit(log *web3.Log)
}

// Watcher merges a one-shot historical backfill with a live subscription
// over the same contract and forwards each delivered log downstream with its
// identity fields untouched. The two feeds may overlap and redeliver; the
// watcher never filters.
type Watcher struct {
	source    EventSource
	submitter Submitter

	backfillFrom uint64
	retryWait    time.Duration

	wait sync.WaitGroup
}

func NewWatcher(source EventSource, submitter Submitter, backfillFrom uint64) *Watcher {

	return &Watcher{
		source:       source,
		submitter:    submitter,
		backfillFrom: backfillFrom,
		retryWait:    time.Second,
	}
}

// Run blocks until ctx is cancelled. A broken subscription is logged and
// reopened from the last forwarded block; it never brings the process down.
func (watcher *Watcher) Run(ctx context.Context) error {

	head, err := watcher.source.LatestBlock()
	if err != nil {
		return err
	}

	watcher.wait.Add(1)
	go func() {
		defer watcher.wait.Done()

		watcher.backfill(ctx, head)
	}()

	sink := make(chan *web3.Log, 256)

	watcher.wait.Add(1)
	go func() {
		defer watcher.wait.Done()

		for log := range sink {
			watcher.forward("live", log)
		}
	}()

	next := head + 1
	for {
		resumeFrom, err := watcher.source.Subscribe(ctx, next, sink)
		if resumeFrom > next {
			next = resumeFrom
		}

		if ctx.Err() != nil {
			break
		}

		logger.ResubscribeLog(err)
		time.Sleep(watcher.retryWait)
	}

	close(sink)
	watcher.wait.Wait()

	return nil
}

// backfill scans history until the whole range has been forwarded. A failed
// range query is logged and retried with backoff, resuming past the logs
// already forwarded; only cancellation abandons the scan.
func (watcher *Watcher) backfill(ctx context.Context, toBlock uint64) {

	logger.BackfillStartLog(watcher.backfillFrom, toBlock)

	fromBlock := watcher.backfillFrom
	forwarded := 0

	for {
		logs, err := watcher.source.QueryRange(ctx, fromBlock, toBlock)

		for _, log := range logs {
			watcher.forward("backfill", log)
			forwarded++
		}

		// every block up to the last forwarded log was scanned; rescanning
		// from there on retry redelivers at worst, never skips
		if len(logs) > 0 && logs[len(logs)-1].BlockNumber >= fromBlock {
			fromBlock = logs[len(logs)-1].BlockNumber + 1
		}

		if err == nil {
			logger.BackfillDoneLog(forwarded)
			return
		}

		if ctx.Err() != nil {
			return
		}

		logger.BackfillErrorLog(err)
		time.Sleep(watcher.retryWait)
	}
}

func (watcher *Watcher) forward(sourceName string, log *web3.Log) {

	metricLogsObserved.WithLabelValues(sourceName).Inc()
	logger.EventAcceptedLog(sourceName, EventIdentity(log), log.BlockNumber)

	watcher.submitter.Submit(log)
}
