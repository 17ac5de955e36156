package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/umbracle/go-web3"
	"github.com/umbracle/go-web3/jsonrpc"
)

// EventSource supplies the two event feeds the watcher reconciles: a finite
// historical range query and a cancellable live subscription. Both may
// deliver the same log; dedupe lives downstream in the dispatcher.
type EventSource interface {
	LatestBlock() (uint64, error)
	QueryRange(ctx context.Context, fromBlock uint64, toBlock uint64) ([]*web3.Log, error)
	Subscribe(ctx context.Context, fromBlock uint64, sink chan<- *web3.Log) (uint64, error)
}

const (
	maxRequestCount = 10
	requestWait     = 200 * time.Millisecond
)

type Web3EventSource struct {
	client *jsonrpc.Client

	contract web3.Address
	topic    web3.Hash

	scanUnit     uint64
	pollInterval time.Duration
}

// NewWeb3EventSource connects to the first reachable provider in order.
func NewWeb3EventSource(config *WatchConfigure, topic web3.Hash) (*Web3EventSource, error) {

	var client *jsonrpc.Client
	var err error

	for _, web3Provider := range config.Web3Providers {

		client, err = jsonrpc.NewClient(web3Provider)
		if err == nil {
			break
		}
	}

	if client == nil {
		return nil, fmt.Errorf("no reachable web3 provider: %v", err)
	}

	client.SetMaxConnsLimit(100)

	return &Web3EventSource{
		client:       client,
		contract:     web3.HexToAddress(config.ContractAddress),
		topic:        topic,
		scanUnit:     config.Unit(),
		pollInterval: config.Interval(),
	}, nil
}

func (source *Web3EventSource) Close() {
	if source.client != nil {
		source.client.Close()
	}
}

func (source *Web3EventSource) LatestBlock() (uint64, error) {

	var blockNumber uint64
	var err error

	reRequestCount := 0
	for reRequestCount < maxRequestCount {

		blockNumber, err = source.client.Eth().BlockNumber()
		if err != nil {
			if IsRetryableWeb3Error(err) {
				reRequestCount++
				time.Sleep(requestWait)
				continue
			}
			return 0, err
		}

		return blockNumber, nil
	}

	return 0, err
}

type blockRange struct {
	from uint64
	to   uint64
}

func chunkRanges(fromBlock uint64, toBlock uint64, scanUnit uint64) []blockRange {

	ranges := make([]blockRange, 0)

	startBlockNumber := fromBlock
	for startBlockNumber <= toBlock {

		endBlockNumber := startBlockNumber + scanUnit - 1
		if endBlockNumber > toBlock || endBlockNumber < startBlockNumber {
			endBlockNumber = toBlock
		}

		ranges = append(ranges, blockRange{from: startBlockNumber, to: endBlockNumber})

		if endBlockNumber == ^uint64(0) {
			break
		}
		startBlockNumber = endBlockNumber + 1
	}

	return ranges
}

// QueryRange scans eth_getLogs over [fromBlock, toBlock] in scanUnit sized
// chunks, preserving log order within and across chunks. On error the logs
// of the chunks already scanned are returned alongside it, so a caller can
// resume past them instead of restarting the whole range.
func (source *Web3EventSource) QueryRange(ctx context.Context, fromBlock uint64, toBlock uint64) ([]*web3.Log, error) {

	collected := make([]*web3.Log, 0)

	for _, unit := range chunkRanges(fromBlock, toBlock, source.scanUnit) {

		if ctx.Err() != nil {
			return collected, ctx.Err()
		}

		logs, err := source.getLogs(unit.from, unit.to)
		if err != nil {
			return collected, err
		}

		collected = append(collected, logs...)
	}

	return collected, nil
}

// Subscribe polls for new blocks from fromBlock and forwards their matching
// logs to sink in delivery order. It returns the next block to resume from,
// with a nil error only on context cancellation.
func (source *Web3EventSource) Subscribe(ctx context.Context, fromBlock uint64, sink chan<- *web3.Log) (uint64, error) {

	next := fromBlock

	ticker := time.NewTicker(source.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return next, nil
		case <-ticker.C:
		}

		head, err := source.client.Eth().BlockNumber()
		if err != nil {
			if IsRetryableWeb3Error(err) {
				continue
			}
			return next, err
		}

		if head < next {
			continue
		}

		for _, unit := range chunkRanges(next, head, source.scanUnit) {

			logs, err := source.getLogs(unit.from, unit.to)
			if err != nil {
				return next, err
			}

			for _, log := range logs {
				select {
				case <-ctx.Done():
					return next, nil
				case sink <- log:
				}
			}

			next = unit.to + 1
		}
	}
}

func (source *Web3EventSource) getLogs(fromBlock uint64, toBlock uint64) ([]*web3.Log, error) {

	filter := &web3.LogFilter{
		Address: []web3.Address{source.contract},
		Topics:  []*web3.Hash{&source.topic},
	}
	filter.SetFromUint64(fromBlock)
	filter.SetToUint64(toBlock)

	var logs []*web3.Log
	var err error

	reRequestCount := 0
	for reRequestCount < maxRequestCount {

		logs, err = source.client.Eth().GetLogs(filter)
		if err != nil {
			if IsRetryableWeb3Error(err) {
				reRequestCount++
				time.Sleep(requestWait)
				continue
			}
			return nil, err
		}

		return logs, nil
	}

	return nil, err
}

func IsRetryableWeb3Error(err error) bool {

	if err == nil {
		return false
	}

	if err.Error() == "no free connections available to host" {
		return true
	} else if err.Error() == "dialing to the given TCP address timed out" {
		return true
	} else if strings.Contains(err.Error(), "write: broken pipe") {
		return true
	} else if strings.Contains(err.Error(), "connect: connection reset by peer") {
		return true
	} else if strings.Contains(err.Error(), "response header before closing the connection") {
		return true
	} else if strings.Contains(err.Error(), "socket: too many open files") {
		return true
	}

	return false
}
