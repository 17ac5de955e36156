package ledger

import (
	"fmt"
	"time"
)

type WatchConfigure struct {
	DbConnString  string
	Web3Providers []string

	ContractAddress string
	EventSignature  string
	FromBlock       uint64

	DispatchWorker int
	ScanUnit       uint64
	PollInterval   time.Duration
}

const DefaultEventSignature = "Transfer(address indexed from, address indexed to, uint256 value)"

func (config *WatchConfigure) Err() error {

	if len(config.DbConnString) == 0 {
		return fmt.Errorf("DbConnString is empty")
	}

	if len(config.Web3Providers) == 0 {
		return fmt.Errorf("Web3Providers is empty")
	}

	if len(config.ContractAddress) == 0 {
		return fmt.Errorf("ContractAddress is empty")
	}

	if config.DispatchWorker <= 0 {
		return fmt.Errorf("DispatchWorker must be positive")
	}

	return nil
}

func (config *WatchConfigure) Signature() string {

	if len(config.EventSignature) == 0 {
		return DefaultEventSignature
	}

	return config.EventSignature
}

func (config *WatchConfigure) Unit() uint64 {

	if config.ScanUnit == 0 {
		return 10000
	}

	return config.ScanUnit
}

func (config *WatchConfigure) Interval() time.Duration {

	if config.PollInterval <= 0 {
		return 2 * time.Second
	}

	return config.PollInterval
}
