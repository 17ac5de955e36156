package ledger

import (
	"fmt"
	"math/big"

	"github.com/umbracle/go-web3"
	"github.com/umbracle/go-web3/abi"
)

// EventIdentity derives the stable identity of one event occurrence.
// Redelivery of the same log always yields the same identity, so a second
// dispatch collides with the first instead of duplicating it.
func EventIdentity(log *web3.Log) string {
	return fmt.Sprintf("%s-%d", log.TransactionHash.String(), log.LogIndex)
}

type TransferEventArgs struct {
	From   web3.Address
	To     web3.Address
	Amount *big.Int
}

// TransferDecoder decodes raw log topics and data against a fixed transfer
// event schema. Decode failures are permanent for the log in question.
type TransferDecoder struct {
	event *abi.Event
}

func NewTransferDecoder(signature string) (*TransferDecoder, error) {

	event, err := abi.NewEvent(signature)
	if err != nil {
		return nil, err
	}

	return &TransferDecoder{event: event}, nil
}

func (decoder *TransferDecoder) Topic() web3.Hash {
	return decoder.event.ID()
}

func (decoder *TransferDecoder) Decode(log *web3.Log) (*TransferEventArgs, error) {

	// sign, from, to
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}

	if !decoder.event.Match(log) {
		return nil, fmt.Errorf("topic %s does not match event signature", log.Topics[0].String())
	}

	parsed, err := decoder.event.ParseLog(log)
	if err != nil {
		return nil, err
	}

	from, ok := parsed["from"].(web3.Address)
	if !ok {
		return nil, fmt.Errorf("from argument missing or not an address")
	}

	to, ok := parsed["to"].(web3.Address)
	if !ok {
		return nil, fmt.Errorf("to argument missing or not an address")
	}

	amount, ok := parsed["value"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("value argument missing or not an integer")
	}

	return &TransferEventArgs{
		From:   from,
		To:     to,
		Amount: amount,
	}, nil
}
