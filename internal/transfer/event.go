package transfer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EventSignature is the canonical ERC-20 Transfer event signature.
const EventSignature = "Transfer(address,address,uint256)"

// Signature is topic0 of every Transfer log.
var Signature = crypto.Keccak256Hash([]byte(EventSignature))

// Event is one decoded Transfer. Addresses and amount are exactly as found in the log.
type Event struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	Amount      uint256.Int
	BlockNumber uint64
	BlockHash   common.Hash
	Timestamp   uint64
	TxHash      common.Hash
	// LogIndex is the position of the log among all logs of its block.
	LogIndex uint64
}

// IsTransfer reports whether the first topic is the Transfer signature.
func IsTransfer(log *types.Log) bool {
	if log == nil || len(log.Topics) == 0 {
		return false
	}
	return log.Topics[0] == Signature
}

// Decode extracts a Transfer from log. Logs with fewer than three topics or less than one
// word of data yield ok=false. LogIndex, BlockHash and Timestamp are left for the caller.
func Decode(log *types.Log, blockNumber uint64, txHash common.Hash) (Event, bool) {
	if log == nil || len(log.Topics) < 3 || len(log.Data) < 32 {
		return Event{}, false
	}
	ev := Event{
		Token:       log.Address,
		From:        common.BytesToAddress(log.Topics[1].Bytes()),
		To:          common.BytesToAddress(log.Topics[2].Bytes()),
		BlockNumber: blockNumber,
		TxHash:      txHash,
	}
	ev.Amount.SetBytes32(log.Data[:32])
	return ev, true
}
