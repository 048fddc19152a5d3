// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package inbox is an in-memory, append-only message feed. The rollup core
// only reads its message count and running accumulators.
package inbox

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/containers/events"
)

var ErrMessageNotFound = errors.New("inbox message not found")

// MessageAdded is broadcast for every appended message.
type MessageAdded struct {
	Index       uint64
	Accumulator common.Hash
	Message     []byte
}

type Inbox struct {
	mutex        sync.RWMutex
	messages     [][]byte
	accumulators []common.Hash
	feed         *events.Producer[MessageAdded]
}

func NewInbox() *Inbox {
	return &Inbox{
		messages:     [][]byte{},
		accumulators: []common.Hash{},
		feed:         events.NewProducer[MessageAdded](),
	}
}

func (inbox *Inbox) Subscribe() *events.Subscription[MessageAdded] {
	return inbox.feed.Subscribe()
}

// NextAccumulator chains a message onto the previous accumulator.
func NextAccumulator(prev common.Hash, index uint64, message []byte) common.Hash {
	return crypto.Keccak256Hash(
		prev.Bytes(),
		binary.BigEndian.AppendUint64(nil, index),
		crypto.Keccak256(message),
	)
}

// Append adds a message and returns its index and the accumulator after it.
func (inbox *Inbox) Append(message []byte) (uint64, common.Hash) {
	inbox.mutex.Lock()
	defer inbox.mutex.Unlock()
	index := uint64(len(inbox.messages))
	var prev common.Hash
	if index > 0 {
		prev = inbox.accumulators[index-1]
	}
	acc := NextAccumulator(prev, index, message)
	msg := common.CopyBytes(message)
	inbox.messages = append(inbox.messages, msg)
	inbox.accumulators = append(inbox.accumulators, acc)
	inbox.feed.Broadcast(MessageAdded{Index: index, Accumulator: acc, Message: msg})
	return index, acc
}

func (inbox *Inbox) MessageCount() uint64 {
	inbox.mutex.RLock()
	defer inbox.mutex.RUnlock()
	return uint64(len(inbox.messages))
}

// Accumulator returns the running accumulator after message index.
func (inbox *Inbox) Accumulator(index uint64) (common.Hash, error) {
	inbox.mutex.RLock()
	defer inbox.mutex.RUnlock()
	if index >= uint64(len(inbox.accumulators)) {
		return common.Hash{}, errors.Wrapf(ErrMessageNotFound, "accumulator %d of %d", index, len(inbox.accumulators))
	}
	return inbox.accumulators[index], nil
}

func (inbox *Inbox) GetMessage(index uint64) ([]byte, error) {
	inbox.mutex.RLock()
	defer inbox.mutex.RUnlock()
	if index >= uint64(len(inbox.messages)) {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %d of %d", index, len(inbox.messages))
	}
	return common.CopyBytes(inbox.messages[index]), nil
}
