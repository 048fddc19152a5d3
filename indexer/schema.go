// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	nodePrefix      []byte = []byte("n") // maps a node number to its NodeRecord
	challengePrefix []byte = []byte("c") // maps a challenge index to its ChallengeRecord
	stakerPrefix    []byte = []byte("s") // maps a staker address to its StakerRecord

	headKey []byte = []byte("_head") // contains the Head record
)

// Encodes a uint64 as bytes in a sortable manner
func uint64ToBytes(x uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, x)
	return data
}

func dbKey(prefix []byte, pos uint64) []byte {
	var key []byte
	key = append(key, prefix...)
	key = append(key, uint64ToBytes(pos)...)
	return key
}

func stakerKey(addr common.Address) []byte {
	var key []byte
	key = append(key, stakerPrefix...)
	key = append(key, addr.Bytes()...)
	return key
}
