// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SegmentSelection identifies one segment of the most recent bisection. The
// caller supplies the full previous commitment so it can be checked against
// the stored challenge state hash.
type SegmentSelection struct {
	OldSegmentsStart  uint64
	OldSegmentsLength uint64
	OldSegments       []common.Hash
	ChallengePosition uint64
}

func uint64ToWord(val uint64) []byte {
	var word common.Hash
	binary.BigEndian.PutUint64(word[(32-8):], val)
	return word.Bytes()
}

// HashChallengeState commits to a segment list covering [start, start+length).
func HashChallengeState(segmentsStart uint64, segmentsLength uint64, segments []common.Hash) common.Hash {
	data := make([]byte, 0, 64+32*len(segments))
	data = append(data, uint64ToWord(segmentsStart)...)
	data = append(data, uint64ToWord(segmentsLength)...)
	for _, segment := range segments {
		data = append(data, segment.Bytes()...)
	}
	return crypto.Keccak256Hash(data)
}

// Hash is the commitment of the previous bisection this selection claims.
func (s *SegmentSelection) Hash() common.Hash {
	return HashChallengeState(s.OldSegmentsStart, s.OldSegmentsLength, s.OldSegments)
}

// ExtractChallengeSegment returns the range of the selected segment. All
// segments have length OldSegmentsLength/degree except the last one, which
// also absorbs the remainder. A selection with fewer than two boundaries or a
// position past the last segment is rejected with ErrBadChallengePosition.
func ExtractChallengeSegment(s *SegmentSelection) (segmentStart uint64, segmentLength uint64, err error) {
	if len(s.OldSegments) < 2 {
		return 0, 0, errors.Wrapf(ErrBadChallengePosition, "%d segment boundaries", len(s.OldSegments))
	}
	degree := uint64(len(s.OldSegments) - 1)
	if s.ChallengePosition >= degree {
		return 0, 0, errors.Wrapf(ErrBadChallengePosition, "position %d with %d segments", s.ChallengePosition, degree)
	}
	segmentLength = s.OldSegmentsLength / degree
	segmentStart = s.OldSegmentsStart + segmentLength*s.ChallengePosition
	if s.ChallengePosition == degree-1 {
		segmentLength += s.OldSegmentsLength % degree
	}
	return segmentStart, segmentLength, nil
}

// BisectionDegree is the number of segments a range of the given length is
// split into.
func BisectionDegree(length uint64, maxDegree uint64) uint64 {
	if length < maxDegree {
		return length
	}
	return maxDegree
}

// SegmentPositions returns the step positions of the degree+1 boundaries of a
// bisection over [start, start+length).
func SegmentPositions(start uint64, length uint64, maxDegree uint64) []uint64 {
	degree := BisectionDegree(length, maxDegree)
	if degree == 0 {
		return []uint64{start}
	}
	positions := make([]uint64, degree+1)
	normalSegmentLength := length / degree
	position := start
	for i := range positions {
		if i == len(positions)-1 {
			position = start + length
		}
		positions[i] = position
		position += normalSegmentLength
	}
	return positions
}
