// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestInbox(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in := NewInbox()
	sub := in.Subscribe()
	require.Equal(t, uint64(0), in.MessageCount())
	_, err := in.Accumulator(0)
	require.ErrorIs(t, err, ErrMessageNotFound)

	idx0, acc0 := in.Append([]byte("hello"))
	idx1, acc1 := in.Append([]byte("world"))
	require.Equal(t, uint64(0), idx0)
	require.Equal(t, uint64(1), idx1)
	require.Equal(t, uint64(2), in.MessageCount())
	require.Equal(t, NextAccumulator(common.Hash{}, 0, []byte("hello")), acc0)
	require.Equal(t, NextAccumulator(acc0, 1, []byte("world")), acc1)

	got, err := in.Accumulator(1)
	require.NoError(t, err)
	require.Equal(t, acc1, got)

	msg, err := in.GetMessage(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg)
	msg[0] = 'j'
	again, err := in.GetMessage(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), again)

	for i := uint64(0); i < 2; i++ {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, i, ev.Index)
	}
}
