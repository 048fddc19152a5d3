// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package indexer

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/r3labs/diff/v3"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/inbox"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/util/blockref"
	"github.com/offchainlabs/rollupcore/util/redisutil"
)

var (
	alice = common.BytesToAddress([]byte("alice"))
	bob   = common.BytesToAddress([]byte("bob"))
)

func newTestRollup(t *testing.T, messages int) (*rollup.Rollup, *blockref.ArtificialBlockReference) {
	t.Helper()
	ib := inbox.NewInbox()
	for i := 0; i < messages; i++ {
		ib.Append([]byte(fmt.Sprintf("message %d", i)))
	}
	ref := blockref.NewArtificialBlockReference(1)
	cfg := rollup.TestConfig
	r, err := rollup.NewRollup(&cfg, ref, ib, osp.NewReferenceVerifier())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, ref
}

func genesisNode(t *testing.T, r *rollup.Rollup) *rollup.Node {
	t.Helper()
	var genesis *rollup.Node
	require.NoError(t, r.Call(context.Background(), func(tx *rollup.ActiveTx) error {
		var err error
		genesis, err = r.Node(tx, 0)
		return err
	}))
	return genesis
}

// playDispute has alice and bob assert conflicting children of genesis.
// alice bisects once, bob times out of the challenge and alice's node is
// confirmed.
func playDispute(t *testing.T, r *rollup.Rollup, ref *blockref.ArtificialBlockReference) uint64 {
	t.Helper()
	ctx := context.Background()
	tx := func(clo func(tx *rollup.ActiveTx) error) {
		t.Helper()
		require.NoError(t, r.Tx(ctx, clo))
	}
	execCtx := func(tx *rollup.ActiveTx, parent *rollup.Node) osp.ExecutionContext {
		return osp.ExecutionContext{MaxInboxMessages: parent.InboxMaxCount, ModuleRoot: r.Params(tx).ModuleRoot}
	}
	assertion := func(tx *rollup.ActiveTx, lie bool) (protocol.Assertion, uint64) {
		parent, err := r.Node(tx, 0)
		require.NoError(t, err)
		before := parent.Assertion.AfterState
		a := protocol.Assertion{
			BeforeState: before,
			AfterState:  osp.ReferenceMachine{}.Run(execCtx(tx, parent), before, 2),
			NumBlocks:   2,
		}
		if lie {
			a.AfterState.GlobalState.BlockHash = common.HexToHash("0xbad")
		}
		return a, parent.InboxMaxCount
	}

	tx(func(tx *rollup.ActiveTx) error {
		r.SetBalance(tx, alice, big.NewInt(10_000))
		r.SetBalance(tx, bob, big.NewInt(10_000))
		return nil
	})
	for i, staker := range []common.Address{alice, bob} {
		staker := staker
		lie := i == 1
		tx(func(tx *rollup.ActiveTx) error {
			if err := r.NewStake(tx, staker, big.NewInt(100)); err != nil {
				return err
			}
			a, prevCount := assertion(tx, lie)
			_, err := r.CreateNode(tx, staker, 0, a, prevCount)
			return err
		})
		ref.Add(1)
	}
	var index uint64
	tx(func(tx *rollup.ActiveTx) error {
		var err error
		index, err = r.CreateChallenge(tx, alice, [2]common.Address{alice, bob}, [2]uint64{1, 2})
		return err
	})
	tx(func(tx *rollup.ActiveTx) error {
		chal, ok := r.Challenge(tx, index)
		require.True(t, ok)
		parent, err := r.Node(tx, 0)
		require.NoError(t, err)
		segments := make([]common.Hash, 3)
		for i := range segments {
			segments[i], err = osp.ReferenceMachine{}.HashAtStep(execCtx(tx, parent), parent.Assertion.AfterState, uint64(i))
			require.NoError(t, err)
		}
		return r.BisectExecution(tx, alice, index, chal.Selection(0), segments)
	})
	ref.Add(1000)
	tx(func(tx *rollup.ActiveTx) error {
		return r.Timeout(tx, alice, index)
	})
	tx(func(tx *rollup.ActiveTx) error {
		return r.ConfirmNextNode(tx, alice)
	})
	return index
}

func bigComparer(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

var recordCmpOpts = []cmp.Option{
	cmp.Comparer(bigComparer),
	cmpopts.EquateEmpty(),
}

func requireSameRecord(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		if d := cmp.Diff(expected, actual, recordCmpOpts...); d != "" {
			changelog, err := diff.Diff(expected, actual)
			require.NoError(t, err)
			t.Fatalf("indexed record mismatch (-expected +actual):\n%s\nchanges: %v", d, changelog)
		}
	}
}

func checkIndexedDispute(t *testing.T, ctx context.Context, ix *Indexer, r *rollup.Rollup, index uint64) {
	t.Helper()
	state := r.Snapshot()

	head, err := ix.Head(ctx)
	require.NoError(t, err)
	requireSameRecord(t, &Head{
		EventCount:        head.EventCount,
		LatestConfirmed:   1,
		LatestNodeCreated: 2,
		ChallengeCount:    1,
	}, head)
	require.NotZero(t, head.EventCount)

	nodes, err := ix.Nodes(ctx, 0, state.LatestNodeCreated)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	unbounded, err := ix.Nodes(ctx, 0, math.MaxUint64)
	require.NoError(t, err)
	requireSameRecord(t, nodes, unbounded)
	tail, err := ix.Nodes(ctx, 2, math.MaxUint64)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	past, err := ix.Nodes(ctx, 3, math.MaxUint64)
	require.NoError(t, err)
	require.Empty(t, past)
	for _, record := range nodes {
		node := state.Nodes[record.NodeNum]
		expected := nodeRecordFromNode(node)
		expected.Creator = record.Creator
		expected.Pruned = record.Pruned
		expected.Challenges = record.Challenges
		requireSameRecord(t, expected, record)
	}
	require.Equal(t, alice, nodes[1].Creator)
	require.Equal(t, bob, nodes[2].Creator)
	require.Equal(t, rollup.StatusConfirmed, nodes[1].NodeStatus())
	require.Equal(t, rollup.StatusRejected, nodes[2].NodeStatus())
	require.True(t, nodes[2].Pruned)
	require.Equal(t, []uint64{index}, nodes[1].Challenges)
	require.Equal(t, []uint64{index}, nodes[2].Challenges)

	chal, err := ix.Challenge(ctx, index)
	require.NoError(t, err)
	requireSameRecord(t, &ChallengeRecord{
		Index:          index,
		AsserterNode:   1,
		ChallengerNode: 2,
		Asserter:       alice,
		Challenger:     bob,
		NumBlocks:      2,
		StartedAtBlock: chal.StartedAtBlock,
		Bisections:     1,
		SegmentStart:   0,
		SegmentLength:  2,
		AwaitsOneStep:  true,
		Resolved:       true,
		Winner:         alice,
		Loser:          bob,
		Resolution:     uint8(challenge.ResolvedByTimeout),
	}, chal)

	aliceRecord, err := ix.Staker(ctx, alice)
	require.NoError(t, err)
	require.True(t, aliceRecord.Staked)
	require.Equal(t, state.Stakers[alice].AmountStaked.Int64(), aliceRecord.Amount.Int64())
	require.Equal(t, uint64(1), aliceRecord.LatestStakedNode)

	bobRecord, err := ix.Staker(ctx, bob)
	require.NoError(t, err)
	require.False(t, bobRecord.Staked)
	require.True(t, bobRecord.Zombie)
	require.Zero(t, bobRecord.Amount.Sign())
	require.Equal(t, []uint64{index}, bobRecord.Challenges)

	_, err = ix.Staker(ctx, common.HexToAddress("0x1234"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIndexerBackends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewDBStore(memorydb.New())
		},
		"leveldb": func(t *testing.T) Store {
			config := TestConfig
			config.Backend = "leveldb"
			config.Path = filepath.Join(t.TempDir(), "index")
			require.NoError(t, config.Validate())
			store, err := NewStore(&config)
			require.NoError(t, err)
			return store
		},
		"bigcache": func(t *testing.T) Store {
			config := TestConfig
			config.BigCache.Enable = true
			require.NoError(t, config.Validate())
			store, err := NewStore(&config)
			require.NoError(t, err)
			require.IsType(t, &BigCacheStore{}, store)
			return store
		},
		"redis": func(t *testing.T) Store {
			config := TestConfig
			config.Backend = "redis"
			config.RedisURL = redisutil.CreateTestRedis(ctx, t)
			require.NoError(t, config.Validate())
			store, err := NewStore(&config)
			require.NoError(t, err)
			return store
		},
	}
	for name, open := range backends {
		open := open
		t.Run(name, func(t *testing.T) {
			r, ref := newTestRollup(t, 2)
			store := open(t)
			defer store.Close()
			ix, err := New(ctx, store, r.Subscribe(), genesisNode(t, r), TestConfig.CacheSize)
			require.NoError(t, err)

			index := playDispute(t, r, ref)
			require.NoError(t, ix.Sync(ctx))
			checkIndexedDispute(t, ctx, ix, r, index)
		})
	}
}

func TestIndexerFollowsFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, ref := newTestRollup(t, 2)
	ix, err := New(ctx, NewDBStore(memorydb.New()), r.Subscribe(), genesisNode(t, r), 4)
	require.NoError(t, err)
	ix.Start(ctx)
	defer ix.StopAndWait()

	index := playDispute(t, r, ref)
	require.Eventually(t, func() bool {
		node, err := ix.Node(ctx, 2)
		return err == nil && node.Pruned
	}, time.Second*5, time.Millisecond*10)
	checkIndexedDispute(t, ctx, ix, r, index)
}

func TestIndexerResumesFromStore(t *testing.T) {
	ctx := context.Background()
	r, ref := newTestRollup(t, 2)
	db := memorydb.New()
	ix, err := New(ctx, NewDBStore(db), r.Subscribe(), genesisNode(t, r), 4)
	require.NoError(t, err)
	index := playDispute(t, r, ref)
	require.NoError(t, ix.Sync(ctx))
	head, err := ix.Head(ctx)
	require.NoError(t, err)

	// A second indexer on the same store keeps the recorded head.
	resumed, err := New(ctx, NewDBStore(db), r.Subscribe(), genesisNode(t, r), 4)
	require.NoError(t, err)
	resumedHead, err := resumed.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, head, resumedHead)
	checkIndexedDispute(t, ctx, resumed, r, index)

	require.NoError(t, r.Tx(ctx, func(tx *rollup.ActiveTx) error {
		return r.Pause(tx, common.HexToAddress(rollup.TestConfig.Owner))
	}))
	require.NoError(t, resumed.Sync(ctx))
	resumedHead, err = resumed.Head(ctx)
	require.NoError(t, err)
	require.True(t, resumedHead.Paused)
	require.Equal(t, head.EventCount+1, resumedHead.EventCount)
}

func TestIndexerConfig(t *testing.T) {
	config := DefaultConfig
	require.NoError(t, config.Validate())
	for _, mutate := range []func(c *Config){
		func(c *Config) { c.Backend = "pebble" },
		func(c *Config) { c.Backend = "leveldb" },
		func(c *Config) { c.Backend = "redis" },
		func(c *Config) { c.CacheSize = 0 },
		func(c *Config) { c.BigCache = BigCacheConfig{Enable: true} },
	} {
		config := DefaultConfig
		mutate(&config)
		require.Error(t, config.Validate())
	}
}

type countingStore struct {
	Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.gets++
	return s.Store.Get(ctx, key)
}

func TestBigCacheStoreServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	db := memorydb.New()
	require.NoError(t, db.Put([]byte("preexisting"), []byte{1}))
	base := &countingStore{Store: NewDBStore(db)}
	store, err := NewBigCacheStore(TestConfig.BigCache, base)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 3; i++ {
		data, err := store.Get(ctx, []byte("preexisting"))
		require.NoError(t, err)
		require.Equal(t, []byte{1}, data)
	}
	require.Equal(t, 1, base.gets)

	require.NoError(t, store.WriteBatch(ctx, []entry{{key: []byte("written"), value: []byte{2}}}))
	data, err := store.Get(ctx, []byte("written"))
	require.NoError(t, err)
	require.Equal(t, []byte{2}, data)
	require.Equal(t, 1, base.gets)
	has, err := db.Has([]byte("written"))
	require.NoError(t, err)
	require.True(t, has)

	_, err = store.Get(ctx, []byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
	has, err = store.Has(ctx, []byte("missing"))
	require.NoError(t, err)
	require.False(t, has)
}
