// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/containers/events"
	"github.com/offchainlabs/rollupcore/inbox"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/blockref"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice = common.BytesToAddress([]byte("alice"))
	bob   = common.BytesToAddress([]byte("bob"))
	carol = common.BytesToAddress([]byte("carol"))
)

type testChain struct {
	t      *testing.T
	rollup *Rollup
	ref    *blockref.ArtificialBlockReference
	inbox  *inbox.Inbox
	feed   *events.Subscription[Event]
}

type chainOpts struct {
	messages int
	verifier osp.Verifier
	config   func(*Config)
}

func newTestChain(t *testing.T, opts chainOpts) *testChain {
	t.Helper()
	ib := inbox.NewInbox()
	for i := 0; i < opts.messages; i++ {
		ib.Append([]byte(fmt.Sprintf("message %d", i)))
	}
	ref := blockref.NewArtificialBlockReference(1)
	cfg := TestConfig
	if opts.config != nil {
		opts.config(&cfg)
	}
	verifier := opts.verifier
	if verifier == nil {
		verifier = osp.NewReferenceVerifier()
	}
	r, err := NewRollup(&cfg, ref, ib, verifier)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	c := &testChain{t: t, rollup: r, ref: ref, inbox: ib, feed: r.Subscribe()}
	for _, addr := range []common.Address{alice, bob, carol} {
		addr := addr
		c.mustTx(func(tx *ActiveTx) error {
			r.SetBalance(tx, addr, big.NewInt(10_000))
			return nil
		})
	}
	c.drainEvents()
	return c
}

func (c *testChain) tx(clo func(tx *ActiveTx) error) error {
	return c.rollup.Tx(context.Background(), clo)
}

func (c *testChain) mustTx(clo func(tx *ActiveTx) error) {
	c.t.Helper()
	require.NoError(c.t, c.tx(clo))
}

// failTx runs a transaction that must fail with target and checks that it
// left no trace in state or on the event feed.
func (c *testChain) failTx(target error, clo func(tx *ActiveTx) error) {
	c.t.Helper()
	before := c.rollup.Snapshot()
	pending := c.feed.Pending()
	err := c.tx(clo)
	require.ErrorIs(c.t, err, target)
	requireUnchanged(c.t, before, c.rollup.Snapshot())
	require.Equal(c.t, pending, c.feed.Pending())
}

func (c *testChain) call(clo func(tx *ActiveTx) error) {
	c.t.Helper()
	require.NoError(c.t, c.rollup.Call(context.Background(), clo))
}

func (c *testChain) node(nodeNum uint64) *Node {
	c.t.Helper()
	var node *Node
	c.call(func(tx *ActiveTx) error {
		var err error
		node, err = c.rollup.Node(tx, nodeNum)
		return err
	})
	return node
}

func (c *testChain) staker(addr common.Address) *Staker {
	c.t.Helper()
	var staker *Staker
	c.call(func(tx *ActiveTx) error {
		staker, _ = c.rollup.Staker(tx, addr)
		return nil
	})
	return staker
}

func (c *testChain) stake(addr common.Address, amount int64) {
	c.t.Helper()
	c.mustTx(func(tx *ActiveTx) error {
		return c.rollup.NewStake(tx, addr, big.NewInt(amount))
	})
}

// createNode creates a child of parentNum, returning its number.
func (c *testChain) createNode(sender common.Address, parentNum uint64, assertion protocol.Assertion) uint64 {
	c.t.Helper()
	parent := c.node(parentNum)
	var nodeNum uint64
	c.mustTx(func(tx *ActiveTx) error {
		var err error
		nodeNum, err = c.rollup.CreateNode(tx, sender, parentNum, assertion, parent.InboxMaxCount)
		return err
	})
	return nodeNum
}

func (c *testChain) execCtx(parent *Node) osp.ExecutionContext {
	return osp.ExecutionContext{MaxInboxMessages: parent.InboxMaxCount, ModuleRoot: c.rollup.Snapshot().Params.ModuleRoot}
}

// honestAssertion executes numBlocks blocks on top of the parent's state.
func (c *testChain) honestAssertion(parentNum uint64, numBlocks uint64) protocol.Assertion {
	parent := c.node(parentNum)
	before := parent.Assertion.AfterState
	return protocol.Assertion{
		BeforeState: before,
		AfterState:  osp.ReferenceMachine{}.Run(c.execCtx(parent), before, numBlocks),
		NumBlocks:   numBlocks,
	}
}

// lyingAssertion claims the right inbox position with a wrong block hash.
func (c *testChain) lyingAssertion(parentNum uint64, numBlocks uint64) protocol.Assertion {
	assertion := c.honestAssertion(parentNum, numBlocks)
	assertion.AfterState.GlobalState.BlockHash = common.HexToHash("0xbad")
	return assertion
}

// trace returns the honest block state hashes of the node's assertion at
// every step from 0 to the assertion's length.
func (c *testChain) trace(parentNum uint64, numBlocks uint64) []common.Hash {
	c.t.Helper()
	parent := c.node(parentNum)
	execCtx := c.execCtx(parent)
	hashes := make([]common.Hash, numBlocks+1)
	for i := range hashes {
		h, err := osp.ReferenceMachine{}.HashAtStep(execCtx, parent.Assertion.AfterState, uint64(i))
		require.NoError(c.t, err)
		hashes[i] = h
	}
	return hashes
}

func (c *testChain) advance(blocks uint64) uint64 {
	return c.ref.Add(blocks)
}

func (c *testChain) nextEvent() Event {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := c.feed.Next(ctx)
	require.NoError(c.t, err)
	return ev
}

func (c *testChain) drainEvents() []Event {
	var evs []Event
	for c.feed.Pending() > 0 {
		evs = append(evs, c.nextEvent())
	}
	return evs
}

func bigComparer(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

var stateCmpOpts = []cmp.Option{
	cmp.Comparer(bigComparer),
	cmpopts.IgnoreUnexported(challenge.Manager{}),
	cmpopts.EquateEmpty(),
}

func requireUnchanged(t *testing.T, before, after *State) {
	t.Helper()
	if diff := cmp.Diff(before, after, stateCmpOpts...); diff != "" {
		t.Fatalf("state changed (-before +after):\n%s", diff)
	}
	require.Equal(t, before.Challenges.ActiveChallenges(), after.Challenges.ActiveChallenges())
	for _, idx := range before.Challenges.ActiveChallenges() {
		b, _ := before.Challenges.Challenge(idx)
		a, _ := after.Challenges.Challenge(idx)
		require.Equal(t, b.String(), a.String())
		require.Equal(t, b.StateHash, a.StateHash)
		require.Equal(t, b.Current, a.Current)
		require.Equal(t, b.Phase(), a.Phase())
	}
}

func requireCategory(t *testing.T, err error, category protocol.Category) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, category, CategoryOf(err), "error %v", err)
}

func eventsOfType[T Event](evs []Event) []T {
	var out []T
	for _, ev := range evs {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}
