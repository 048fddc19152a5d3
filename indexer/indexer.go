// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package indexer rebuilds the assertion tree, the stakers and the
// challenge history from the rollup's event feed alone, and persists them
// for queries that should not touch the rollup's critical section.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/offchainlabs/rollupcore/containers/events"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/util/arbmath"
	"github.com/offchainlabs/rollupcore/util/stopwaiter"
)

const maxParallelReads = 8

type Indexer struct {
	stopwaiter.StopWaiter
	store Store
	sub   *events.Subscription[rollup.Event]
	cache *lru.Cache[string, []byte]
	mutex sync.Mutex
}

// New creates an indexer fed by sub. The genesis node is recorded unless the
// store already holds a head, in which case indexing resumes on top of it.
func New(ctx context.Context, store Store, sub *events.Subscription[rollup.Event], genesis *rollup.Node, cacheSize int) (*Indexer, error) {
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, err
	}
	ix := &Indexer{
		store: store,
		sub:   sub,
		cache: cache,
	}
	hasHead, err := store.Has(ctx, headKey)
	if err != nil {
		return nil, err
	}
	if !hasHead {
		u := ix.newUpdate(ctx)
		u.head = &Head{}
		u.nodes[0] = nodeRecordFromNode(genesis)
		if err := ix.commit(u); err != nil {
			return nil, fmt.Errorf("error recording genesis: %w", err)
		}
	}
	return ix, nil
}

func nodeRecordFromNode(node *rollup.Node) *NodeRecord {
	return &NodeRecord{
		NodeNum:        node.NodeNum,
		ParentNum:      node.ParentNum,
		NodeHash:       node.NodeHash,
		Assertion:      node.Assertion,
		InboxAcc:       node.InboxAcc,
		InboxMaxCount:  node.InboxMaxCount,
		DeadlineBlock:  node.DeadlineBlock,
		CreatedAtBlock: node.CreatedAtBlock,
		RequiredStake:  arbmath.BigCopy(node.RequiredStake),
		Status:         uint8(node.Status),
	}
}

func (ix *Indexer) Start(ctxIn context.Context) {
	ix.StopWaiter.Start(ctxIn, ix)
	ix.LaunchThread(func(ctx context.Context) {
		defer ix.sub.Unsubscribe()
		for {
			ev, err := ix.sub.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("indexer subscription ended", "err", err)
				}
				return
			}
			if err := ix.Apply(ctx, ev); err != nil {
				log.Error("error indexing event", "event", fmt.Sprintf("%T", ev), "err", err)
				return
			}
		}
	})
}

// Sync applies every event already queued on the subscription.
func (ix *Indexer) Sync(ctx context.Context) error {
	for ix.sub.Pending() > 0 {
		ev, err := ix.sub.Next(ctx)
		if err != nil {
			return err
		}
		if err := ix.Apply(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) readRaw(ctx context.Context, key []byte) ([]byte, error) {
	if data, ok := ix.cache.Get(string(key)); ok {
		return data, nil
	}
	data, err := ix.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ix.cache.Add(string(key), data)
	return data, nil
}

func readRecord[T any](ctx context.Context, ix *Indexer, key []byte) (*T, error) {
	data, err := ix.readRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var record T
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return nil, fmt.Errorf("error decoding record %x: %w", key, err)
	}
	return &record, nil
}

func (ix *Indexer) Head(ctx context.Context) (*Head, error) {
	return readRecord[Head](ctx, ix, headKey)
}

func (ix *Indexer) Node(ctx context.Context, nodeNum uint64) (*NodeRecord, error) {
	return readRecord[NodeRecord](ctx, ix, dbKey(nodePrefix, nodeNum))
}

func (ix *Indexer) Challenge(ctx context.Context, index uint64) (*ChallengeRecord, error) {
	return readRecord[ChallengeRecord](ctx, ix, dbKey(challengePrefix, index))
}

func (ix *Indexer) Staker(ctx context.Context, addr common.Address) (*StakerRecord, error) {
	return readRecord[StakerRecord](ctx, ix, stakerKey(addr))
}

// Nodes returns the records of nodes from through to, inclusive. The range
// is cut off at the latest indexed node.
func (ix *Indexer) Nodes(ctx context.Context, from uint64, to uint64) ([]*NodeRecord, error) {
	head, err := ix.Head(ctx)
	if err != nil {
		return nil, err
	}
	to = min(to, head.LatestNodeCreated)
	if to < from {
		return nil, nil
	}
	records := make([]*NodeRecord, to-from+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for i := range records {
		i := i
		g.Go(func() error {
			record, err := ix.Node(gctx, from+uint64(i))
			if err != nil {
				return fmt.Errorf("node %d: %w", from+uint64(i), err)
			}
			records[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// update collects the records touched by one event so they are written
// in a single batch.
type update struct {
	ctx        context.Context
	ix         *Indexer
	head       *Head
	nodes      map[uint64]*NodeRecord
	challenges map[uint64]*ChallengeRecord
	stakers    map[common.Address]*StakerRecord
}

func (ix *Indexer) newUpdate(ctx context.Context) *update {
	return &update{
		ctx:        ctx,
		ix:         ix,
		nodes:      make(map[uint64]*NodeRecord),
		challenges: make(map[uint64]*ChallengeRecord),
		stakers:    make(map[common.Address]*StakerRecord),
	}
}

func (u *update) node(nodeNum uint64) (*NodeRecord, error) {
	if record, ok := u.nodes[nodeNum]; ok {
		return record, nil
	}
	record, err := u.ix.Node(u.ctx, nodeNum)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", nodeNum, err)
	}
	u.nodes[nodeNum] = record
	return record, nil
}

func (u *update) challenge(index uint64) (*ChallengeRecord, error) {
	if record, ok := u.challenges[index]; ok {
		return record, nil
	}
	record, err := u.ix.Challenge(u.ctx, index)
	if err != nil {
		return nil, fmt.Errorf("challenge %d: %w", index, err)
	}
	u.challenges[index] = record
	return record, nil
}

// staker loads the record of addr, creating an empty one if none exists.
func (u *update) staker(addr common.Address) (*StakerRecord, error) {
	if record, ok := u.stakers[addr]; ok {
		return record, nil
	}
	record, err := u.ix.Staker(u.ctx, addr)
	if errors.Is(err, ErrNotFound) {
		record = &StakerRecord{Address: addr, Amount: new(big.Int)}
	} else if err != nil {
		return nil, err
	}
	u.stakers[addr] = record
	return record, nil
}

func (u *update) entries() ([]entry, error) {
	var entries []entry
	add := func(key []byte, record interface{}) error {
		data, err := rlp.EncodeToBytes(record)
		if err != nil {
			return fmt.Errorf("error encoding record %x: %w", key, err)
		}
		entries = append(entries, entry{key: key, value: data})
		return nil
	}
	for num, record := range u.nodes {
		if err := add(dbKey(nodePrefix, num), record); err != nil {
			return nil, err
		}
	}
	for index, record := range u.challenges {
		if err := add(dbKey(challengePrefix, index), record); err != nil {
			return nil, err
		}
	}
	for addr, record := range u.stakers {
		if err := add(stakerKey(addr), record); err != nil {
			return nil, err
		}
	}
	if err := add(headKey, u.head); err != nil {
		return nil, err
	}
	return entries, nil
}

func (ix *Indexer) commit(u *update) error {
	entries, err := u.entries()
	if err != nil {
		return err
	}
	if err := ix.store.WriteBatch(u.ctx, entries); err != nil {
		return err
	}
	for _, e := range entries {
		ix.cache.Add(string(e.key), e.value)
	}
	return nil
}

// Apply folds a single event into the stored records.
func (ix *Indexer) Apply(ctx context.Context, ev rollup.Event) error {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()
	u := ix.newUpdate(ctx)
	var err error
	u.head, err = ix.Head(ctx)
	if err != nil {
		return fmt.Errorf("error reading head: %w", err)
	}
	if err := u.apply(ev); err != nil {
		return err
	}
	u.head.EventCount++
	return ix.commit(u)
}

func (u *update) apply(ev rollup.Event) error {
	switch ev := ev.(type) {
	case *rollup.NodeCreated:
		u.nodes[ev.NodeNum] = &NodeRecord{
			NodeNum:        ev.NodeNum,
			ParentNum:      ev.ParentNum,
			NodeHash:       ev.NodeHash,
			Assertion:      ev.Assertion,
			InboxAcc:       ev.InboxAcc,
			InboxMaxCount:  ev.InboxMaxCount,
			DeadlineBlock:  ev.DeadlineBlock,
			CreatedAtBlock: ev.CreatedAtBlock,
			RequiredStake:  arbmath.BigCopy(ev.RequiredStake),
			Creator:        ev.Creator,
			Status:         uint8(rollup.StatusPending),
			Forced:         ev.Forced,
		}
		u.head.LatestNodeCreated = arbmath.MaxInt(u.head.LatestNodeCreated, ev.NodeNum)
	case *rollup.NodeDeadlineExtended:
		node, err := u.node(ev.NodeNum)
		if err != nil {
			return err
		}
		node.DeadlineBlock = ev.NewDeadline
	case *rollup.NodeConfirmed:
		node, err := u.node(ev.NodeNum)
		if err != nil {
			return err
		}
		node.Status = uint8(rollup.StatusConfirmed)
		node.Forced = node.Forced || ev.Forced
		u.head.LatestConfirmed = ev.NodeNum
	case *rollup.NodeRejected:
		node, err := u.node(ev.NodeNum)
		if err != nil {
			return err
		}
		node.Status = uint8(rollup.StatusRejected)
		node.Pruned = ev.Pruned
	case *rollup.StakerCreated:
		staker, err := u.staker(ev.Staker)
		if err != nil {
			return err
		}
		staker.Staked = true
		staker.Zombie = false
	case *rollup.StakeChanged:
		staker, err := u.staker(ev.Staker)
		if err != nil {
			return err
		}
		staker.Amount = arbmath.BigCopy(ev.NewAmount)
	case *rollup.StakerMoved:
		staker, err := u.staker(ev.Staker)
		if err != nil {
			return err
		}
		staker.LatestStakedNode = ev.ToNode
	case *rollup.StakerWithdrawn:
		staker, err := u.staker(ev.Staker)
		if err != nil {
			return err
		}
		staker.Staked = false
		staker.Amount = new(big.Int)
	case *rollup.StakerZombified:
		staker, err := u.staker(ev.Staker)
		if err != nil {
			return err
		}
		staker.Staked = false
		staker.Zombie = true
		staker.LatestStakedNode = ev.LatestStakedNode
	case *rollup.ZombieRemoved:
		staker, err := u.staker(ev.Staker)
		if err != nil {
			return err
		}
		staker.Zombie = false
	case *rollup.ChallengeStarted:
		u.challenges[ev.Index] = &ChallengeRecord{
			Index:          ev.Index,
			AsserterNode:   ev.AsserterNode,
			ChallengerNode: ev.ChallengerNode,
			Asserter:       ev.Asserter,
			Challenger:     ev.Challenger,
			NumBlocks:      ev.NumBlocks,
			StartedAtBlock: ev.LastMoveBlock,
			SegmentLength:  ev.NumBlocks,
			AwaitsOneStep:  ev.NumBlocks == 1,
		}
		for _, nodeNum := range []uint64{ev.AsserterNode, ev.ChallengerNode} {
			node, err := u.node(nodeNum)
			if err != nil {
				return err
			}
			node.Challenges = append(node.Challenges, ev.Index)
		}
		for _, addr := range []common.Address{ev.Asserter, ev.Challenger} {
			staker, err := u.staker(addr)
			if err != nil {
				return err
			}
			staker.Challenges = append(staker.Challenges, ev.Index)
		}
		u.head.ChallengeCount++
	case *rollup.Bisected:
		chal, err := u.challenge(ev.Index)
		if err != nil {
			return err
		}
		chal.Bisections++
		chal.SegmentStart = ev.SegmentStart
		chal.SegmentLength = ev.SegmentLength
		chal.AwaitsOneStep = ev.AwaitsOneStep
	case *rollup.OneStepProven:
		chal, err := u.challenge(ev.Index)
		if err != nil {
			return err
		}
		chal.Proven = true
		chal.ProvenStep = ev.Step
	case *rollup.ChallengeResolved:
		if ev.Index == 0 {
			// Late challengers lose without a challenge being recorded.
			log.Debug("indexed late challenger", "winner", ev.Winner, "loser", ev.Loser)
			return nil
		}
		chal, err := u.challenge(ev.Index)
		if err != nil {
			return err
		}
		chal.Resolved = true
		chal.Winner = ev.Winner
		chal.Loser = ev.Loser
		chal.Resolution = uint8(ev.Resolution)
	case *rollup.Paused:
		u.head.Paused = true
	case *rollup.Resumed:
		u.head.Paused = false
	}
	return nil
}
