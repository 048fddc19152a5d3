// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package rollup holds the assertion tree, the staking ledger and the glue to
// the challenge manager. All access goes through Tx and Call, which serialize
// operations and make every mutating operation all-or-nothing.
package rollup

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/containers/events"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
	"github.com/offchainlabs/rollupcore/util/blockref"
)

// InboxReader is the read-only view of the message feed.
type InboxReader interface {
	MessageCount() uint64
	Accumulator(index uint64) (common.Hash, error)
}

type Rollup struct {
	mutex    sync.RWMutex
	state    *State
	blockRef blockref.BlockReference
	inbox    InboxReader
	feed     *events.Producer[Event]
}

const (
	deadTxStatus = iota
	readOnlyTxStatus
	readWriteTxStatus
)

// ActiveTx is a transaction that is currently being processed. It carries the
// block height sampled when the transaction started.
type ActiveTx struct {
	txStatus int
	ctx      context.Context
	state    *State
	now      uint64
	events   []Event
}

// verifyRead is a helper function to verify that the transaction is still open.
func (tx *ActiveTx) verifyRead() {
	if tx.txStatus == deadTxStatus {
		panic("tried to read chain after call ended")
	}
}

// verifyReadWrite is a helper function to verify that the transaction is read-write.
func (tx *ActiveTx) verifyReadWrite() {
	if tx.txStatus != readWriteTxStatus {
		panic("tried to modify chain in read-only call")
	}
}

// Now is the block height the transaction executes at.
func (tx *ActiveTx) Now() uint64 {
	return tx.now
}

// Context is the context passed to Tx or Call, marked as belonging to an
// in-flight transaction.
func (tx *ActiveTx) Context() context.Context {
	return tx.ctx
}

func (tx *ActiveTx) emit(ev Event) {
	tx.events = append(tx.events, ev)
}

type inFlightKey struct{}

func (r *Rollup) inFlight(ctx context.Context) bool {
	owner, ok := ctx.Value(inFlightKey{}).(*Rollup)
	return ok && owner == r
}

// NewRollup creates the rollup with its genesis node confirmed.
func NewRollup(
	config *Config,
	blockRef blockref.BlockReference,
	inbox InboxReader,
	verifier osp.Verifier,
) (*Rollup, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	manager, err := challenge.NewManager(verifier, config.MaxBisectionDegree)
	if err != nil {
		return nil, err
	}
	now := blockRef.Get()
	params := config.Params()
	genesisState := protocol.ExecutionState{MachineStatus: protocol.MachineStatusFinished}
	genesisAssertion := protocol.Assertion{BeforeState: genesisState, AfterState: genesisState}
	genesis := &Node{
		NodeNum:        0,
		NodeHash:       protocol.NodeHash(common.Hash{}, genesisAssertion.Hash(), common.Hash{}),
		Assertion:      genesisAssertion,
		ConfirmData:    protocol.ConfirmHash(common.Hash{}, common.Hash{}),
		DeadlineBlock:  now,
		CreatedAtBlock: now,
		InboxMaxCount:  arbmath.MaxInt(inbox.MessageCount(), 1),
		RequiredStake:  new(big.Int),
		Status:         StatusConfirmed,
	}
	state := &State{
		Params:                 params,
		Validators:             make(map[common.Address]bool),
		Nodes:                  []*Node{genesis},
		LatestConfirmed:        0,
		FirstUnresolved:        1,
		LatestNodeCreated:      0,
		Stakers:                make(map[common.Address]*Staker),
		NodeStakers:            make(map[uint64]map[common.Address]bool),
		Balances:               make(map[common.Address]*big.Int),
		WithdrawableFunds:      make(map[common.Address]*big.Int),
		TotalWithdrawableFunds: new(big.Int),
		Challenges:             manager,
	}
	for _, v := range config.validators {
		state.Validators[v] = true
	}
	log.Info("rollup initialized", "owner", params.Owner, "confirmPeriod", params.ConfirmPeriodBlocks, "baseStake", params.BaseStake)
	return &Rollup{
		state:    state,
		blockRef: blockRef,
		inbox:    inbox,
		feed:     events.NewProducer[Event](),
	}, nil
}

// Tx runs a mutating operation. The closure works on a private copy of the
// state, which replaces the shared state only if the closure returns nil.
// Events emitted by a failed transaction are discarded.
func (r *Rollup) Tx(ctx context.Context, clo func(tx *ActiveTx) error) error {
	if r.inFlight(ctx) {
		return errors.Wrap(ErrReentrantCall, "tx")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	tx := &ActiveTx{
		txStatus: readWriteTxStatus,
		ctx:      context.WithValue(ctx, inFlightKey{}, r),
		state:    r.state.Clone(),
		now:      r.blockRef.Get(),
	}
	err := clo(tx)
	tx.txStatus = deadTxStatus
	if err != nil {
		return err
	}
	r.state = tx.state
	r.feed.Broadcast(tx.events...)
	return nil
}

// Call runs a read-only operation against the shared state.
func (r *Rollup) Call(ctx context.Context, clo func(tx *ActiveTx) error) error {
	if r.inFlight(ctx) {
		return errors.Wrap(ErrReentrantCall, "call")
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	tx := &ActiveTx{
		txStatus: readOnlyTxStatus,
		ctx:      context.WithValue(ctx, inFlightKey{}, r),
		state:    r.state,
		now:      r.blockRef.Get(),
	}
	err := clo(tx)
	tx.txStatus = deadTxStatus
	return err
}

// Snapshot returns a deep copy of the current state.
func (r *Rollup) Snapshot() *State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.Clone()
}

// Subscribe returns a subscription to the events of committed transactions.
func (r *Rollup) Subscribe() *events.Subscription[Event] {
	return r.feed.Subscribe()
}

func (r *Rollup) Inbox() InboxReader {
	return r.inbox
}

func (r *Rollup) BlockReference() blockref.BlockReference {
	return r.blockRef
}

// Close ends all event subscriptions.
func (r *Rollup) Close() {
	r.feed.Close()
}

// Balance returns the spendable balance of addr.
func (r *Rollup) Balance(tx *ActiveTx, addr common.Address) *big.Int {
	tx.verifyRead()
	return new(big.Int).Set(tx.state.balance(addr))
}

// SetBalance sets the spendable balance of addr. It stands in for value
// entering the system from the host ledger.
func (r *Rollup) SetBalance(tx *ActiveTx, addr common.Address, balance *big.Int) {
	tx.verifyReadWrite()
	old := tx.state.balance(addr)
	tx.state.Balances[addr] = new(big.Int).Set(balance)
	tx.emit(&BalanceSet{Addr: addr, OldBalance: new(big.Int).Set(old), NewBalance: new(big.Int).Set(balance)})
}

// AddToBalance adds the given amount to the balance of the given address.
func (r *Rollup) AddToBalance(tx *ActiveTx, addr common.Address, amount *big.Int) {
	tx.verifyReadWrite()
	r.SetBalance(tx, addr, arbmath.BigAdd(tx.state.balance(addr), amount))
}

// deductFromBalance takes value attached to a call from the sender's balance.
func (r *Rollup) deductFromBalance(tx *ActiveTx, addr common.Address, amount *big.Int) error {
	balance := tx.state.balance(addr)
	if balance.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientValue, "%s < %s", balance.String(), amount.String())
	}
	r.SetBalance(tx, addr, arbmath.BigSub(balance, amount))
	return nil
}

func (r *Rollup) requireUnpaused(tx *ActiveTx) error {
	if tx.state.Paused {
		return ErrPaused
	}
	return nil
}

func (r *Rollup) requireValidator(tx *ActiveTx, sender common.Address) error {
	if tx.state.Params.ValidatorWhitelistDisabled || tx.state.Validators[sender] {
		return nil
	}
	return errors.Wrapf(ErrNotValidator, "%v", sender)
}

// requireUserOp gates every user operation on the pause flag and the
// validator whitelist.
func (r *Rollup) requireUserOp(tx *ActiveTx, sender common.Address) error {
	tx.verifyReadWrite()
	if err := r.requireUnpaused(tx); err != nil {
		return err
	}
	return r.requireValidator(tx, sender)
}
