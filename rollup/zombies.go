// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

func (s *State) isZombie(addr common.Address) bool {
	for _, z := range s.Zombies {
		if z.StakerAddress == addr {
			return true
		}
	}
	return false
}

// turnIntoZombie removes a staker that forfeited its stake. Its node path
// entries stay behind until the zombie is removed.
func (r *Rollup) turnIntoZombie(tx *ActiveTx, staker *Staker) {
	s := tx.state
	s.Zombies = append(s.Zombies, Zombie{StakerAddress: staker.Address, LatestStakedNode: staker.LatestStakedNode})
	s.deleteStaker(staker.Address)
	tx.emit(&StakerZombified{Staker: staker.Address, LatestStakedNode: staker.LatestStakedNode})
	log.Info("staker turned into zombie", "staker", staker.Address, "latestStakedNode", staker.LatestStakedNode)
}

// removeZombieEntry swap-deletes zombie zombieNum.
func (r *Rollup) removeZombieEntry(tx *ActiveTx, zombieNum int) {
	s := tx.state
	addr := s.Zombies[zombieNum].StakerAddress
	last := len(s.Zombies) - 1
	s.Zombies[zombieNum] = s.Zombies[last]
	s.Zombies = s.Zombies[:last]
	tx.emit(&ZombieRemoved{Staker: addr})
}

// RemoveZombie clears up to maxNodes path entries of a zombie, walking back
// from its latest staked node until the latest confirmed node. The zombie is
// removed once its walk is complete.
func (r *Rollup) RemoveZombie(tx *ActiveTx, sender common.Address, zombieNum uint64, maxNodes uint64) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	s := tx.state
	if zombieNum >= uint64(len(s.Zombies)) {
		return errors.Wrapf(ErrNoSuchZombie, "zombie %d of %d", zombieNum, len(s.Zombies))
	}
	zombie := &s.Zombies[zombieNum]
	nodeNum := zombie.LatestStakedNode
	done := nodeNum < s.LatestConfirmed
	var removed uint64
	for !done && removed < maxNodes {
		node := s.Nodes[nodeNum]
		if err := s.removeStaker(nodeNum, zombie.StakerAddress); err != nil {
			return err
		}
		removed++
		if nodeNum == 0 {
			done = true
			break
		}
		nodeNum = node.ParentNum
		done = nodeNum < s.LatestConfirmed
	}
	if done {
		r.removeZombieEntry(tx, int(zombieNum))
	} else {
		zombie.LatestStakedNode = nodeNum
	}
	log.Debug("removed zombie entries", "sender", sender, "zombie", zombieNum, "nodes", removed, "done", done)
	return nil
}

// removeOldZombies drops every zombie from startIndex on whose path lies
// entirely behind the latest confirmed node.
func (r *Rollup) removeOldZombies(tx *ActiveTx, startIndex uint64) {
	s := tx.state
	for i := startIndex; i < uint64(len(s.Zombies)); {
		if s.Zombies[i].LatestStakedNode < s.LatestConfirmed {
			r.removeZombieEntry(tx, int(i))
			continue
		}
		i++
	}
}

// RemoveOldZombies is the externally callable form of the cleanup that runs
// before every confirmation or rejection.
func (r *Rollup) RemoveOldZombies(tx *ActiveTx, sender common.Address, startIndex uint64) error {
	if err := r.requireUserOp(tx, sender); err != nil {
		return err
	}
	r.removeOldZombies(tx, startIndex)
	return nil
}

func (r *Rollup) ZombieCount(tx *ActiveTx) uint64 {
	tx.verifyRead()
	return uint64(len(tx.state.Zombies))
}

func (r *Rollup) ZombieAddress(tx *ActiveTx, zombieNum uint64) (common.Address, error) {
	tx.verifyRead()
	if zombieNum >= uint64(len(tx.state.Zombies)) {
		return common.Address{}, errors.Wrapf(ErrNoSuchZombie, "zombie %d", zombieNum)
	}
	return tx.state.Zombies[zombieNum].StakerAddress, nil
}

func (r *Rollup) ZombieLatestStakedNode(tx *ActiveTx, zombieNum uint64) (uint64, error) {
	tx.verifyRead()
	if zombieNum >= uint64(len(tx.state.Zombies)) {
		return 0, errors.Wrapf(ErrNoSuchZombie, "zombie %d", zombieNum)
	}
	return tx.state.Zombies[zombieNum].LatestStakedNode, nil
}

func (r *Rollup) CountStakedZombies(tx *ActiveTx, nodeNum uint64) uint64 {
	tx.verifyRead()
	return tx.state.countStakedZombies(nodeNum)
}

func (r *Rollup) CountZombiesStakedOnChildren(tx *ActiveTx, nodeNum uint64) uint64 {
	tx.verifyRead()
	return tx.state.countZombiesStakedOnChildren(nodeNum)
}
