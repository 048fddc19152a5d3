// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
)

type StakerStrategy uint8

const (
	// Watchtower: don't do anything on the rollup, but log if there's a bad assertion
	WatchtowerStrategy StakerStrategy = iota
	// Defensive: stake if there's a bad assertion
	DefensiveStrategy
	// Stake latest: stay staked on the latest node, challenging bad assertions
	StakeLatestStrategy
	// Make nodes: continually create new nodes, challenging bad assertions
	MakeNodesStrategy
)

func (s StakerStrategy) String() string {
	switch s {
	case WatchtowerStrategy:
		return "watchtower"
	case DefensiveStrategy:
		return "defensive"
	case StakeLatestStrategy:
		return "stakeLatest"
	case MakeNodesStrategy:
		return "makeNodes"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

func stakerStrategyFromString(s string) (StakerStrategy, error) {
	switch strings.ToLower(s) {
	case "watchtower":
		return WatchtowerStrategy, nil
	case "defensive":
		return DefensiveStrategy, nil
	case "stakelatest":
		return StakeLatestStrategy, nil
	case "makenodes":
		return MakeNodesStrategy, nil
	default:
		return WatchtowerStrategy, fmt.Errorf("unknown staker strategy \"%v\"", s)
	}
}

type Config struct {
	Enable              bool          `koanf:"enable"`
	Strategy            string        `koanf:"strategy"`
	Address             string        `koanf:"address"`
	StakerInterval      time.Duration `koanf:"staker-interval"`
	MakeAssertionBlocks uint64        `koanf:"make-assertion-blocks"`
	StakeAmount         string        `koanf:"stake-amount"`
	DisableChallenge    bool          `koanf:"disable-challenge"`
	MaxAdvanceSteps     int           `koanf:"max-advance-steps"`
	StateCacheSize      int           `koanf:"state-cache-size"`

	strategy    StakerStrategy
	address     common.Address
	stakeAmount *big.Int
}

func (c *Config) Validate() error {
	strategy, err := stakerStrategyFromString(c.Strategy)
	if err != nil {
		return err
	}
	c.strategy = strategy
	if strategy != WatchtowerStrategy && !common.IsHexAddress(c.Address) {
		return fmt.Errorf("invalid staker address %q", c.Address)
	}
	c.address = common.HexToAddress(c.Address)
	c.stakeAmount = nil
	if c.StakeAmount != "" {
		amount, ok := new(big.Int).SetString(c.StakeAmount, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("invalid stake-amount %q", c.StakeAmount)
		}
		c.stakeAmount = amount
	}
	if c.StakerInterval <= 0 {
		return errors.New("staker-interval must be positive")
	}
	if c.MaxAdvanceSteps <= 0 {
		return errors.New("max-advance-steps must be positive")
	}
	if c.StateCacheSize <= 0 {
		return errors.New("state-cache-size must be positive")
	}
	return nil
}

func (c *Config) StakerStrategy() StakerStrategy {
	return c.strategy
}

func (c *Config) StakerAddress() common.Address {
	return c.address
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultConfig.Enable, "enable staker")
	f.String(prefix+".strategy", DefaultConfig.Strategy, "staker strategy, either watchtower, defensive, stakeLatest, or makeNodes")
	f.String(prefix+".address", DefaultConfig.Address, "address the staker acts as")
	f.Duration(prefix+".staker-interval", DefaultConfig.StakerInterval, "how often the staker should check the status of the rollup and maybe take action with its stake")
	f.Uint64(prefix+".make-assertion-blocks", DefaultConfig.MakeAssertionBlocks, "if configured with the makeNodes strategy, how many blocks to wait after the staked node before creating a new assertion (bypassed in case of a dispute)")
	f.String(prefix+".stake-amount", DefaultConfig.StakeAmount, "amount to stake in wei (defaults to the current required stake)")
	f.Bool(prefix+".disable-challenge", DefaultConfig.DisableChallenge, "disable validator challenge")
	f.Int(prefix+".max-advance-steps", DefaultConfig.MaxAdvanceSteps, "maximum number of nodes to advance the stake in a single round")
	f.Int(prefix+".state-cache-size", DefaultConfig.StateCacheSize, "number of execution states cached per challenge")
}

var DefaultConfig = Config{
	Enable:              false,
	Strategy:            "Watchtower",
	Address:             "",
	StakerInterval:      time.Minute,
	MakeAssertionBlocks: 300,
	StakeAmount:         "",
	DisableChallenge:    false,
	MaxAdvanceSteps:     20,
	StateCacheSize:      1024,
}

var TestConfig = Config{
	Enable:              true,
	Strategy:            "MakeNodes",
	Address:             "",
	StakerInterval:      10 * time.Millisecond,
	MakeAssertionBlocks: 0,
	StakeAmount:         "",
	DisableChallenge:    false,
	MaxAdvanceSteps:     20,
	StateCacheSize:      64,
}
