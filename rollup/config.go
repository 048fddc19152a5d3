// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/rollupcore/challenge"
)

type Config struct {
	ConfirmPeriodBlocks        uint64   `koanf:"confirm-period-blocks"`
	ExtraChallengeTimeBlocks   uint64   `koanf:"extra-challenge-time-blocks"`
	MinimumAssertionPeriod     uint64   `koanf:"minimum-assertion-period"`
	BaseStake                  string   `koanf:"base-stake"`
	MaxBisectionDegree         uint64   `koanf:"max-bisection-degree"`
	ModuleRoot                 string   `koanf:"module-root"`
	Owner                      string   `koanf:"owner"`
	LoserStakeEscrow           string   `koanf:"loser-stake-escrow"`
	ValidatorWhitelistDisabled bool     `koanf:"validator-whitelist-disabled"`
	Validators                 []string `koanf:"validators"`

	baseStake        *big.Int
	moduleRoot       common.Hash
	owner            common.Address
	loserStakeEscrow common.Address
	validators       []common.Address
}

func (c *Config) Validate() error {
	if c.ConfirmPeriodBlocks == 0 {
		return errors.New("confirm-period-blocks must be positive")
	}
	if c.MaxBisectionDegree < 2 {
		return fmt.Errorf("max-bisection-degree %d must be at least 2", c.MaxBisectionDegree)
	}
	baseStake, ok := new(big.Int).SetString(c.BaseStake, 10)
	if !ok || baseStake.Sign() < 0 {
		return fmt.Errorf("invalid base-stake %q", c.BaseStake)
	}
	c.baseStake = baseStake
	if !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("invalid owner address %q", c.Owner)
	}
	c.owner = common.HexToAddress(c.Owner)
	c.loserStakeEscrow = c.owner
	if c.LoserStakeEscrow != "" {
		if !common.IsHexAddress(c.LoserStakeEscrow) {
			return fmt.Errorf("invalid loser-stake-escrow address %q", c.LoserStakeEscrow)
		}
		c.loserStakeEscrow = common.HexToAddress(c.LoserStakeEscrow)
	}
	c.moduleRoot = common.HexToHash(c.ModuleRoot)
	c.validators = nil
	for _, v := range c.Validators {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid validator address %q", v)
		}
		c.validators = append(c.validators, common.HexToAddress(v))
	}
	return nil
}

// Params returns the initial protocol parameters. Validate must have succeeded.
func (c *Config) Params() Params {
	return Params{
		Owner:                      c.owner,
		LoserStakeEscrow:           c.loserStakeEscrow,
		ConfirmPeriodBlocks:        c.ConfirmPeriodBlocks,
		ExtraChallengeTimeBlocks:   c.ExtraChallengeTimeBlocks,
		MinimumAssertionPeriod:     c.MinimumAssertionPeriod,
		BaseStake:                  new(big.Int).Set(c.baseStake),
		ValidatorWhitelistDisabled: c.ValidatorWhitelistDisabled,
		ModuleRoot:                 c.moduleRoot,
	}
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".confirm-period-blocks", DefaultConfig.ConfirmPeriodBlocks, "number of blocks before a node can be confirmed")
	f.Uint64(prefix+".extra-challenge-time-blocks", DefaultConfig.ExtraChallengeTimeBlocks, "extra blocks added to a first child's deadline when a sibling appears and to challenge clocks")
	f.Uint64(prefix+".minimum-assertion-period", DefaultConfig.MinimumAssertionPeriod, "minimum number of blocks between a node and its child")
	f.String(prefix+".base-stake", DefaultConfig.BaseStake, "base stake in wei")
	f.Uint64(prefix+".max-bisection-degree", DefaultConfig.MaxBisectionDegree, "maximum number of segments per bisection")
	f.String(prefix+".module-root", DefaultConfig.ModuleRoot, "module root handed to the one step verifier")
	f.String(prefix+".owner", DefaultConfig.Owner, "address allowed to pause the rollup and use the admin path")
	f.String(prefix+".loser-stake-escrow", DefaultConfig.LoserStakeEscrow, "address credited with half of every lost stake (defaults to the owner)")
	f.Bool(prefix+".validator-whitelist-disabled", DefaultConfig.ValidatorWhitelistDisabled, "allow any address to stake")
	f.StringSlice(prefix+".validators", DefaultConfig.Validators, "initial validator whitelist")
}

var DefaultConfig = Config{
	ConfirmPeriodBlocks:        45818,
	ExtraChallengeTimeBlocks:   200,
	MinimumAssertionPeriod:     75,
	BaseStake:                  "1000000000000000000",
	MaxBisectionDegree:         challenge.DefaultMaxBisectionDegree,
	ModuleRoot:                 "",
	Owner:                      "0x0000000000000000000000000000000000000000",
	LoserStakeEscrow:           "",
	ValidatorWhitelistDisabled: false,
	Validators:                 nil,
}

var TestConfig = Config{
	ConfirmPeriodBlocks:        20,
	ExtraChallengeTimeBlocks:   10,
	MinimumAssertionPeriod:     0,
	BaseStake:                  "100",
	MaxBisectionDegree:         challenge.DefaultMaxBisectionDegree,
	ModuleRoot:                 "0x0000000000000000000000000000000000000000000000000000000000000abc",
	Owner:                      "0x00000000000000000000000000000000000000ad",
	LoserStakeEscrow:           "",
	ValidatorWhitelistDisabled: true,
	Validators:                 nil,
}

// Params are the protocol parameters stored in state. The owner may change
// them through the admin setters.
type Params struct {
	Owner                      common.Address
	LoserStakeEscrow           common.Address
	ConfirmPeriodBlocks        uint64
	ExtraChallengeTimeBlocks   uint64
	MinimumAssertionPeriod     uint64
	BaseStake                  *big.Int
	ValidatorWhitelistDisabled bool
	ModuleRoot                 common.Hash
}

func (p Params) Clone() Params {
	cp := p
	cp.BaseStake = new(big.Int).Set(p.BaseStake)
	return cp
}
