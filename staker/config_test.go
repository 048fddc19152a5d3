// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig
	require.NoError(t, cfg.Validate())
	require.Equal(t, WatchtowerStrategy, cfg.StakerStrategy())

	cfg = TestConfig
	cfg.Address = alice.Hex()
	cfg.StakeAmount = "250"
	require.NoError(t, cfg.Validate())
	require.Equal(t, MakeNodesStrategy, cfg.StakerStrategy())
	require.Equal(t, alice, cfg.StakerAddress())
	require.Equal(t, int64(250), cfg.stakeAmount.Int64())

	for _, name := range []string{"watchtower", "Defensive", "STAKELATEST", "makeNodes"} {
		_, err := stakerStrategyFromString(name)
		require.NoError(t, err, name)
	}

	bad := []func(c *Config){
		func(c *Config) { c.Strategy = "lazy" },
		func(c *Config) { c.Address = "" },
		func(c *Config) { c.Address = "0x1234" },
		func(c *Config) { c.StakeAmount = "-5" },
		func(c *Config) { c.StakeAmount = "lots" },
		func(c *Config) { c.StakerInterval = 0 },
		func(c *Config) { c.MaxAdvanceSteps = 0 },
		func(c *Config) { c.StateCacheSize = 0 },
	}
	for i, mutate := range bad {
		cfg := TestConfig
		cfg.Address = alice.Hex()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), "case %d", i)
	}
}

func TestStakeAmountRaisedToRequirement(t *testing.T) {
	s := newTestSetup(t, 1, 2)
	st := s.newStaker(alice, "makeNodes")
	require.Nil(t, s.staker(alice))
	require.Equal(t, int64(100), st.stakeAmount(big.NewInt(100)).Int64())

	cfg := TestConfig
	cfg.Address = alice.Hex()
	cfg.StakeAmount = "300"
	st, err := NewStaker(s.rollup, ReferenceExecution{}, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(300), st.stakeAmount(big.NewInt(100)).Int64())
	require.Equal(t, int64(400), st.stakeAmount(big.NewInt(400)).Int64())

	require.NoError(t, st.Act(s.ctx))
	require.Equal(t, int64(300), s.staker(alice).AmountStaked.Int64())
	require.Equal(t, alice, st.Address())
}
