// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/rollupcore/cmd/genericconf"
	"github.com/offchainlabs/rollupcore/cmd/util/confighelpers"
	"github.com/offchainlabs/rollupcore/indexer"
	"github.com/offchainlabs/rollupcore/inbox"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/staker"
	"github.com/offchainlabs/rollupcore/util/blockref"
	"github.com/offchainlabs/rollupcore/util/stopwaiter"
)

type SimulationConfig struct {
	BlockTime        time.Duration `koanf:"block-time"`
	MessageInterval  uint64        `koanf:"message-interval"`
	InitialMessages  int           `koanf:"initial-messages"`
	StakerBalance    string        `koanf:"staker-balance"`
	StartBlockHeight uint64        `koanf:"start-block-height"`
}

var SimulationConfigDefault = SimulationConfig{
	BlockTime:        time.Second,
	MessageInterval:  10,
	InitialMessages:  1,
	StakerBalance:    "10000000000000000000",
	StartBlockHeight: 1,
}

func SimulationConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".block-time", SimulationConfigDefault.BlockTime, "wall clock time between simulated blocks")
	f.Uint64(prefix+".message-interval", SimulationConfigDefault.MessageInterval, "append an inbox message every this many blocks (0 = never)")
	f.Int(prefix+".initial-messages", SimulationConfigDefault.InitialMessages, "number of inbox messages present at genesis")
	f.String(prefix+".staker-balance", SimulationConfigDefault.StakerBalance, "balance in wei credited to the staker address at startup")
	f.Uint64(prefix+".start-block-height", SimulationConfigDefault.StartBlockHeight, "block height at genesis")
}

func (c *SimulationConfig) Validate() error {
	if c.BlockTime <= 0 {
		return errors.New("simulation block-time must be positive")
	}
	if c.InitialMessages < 0 {
		return errors.New("simulation initial-messages must not be negative")
	}
	if _, ok := new(big.Int).SetString(c.StakerBalance, 10); !ok {
		return fmt.Errorf("invalid simulation staker-balance %q", c.StakerBalance)
	}
	return nil
}

type NodeConfig struct {
	Conf       genericconf.ConfConfig `koanf:"conf"`
	Log        genericconf.LogConfig  `koanf:"log"`
	Rollup     rollup.Config          `koanf:"rollup"`
	Staker     staker.Config          `koanf:"staker"`
	Indexer    indexer.Config         `koanf:"indexer"`
	Simulation SimulationConfig       `koanf:"simulation"`
}

var NodeConfigDefault = NodeConfig{
	Conf:       genericconf.ConfConfigDefault,
	Log:        genericconf.DefaultLogConfig,
	Rollup:     rollup.DefaultConfig,
	Staker:     staker.DefaultConfig,
	Indexer:    indexer.DefaultConfig,
	Simulation: SimulationConfigDefault,
}

func NodeConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	genericconf.LogConfigAddOptions("log", f)
	rollup.ConfigAddOptions("rollup", f)
	staker.ConfigAddOptions("staker", f)
	indexer.ConfigAddOptions("indexer", f)
	SimulationConfigAddOptions("simulation", f)
}

func (c *NodeConfig) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Rollup.Validate(); err != nil {
		return err
	}
	if c.Staker.Enable {
		if err := c.Staker.Validate(); err != nil {
			return err
		}
	}
	if c.Indexer.Enable {
		if err := c.Indexer.Validate(); err != nil {
			return err
		}
	}
	return c.Simulation.Validate()
}

func printSampleUsage(name string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage: %s --staker.enable --staker.strategy=makeNodes --staker.address=0x... --rollup.owner=0x... \n", name)
}

func ParseNode(args []string) (*NodeConfig, error) {
	f := flag.NewFlagSet("", flag.ContinueOnError)

	NodeConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}

	var nodeConfig NodeConfig
	if err := confighelpers.EndCommonParse(k, &nodeConfig); err != nil {
		return nil, err
	}

	if nodeConfig.Conf.Dump {
		if err := confighelpers.DumpConfig(k, nil); err != nil {
			return nil, err
		}
	}

	if err := nodeConfig.Validate(); err != nil {
		return nil, err
	}
	return &nodeConfig, nil
}

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	args := os.Args[1:]
	nodeConfig, err := ParseNode(args)
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	if err := genericconf.InitLog(&nodeConfig.Log, genericconf.DefaultPathResolver("")); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	defer func() {
		if err := genericconf.CloseLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
		}
	}()
	vcsRevision, vcsTime := confighelpers.GetVersion()
	log.Info("Running rollup node", "revision", vcsRevision, "vcs.time", vcsTime)

	node, err := newSimulatedNode(ctx, nodeConfig)
	if err != nil {
		log.Error("error creating node", "err", err)
		return 1
	}
	node.Start(ctx)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint
	log.Info("shutting down because of sigint")

	// cause future ctrl+c's to panic
	close(sigint)
	node.StopAndWait()
	return 0
}

// simulatedNode drives a rollup from an artificial block clock and a local
// inbox, with an optional staker and indexer following it.
type simulatedNode struct {
	stopwaiter.StopWaiter
	config  *NodeConfig
	inbox   *inbox.Inbox
	ref     *blockref.ArtificialBlockReference
	rollup  *rollup.Rollup
	staker  *staker.Staker
	indexer *indexer.Indexer
	store   indexer.Store
}

func newSimulatedNode(ctx context.Context, config *NodeConfig) (*simulatedNode, error) {
	ib := inbox.NewInbox()
	for i := 0; i < config.Simulation.InitialMessages; i++ {
		ib.Append([]byte(fmt.Sprintf("genesis message %d", i)))
	}
	ref := blockref.NewArtificialBlockReference(config.Simulation.StartBlockHeight)
	r, err := rollup.NewRollup(&config.Rollup, ref, ib, osp.NewReferenceVerifier())
	if err != nil {
		return nil, err
	}
	n := &simulatedNode{
		config: config,
		inbox:  ib,
		ref:    ref,
		rollup: r,
	}
	if config.Indexer.Enable {
		store, err := indexer.NewStore(&config.Indexer)
		if err != nil {
			return nil, err
		}
		var genesis *rollup.Node
		err = r.Call(ctx, func(tx *rollup.ActiveTx) error {
			var err error
			genesis, err = r.Node(tx, 0)
			return err
		})
		if err != nil {
			return nil, err
		}
		n.indexer, err = indexer.New(ctx, store, r.Subscribe(), genesis, config.Indexer.CacheSize)
		if err != nil {
			store.Close()
			return nil, err
		}
		n.store = store
	}
	if config.Staker.Enable {
		n.staker, err = staker.NewStaker(r, staker.ReferenceExecution{}, config.Staker)
		if err != nil {
			return nil, err
		}
		if n.staker.Strategy() != staker.WatchtowerStrategy {
			balance, _ := new(big.Int).SetString(config.Simulation.StakerBalance, 10)
			err = r.Tx(ctx, func(tx *rollup.ActiveTx) error {
				r.SetBalance(tx, config.Staker.StakerAddress(), balance)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

func (n *simulatedNode) Start(ctxIn context.Context) {
	n.StopWaiter.Start(ctxIn, n)
	if n.indexer != nil {
		n.indexer.Start(ctxIn)
	}
	if n.staker != nil {
		n.staker.Start(ctxIn)
	}
	n.CallIteratively(func(ctx context.Context) time.Duration {
		height := n.ref.Add(1)
		interval := n.config.Simulation.MessageInterval
		if interval != 0 && height%interval == 0 {
			idx, acc := n.inbox.Append([]byte(fmt.Sprintf("message at block %d", height)))
			log.Debug("appended inbox message", "index", idx, "acc", acc)
		}
		if n.indexer != nil && height%100 == 0 {
			head, err := n.indexer.Head(ctx)
			if err != nil {
				log.Warn("error reading indexer head", "err", err)
			} else {
				log.Info("indexer progress", "block", height, "events", head.EventCount, "confirmed", head.LatestConfirmed, "latestNode", head.LatestNodeCreated)
			}
		}
		return n.config.Simulation.BlockTime
	})
}

func (n *simulatedNode) StopAndWait() {
	n.StopWaiter.StopAndWait()
	if n.staker != nil {
		n.staker.StopAndWait()
	}
	if n.indexer != nil {
		n.indexer.StopAndWait()
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			log.Warn("error closing indexer store", "err", err)
		}
	}
	n.rollup.Close()
}
