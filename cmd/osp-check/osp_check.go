// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// osp-check replays recorded one step proofs through the reference verifier,
// or records new ones from the reference machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/rollupcore/cmd/genericconf"
	"github.com/offchainlabs/rollupcore/cmd/util"
	"github.com/offchainlabs/rollupcore/cmd/util/confighelpers"
	"github.com/offchainlabs/rollupcore/osp"
	"github.com/offchainlabs/rollupcore/protocol"
)

type OspCheckConfig struct {
	Conf             genericconf.ConfConfig `koanf:"conf"`
	LogLevel         string                 `koanf:"log-level"`
	LogType          string                 `koanf:"log-type"`
	Vectors          string                 `koanf:"vectors"`
	Generate         bool                   `koanf:"generate"`
	Steps            uint64                 `koanf:"steps"`
	MaxInboxMessages uint64                 `koanf:"max-inbox-messages"`
	ModuleRoot       string                 `koanf:"module-root"`
}

var OspCheckConfigDefault = OspCheckConfig{
	Conf:             genericconf.ConfConfigDefault,
	LogLevel:         "info",
	LogType:          "plaintext",
	Vectors:          "",
	Generate:         false,
	Steps:            16,
	MaxInboxMessages: 16,
	ModuleRoot:       "",
}

func OspCheckConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	f.String("log-level", OspCheckConfigDefault.LogLevel, "log level, one of crit, error, warn, info, debug, trace")
	f.String("log-type", OspCheckConfigDefault.LogType, "log type (plaintext or json)")
	f.String("vectors", OspCheckConfigDefault.Vectors, "path of the JSON proof vector file")
	f.Bool("generate", OspCheckConfigDefault.Generate, "write new vectors from the reference machine instead of checking them")
	f.Uint64("steps", OspCheckConfigDefault.Steps, "number of steps to record when generating")
	f.Uint64("max-inbox-messages", OspCheckConfigDefault.MaxInboxMessages, "inbox message count the steps execute against")
	f.String("module-root", OspCheckConfigDefault.ModuleRoot, "module root the steps execute against")
}

func (c *OspCheckConfig) execCtx() osp.ExecutionContext {
	return osp.ExecutionContext{
		MaxInboxMessages: c.MaxInboxMessages,
		ModuleRoot:       common.HexToHash(c.ModuleRoot),
	}
}

func parseOspCheck(args []string) (*OspCheckConfig, error) {
	f := flag.NewFlagSet("", flag.ContinueOnError)
	OspCheckConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	var config OspCheckConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if config.Conf.Dump {
		if err := confighelpers.DumpConfig(k, nil); err != nil {
			return nil, err
		}
	}
	if config.Vectors == "" {
		return nil, errors.New("--vectors is required")
	}
	return &config, nil
}

func printSampleUsage(name string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage: %s --vectors=proofs.json [--generate --steps=32]\n", name)
}

func main() {
	config, err := parseOspCheck(os.Args[1:])
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	if err := util.SetLogger(config.LogLevel, config.LogType); err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	if err := run(context.Background(), config); err != nil {
		log.Error("osp-check failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *OspCheckConfig) error {
	if config.Generate {
		start := protocol.ExecutionState{MachineStatus: protocol.MachineStatusFinished}
		vectors, err := osp.GenerateProofVectors(config.execCtx(), start, config.Steps)
		if err != nil {
			return err
		}
		if err := osp.WriteProofVectors(config.Vectors, vectors); err != nil {
			return err
		}
		log.Info("wrote proof vectors", "path", config.Vectors, "count", len(vectors))
		return nil
	}
	vectors, err := osp.LoadProofVectors(config.Vectors)
	if err != nil {
		return err
	}
	results, err := osp.CheckProofVectors(ctx, osp.NewReferenceVerifier(), config.execCtx(), vectors)
	if err != nil {
		return err
	}
	log.Info("all proof vectors verified", "count", len(results))
	return nil
}
