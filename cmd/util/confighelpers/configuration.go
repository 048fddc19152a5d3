// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package confighelpers

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"
)

var ErrHelpRequested = errors.New("help requested")

func ApplyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Command line overrides config file or config string
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return fmt.Errorf("error loading command line config: %w", err)
	}

	// Env config overrides config file, config string and command line
	if err := loadEnvironmentVariables(k); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}

	return nil
}

func loadEnvironmentVariables(k *koanf.Koanf) error {
	envPrefix := k.String("conf.env-prefix")
	if len(envPrefix) != 0 {
		// Variables already set in the environment take precedence over dotenv files
		if envFiles := k.Strings("conf.env-file"); len(envFiles) > 0 {
			if err := godotenv.Load(envFiles...); err != nil {
				return fmt.Errorf("error loading env files %v: %w", envFiles, err)
			}
		}
		return k.Load(env.Provider(envPrefix+"_", ".", func(s string) string {
			// ROLLUPCORE_STAKER_STRATEGY becomes staker.strategy
			s = strings.ToLower(strings.TrimPrefix(s, envPrefix+"_"))
			s = strings.ReplaceAll(s, "__", "-")
			s = strings.ReplaceAll(s, "_", ".")
			return s
		}), nil)
	}

	return nil
}

func loadConfigFiles(k *koanf.Koanf) error {
	for _, filename := range k.Strings("conf.file") {
		if len(filename) == 0 {
			continue
		}
		if err := k.Load(file.Provider(filename), json.Parser()); err != nil {
			return fmt.Errorf("error loading local config file %s: %w", filename, err)
		}
	}
	if configString := k.String("conf.string"); len(configString) > 0 {
		if err := k.Load(rawbytes.Provider([]byte(configString)), json.Parser()); err != nil {
			return fmt.Errorf("error loading config string: %w", err)
		}
	}
	return nil
}

func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return nil, ErrVersion
		}
	}
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	if f.NArg() != 0 {
		// Unexpected number of parameters
		return nil, errors.New("unexpected number of parameters")
	}

	var k = koanf.New(".")

	// Load defaults from command line defaults, which will be overridden later
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	// Env config overrides default values, needed so conf.file can be set from the environment
	if err := loadEnvironmentVariables(k); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	if err := loadConfigFiles(k); err != nil {
		return nil, err
	}

	if err := ApplyOverrides(f, k); err != nil {
		return nil, err
	}

	return k, nil
}

func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := mapstructure.DecoderConfig{
		ErrorUnused: true,

		// Default values
		WeaklyTypedInput: true,
		Metadata:         nil,
		Result:           config,
		TagName:          "koanf",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{DecoderConfig: &decoderConfig}); err != nil {
		return err
	}

	return nil
}

// DumpConfig prints the active configuration as JSON, after applying
// overrides that blank out secrets, and exits.
func DumpConfig(k *koanf.Koanf, extraOverrideFields map[string]interface{}) error {
	overrideFields := map[string]interface{}{"conf.dump": false}
	for key, value := range extraOverrideFields {
		overrideFields[key] = value
	}

	if err := k.Load(confmap.Provider(overrideFields, "."), nil); err != nil {
		return fmt.Errorf("error removing extra parameters before dump: %w", err)
	}

	c, err := k.Marshal(json.Parser())
	if err != nil {
		return fmt.Errorf("unable to marshal config file to JSON: %w", err)
	}

	fmt.Println(string(c))
	os.Exit(0)
	return fmt.Errorf("requested to dump config and exit")
}

var ErrVersion = errors.New("version requested")

func PrintErrorAndExit(err error, usage func(string)) {
	usage(os.Args[0])
	if err != nil && !errors.Is(err, ErrHelpRequested) {
		fmt.Printf("\nERROR: %s\n", err.Error())
		os.Exit(1)
	}
	os.Exit(0)
}

func GetVersion() (string, string) {
	vcsRevision := "development"
	vcsTime := "development"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return vcsRevision, vcsTime
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRevision = setting.Value
			if len(vcsRevision) > 7 {
				vcsRevision = vcsRevision[:7]
			}
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				vcsTime = t.UTC().Format("2006-01-02T15:04:05-0700")
			}
		}
	}
	return vcsRevision, vcsTime
}
