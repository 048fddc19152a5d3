// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

// ConfConfig controls where a binary reads its configuration from, in
// addition to its command line flags.
type ConfConfig struct {
	Dump      bool     `koanf:"dump"`
	EnvPrefix string   `koanf:"env-prefix"`
	EnvFile   []string `koanf:"env-file"`
	File      []string `koanf:"file"`
	String    string   `koanf:"string"`
}

var ConfConfigDefault = ConfConfig{}

func ConfConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.StringSlice(prefix+".file", ConfConfigDefault.File, "JSON configuration files, applied in order")
	f.String(prefix+".string", ConfConfigDefault.String, "inline JSON configuration, applied after the files")
	f.String(prefix+".env-prefix", ConfConfigDefault.EnvPrefix, "load configuration from environment variables starting with this prefix")
	f.StringSlice(prefix+".env-file", ConfConfigDefault.EnvFile, "dotenv files to load before reading env-prefix variables")
	f.Bool(prefix+".dump", ConfConfigDefault.Dump, "print the resolved configuration as JSON and exit")
}

// FileLoggingConfig describes the optional rotating log file. Sizes are in
// megabytes and ages in days; zero disables the corresponding limit.
type FileLoggingConfig struct {
	Enable     bool   `koanf:"enable"`
	File       string `koanf:"file"`
	MaxSize    int    `koanf:"max-size"`
	MaxAge     int    `koanf:"max-age"`
	MaxBackups int    `koanf:"max-backups"`
	LocalTime  bool   `koanf:"local-time"`
	Compress   bool   `koanf:"compress"`
	BufSize    int    `koanf:"buf-size"`
}

var DefaultFileLoggingConfig = FileLoggingConfig{
	File:       "rollupcore.log",
	MaxSize:    5,
	MaxBackups: 20,
	Compress:   true,
	BufSize:    512,
}

func FileLoggingConfigAddOptions(prefix string, f *flag.FlagSet) {
	d := DefaultFileLoggingConfig
	f.Bool(prefix+".enable", d.Enable, "also write logs to a rotating file")
	f.String(prefix+".file", d.File, "log file path, relative to the working directory")
	f.Int(prefix+".max-size", d.MaxSize, "rotate the log file once it reaches this many megabytes (0 = never)")
	f.Int(prefix+".max-age", d.MaxAge, "delete rotated files older than this many days (0 = keep)")
	f.Int(prefix+".max-backups", d.MaxBackups, "number of rotated files to keep (0 = all)")
	f.Bool(prefix+".local-time", d.LocalTime, "timestamp rotated files in local time instead of UTC")
	f.Bool(prefix+".compress", d.Compress, "gzip rotated files")
	f.Int(prefix+".buf-size", d.BufSize, "records queued for the file writer before new ones are dropped")
}

type LogConfig struct {
	Level string            `koanf:"level"`
	Type  string            `koanf:"type"`
	File  FileLoggingConfig `koanf:"file"`
}

var DefaultLogConfig = LogConfig{
	Level: "info",
	Type:  "plaintext",
	File:  DefaultFileLoggingConfig,
}

func LogConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".level", DefaultLogConfig.Level, "log level, one of crit, error, warn, info, debug, trace or a verbosity from 0 to 5")
	f.String(prefix+".type", DefaultLogConfig.Type, "log format, plaintext or json")
	FileLoggingConfigAddOptions(prefix+".file", f)
}

func (c *LogConfig) Validate() error {
	if _, err := ToSlogLevel(c.Level); err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	if _, err := HandlerFromLogType(c.Type, io.Discard); err != nil {
		return fmt.Errorf("error parsing log type: %w", err)
	}
	if c.File.Enable {
		if c.File.File == "" {
			return errors.New("log file enabled without a path")
		}
		if c.File.BufSize <= 0 {
			return fmt.Errorf("log file buf-size must be positive, got %d", c.File.BufSize)
		}
	}
	return nil
}
