// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package util

import (
	"github.com/offchainlabs/rollupcore/cmd/genericconf"
)

// SetLogger logs to stderr only, for short lived tools that have no log file.
func SetLogger(logLevel string, logType string) error {
	config := genericconf.DefaultLogConfig
	config.Level = logLevel
	config.Type = logType
	config.File.Enable = false
	return genericconf.InitLog(&config, nil)
}
