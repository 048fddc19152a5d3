// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

func HandlerFromLogType(logType string, output io.Writer) (slog.Handler, error) {
	switch logType {
	case "plaintext":
		return log.NewTerminalHandler(output, false), nil
	case "json":
		return log.JSONHandler(output), nil
	}
	return nil, errors.New("invalid log type")
}

// ToSlogLevel accepts a level name or a legacy numeric verbosity, where 0 is
// crit and 5 is trace.
func ToSlogLevel(str string) (slog.Level, error) {
	switch strings.ToLower(str) {
	case "crit":
		return log.LevelCrit, nil
	case "error":
		return log.LevelError, nil
	case "warn":
		return log.LevelWarn, nil
	case "info":
		return log.LevelInfo, nil
	case "debug":
		return log.LevelDebug, nil
	case "trace":
		return log.LevelTrace, nil
	}
	lvl, err := strconv.Atoi(str)
	if err != nil {
		return log.LevelInfo, fmt.Errorf("invalid log level %q", str)
	}
	return log.FromLegacyLevel(lvl), nil
}
