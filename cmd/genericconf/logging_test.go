// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package genericconf

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestToSlogLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"crit":  log.LevelCrit,
		"ERROR": log.LevelError,
		"warn":  log.LevelWarn,
		"info":  log.LevelInfo,
		"debug": log.LevelDebug,
		"trace": log.LevelTrace,
		"3":     log.LevelInfo,
		"5":     log.LevelTrace,
	} {
		got, err := ToSlogLevel(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}
	_, err := ToSlogLevel("loud")
	require.Error(t, err)
}

func TestHandlerFromLogType(t *testing.T) {
	var sb strings.Builder
	_, err := HandlerFromLogType("plaintext", &sb)
	require.NoError(t, err)
	_, err = HandlerFromLogType("json", &sb)
	require.NoError(t, err)
	_, err = HandlerFromLogType("xml", &sb)
	require.Error(t, err)
}

func TestInitLogWritesFile(t *testing.T) {
	dir := t.TempDir()
	config := DefaultLogConfig
	config.Type = "json"
	config.File.Enable = true
	config.File.File = "node.log"
	require.NoError(t, InitLog(&config, DefaultPathResolver(dir)))
	defer func() {
		require.NoError(t, CloseLog())
		defaults := DefaultLogConfig
		require.NoError(t, InitLog(&defaults, nil))
	}()

	log.Info("written to file", "marker", "c0ffee")
	log.Debug("below verbosity", "marker", "decaf")
	require.NoError(t, CloseLog())

	data, err := os.ReadFile(filepath.Join(dir, "node.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "c0ffee")
	require.NotContains(t, string(data), "decaf")

	// Logging after close only goes to stderr.
	log.Info("after close")
}

func TestInitLogRejectsBadConfig(t *testing.T) {
	config := DefaultLogConfig
	config.Level = "loud"
	require.Error(t, InitLog(&config, nil))
	config = DefaultLogConfig
	config.Type = "xml"
	require.Error(t, InitLog(&config, nil))
	config = DefaultLogConfig
	config.File.Enable = true
	config.File.BufSize = 0
	require.Error(t, config.Validate())
	config.File.BufSize = 1
	config.File.File = ""
	require.Error(t, config.Validate())
	require.NoError(t, DefaultLogConfig.Validate())
}
