// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config turns flags, environment variables and an optional config
// file into the settings of a run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/ava-labs/proxyex/database/leveldb"
	"github.com/ava-labs/proxyex/database/memdb"
	"github.com/ava-labs/proxyex/engine/gethengine"
	"github.com/ava-labs/proxyex/results/sqlstore"
	"github.com/ava-labs/proxyex/utils/logging"
)

var (
	errInvalidJobs         = errors.New("jobs must be at least 1")
	errInvalidWindowSize   = errors.New("window size must be at least 1")
	errInvalidCacheSize    = errors.New("code cache size must be positive")
	errNegativeTimeout     = errors.New("task timeout must not be negative")
	errUnknownDBType       = errors.New("unknown db type")
	errMissingDBPath       = errors.New("db path is required")
	errUnknownChainType    = errors.New("unknown chaindata type")
	errUnknownStateScheme  = errors.New("unknown state scheme")
	errInvalidProxyAddress = errors.New("invalid proxy address")
)

// DatabaseConfig selects the results store and the SQLite database the
// invocations are read from.
type DatabaseConfig struct {
	Type            string `json:"type"`
	Path            string `json:"path"`
	InvocationsPath string `json:"invocationsPath"`
}

type Config struct {
	Logging logging.Config `json:"logging"`

	Jobs          int              `json:"jobs"`
	TaskTimeout   time.Duration    `json:"taskTimeout"`
	WindowSize    int              `json:"windowSize"`
	Proxies       []common.Address `json:"proxies"`
	CodeCacheSize int              `json:"codeCacheSize"`
	MetricsAddr   string           `json:"metricsAddr"`

	Chain    gethengine.Config `json:"chain"`
	Database DatabaseConfig    `json:"database"`
}

// BuildConfig reads and validates the settings held by [v].
func BuildConfig(v *viper.Viper) (Config, error) {
	loggingConfig, err := getLoggingConfig(v)
	if err != nil {
		return Config{}, err
	}

	config := Config{
		Logging:       loggingConfig,
		Jobs:          v.GetInt(JobsKey),
		TaskTimeout:   v.GetDuration(TaskTimeoutKey),
		WindowSize:    v.GetInt(WindowSizeKey),
		CodeCacheSize: v.GetInt(CodeCacheSizeKey),
		MetricsAddr:   v.GetString(MetricsAddrKey),
		Chain: gethengine.Config{
			ChainData:   expandPath(v.GetString(ChainDataKey)),
			Type:        v.GetString(ChainDataTypeKey),
			Ancient:     expandPath(v.GetString(AncientKey)),
			StateScheme: v.GetString(StateSchemeKey),
		},
		Database: DatabaseConfig{
			Type:            v.GetString(DBTypeKey),
			Path:            expandPath(v.GetString(DBPathKey)),
			InvocationsPath: expandPath(v.GetString(InvocationsPathKey)),
		},
	}

	switch {
	case config.Jobs < 1:
		return Config{}, fmt.Errorf("%w: %d", errInvalidJobs, config.Jobs)
	case config.WindowSize < 1:
		return Config{}, fmt.Errorf("%w: %d", errInvalidWindowSize, config.WindowSize)
	case config.CodeCacheSize < 1:
		return Config{}, fmt.Errorf("%w: %d", errInvalidCacheSize, config.CodeCacheSize)
	case config.TaskTimeout < 0:
		return Config{}, fmt.Errorf("%w: %s", errNegativeTimeout, config.TaskTimeout)
	}

	switch config.Chain.Type {
	case gethengine.PebbleType, gethengine.LevelDBType:
	default:
		return Config{}, fmt.Errorf("%w: %q", errUnknownChainType, config.Chain.Type)
	}
	switch config.Chain.StateScheme {
	case "", gethengine.HashScheme, gethengine.PathScheme:
	default:
		return Config{}, fmt.Errorf("%w: %q", errUnknownStateScheme, config.Chain.StateScheme)
	}

	switch config.Database.Type {
	case sqlstore.Name, leveldb.Name:
		if config.Database.Path == "" {
			return Config{}, fmt.Errorf("%w for %s", errMissingDBPath, config.Database.Type)
		}
	case memdb.Name:
	default:
		return Config{}, fmt.Errorf("%w: %q", errUnknownDBType, config.Database.Type)
	}
	if config.Database.InvocationsPath == "" {
		config.Database.InvocationsPath = defaultInvPath
		if config.Database.Type == sqlstore.Name {
			config.Database.InvocationsPath = config.Database.Path
		}
	}

	for _, p := range v.GetStringSlice(ProxiesKey) {
		if !common.IsHexAddress(p) {
			return Config{}, fmt.Errorf("%w: %q", errInvalidProxyAddress, p)
		}
		config.Proxies = append(config.Proxies, common.HexToAddress(p))
	}
	return config, nil
}

func getLoggingConfig(v *viper.Viper) (logging.Config, error) {
	loggingConfig := logging.DefaultConfig()

	var err error
	loggingConfig.LogLevel, err = logging.ToLevel(v.GetString(LogLevelKey))
	if err != nil {
		return loggingConfig, err
	}

	loggingConfig.DisplayLevel = loggingConfig.LogLevel
	if displayLevel := v.GetString(LogDisplayLevelKey); displayLevel != "" {
		loggingConfig.DisplayLevel, err = logging.ToLevel(displayLevel)
		if err != nil {
			return loggingConfig, err
		}
	}

	loggingConfig.LogFormat, err = logging.ToHighlight(v.GetString(LogDisplayHighlightKey), os.Stdout.Fd())
	if err != nil {
		return loggingConfig, err
	}

	loggingConfig.Directory = expandPath(v.GetString(LogDirKey))
	return loggingConfig, nil
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Clean(os.ExpandEnv(path))
}
