// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/proxyex/engine/gethengine"
	"github.com/ava-labs/proxyex/invocation"
	"github.com/ava-labs/proxyex/results/sqlstore"
)

const envPrefix = "proxyex"

var (
	homeDir         = os.ExpandEnv("$HOME")
	defaultDataDir  = filepath.Join(homeDir, ".proxyex")
	defaultDBPath   = filepath.Join(defaultDataDir, "proxyex.db")
	defaultInvPath  = filepath.Join(defaultDataDir, "invocations.db")
	defaultLogDir   = ""
	defaultChainDir = filepath.Join(homeDir, ".ethereum", "geth", "chaindata")
)

// AddFlags registers every configuration flag on [fs].
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFileKey, "", "Specifies a JSON or YAML config file")

	// Logging
	fs.String(LogLevelKey, "info", "The log level. Should be one of {verbo, debug, trace, info, warn, error, fatal, off}")
	fs.String(LogDisplayLevelKey, "", "The log display level. If left blank, will inherit the value of log-level")
	fs.String(LogDisplayHighlightKey, "auto", "Whether to color/highlight display logs. Should be one of {auto, plain, colors}")
	fs.String(LogDirKey, defaultLogDir, "Logging directory. Empty disables file logging")

	// Replay
	fs.Int(JobsKey, runtime.NumCPU(), "Number of transactions replayed concurrently")
	fs.Duration(TaskTimeoutKey, 0, "Upper bound on a single replay. Zero disables the bound")
	fs.Int(WindowSizeKey, invocation.DefaultWindowSize, "Number of rows read from the invocation tables per query")
	fs.StringSlice(ProxiesKey, nil, "Restrict the analysis to these proxy addresses")
	fs.Int(CodeCacheSizeKey, 32<<20, "Size in bytes of the alternate implementation bytecode cache")
	fs.String(MetricsAddrKey, "", "Address the prometheus metrics are served on. Empty disables the endpoint")

	// Chain data
	fs.String(ChainDataKey, defaultChainDir, "Directory of the go-ethereum chain database")
	fs.String(ChainDataTypeKey, gethengine.PebbleType, "Chain database engine. Should be one of {pebble, leveldb}")
	fs.String(AncientKey, "", "Directory of the ancient store. Defaults to <chaindata>/ancient")
	fs.String(StateSchemeKey, "", "State scheme of the chain database. Should be one of {hash, path}. Empty detects it")

	// Results
	fs.String(DBTypeKey, sqlstore.Name, "Results database. Should be one of {sqlite, leveldb, memdb}")
	fs.String(DBPathKey, defaultDBPath, "Path of the results database")
	fs.String(InvocationsPathKey, "", "Path of the SQLite database holding the proxy invocations. Defaults to db-path when db-type is sqlite")
}

// BuildFlagSet returns a flag set holding every configuration flag.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("proxyex", pflag.ContinueOnError)
	AddFlags(fs)
	return fs
}

// BuildViper binds [fs] and the PROXYEX_* environment variables into a viper
// instance, then reads the config file if one is set. [fs] must already be
// parsed.
func BuildViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if v.GetString(ConfigFileKey) != "" {
		v.SetConfigFile(os.ExpandEnv(v.GetString(ConfigFileKey)))
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}
