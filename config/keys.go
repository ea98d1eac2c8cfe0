// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

const (
	ConfigFileKey          = "config-file"
	LogLevelKey            = "log-level"
	LogDisplayLevelKey     = "log-display-level"
	LogDisplayHighlightKey = "log-display-highlight"
	LogDirKey              = "log-dir"
	JobsKey                = "jobs"
	TaskTimeoutKey         = "task-timeout"
	WindowSizeKey          = "window-size"
	ProxiesKey             = "proxies"
	CodeCacheSizeKey       = "code-cache-size"
	MetricsAddrKey         = "metrics-addr"
	ChainDataKey           = "chaindata"
	ChainDataTypeKey       = "chaindata-type"
	AncientKey             = "ancient"
	StateSchemeKey         = "state-scheme"
	DBTypeKey              = "db-type"
	DBPathKey              = "db-path"
	InvocationsPathKey     = "invocations-path"
)
