// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package factory

import (
	"fmt"

	"github.com/ava-labs/proxyex/database"
	"github.com/ava-labs/proxyex/database/leveldb"
	"github.com/ava-labs/proxyex/database/memdb"
	"github.com/ava-labs/proxyex/utils/logging"
)

type DatabaseConfig struct {
	// Path to database
	Path string `json:"path"`

	// Name of the database type to use
	Name string `json:"name"`
}

// NewDatabase creates a new database instance based on the provided
// configuration. It supports LevelDB and MemDB.
func NewDatabase(dbConfig DatabaseConfig, logger logging.Logger) (database.Database, error) {
	switch dbConfig.Name {
	case leveldb.Name:
		db, err := leveldb.New(dbConfig.Path, logger, 0, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("couldn't create %s at %s: %w", leveldb.Name, dbConfig.Path, err)
		}
		return db, nil
	case memdb.Name:
		return memdb.New(), nil
	default:
		return nil, fmt.Errorf(
			"db-type was %q but should have been one of {%s, %s}",
			dbConfig.Name,
			leveldb.Name,
			memdb.Name,
		)
	}
}
