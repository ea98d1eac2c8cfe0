// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package migrations

import "embed"

// FS holds the schema migrations, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
