//go:build !sqlite3_cgo

package db

import (
	// pure Go sqlite, the default so release builds need no C toolchain
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
