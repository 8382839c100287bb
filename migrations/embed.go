// Package migrations bundles the SQL schema for the Postgres store and the
// local reconciliation journal.
package migrations

import "embed"

// Postgres holds golang-migrate files for the main database
//
//go:embed postgres/*.sql
var Postgres embed.FS

// Journal holds the sqlite schema for the reconciliation journal
//
//go:embed journal/*.sql
var Journal embed.FS
