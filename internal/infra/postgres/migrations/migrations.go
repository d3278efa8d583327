// Package migrations holds the relational schema. Files are named
// {version}_{comment}.go so bun derives migration names from them.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
