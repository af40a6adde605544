// Package migrations holds the profiles schema read by identity.Store. The demo
// binary applies it with bun/migrate when postgres.migrate is set; other
// deployments run it with their own migrator, reading Migrations or FS.
package migrations

import (
	"embed"

	"github.com/uptrace/bun/migrate"
)

//go:embed *.sql
var migrationFS embed.FS

// FS exposes the embedded SQL for external runners.
var FS = migrationFS

// Migrations is a bun/migrate registry for this module.
var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.Discover(migrationFS); err != nil {
		panic("accesskit migrations: " + err.Error())
	}
}
