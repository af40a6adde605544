package main

import (
	"context"

	migrations "github.com/PaulFidika/accesskit/migrations/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/migrate"
)

// migrateUp applies the embedded profiles migrations on pool.
func migrateUp(ctx context.Context, pool *pgxpool.Pool, log logrus.FieldLogger) error {
	sqldb := stdlib.OpenDBFromPool(pool)
	defer sqldb.Close()
	db := bun.NewDB(sqldb, pgdialect.New())

	m := migrate.NewMigrator(db, migrations.Migrations)
	if err := m.Init(ctx); err != nil {
		return err
	}
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Unlock(ctx); err != nil {
			log.WithError(err).Warn("migration unlock")
		}
	}()

	group, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info("database schema up to date")
		return nil
	}
	log.WithField("group", group.ID).WithField("count", len(group.Migrations)).Info("database migrated")
	return nil
}
