package indexerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/takotako/lending-indexer/pkg/pgutil/migrations"
	"github.com/takotako/lending-indexer/pkg/store"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating accounts table...")
		return mghelper.CreateSchema(ctx, db, &store.AccountDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping accounts table...")
		return mghelper.DropTables(ctx, db, &store.AccountDao{})
	})
}
