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
		log.Println("creating markets table...")
		if err := mghelper.CreateSchema(ctx, db, &store.MarketDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.MarketDao{}, "protocol_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping markets table...")
		return mghelper.DropTables(ctx, db, &store.MarketDao{})
	})
}
