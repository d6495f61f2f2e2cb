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
		log.Println("creating market_accounts table...")
		if err := mghelper.CreateSchema(ctx, db, &store.MarketAccountDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.MarketAccountDao{}, "account_id", "market_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping market_accounts table...")
		return mghelper.DropTables(ctx, db, &store.MarketAccountDao{})
	})
}
