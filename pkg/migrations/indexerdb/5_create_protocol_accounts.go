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
		log.Println("creating protocol_accounts table...")
		if err := mghelper.CreateSchema(ctx, db, &store.ProtocolAccountDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.ProtocolAccountDao{}, "protocol_id", "account_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping protocol_accounts table...")
		return mghelper.DropTables(ctx, db, &store.ProtocolAccountDao{})
	})
}
