// Package store persists indexer entities. The Postgres implementation is
// the production store; Memory backs tests and dry runs. Point lookups
// return (nil, nil) when the record does not exist, and saves are upserts,
// so handlers can follow a plain load-mutate-save discipline.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/takotako/lending-indexer/pkg/entity"
)

// PG is the bun/Postgres entity store.
type PG struct {
	db *bun.DB
}

// NewPG creates a Postgres-backed entity store.
func NewPG(db *bun.DB) *PG {
	return &PG{db: db}
}

func scanOne[T any](ctx context.Context, db *bun.DB, dao *T, id string) (*T, error) {
	err := db.NewSelect().Model(dao).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return dao, nil
}

func (s *PG) Protocol(ctx context.Context, id string) (*entity.Protocol, error) {
	dao, err := scanOne(ctx, s.db, new(ProtocolDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load protocol: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toProtocol(dao)
}

func (s *PG) SaveProtocol(ctx context.Context, p *entity.Protocol) error {
	_, err := s.db.NewInsert().
		Model(toProtocolDao(p)).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("slug = EXCLUDED.slug").
		Set("network = EXCLUDED.network").
		Set("total_pool_count = EXCLUDED.total_pool_count").
		Set("cumulative_unique_users = EXCLUDED.cumulative_unique_users").
		Set("total_supply_usd = EXCLUDED.total_supply_usd").
		Set("total_borrow_usd = EXCLUDED.total_borrow_usd").
		Set("total_points = EXCLUDED.total_points").
		Set("market_ids = EXCLUDED.market_ids").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save protocol: %w", err)
	}
	return nil
}

func (s *PG) Token(ctx context.Context, id string) (*entity.Token, error) {
	dao, err := scanOne(ctx, s.db, new(TokenDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toToken(dao), nil
}

func (s *PG) SaveToken(ctx context.Context, t *entity.Token) error {
	_, err := s.db.NewInsert().
		Model(toTokenDao(t)).
		On("CONFLICT (id) DO UPDATE").
		Set("symbol = EXCLUDED.symbol").
		Set("name = EXCLUDED.name").
		Set("decimals = EXCLUDED.decimals").
		Set("market_id = EXCLUDED.market_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *PG) Market(ctx context.Context, id string) (*entity.Market, error) {
	dao, err := scanOne(ctx, s.db, new(MarketDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toMarket(dao)
}

func (s *PG) SaveMarket(ctx context.Context, m *entity.Market) error {
	_, err := s.db.NewInsert().
		Model(toMarketDao(m)).
		On("CONFLICT (id) DO UPDATE").
		Set("protocol_id = EXCLUDED.protocol_id").
		Set("name = EXCLUDED.name").
		Set("input_token = EXCLUDED.input_token").
		Set("output_token = EXCLUDED.output_token").
		Set("v_token = EXCLUDED.v_token").
		Set("s_token = EXCLUDED.s_token").
		Set("created_block_number = EXCLUDED.created_block_number").
		Set("created_timestamp = EXCLUDED.created_timestamp").
		Set("price_usd = EXCLUDED.price_usd").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save market: %w", err)
	}
	return nil
}

func (s *PG) Account(ctx context.Context, id string) (*entity.Account, error) {
	dao, err := scanOne(ctx, s.db, new(AccountDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toAccount(dao)
}

func (s *PG) SaveAccount(ctx context.Context, a *entity.Account) error {
	_, err := s.db.NewInsert().
		Model(toAccountDao(a)).
		On("CONFLICT (id) DO UPDATE").
		Set("total_supply_usd = EXCLUDED.total_supply_usd").
		Set("total_borrow_usd = EXCLUDED.total_borrow_usd").
		Set("total_points = EXCLUDED.total_points").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *PG) ProtocolAccount(ctx context.Context, id string) (*entity.ProtocolAccount, error) {
	dao, err := scanOne(ctx, s.db, new(ProtocolAccountDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load protocol account: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toProtocolAccount(dao), nil
}

func (s *PG) SaveProtocolAccount(ctx context.Context, pa *entity.ProtocolAccount) error {
	_, err := s.db.NewInsert().
		Model(toProtocolAccountDao(pa)).
		On("CONFLICT (id) DO UPDATE").
		Set("protocol_id = EXCLUDED.protocol_id").
		Set("account_id = EXCLUDED.account_id").
		Set("account_index = EXCLUDED.account_index").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save protocol account: %w", err)
	}
	return nil
}

func (s *PG) MarketAccount(ctx context.Context, id string) (*entity.MarketAccount, error) {
	dao, err := scanOne(ctx, s.db, new(MarketAccountDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load market account: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toMarketAccount(dao)
}

func (s *PG) SaveMarketAccount(ctx context.Context, ma *entity.MarketAccount) error {
	_, err := s.db.NewInsert().
		Model(toMarketAccountDao(ma)).
		On("CONFLICT (id) DO UPDATE").
		Set("market_id = EXCLUDED.market_id").
		Set("account_id = EXCLUDED.account_id").
		Set("supplied = EXCLUDED.supplied").
		Set("borrowed = EXCLUDED.borrowed").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save market account: %w", err)
	}
	return nil
}

func (s *PG) DeleteMarketAccount(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().
		Model((*MarketAccountDao)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete market account: %w", err)
	}
	return nil
}

// MarketAccountsByAccount is the reverse-foreign-key scan used by the daily
// sweep: all positions held by one account, across markets.
func (s *PG) MarketAccountsByAccount(ctx context.Context, accountID string) ([]*entity.MarketAccount, error) {
	var daos []MarketAccountDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list market accounts: %w", err)
	}
	out := make([]*entity.MarketAccount, 0, len(daos))
	for i := range daos {
		ma, err := toMarketAccount(&daos[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ma)
	}
	return out, nil
}

func (s *PG) Snapshot(ctx context.Context, id string) (*entity.Snapshot, error) {
	dao, err := scanOne(ctx, s.db, new(SnapshotDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toSnapshot(dao)
}

func (s *PG) SaveSnapshot(ctx context.Context, snap *entity.Snapshot) error {
	_, err := s.db.NewInsert().
		Model(toSnapshotDao(snap)).
		On("CONFLICT (id) DO UPDATE").
		Set("timestamp = EXCLUDED.timestamp").
		Set("protocol_id = EXCLUDED.protocol_id").
		Set("account_count = EXCLUDED.account_count").
		Set("finalized = EXCLUDED.finalized").
		Set("total_supply_usd = EXCLUDED.total_supply_usd").
		Set("total_borrow_usd = EXCLUDED.total_borrow_usd").
		Set("points = EXCLUDED.points").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *PG) MarketSnapshot(ctx context.Context, id string) (*entity.MarketSnapshot, error) {
	dao, err := scanOne(ctx, s.db, new(MarketSnapshotDao), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load market snapshot: %w", err)
	}
	if dao == nil {
		return nil, nil
	}
	return toMarketSnapshot(dao)
}

func (s *PG) SaveMarketSnapshot(ctx context.Context, ms *entity.MarketSnapshot) error {
	_, err := s.db.NewInsert().
		Model(toMarketSnapshotDao(ms)).
		On("CONFLICT (id) DO UPDATE").
		Set("snapshot_id = EXCLUDED.snapshot_id").
		Set("market_id = EXCLUDED.market_id").
		Set("account_count = EXCLUDED.account_count").
		Set("total_supply_usd = EXCLUDED.total_supply_usd").
		Set("total_borrow_usd = EXCLUDED.total_borrow_usd").
		Set("price_usd = EXCLUDED.price_usd").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save market snapshot: %w", err)
	}
	return nil
}

func (s *PG) ChainCursor(ctx context.Context, network string) (*entity.ChainCursor, error) {
	dao := new(ChainCursorDao)
	err := s.db.NewSelect().Model(dao).Where("network = ?", network).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load chain cursor: %w", err)
	}
	return &entity.ChainCursor{Network: dao.Network, LastBlock: dao.LastBlock}, nil
}

func (s *PG) SaveChainCursor(ctx context.Context, c *entity.ChainCursor) error {
	_, err := s.db.NewInsert().
		Model(&ChainCursorDao{Network: c.Network, LastBlock: c.LastBlock}).
		On("CONFLICT (network) DO UPDATE").
		Set("last_block = EXCLUDED.last_block").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save chain cursor: %w", err)
	}
	return nil
}
