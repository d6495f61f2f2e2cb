package store

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/takotako/lending-indexer/pkg/entity"
)

// ProtocolDao maps to the 'protocols' table.
type ProtocolDao struct {
	bun.BaseModel         `bun:"table:protocols,alias:p"`
	ID                    string   `bun:"id,pk,type:varchar(42)"`
	Name                  string   `bun:"name,notnull,type:varchar(64)"`
	Slug                  string   `bun:"slug,notnull,type:varchar(64)"`
	Network               string   `bun:"network,notnull,type:varchar(32)"`
	TotalPoolCount        int      `bun:"total_pool_count,notnull"`
	CumulativeUniqueUsers int64    `bun:"cumulative_unique_users,notnull"`
	TotalSupplyUSD        string   `bun:"total_supply_usd,notnull,type:numeric(38,18)"`
	TotalBorrowUSD        string   `bun:"total_borrow_usd,notnull,type:numeric(38,18)"`
	TotalPoints           string   `bun:"total_points,notnull,type:numeric(38,18)"`
	MarketIDs             []string `bun:"market_ids,array"`
}

// TokenDao maps to the 'tokens' table.
type TokenDao struct {
	bun.BaseModel `bun:"table:tokens,alias:t"`
	ID            string `bun:"id,pk,type:varchar(42)"`
	Symbol        string `bun:"symbol,notnull,type:varchar(64)"`
	Name          string `bun:"name,notnull,type:varchar(128)"`
	Decimals      int    `bun:"decimals,notnull"`
	MarketID      string `bun:"market_id,notnull,type:varchar(42)"`
}

// MarketDao maps to the 'markets' table.
type MarketDao struct {
	bun.BaseModel      `bun:"table:markets,alias:m"`
	ID                 string `bun:"id,pk,type:varchar(42)"`
	ProtocolID         string `bun:"protocol_id,notnull,type:varchar(42)"`
	Name               string `bun:"name,type:varchar(128)"`
	InputToken         string `bun:"input_token,notnull,type:varchar(42)"`
	OutputToken        string `bun:"output_token,type:varchar(42)"`
	VToken             string `bun:"v_token,type:varchar(42)"`
	SToken             string `bun:"s_token,type:varchar(42)"`
	CreatedBlockNumber int64  `bun:"created_block_number,notnull"`
	CreatedTimestamp   int64  `bun:"created_timestamp,notnull"`
	PriceUSD           string `bun:"price_usd,notnull,type:numeric(38,18)"`
}

// AccountDao maps to the 'accounts' table.
type AccountDao struct {
	bun.BaseModel  `bun:"table:accounts,alias:a"`
	ID             string `bun:"id,pk,type:varchar(42)"`
	TotalSupplyUSD string `bun:"total_supply_usd,notnull,type:numeric(38,18)"`
	TotalBorrowUSD string `bun:"total_borrow_usd,notnull,type:numeric(38,18)"`
	TotalPoints    string `bun:"total_points,notnull,type:numeric(38,18)"`
}

// ProtocolAccountDao maps to the 'protocol_accounts' table.
type ProtocolAccountDao struct {
	bun.BaseModel `bun:"table:protocol_accounts,alias:pa"`
	ID            string `bun:"id,pk,type:varchar(64)"`
	ProtocolID    string `bun:"protocol_id,notnull,type:varchar(42)"`
	AccountID     string `bun:"account_id,notnull,type:varchar(42)"`
	Index         int64  `bun:"account_index,notnull"`
}

// MarketAccountDao maps to the 'market_accounts' table.
type MarketAccountDao struct {
	bun.BaseModel `bun:"table:market_accounts,alias:ma"`
	ID            string `bun:"id,pk,type:varchar(96)"`
	MarketID      string `bun:"market_id,notnull,type:varchar(42)"`
	AccountID     string `bun:"account_id,notnull,type:varchar(42)"`
	Supplied      string `bun:"supplied,notnull,type:numeric(78,0)"`
	Borrowed      string `bun:"borrowed,notnull,type:numeric(78,0)"`
}

// SnapshotDao maps to the 'snapshots' table.
type SnapshotDao struct {
	bun.BaseModel  `bun:"table:snapshots,alias:s"`
	ID             string `bun:"id,pk,type:varchar(20)"`
	Timestamp      int64  `bun:"timestamp,notnull"`
	ProtocolID     string `bun:"protocol_id,notnull,type:varchar(42)"`
	AccountCount   int64  `bun:"account_count,notnull"`
	Finalized      bool   `bun:"finalized,notnull"`
	TotalSupplyUSD string `bun:"total_supply_usd,notnull,type:numeric(38,18)"`
	TotalBorrowUSD string `bun:"total_borrow_usd,notnull,type:numeric(38,18)"`
	Points         string `bun:"points,notnull,type:numeric(38,18)"`
}

// MarketSnapshotDao maps to the 'market_snapshots' table.
type MarketSnapshotDao struct {
	bun.BaseModel  `bun:"table:market_snapshots,alias:ms"`
	ID             string `bun:"id,pk,type:varchar(64)"`
	SnapshotID     string `bun:"snapshot_id,notnull,type:varchar(20)"`
	MarketID       string `bun:"market_id,notnull,type:varchar(42)"`
	AccountCount   int    `bun:"account_count,notnull"`
	TotalSupplyUSD string `bun:"total_supply_usd,notnull,type:numeric(38,18)"`
	TotalBorrowUSD string `bun:"total_borrow_usd,notnull,type:numeric(38,18)"`
	PriceUSD       string `bun:"price_usd,notnull,type:numeric(38,18)"`
}

// ChainCursorDao maps to the 'chain_cursors' table.
type ChainCursorDao struct {
	bun.BaseModel `bun:"table:chain_cursors,alias:cc"`
	Network       string `bun:"network,pk,type:varchar(32)"`
	LastBlock     int64  `bun:"last_block,notnull"`
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return d, nil
}

func parseBigInt(field, value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse %s: invalid integer %q", field, value)
	}
	return n, nil
}

func toProtocolDao(p *entity.Protocol) *ProtocolDao {
	return &ProtocolDao{
		ID:                    p.ID,
		Name:                  p.Name,
		Slug:                  p.Slug,
		Network:               p.Network,
		TotalPoolCount:        p.TotalPoolCount,
		CumulativeUniqueUsers: p.CumulativeUniqueUsers,
		TotalSupplyUSD:        p.TotalSupplyUSD.String(),
		TotalBorrowUSD:        p.TotalBorrowUSD.String(),
		TotalPoints:           p.TotalPoints.String(),
		MarketIDs:             p.MarketIDs,
	}
}

func toProtocol(dao *ProtocolDao) (*entity.Protocol, error) {
	supply, err := parseDecimal("protocol total_supply_usd", dao.TotalSupplyUSD)
	if err != nil {
		return nil, err
	}
	borrow, err := parseDecimal("protocol total_borrow_usd", dao.TotalBorrowUSD)
	if err != nil {
		return nil, err
	}
	points, err := parseDecimal("protocol total_points", dao.TotalPoints)
	if err != nil {
		return nil, err
	}
	return &entity.Protocol{
		ID:                    dao.ID,
		Name:                  dao.Name,
		Slug:                  dao.Slug,
		Network:               dao.Network,
		TotalPoolCount:        dao.TotalPoolCount,
		CumulativeUniqueUsers: dao.CumulativeUniqueUsers,
		TotalSupplyUSD:        supply,
		TotalBorrowUSD:        borrow,
		TotalPoints:           points,
		MarketIDs:             dao.MarketIDs,
	}, nil
}

func toTokenDao(t *entity.Token) *TokenDao {
	return &TokenDao{
		ID:       t.ID,
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: t.Decimals,
		MarketID: t.Market,
	}
}

func toToken(dao *TokenDao) *entity.Token {
	return &entity.Token{
		ID:       dao.ID,
		Symbol:   dao.Symbol,
		Name:     dao.Name,
		Decimals: dao.Decimals,
		Market:   dao.MarketID,
	}
}

func toMarketDao(m *entity.Market) *MarketDao {
	return &MarketDao{
		ID:                 m.ID,
		ProtocolID:         m.Protocol,
		Name:               m.Name,
		InputToken:         m.InputToken,
		OutputToken:        m.OutputToken,
		VToken:             m.VToken,
		SToken:             m.SToken,
		CreatedBlockNumber: m.CreatedBlockNumber,
		CreatedTimestamp:   m.CreatedTimestamp,
		PriceUSD:           m.PriceUSD.String(),
	}
}

func toMarket(dao *MarketDao) (*entity.Market, error) {
	price, err := parseDecimal("market price_usd", dao.PriceUSD)
	if err != nil {
		return nil, err
	}
	return &entity.Market{
		ID:                 dao.ID,
		Protocol:           dao.ProtocolID,
		Name:               dao.Name,
		InputToken:         dao.InputToken,
		OutputToken:        dao.OutputToken,
		VToken:             dao.VToken,
		SToken:             dao.SToken,
		CreatedBlockNumber: dao.CreatedBlockNumber,
		CreatedTimestamp:   dao.CreatedTimestamp,
		PriceUSD:           price,
	}, nil
}

func toAccountDao(a *entity.Account) *AccountDao {
	return &AccountDao{
		ID:             a.ID,
		TotalSupplyUSD: a.TotalSupplyUSD.String(),
		TotalBorrowUSD: a.TotalBorrowUSD.String(),
		TotalPoints:    a.TotalPoints.String(),
	}
}

func toAccount(dao *AccountDao) (*entity.Account, error) {
	supply, err := parseDecimal("account total_supply_usd", dao.TotalSupplyUSD)
	if err != nil {
		return nil, err
	}
	borrow, err := parseDecimal("account total_borrow_usd", dao.TotalBorrowUSD)
	if err != nil {
		return nil, err
	}
	points, err := parseDecimal("account total_points", dao.TotalPoints)
	if err != nil {
		return nil, err
	}
	return &entity.Account{
		ID:             dao.ID,
		TotalSupplyUSD: supply,
		TotalBorrowUSD: borrow,
		TotalPoints:    points,
	}, nil
}

func toProtocolAccountDao(pa *entity.ProtocolAccount) *ProtocolAccountDao {
	return &ProtocolAccountDao{
		ID:         pa.ID,
		ProtocolID: pa.Protocol,
		AccountID:  pa.Account,
		Index:      pa.Index,
	}
}

func toProtocolAccount(dao *ProtocolAccountDao) *entity.ProtocolAccount {
	return &entity.ProtocolAccount{
		ID:       dao.ID,
		Protocol: dao.ProtocolID,
		Account:  dao.AccountID,
		Index:    dao.Index,
	}
}

func toMarketAccountDao(ma *entity.MarketAccount) *MarketAccountDao {
	return &MarketAccountDao{
		ID:        ma.ID,
		MarketID:  ma.Market,
		AccountID: ma.Account,
		Supplied:  ma.Supplied.String(),
		Borrowed:  ma.Borrowed.String(),
	}
}

func toMarketAccount(dao *MarketAccountDao) (*entity.MarketAccount, error) {
	supplied, err := parseBigInt("market_account supplied", dao.Supplied)
	if err != nil {
		return nil, err
	}
	borrowed, err := parseBigInt("market_account borrowed", dao.Borrowed)
	if err != nil {
		return nil, err
	}
	return &entity.MarketAccount{
		ID:       dao.ID,
		Market:   dao.MarketID,
		Account:  dao.AccountID,
		Supplied: supplied,
		Borrowed: borrowed,
	}, nil
}

func toSnapshotDao(s *entity.Snapshot) *SnapshotDao {
	return &SnapshotDao{
		ID:             s.ID,
		Timestamp:      s.Timestamp,
		ProtocolID:     s.Protocol,
		AccountCount:   s.AccountCount,
		Finalized:      s.Finalized,
		TotalSupplyUSD: s.TotalSupplyUSD.String(),
		TotalBorrowUSD: s.TotalBorrowUSD.String(),
		Points:         s.Points.String(),
	}
}

func toSnapshot(dao *SnapshotDao) (*entity.Snapshot, error) {
	supply, err := parseDecimal("snapshot total_supply_usd", dao.TotalSupplyUSD)
	if err != nil {
		return nil, err
	}
	borrow, err := parseDecimal("snapshot total_borrow_usd", dao.TotalBorrowUSD)
	if err != nil {
		return nil, err
	}
	points, err := parseDecimal("snapshot points", dao.Points)
	if err != nil {
		return nil, err
	}
	return &entity.Snapshot{
		ID:             dao.ID,
		Timestamp:      dao.Timestamp,
		Protocol:       dao.ProtocolID,
		AccountCount:   dao.AccountCount,
		Finalized:      dao.Finalized,
		TotalSupplyUSD: supply,
		TotalBorrowUSD: borrow,
		Points:         points,
	}, nil
}

func toMarketSnapshotDao(ms *entity.MarketSnapshot) *MarketSnapshotDao {
	return &MarketSnapshotDao{
		ID:             ms.ID,
		SnapshotID:     ms.Snapshot,
		MarketID:       ms.Market,
		AccountCount:   ms.AccountCount,
		TotalSupplyUSD: ms.TotalSupplyUSD.String(),
		TotalBorrowUSD: ms.TotalBorrowUSD.String(),
		PriceUSD:       ms.PriceUSD.String(),
	}
}

func toMarketSnapshot(dao *MarketSnapshotDao) (*entity.MarketSnapshot, error) {
	supply, err := parseDecimal("market_snapshot total_supply_usd", dao.TotalSupplyUSD)
	if err != nil {
		return nil, err
	}
	borrow, err := parseDecimal("market_snapshot total_borrow_usd", dao.TotalBorrowUSD)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal("market_snapshot price_usd", dao.PriceUSD)
	if err != nil {
		return nil, err
	}
	return &entity.MarketSnapshot{
		ID:             dao.ID,
		Snapshot:       dao.SnapshotID,
		Market:         dao.MarketID,
		AccountCount:   dao.AccountCount,
		TotalSupplyUSD: supply,
		TotalBorrowUSD: borrow,
		PriceUSD:       price,
	}, nil
}
