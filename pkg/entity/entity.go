// Package entity defines the persisted schema of the lending indexer.
// All monetary (USD) figures use decimal.Decimal, raw token amounts use
// *big.Int, and ids are strings: lowercase hex addresses or composite
// strings joined with "-".
package entity

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// SecondsPerDay is the width of a snapshot bucket.
const SecondsPerDay = 86400

// PositionSide distinguishes which balance of a MarketAccount a token
// transfer moves.
type PositionSide string

const (
	SideLender   PositionSide = "LENDER"
	SideBorrower PositionSide = "BORROWER"
)

// Protocol is the singleton aggregate for one lending protocol deployment,
// keyed by its addresses-provider contract address.
type Protocol struct {
	ID                    string
	Name                  string
	Slug                  string
	Network               string
	TotalPoolCount        int
	CumulativeUniqueUsers int64
	TotalSupplyUSD        decimal.Decimal
	TotalBorrowUSD        decimal.Decimal
	TotalPoints           decimal.Decimal
	MarketIDs             []string
}

// Token is an ERC20-like contract encountered by the indexer: a market's
// underlying asset, its interest-bearing output token, or a debt token.
// Decimals is 0 when on-chain introspection failed.
type Token struct {
	ID       string
	Symbol   string
	Name     string
	Decimals int
	Market   string
}

// Market is one lending pool reserve, keyed by the underlying asset
// address. OutputToken, VToken and SToken stay empty until the reserve
// initialization event links them.
type Market struct {
	ID                 string
	Protocol           string
	Name               string
	InputToken         string
	OutputToken        string
	VToken             string
	SToken             string
	CreatedBlockNumber int64
	CreatedTimestamp   int64
	PriceUSD           decimal.Decimal
}

// Account is a wallet address that has ever interacted with the protocol.
// TotalSupplyUSD and TotalBorrowUSD hold the valuation from the most recent
// sweep visit; TotalPoints accrues monotonically across days.
type Account struct {
	ID             string
	TotalSupplyUSD decimal.Decimal
	TotalBorrowUSD decimal.Decimal
	TotalPoints    decimal.Decimal
}

// ProtocolAccount maps a dense integer index to an account id, emulating an
// append-only array over the key-value store. For every index in
// [0, Protocol.CumulativeUniqueUsers) exactly one record exists.
type ProtocolAccount struct {
	ID       string
	Protocol string
	Account  string
	Index    int64
}

// MarketAccount is the per-(market, account) balance ledger entry. Amounts
// are raw token units and are updated via signed deltas without clamping.
type MarketAccount struct {
	ID       string
	Market   string
	Account  string
	Supplied *big.Int
	Borrowed *big.Int
}

// Snapshot is the once-per-UTC-day accrual record. AccountCount is the
// resumable sweep cursor; the day is finalized when the cursor reaches the
// live CumulativeUniqueUsers counter.
type Snapshot struct {
	ID             string
	Timestamp      int64
	Protocol       string
	AccountCount   int64
	Finalized      bool
	TotalSupplyUSD decimal.Decimal
	TotalBorrowUSD decimal.Decimal
	Points         decimal.Decimal
}

// MarketSnapshot is the per-(snapshot, market) slice of a day's totals.
type MarketSnapshot struct {
	ID             string
	Snapshot       string
	Market         string
	AccountCount   int
	TotalSupplyUSD decimal.Decimal
	TotalBorrowUSD decimal.Decimal
	PriceUSD       decimal.Decimal
}

// ChainCursor tracks the last fully processed block per network so the log
// poller resumes where it left off.
type ChainCursor struct {
	Network   string
	LastBlock int64
}

// DayBucket truncates a unix timestamp to the start of its UTC day.
func DayBucket(timestamp int64) int64 {
	return timestamp / SecondsPerDay * SecondsPerDay
}

// SnapshotID returns the id of the snapshot covering the given timestamp.
func SnapshotID(timestamp int64) string {
	return strconv.FormatInt(DayBucket(timestamp), 10)
}

// ProtocolAccountID builds the dense-index join record id.
func ProtocolAccountID(protocolID string, index int64) string {
	return fmt.Sprintf("%s-%d", protocolID, index)
}

// MarketAccountID builds the per-(market, account) ledger entry id.
func MarketAccountID(marketID, accountID string) string {
	return marketID + "-" + accountID
}

// MarketSnapshotID builds the per-(snapshot, market) record id.
func MarketSnapshotID(snapshotID, marketID string) string {
	return snapshotID + "-" + marketID
}

// Clone returns a deep copy so callers can load-mutate-save without
// aliasing store-held state.
func (p *Protocol) Clone() *Protocol {
	cp := *p
	cp.MarketIDs = append([]string(nil), p.MarketIDs...)
	return &cp
}

// Clone returns a copy of the token.
func (t *Token) Clone() *Token {
	cp := *t
	return &cp
}

// Clone returns a copy of the market.
func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// Clone returns a copy of the join record.
func (pa *ProtocolAccount) Clone() *ProtocolAccount {
	cp := *pa
	return &cp
}

// Clone returns a deep copy including the big.Int balances.
func (ma *MarketAccount) Clone() *MarketAccount {
	cp := *ma
	if ma.Supplied != nil {
		cp.Supplied = new(big.Int).Set(ma.Supplied)
	}
	if ma.Borrowed != nil {
		cp.Borrowed = new(big.Int).Set(ma.Borrowed)
	}
	return &cp
}

// Clone returns a copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	return &cp
}

// Clone returns a copy of the market snapshot.
func (ms *MarketSnapshot) Clone() *MarketSnapshot {
	cp := *ms
	return &cp
}

// Clone returns a copy of the cursor.
func (c *ChainCursor) Clone() *ChainCursor {
	cp := *c
	return &cp
}
