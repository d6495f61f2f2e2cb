package store

import (
	"context"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/takotako/lending-indexer/pkg/entity"
	"github.com/takotako/lending-indexer/pkg/pgutil"
	mghelper "github.com/takotako/lending-indexer/pkg/pgutil/migrations"
)

func setupPGStore(t *testing.T) (context.Context, *PG) {
	t.Helper()
	requireDockerAccess(t)

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	err := mghelper.CreateSchema(ctx, db,
		&ProtocolDao{}, &TokenDao{}, &MarketDao{}, &AccountDao{},
		&ProtocolAccountDao{}, &MarketAccountDao{},
		&SnapshotDao{}, &MarketSnapshotDao{}, &ChainCursorDao{},
	)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return ctx, NewPG(db)
}

func requireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed store tests")
}

func wantDecimal(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()

	wantDec, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("failed to parse want decimal %q: %v", want, err)
	}
	if !got.Equal(wantDec) {
		t.Fatalf("decimal mismatch: got %s want %s", got.String(), wantDec.String())
	}
}

func TestPGStore_NilOnMissing(t *testing.T) {
	ctx, s := setupPGStore(t)

	p, err := s.Protocol(ctx, "0xnope")
	if err != nil {
		t.Fatalf("Protocol() failed: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil protocol, got %+v", p)
	}

	ma, err := s.MarketAccount(ctx, "nope")
	if err != nil {
		t.Fatalf("MarketAccount() failed: %v", err)
	}
	if ma != nil {
		t.Fatalf("expected nil market account, got %+v", ma)
	}

	c, err := s.ChainCursor(ctx, "TAIKO")
	if err != nil {
		t.Fatalf("ChainCursor() failed: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil cursor, got %+v", c)
	}
}

func TestPGStore_ProtocolUpsert(t *testing.T) {
	ctx, s := setupPGStore(t)

	p := &entity.Protocol{
		ID:                    "0x225bd906d398b1748d7def4a35a96f6e5efd1420",
		Name:                  "TAKOTAKO",
		Slug:                  "takotako",
		Network:               "TAIKO",
		TotalPoolCount:        2,
		CumulativeUniqueUsers: 7,
		TotalSupplyUSD:        decimal.RequireFromString("123.456"),
		TotalBorrowUSD:        decimal.RequireFromString("0.000000000000000001"),
		TotalPoints:           decimal.RequireFromString("1500.5"),
		MarketIDs:             []string{"0xaaa", "0xbbb"},
	}
	if err := s.SaveProtocol(ctx, p); err != nil {
		t.Fatalf("SaveProtocol() failed: %v", err)
	}

	loaded, err := s.Protocol(ctx, p.ID)
	if err != nil {
		t.Fatalf("Protocol() failed: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected protocol to exist")
	}
	if loaded.CumulativeUniqueUsers != 7 || loaded.TotalPoolCount != 2 {
		t.Fatalf("counter mismatch: %+v", loaded)
	}
	if len(loaded.MarketIDs) != 2 || loaded.MarketIDs[1] != "0xbbb" {
		t.Fatalf("market ids mismatch: %v", loaded.MarketIDs)
	}
	wantDecimal(t, loaded.TotalSupplyUSD, "123.456")
	wantDecimal(t, loaded.TotalBorrowUSD, "0.000000000000000001")
	wantDecimal(t, loaded.TotalPoints, "1500.5")

	loaded.CumulativeUniqueUsers = 8
	loaded.MarketIDs = append(loaded.MarketIDs, "0xccc")
	if err := s.SaveProtocol(ctx, loaded); err != nil {
		t.Fatalf("SaveProtocol(update) failed: %v", err)
	}
	again, err := s.Protocol(ctx, p.ID)
	if err != nil {
		t.Fatalf("Protocol() failed: %v", err)
	}
	if again.CumulativeUniqueUsers != 8 || len(again.MarketIDs) != 3 {
		t.Fatalf("upsert did not update columns: %+v", again)
	}
}

func TestPGStore_MarketRoundTrip(t *testing.T) {
	ctx, s := setupPGStore(t)

	m := &entity.Market{
		ID:                 "0xmarket",
		Protocol:           "0xproto",
		Name:               "TakoTako USDC",
		InputToken:         "0xunderlying",
		OutputToken:        "0xatoken",
		VToken:             "0xvdebt",
		SToken:             "0xsdebt",
		CreatedBlockNumber: 424242,
		CreatedTimestamp:   1700000000,
		PriceUSD:           decimal.RequireFromString("2.5"),
	}
	if err := s.SaveMarket(ctx, m); err != nil {
		t.Fatalf("SaveMarket() failed: %v", err)
	}

	loaded, err := s.Market(ctx, m.ID)
	if err != nil {
		t.Fatalf("Market() failed: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected market to exist")
	}
	if loaded.OutputToken != "0xatoken" || loaded.SToken != "0xsdebt" {
		t.Fatalf("token links mismatch: %+v", loaded)
	}
	if loaded.CreatedBlockNumber != 424242 {
		t.Fatalf("created block mismatch: %d", loaded.CreatedBlockNumber)
	}
	wantDecimal(t, loaded.PriceUSD, "2.5")

	loaded.PriceUSD = decimal.RequireFromString("3.75")
	if err := s.SaveMarket(ctx, loaded); err != nil {
		t.Fatalf("SaveMarket(update) failed: %v", err)
	}
	again, err := s.Market(ctx, m.ID)
	if err != nil {
		t.Fatalf("Market() failed: %v", err)
	}
	wantDecimal(t, again.PriceUSD, "3.75")
}

func TestPGStore_TokenAndAccount(t *testing.T) {
	ctx, s := setupPGStore(t)

	tok := &entity.Token{
		ID:       "0xtoken",
		Symbol:   "tUSDC",
		Name:     "TakoTako USDC",
		Decimals: 6,
		Market:   "0xmarket",
	}
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatalf("SaveToken() failed: %v", err)
	}
	loadedTok, err := s.Token(ctx, tok.ID)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if loadedTok.Symbol != "tUSDC" || loadedTok.Decimals != 6 {
		t.Fatalf("token mismatch: %+v", loadedTok)
	}

	a := &entity.Account{
		ID:             "0xabc",
		TotalSupplyUSD: decimal.RequireFromString("5"),
		TotalPoints:    decimal.RequireFromString("50"),
	}
	if err := s.SaveAccount(ctx, a); err != nil {
		t.Fatalf("SaveAccount() failed: %v", err)
	}
	a.TotalPoints = decimal.RequireFromString("100")
	if err := s.SaveAccount(ctx, a); err != nil {
		t.Fatalf("SaveAccount(update) failed: %v", err)
	}
	loadedAcc, err := s.Account(ctx, a.ID)
	if err != nil {
		t.Fatalf("Account() failed: %v", err)
	}
	wantDecimal(t, loadedAcc.TotalSupplyUSD, "5")
	wantDecimal(t, loadedAcc.TotalPoints, "100")
}

func TestPGStore_MarketAccountLifecycle(t *testing.T) {
	ctx, s := setupPGStore(t)

	positions := []*entity.MarketAccount{
		{ID: "0xm1-0xacct", Market: "0xm1", Account: "0xacct", Supplied: big.NewInt(0).Mul(big.NewInt(5), big.NewInt(1e18)), Borrowed: big.NewInt(0)},
		{ID: "0xm2-0xacct", Market: "0xm2", Account: "0xacct", Supplied: big.NewInt(0), Borrowed: big.NewInt(-700)},
		{ID: "0xm1-0xother", Market: "0xm1", Account: "0xother", Supplied: big.NewInt(1), Borrowed: big.NewInt(0)},
	}
	for _, ma := range positions {
		if err := s.SaveMarketAccount(ctx, ma); err != nil {
			t.Fatalf("SaveMarketAccount(%s) failed: %v", ma.ID, err)
		}
	}

	got, err := s.MarketAccountsByAccount(ctx, "0xacct")
	if err != nil {
		t.Fatalf("MarketAccountsByAccount() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected position count: got %d want 2", len(got))
	}
	if got[0].ID != "0xm1-0xacct" || got[1].ID != "0xm2-0xacct" {
		t.Fatalf("positions out of order: %s, %s", got[0].ID, got[1].ID)
	}
	want := new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))
	if got[0].Supplied.Cmp(want) != 0 {
		t.Fatalf("supplied mismatch: got %s want %s", got[0].Supplied, want)
	}
	// negative balances survive the numeric round trip unclamped
	if got[1].Borrowed.Int64() != -700 {
		t.Fatalf("borrowed mismatch: got %s want -700", got[1].Borrowed)
	}

	got[0].Supplied.SetInt64(0)
	if err := s.SaveMarketAccount(ctx, got[0]); err != nil {
		t.Fatalf("SaveMarketAccount(update) failed: %v", err)
	}
	reloaded, err := s.MarketAccount(ctx, "0xm1-0xacct")
	if err != nil {
		t.Fatalf("MarketAccount() failed: %v", err)
	}
	if reloaded.Supplied.Sign() != 0 {
		t.Fatalf("upsert did not update balance: %s", reloaded.Supplied)
	}

	if err := s.DeleteMarketAccount(ctx, "0xm1-0xacct"); err != nil {
		t.Fatalf("DeleteMarketAccount() failed: %v", err)
	}
	deleted, err := s.MarketAccount(ctx, "0xm1-0xacct")
	if err != nil {
		t.Fatalf("MarketAccount() failed: %v", err)
	}
	if deleted != nil {
		t.Fatalf("expected position to be deleted")
	}
	if err := s.DeleteMarketAccount(ctx, "0xm1-0xacct"); err != nil {
		t.Fatalf("DeleteMarketAccount() should be idempotent, got: %v", err)
	}
}

func TestPGStore_SnapshotRoundTrips(t *testing.T) {
	ctx, s := setupPGStore(t)

	join := &entity.ProtocolAccount{
		ID:       "0xproto-0",
		Protocol: "0xproto",
		Account:  "0xabc",
		Index:    0,
	}
	if err := s.SaveProtocolAccount(ctx, join); err != nil {
		t.Fatalf("SaveProtocolAccount() failed: %v", err)
	}
	loadedJoin, err := s.ProtocolAccount(ctx, join.ID)
	if err != nil {
		t.Fatalf("ProtocolAccount() failed: %v", err)
	}
	if loadedJoin.Account != "0xabc" || loadedJoin.Index != 0 {
		t.Fatalf("join mismatch: %+v", loadedJoin)
	}

	snap := &entity.Snapshot{
		ID:             "17280000",
		Timestamp:      17280000 * entity.SecondsPerDay,
		Protocol:       "0xproto",
		AccountCount:   3,
		Finalized:      false,
		TotalSupplyUSD: decimal.RequireFromString("10"),
		Points:         decimal.RequireFromString("100"),
	}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}
	snap.AccountCount = 5
	snap.Finalized = true
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot(update) failed: %v", err)
	}
	loadedSnap, err := s.Snapshot(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if !loadedSnap.Finalized || loadedSnap.AccountCount != 5 {
		t.Fatalf("cursor upsert mismatch: %+v", loadedSnap)
	}
	wantDecimal(t, loadedSnap.Points, "100")

	ms := &entity.MarketSnapshot{
		ID:             "17280000-0xmarket",
		Snapshot:       snap.ID,
		Market:         "0xmarket",
		AccountCount:   2,
		TotalSupplyUSD: decimal.RequireFromString("7.5"),
		PriceUSD:       decimal.RequireFromString("2.5"),
	}
	if err := s.SaveMarketSnapshot(ctx, ms); err != nil {
		t.Fatalf("SaveMarketSnapshot() failed: %v", err)
	}
	loadedMS, err := s.MarketSnapshot(ctx, ms.ID)
	if err != nil {
		t.Fatalf("MarketSnapshot() failed: %v", err)
	}
	if loadedMS.AccountCount != 2 {
		t.Fatalf("account count mismatch: %d", loadedMS.AccountCount)
	}
	wantDecimal(t, loadedMS.TotalSupplyUSD, "7.5")
	wantDecimal(t, loadedMS.PriceUSD, "2.5")
}

func TestPGStore_ChainCursorUpsert(t *testing.T) {
	ctx, s := setupPGStore(t)

	if err := s.SaveChainCursor(ctx, &entity.ChainCursor{Network: "TAIKO", LastBlock: 42}); err != nil {
		t.Fatalf("SaveChainCursor() failed: %v", err)
	}
	if err := s.SaveChainCursor(ctx, &entity.ChainCursor{Network: "TAIKO", LastBlock: 43}); err != nil {
		t.Fatalf("SaveChainCursor(update) failed: %v", err)
	}

	c, err := s.ChainCursor(ctx, "TAIKO")
	if err != nil {
		t.Fatalf("ChainCursor() failed: %v", err)
	}
	if c == nil || c.LastBlock != 43 {
		t.Fatalf("cursor mismatch: %+v", c)
	}
}
