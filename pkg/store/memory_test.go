package store_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takotako/lending-indexer/pkg/entity"
	"github.com/takotako/lending-indexer/pkg/store"
)

func TestMemory_NilOnMissing(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	p, err := s.Protocol(ctx, "0xnope")
	require.NoError(t, err)
	assert.Nil(t, p)

	ma, err := s.MarketAccount(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, ma)

	c, err := s.ChainCursor(ctx, "TAIKO")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestMemory_SaveIsUpsert(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, &entity.Account{ID: "0xabc"}))
	require.NoError(t, s.SaveAccount(ctx, &entity.Account{
		ID:          "0xabc",
		TotalPoints: decimal.NewFromInt(50),
	}))

	a, err := s.Account(ctx, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.True(t, a.TotalPoints.Equal(decimal.NewFromInt(50)))
}

func TestMemory_LoadReturnsCopy(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveMarketAccount(ctx, &entity.MarketAccount{
		ID:       "m-a",
		Market:   "m",
		Account:  "a",
		Supplied: big.NewInt(100),
		Borrowed: big.NewInt(0),
	}))

	ma, err := s.MarketAccount(ctx, "m-a")
	require.NoError(t, err)
	ma.Supplied.SetInt64(999)

	// the mutation must not be visible until saved
	again, err := s.MarketAccount(ctx, "m-a")
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.Supplied.Int64())
}

func TestMemory_MarketAccountsByAccount(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	for _, ma := range []*entity.MarketAccount{
		{ID: "m1-acct", Market: "m1", Account: "acct", Supplied: big.NewInt(1), Borrowed: big.NewInt(0)},
		{ID: "m2-acct", Market: "m2", Account: "acct", Supplied: big.NewInt(0), Borrowed: big.NewInt(2)},
		{ID: "m1-other", Market: "m1", Account: "other", Supplied: big.NewInt(3), Borrowed: big.NewInt(0)},
	} {
		require.NoError(t, s.SaveMarketAccount(ctx, ma))
	}

	positions, err := s.MarketAccountsByAccount(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "m1-acct", positions[0].ID)
	assert.Equal(t, "m2-acct", positions[1].ID)
}

func TestMemory_DeleteMarketAccount(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveMarketAccount(ctx, &entity.MarketAccount{
		ID: "m-a", Market: "m", Account: "a",
		Supplied: big.NewInt(0), Borrowed: big.NewInt(0),
	}))
	require.NoError(t, s.DeleteMarketAccount(ctx, "m-a"))

	ma, err := s.MarketAccount(ctx, "m-a")
	require.NoError(t, err)
	assert.Nil(t, ma)

	// deleting a missing record is a no-op
	require.NoError(t, s.DeleteMarketAccount(ctx, "m-a"))
}

func TestMemory_ChainCursor(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveChainCursor(ctx, &entity.ChainCursor{Network: "TAIKO", LastBlock: 42}))
	require.NoError(t, s.SaveChainCursor(ctx, &entity.ChainCursor{Network: "TAIKO", LastBlock: 43}))

	c, err := s.ChainCursor(ctx, "TAIKO")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int64(43), c.LastBlock)
}
