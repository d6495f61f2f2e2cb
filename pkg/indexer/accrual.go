package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/takotako/lending-indexer/internal/metrics"
	"github.com/takotako/lending-indexer/pkg/chain"
	"github.com/takotako/lending-indexer/pkg/entity"
)

// Points are granted once per finalized day per account: 10 per USD
// supplied, 50 per USD borrowed.
var (
	supplyPointsPerUSD = decimal.NewFromInt(10)
	borrowPointsPerUSD = decimal.NewFromInt(50)
)

// oraclePriceExp scales raw getAssetPrice values to USD.
const oraclePriceExp = -18

// Accruer runs the daily snapshot sweep. Each block tick inside a day
// advances the day's snapshot by at most one batch of accounts, so a
// single tick stays cheap no matter how many accounts the protocol has
// accumulated. The sweep converges once the batch cursor catches up with
// the live unique-account counter.
type Accruer struct {
	store     EntityStore
	reader    ContractReader
	registry  *Registry
	batchSize int64
	logger    *zap.Logger
}

// NewAccruer creates the sweep runner.
func NewAccruer(store EntityStore, reader ContractReader, registry *Registry, batchSize int64, logger *zap.Logger) *Accruer {
	return &Accruer{
		store:     store,
		reader:    reader,
		registry:  registry,
		batchSize: batchSize,
		logger:    logger,
	}
}

// HandleBlock advances the snapshot for the tick's UTC day by one batch.
// Pricing runs before any mutation; a pricing failure aborts the tick
// with all ledger state untouched.
func (a *Accruer) HandleBlock(ctx context.Context, tick chain.BlockTick) error {
	protocol, err := a.registry.GetOrCreateProtocol(ctx)
	if err != nil {
		return err
	}

	snapshotID := entity.SnapshotID(tick.Timestamp)
	snap, err := a.store.Snapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	if snap != nil && snap.Finalized {
		return nil
	}
	if snap == nil {
		snap = &entity.Snapshot{
			ID:        snapshotID,
			Timestamp: entity.DayBucket(tick.Timestamp) * entity.SecondsPerDay,
			Protocol:  protocol.ID,
		}
	}

	prices, tokenDecimals, err := a.priceMarkets(ctx, protocol)
	if err != nil {
		return fmt.Errorf("failed to price markets: %w", err)
	}

	started := time.Now()
	batchEnd := snap.AccountCount + a.batchSize
	if batchEnd > protocol.CumulativeUniqueUsers {
		batchEnd = protocol.CumulativeUniqueUsers
	}

	tickSupply := decimal.Zero
	tickBorrow := decimal.Zero
	tickPoints := decimal.Zero

	for i := snap.AccountCount; i < batchEnd; i++ {
		join, err := a.store.ProtocolAccount(ctx, entity.ProtocolAccountID(protocol.ID, i))
		if err != nil {
			return err
		}
		if join == nil {
			// hole in the dense index, nothing to sweep at this slot
			a.logger.Warn("Missing protocol account", zap.Int64("index", i))
			continue
		}

		supplyUSD, borrowUSD, err := a.sweepAccountPositions(ctx, snap, join.Account, prices, tokenDecimals)
		if err != nil {
			return err
		}

		account, err := a.store.Account(ctx, join.Account)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("account %s referenced by index %d does not exist", join.Account, i)
		}

		points := supplyUSD.Mul(supplyPointsPerUSD).Add(borrowUSD.Mul(borrowPointsPerUSD))
		account.TotalSupplyUSD = supplyUSD
		account.TotalBorrowUSD = borrowUSD
		account.TotalPoints = account.TotalPoints.Add(points)
		if err := a.store.SaveAccount(ctx, account); err != nil {
			return err
		}

		tickSupply = tickSupply.Add(supplyUSD)
		tickBorrow = tickBorrow.Add(borrowUSD)
		tickPoints = tickPoints.Add(points)
		metrics.AccountsSwept.Inc()
	}

	snap.AccountCount = batchEnd
	snap.TotalSupplyUSD = snap.TotalSupplyUSD.Add(tickSupply)
	snap.TotalBorrowUSD = snap.TotalBorrowUSD.Add(tickBorrow)
	snap.Points = snap.Points.Add(tickPoints)
	snap.Finalized = snap.AccountCount == protocol.CumulativeUniqueUsers
	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}

	protocol.TotalSupplyUSD = snap.TotalSupplyUSD
	protocol.TotalBorrowUSD = snap.TotalBorrowUSD
	protocol.TotalPoints = protocol.TotalPoints.Add(tickPoints)
	if err := a.store.SaveProtocol(ctx, protocol); err != nil {
		return err
	}

	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	if snap.Finalized {
		metrics.SnapshotsFinalized.Inc()
		a.logger.Info("Snapshot finalized",
			zap.String("snapshot", snap.ID),
			zap.Int64("accounts", snap.AccountCount),
			zap.String("total_supply_usd", snap.TotalSupplyUSD.String()),
			zap.String("total_borrow_usd", snap.TotalBorrowUSD.String()),
			zap.String("points", snap.Points.String()))
	}
	return nil
}

// priceMarkets resolves the oracle price of every registered market and the
// decimals of its output token, which denominate the ledger balances, then
// records the fresh price on each market. No market
// is touched until the whole pricing pass has succeeded, so a mid-pass
// failure leaves every stored price as it was.
func (a *Accruer) priceMarkets(ctx context.Context, protocol *entity.Protocol) (map[string]decimal.Decimal, map[string]int, error) {
	prices := make(map[string]decimal.Decimal, len(protocol.MarketIDs))
	tokenDecimals := make(map[string]int, len(protocol.MarketIDs))
	markets := make([]*entity.Market, 0, len(protocol.MarketIDs))

	for _, marketID := range protocol.MarketIDs {
		market, err := a.store.Market(ctx, marketID)
		if err != nil {
			return nil, nil, err
		}
		if market == nil {
			return nil, nil, fmt.Errorf("market %s is registered but does not exist", marketID)
		}
		if market.OutputToken == "" {
			return nil, nil, fmt.Errorf("market %s has no output token", marketID)
		}

		raw, err := a.reader.AssetPrice(ctx, common.HexToAddress(market.OutputToken))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read price for market %s: %w", marketID, err)
		}
		prices[marketID] = decimal.NewFromBigInt(raw, oraclePriceExp)

		token, err := a.store.Token(ctx, market.OutputToken)
		if err != nil {
			return nil, nil, err
		}
		if token == nil {
			return nil, nil, fmt.Errorf("output token %s of market %s does not exist", market.OutputToken, marketID)
		}
		tokenDecimals[marketID] = token.Decimals
		markets = append(markets, market)
	}

	for _, market := range markets {
		market.PriceUSD = prices[market.ID]
		if err := a.store.SaveMarket(ctx, market); err != nil {
			return nil, nil, err
		}
	}
	return prices, tokenDecimals, nil
}

// sweepAccountPositions values one account's positions, folds them into
// the per-market snapshot slices and garbage-collects entries whose
// balances have both returned to zero.
func (a *Accruer) sweepAccountPositions(
	ctx context.Context,
	snap *entity.Snapshot,
	accountID string,
	prices map[string]decimal.Decimal,
	tokenDecimals map[string]int,
) (supplyUSD, borrowUSD decimal.Decimal, err error) {
	positions, err := a.store.MarketAccountsByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	supplyUSD = decimal.Zero
	borrowUSD = decimal.Zero
	for _, pos := range positions {
		if pos.Supplied.Sign() == 0 && pos.Borrowed.Sign() == 0 {
			if err := a.store.DeleteMarketAccount(ctx, pos.ID); err != nil {
				return decimal.Zero, decimal.Zero, err
			}
			continue
		}

		price, ok := prices[pos.Market]
		if !ok {
			return decimal.Zero, decimal.Zero, fmt.Errorf("position %s references unpriced market %s", pos.ID, pos.Market)
		}
		exp := -int32(tokenDecimals[pos.Market])

		ms, err := a.registry.GetOrCreateMarketSnapshot(ctx, snap.ID, pos.Market)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		posSupply := decimal.NewFromBigInt(pos.Supplied, 0).Shift(exp).Mul(price)
		posBorrow := decimal.NewFromBigInt(pos.Borrowed, 0).Shift(exp).Mul(price)

		supplyUSD = supplyUSD.Add(posSupply)
		borrowUSD = borrowUSD.Add(posBorrow)
		ms.TotalSupplyUSD = ms.TotalSupplyUSD.Add(posSupply)
		ms.TotalBorrowUSD = ms.TotalBorrowUSD.Add(posBorrow)
		ms.AccountCount++
		ms.PriceUSD = price
		if err := a.store.SaveMarketSnapshot(ctx, ms); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
	}
	return supplyUSD, borrowUSD, nil
}
