package indexer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/takotako/lending-indexer/internal/metrics"
	"github.com/takotako/lending-indexer/pkg/chain"
	"github.com/takotako/lending-indexer/pkg/entity"
)

// Handlers applies decoded pool and token events to the ledger. All
// handlers run on the engine goroutine, so a load-mutate-save sequence
// never races another handler.
type Handlers struct {
	store    EntityStore
	registry *Registry
	watcher  TokenWatcher
	logger   *zap.Logger
}

// NewHandlers wires the event handlers.
func NewHandlers(store EntityStore, registry *Registry, watcher TokenWatcher, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:    store,
		registry: registry,
		watcher:  watcher,
		logger:   logger,
	}
}

// HandleReserveInitialized creates the market for a newly listed reserve,
// materializes its auxiliary tokens, names the market after its
// interest-bearing token and registers the auxiliary contracts for
// Transfer tracking.
func (h *Handlers) HandleReserveInitialized(ctx context.Context, ev chain.ReserveInitialized) error {
	market, err := h.registry.GetOrCreateMarket(ctx, ev.Asset)
	if err != nil {
		return fmt.Errorf("failed to create market: %w", err)
	}

	outputToken, err := h.registry.GetOrCreateToken(ctx, ev.OutputToken, market)
	if err != nil {
		return fmt.Errorf("failed to create output token: %w", err)
	}
	vToken, err := h.registry.GetOrCreateToken(ctx, ev.VariableDebtToken, market)
	if err != nil {
		return fmt.Errorf("failed to create variable debt token: %w", err)
	}

	market.Name = outputToken.Name
	market.OutputToken = outputToken.ID
	market.VToken = vToken.ID
	market.CreatedBlockNumber = ev.BlockNumber
	market.CreatedTimestamp = ev.Timestamp

	if ev.StableDebtToken != (common.Address{}) {
		sToken, err := h.registry.GetOrCreateToken(ctx, ev.StableDebtToken, market)
		if err != nil {
			return fmt.Errorf("failed to create stable debt token: %w", err)
		}
		market.SToken = sToken.ID
	}

	if err := h.store.SaveMarket(ctx, market); err != nil {
		return fmt.Errorf("failed to save market: %w", err)
	}

	h.watcher.WatchToken(ev.OutputToken, entity.SideLender)
	h.watcher.WatchToken(ev.VariableDebtToken, entity.SideBorrower)
	if ev.StableDebtToken != (common.Address{}) {
		h.watcher.WatchToken(ev.StableDebtToken, entity.SideBorrower)
	}

	h.logger.Info("Reserve initialized",
		zap.String("market", market.ID),
		zap.String("name", market.Name))
	return nil
}

// HandleDeposit credits the depositor's supplied balance in the reserve's
// market. Deposits into unknown reserves are skipped.
func (h *Handlers) HandleDeposit(ctx context.Context, ev chain.Deposit) error {
	return h.applyPoolDelta(ctx, ev.Name(), ev.Reserve, ev.OnBehalfOf, entity.SideLender, ev.Amount, add)
}

// HandleWithdraw debits the supplied balance of the account the funds
// were sent to.
func (h *Handlers) HandleWithdraw(ctx context.Context, ev chain.Withdraw) error {
	return h.applyPoolDelta(ctx, ev.Name(), ev.Reserve, ev.To, entity.SideLender, ev.Amount, sub)
}

// HandleBorrow credits the borrower's borrowed balance.
func (h *Handlers) HandleBorrow(ctx context.Context, ev chain.Borrow) error {
	return h.applyPoolDelta(ctx, ev.Name(), ev.Reserve, ev.OnBehalfOf, entity.SideBorrower, ev.Amount, add)
}

// HandleRepay debits the borrowed balance of the account whose debt was
// repaid.
func (h *Handlers) HandleRepay(ctx context.Context, ev chain.Repay) error {
	return h.applyPoolDelta(ctx, ev.Name(), ev.Reserve, ev.User, entity.SideBorrower, ev.Amount, sub)
}

// HandleLiquidationCall acknowledges a liquidation without touching
// balances: the seized collateral and cleared debt surface through the
// Transfer events on the auxiliary tokens.
func (h *Handlers) HandleLiquidationCall(ctx context.Context, ev chain.LiquidationCall) error {
	h.logger.Debug("Liquidation observed",
		zap.String("user", chain.AddressID(ev.User)),
		zap.String("collateral_asset", chain.AddressID(ev.CollateralAsset)),
		zap.String("debt_asset", chain.AddressID(ev.DebtAsset)))
	return nil
}

// HandleTransfer moves a balance between two accounts when auxiliary
// tokens change hands outside the pool. Mints, burns and transfers
// touching the token contract itself are already accounted for by the
// pool events and are ignored here.
func (h *Handlers) HandleTransfer(ctx context.Context, ev chain.Transfer) error {
	tokenID := chain.AddressID(ev.Token)
	market, err := h.registry.GetMarketByAuxiliaryToken(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("failed to resolve market for token %s: %w", tokenID, err)
	}
	if market == nil {
		h.logger.Warn("Transfer on unlinked token", zap.String("token", tokenID))
		metrics.HandlerSkips.WithLabelValues(ev.Name(), "unlinked_token").Inc()
		return nil
	}

	zero := common.Address{}
	if ev.From == zero || ev.To == zero || ev.From == ev.Token || ev.To == ev.Token {
		return nil
	}

	protocol, err := h.registry.GetOrCreateProtocol(ctx)
	if err != nil {
		return err
	}

	fromAccount, err := h.registry.GetOrCreateAccount(ctx, chain.AddressID(ev.From), protocol)
	if err != nil {
		return fmt.Errorf("failed to resolve sender account: %w", err)
	}
	toAccount, err := h.registry.GetOrCreateAccount(ctx, chain.AddressID(ev.To), protocol)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient account: %w", err)
	}

	if err := h.mutateBalance(ctx, market.ID, fromAccount.ID, ev.Side, ev.Value, sub); err != nil {
		return err
	}
	return h.mutateBalance(ctx, market.ID, toAccount.ID, ev.Side, ev.Value, add)
}

type deltaOp int

const (
	add deltaOp = iota
	sub
)

// applyPoolDelta is the shared load-mutate-save path of the four pool
// balance events.
func (h *Handlers) applyPoolDelta(
	ctx context.Context,
	eventName string,
	reserve, accountAddr common.Address,
	side entity.PositionSide,
	amount *big.Int,
	op deltaOp,
) error {
	marketID := chain.AddressID(reserve)
	market, err := h.store.Market(ctx, marketID)
	if err != nil {
		return fmt.Errorf("failed to load market %s: %w", marketID, err)
	}
	if market == nil {
		h.logger.Warn("Event on unknown market",
			zap.String("event_type", eventName),
			zap.String("market", marketID))
		metrics.HandlerSkips.WithLabelValues(eventName, "unknown_market").Inc()
		return nil
	}

	protocol, err := h.registry.GetOrCreateProtocol(ctx)
	if err != nil {
		return err
	}
	account, err := h.registry.GetOrCreateAccount(ctx, chain.AddressID(accountAddr), protocol)
	if err != nil {
		return fmt.Errorf("failed to resolve account: %w", err)
	}

	return h.mutateBalance(ctx, market.ID, account.ID, side, amount, op)
}

func (h *Handlers) mutateBalance(
	ctx context.Context,
	marketID, accountID string,
	side entity.PositionSide,
	amount *big.Int,
	op deltaOp,
) error {
	ma, err := h.registry.GetOrCreateMarketAccount(ctx, marketID, accountID)
	if err != nil {
		return fmt.Errorf("failed to load market account: %w", err)
	}

	balance := ma.Supplied
	if side == entity.SideBorrower {
		balance = ma.Borrowed
	}
	if op == add {
		balance.Add(balance, amount)
	} else {
		balance.Sub(balance, amount)
	}

	if err := h.store.SaveMarketAccount(ctx, ma); err != nil {
		return fmt.Errorf("failed to save market account: %w", err)
	}
	return nil
}
