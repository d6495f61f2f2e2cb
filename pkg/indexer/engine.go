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

// EntityStore is the persistence contract of the indexer. Loads return
// (nil, nil) when the record does not exist; saves are upserts and are the
// only point at which mutations become durable.
type EntityStore interface {
	Protocol(ctx context.Context, id string) (*entity.Protocol, error)
	SaveProtocol(ctx context.Context, p *entity.Protocol) error

	Token(ctx context.Context, id string) (*entity.Token, error)
	SaveToken(ctx context.Context, t *entity.Token) error

	Market(ctx context.Context, id string) (*entity.Market, error)
	SaveMarket(ctx context.Context, m *entity.Market) error

	Account(ctx context.Context, id string) (*entity.Account, error)
	SaveAccount(ctx context.Context, a *entity.Account) error

	ProtocolAccount(ctx context.Context, id string) (*entity.ProtocolAccount, error)
	SaveProtocolAccount(ctx context.Context, pa *entity.ProtocolAccount) error

	MarketAccount(ctx context.Context, id string) (*entity.MarketAccount, error)
	SaveMarketAccount(ctx context.Context, ma *entity.MarketAccount) error
	DeleteMarketAccount(ctx context.Context, id string) error
	MarketAccountsByAccount(ctx context.Context, accountID string) ([]*entity.MarketAccount, error)

	Snapshot(ctx context.Context, id string) (*entity.Snapshot, error)
	SaveSnapshot(ctx context.Context, s *entity.Snapshot) error

	MarketSnapshot(ctx context.Context, id string) (*entity.MarketSnapshot, error)
	SaveMarketSnapshot(ctx context.Context, ms *entity.MarketSnapshot) error

	ChainCursor(ctx context.Context, network string) (*entity.ChainCursor, error)
	SaveChainCursor(ctx context.Context, c *entity.ChainCursor) error
}

// ContractReader reads token metadata, balances and oracle prices.
type ContractReader interface {
	TokenSymbol(ctx context.Context, token common.Address) (string, error)
	TokenName(ctx context.Context, token common.Address) (string, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	AssetPrice(ctx context.Context, gToken common.Address) (*big.Int, error)
}

// TokenWatcher registers auxiliary token contracts for Transfer tracking.
type TokenWatcher interface {
	WatchToken(addr common.Address, side entity.PositionSide)
}

// Engine drains the event stream on a single goroutine, dispatching each
// event to its handler and the block ticks to the accruer. Single-threaded
// consumption is what keeps handler execution serialized in chain order.
type Engine struct {
	handlers *Handlers
	accruer  *Accruer
	store    EntityStore
	network  string
	logger   *zap.Logger
}

// NewEngine wires the processing loop.
func NewEngine(handlers *Handlers, accruer *Accruer, store EntityStore, network string, logger *zap.Logger) *Engine {
	return &Engine{
		handlers: handlers,
		accruer:  accruer,
		store:    store,
		network:  network,
		logger:   logger,
	}
}

// Run consumes events until ctx is cancelled or a fatal error occurs.
// Handler errors are fatal: the cursor is not advanced past the failed
// block, so a restart replays it.
func (e *Engine) Run(ctx context.Context, events <-chan chain.Event, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("event stream failed: %w", err)
		case ev, ok := <-events:
			if !ok {
				// the poller buffers its failure before closing both
				// channels, so drain errs instead of racing it
				if errs != nil {
					if err, ok := <-errs; ok {
						return fmt.Errorf("event stream failed: %w", err)
					}
				}
				return nil
			}
			if err := e.process(ctx, ev); err != nil {
				metrics.EventsProcessed.WithLabelValues(ev.Name(), "error").Inc()
				return fmt.Errorf("failed to process %s: %w", ev.Name(), err)
			}
			metrics.EventsProcessed.WithLabelValues(ev.Name(), "ok").Inc()
		}
	}
}

func (e *Engine) process(ctx context.Context, ev chain.Event) error {
	switch event := ev.(type) {
	case chain.ReserveInitialized:
		return e.handlers.HandleReserveInitialized(ctx, event)
	case chain.Deposit:
		return e.handlers.HandleDeposit(ctx, event)
	case chain.Withdraw:
		return e.handlers.HandleWithdraw(ctx, event)
	case chain.Borrow:
		return e.handlers.HandleBorrow(ctx, event)
	case chain.Repay:
		return e.handlers.HandleRepay(ctx, event)
	case chain.LiquidationCall:
		return e.handlers.HandleLiquidationCall(ctx, event)
	case chain.Transfer:
		return e.handlers.HandleTransfer(ctx, event)
	case chain.BlockTick:
		return e.handleBlockTick(ctx, event)
	default:
		e.logger.Warn("Unhandled event", zap.String("event_type", ev.Name()))
		return nil
	}
}

// handleBlockTick runs the daily sweep for the block and then persists the
// cursor, marking everything up to this block as durably processed.
func (e *Engine) handleBlockTick(ctx context.Context, tick chain.BlockTick) error {
	if err := e.accruer.HandleBlock(ctx, tick); err != nil {
		return err
	}
	cursor := &entity.ChainCursor{Network: e.network, LastBlock: tick.Number}
	if err := e.store.SaveChainCursor(ctx, cursor); err != nil {
		return fmt.Errorf("failed to save chain cursor: %w", err)
	}
	metrics.LastProcessedBlock.Set(float64(tick.Number))
	return nil
}
