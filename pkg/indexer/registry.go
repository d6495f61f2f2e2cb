package indexer

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/takotako/lending-indexer/internal/metrics"
	"github.com/takotako/lending-indexer/pkg/chain"
	"github.com/takotako/lending-indexer/pkg/config"
	"github.com/takotako/lending-indexer/pkg/entity"
)

// Registry resolves and lazily materializes Protocol, Token, Market,
// Account and join records. It is the only component that creates
// entities; handlers and the accruer go through it.
type Registry struct {
	store  EntityStore
	reader ContractReader
	proto  config.ProtocolConfig
	logger *zap.Logger
}

// NewRegistry creates a registry for one protocol deployment.
func NewRegistry(store EntityStore, reader ContractReader, proto config.ProtocolConfig, logger *zap.Logger) *Registry {
	proto.Address = strings.ToLower(proto.Address)
	return &Registry{
		store:  store,
		reader: reader,
		proto:  proto,
		logger: logger,
	}
}

// GetOrCreateProtocol loads the protocol singleton, creating it with zeroed
// aggregates on first sight.
func (r *Registry) GetOrCreateProtocol(ctx context.Context) (*entity.Protocol, error) {
	protocol, err := r.store.Protocol(ctx, r.proto.Address)
	if err != nil {
		return nil, err
	}
	if protocol != nil {
		return protocol, nil
	}

	protocol = &entity.Protocol{
		ID:      r.proto.Address,
		Name:    r.proto.Name,
		Slug:    r.proto.Slug,
		Network: r.proto.Network,
	}
	if err := r.store.SaveProtocol(ctx, protocol); err != nil {
		return nil, err
	}
	return protocol, nil
}

// GetOrCreateToken loads a token record, introspecting symbol, name and
// decimals on first sight. Reverted introspection calls degrade to
// "unknown" / 0; transport errors propagate.
func (r *Registry) GetOrCreateToken(ctx context.Context, addr common.Address, market *entity.Market) (*entity.Token, error) {
	id := chain.AddressID(addr)
	token, err := r.store.Token(ctx, id)
	if err != nil {
		return nil, err
	}
	if token != nil {
		return token, nil
	}

	symbol, err := r.fetchTokenString(ctx, addr, r.reader.TokenSymbol)
	if err != nil {
		return nil, err
	}
	name, err := r.fetchTokenString(ctx, addr, r.reader.TokenName)
	if err != nil {
		return nil, err
	}
	decimals, err := r.reader.TokenDecimals(ctx, addr)
	if err != nil {
		if !errors.Is(err, chain.ErrReverted) {
			return nil, err
		}
		decimals = 0
	}

	token = &entity.Token{
		ID:       id,
		Symbol:   symbol,
		Name:     name,
		Decimals: int(decimals),
		Market:   market.ID,
	}
	if err := r.store.SaveToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (r *Registry) fetchTokenString(
	ctx context.Context,
	addr common.Address,
	fetch func(context.Context, common.Address) (string, error),
) (string, error) {
	value, err := fetch(ctx, addr)
	if err != nil {
		if !errors.Is(err, chain.ErrReverted) {
			return "", err
		}
		return chain.UnknownTokenValue, nil
	}
	return value, nil
}

// GetOrCreateMarket loads a market by its underlying asset address,
// creating it and registering it on the protocol on first sight. Output
// and debt token links are filled in by the reserve-initialization
// handler, not here.
func (r *Registry) GetOrCreateMarket(ctx context.Context, underlying common.Address) (*entity.Market, error) {
	id := chain.AddressID(underlying)
	market, err := r.store.Market(ctx, id)
	if err != nil {
		return nil, err
	}
	if market != nil {
		return market, nil
	}

	r.logger.Info("Creating new market", zap.String("market", id))

	protocol, err := r.GetOrCreateProtocol(ctx)
	if err != nil {
		return nil, err
	}
	protocol.TotalPoolCount++
	protocol.MarketIDs = append(protocol.MarketIDs, id)
	if err := r.store.SaveProtocol(ctx, protocol); err != nil {
		return nil, err
	}

	market = &entity.Market{
		ID:       id,
		Protocol: protocol.ID,
	}
	inputToken, err := r.GetOrCreateToken(ctx, underlying, market)
	if err != nil {
		return nil, err
	}
	market.InputToken = inputToken.ID

	if err := r.store.SaveMarket(ctx, market); err != nil {
		return nil, err
	}
	return market, nil
}

// GetOrCreateAccount loads an account, creating it on first sight. Creation
// appends a ProtocolAccount join record at the next dense index and
// advances the protocol's CumulativeUniqueUsers counter, which only ever
// increases. The passed protocol is updated and saved in place.
func (r *Registry) GetOrCreateAccount(ctx context.Context, id string, protocol *entity.Protocol) (*entity.Account, error) {
	account, err := r.store.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account = &entity.Account{ID: id}
	if err := r.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}

	join := &entity.ProtocolAccount{
		ID:       entity.ProtocolAccountID(protocol.ID, protocol.CumulativeUniqueUsers),
		Protocol: protocol.ID,
		Account:  account.ID,
		Index:    protocol.CumulativeUniqueUsers,
	}
	if err := r.store.SaveProtocolAccount(ctx, join); err != nil {
		return nil, err
	}

	protocol.CumulativeUniqueUsers++
	if err := r.store.SaveProtocol(ctx, protocol); err != nil {
		return nil, err
	}
	metrics.UniqueAccounts.Set(float64(protocol.CumulativeUniqueUsers))
	return account, nil
}

// GetOrCreateMarketAccount loads or builds the (market, account) ledger
// entry with zero balances. The caller saves it after mutation.
func (r *Registry) GetOrCreateMarketAccount(ctx context.Context, marketID, accountID string) (*entity.MarketAccount, error) {
	id := entity.MarketAccountID(marketID, accountID)
	ma, err := r.store.MarketAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if ma != nil {
		return ma, nil
	}
	return &entity.MarketAccount{
		ID:       id,
		Market:   marketID,
		Account:  accountID,
		Supplied: new(big.Int),
		Borrowed: new(big.Int),
	}, nil
}

// GetOrCreateMarketSnapshot loads or builds the (snapshot, market) slice
// with zeroed accumulators. The caller saves it after mutation.
func (r *Registry) GetOrCreateMarketSnapshot(ctx context.Context, snapshotID, marketID string) (*entity.MarketSnapshot, error) {
	id := entity.MarketSnapshotID(snapshotID, marketID)
	ms, err := r.store.MarketSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if ms != nil {
		return ms, nil
	}
	return &entity.MarketSnapshot{
		ID:       id,
		Snapshot: snapshotID,
		Market:   marketID,
	}, nil
}

// GetMarketByAuxiliaryToken resolves a market from the address of its
// output token or either debt token, case-insensitively. Returns (nil, nil)
// when no market matches; callers treat that as a skippable condition.
func (r *Registry) GetMarketByAuxiliaryToken(ctx context.Context, tokenID string) (*entity.Market, error) {
	protocol, err := r.GetOrCreateProtocol(ctx)
	if err != nil {
		return nil, err
	}

	for _, marketID := range protocol.MarketIDs {
		market, err := r.store.Market(ctx, marketID)
		if err != nil {
			return nil, err
		}
		if market == nil {
			continue
		}
		if strings.EqualFold(market.OutputToken, tokenID) ||
			(market.VToken != "" && strings.EqualFold(market.VToken, tokenID)) ||
			(market.SToken != "" && strings.EqualFold(market.SToken, tokenID)) {
			return market, nil
		}
	}
	return nil, nil
}

// ProtocolID returns the configured protocol id.
func (r *Registry) ProtocolID() string {
	return r.proto.Address
}
