package indexer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/takotako/lending-indexer/pkg/entity"
)

// MockContractReader is a mock implementation of ContractReader
type MockContractReader struct {
	TokenSymbolFunc   func(ctx context.Context, token common.Address) (string, error)
	TokenNameFunc     func(ctx context.Context, token common.Address) (string, error)
	TokenDecimalsFunc func(ctx context.Context, token common.Address) (uint8, error)
	BalanceOfFunc     func(ctx context.Context, token, account common.Address) (*big.Int, error)
	AssetPriceFunc    func(ctx context.Context, gToken common.Address) (*big.Int, error)
}

func (m *MockContractReader) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	if m.TokenSymbolFunc != nil {
		return m.TokenSymbolFunc(ctx, token)
	}
	return "MOCK", nil
}

func (m *MockContractReader) TokenName(ctx context.Context, token common.Address) (string, error) {
	if m.TokenNameFunc != nil {
		return m.TokenNameFunc(ctx, token)
	}
	return "Mock Token", nil
}

func (m *MockContractReader) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if m.TokenDecimalsFunc != nil {
		return m.TokenDecimalsFunc(ctx, token)
	}
	return 18, nil
}

func (m *MockContractReader) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	if m.BalanceOfFunc != nil {
		return m.BalanceOfFunc(ctx, token, account)
	}
	return new(big.Int), nil
}

func (m *MockContractReader) AssetPrice(ctx context.Context, gToken common.Address) (*big.Int, error) {
	if m.AssetPriceFunc != nil {
		return m.AssetPriceFunc(ctx, gToken)
	}
	// $1.00 scaled by 1e18
	return new(big.Int).SetUint64(1e18), nil
}

// MockTokenWatcher is a mock implementation of TokenWatcher
type MockTokenWatcher struct {
	mu      sync.Mutex
	Watched map[common.Address]entity.PositionSide
}

func (m *MockTokenWatcher) WatchToken(addr common.Address, side entity.PositionSide) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Watched == nil {
		m.Watched = make(map[common.Address]entity.PositionSide)
	}
	m.Watched[addr] = side
}
