package store

import (
	"context"
	"sort"
	"sync"

	"github.com/takotako/lending-indexer/pkg/entity"
)

// Memory is a map-backed entity store. It mirrors the Postgres store's
// contract (upsert saves, nil-on-missing loads, related-record scans) and
// returns deep copies so callers never alias stored state. Used by tests
// and by the --dry-run indexer mode.
type Memory struct {
	mu sync.RWMutex

	protocols        map[string]*entity.Protocol
	tokens           map[string]*entity.Token
	markets          map[string]*entity.Market
	accounts         map[string]*entity.Account
	protocolAccounts map[string]*entity.ProtocolAccount
	marketAccounts   map[string]*entity.MarketAccount
	snapshots        map[string]*entity.Snapshot
	marketSnapshots  map[string]*entity.MarketSnapshot
	cursors          map[string]*entity.ChainCursor
}

// NewMemory creates an empty in-memory entity store.
func NewMemory() *Memory {
	return &Memory{
		protocols:        make(map[string]*entity.Protocol),
		tokens:           make(map[string]*entity.Token),
		markets:          make(map[string]*entity.Market),
		accounts:         make(map[string]*entity.Account),
		protocolAccounts: make(map[string]*entity.ProtocolAccount),
		marketAccounts:   make(map[string]*entity.MarketAccount),
		snapshots:        make(map[string]*entity.Snapshot),
		marketSnapshots:  make(map[string]*entity.MarketSnapshot),
		cursors:          make(map[string]*entity.ChainCursor),
	}
}

func (s *Memory) Protocol(_ context.Context, id string) (*entity.Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.protocols[id]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveProtocol(_ context.Context, p *entity.Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocols[p.ID] = p.Clone()
	return nil
}

func (s *Memory) Token(_ context.Context, id string) (*entity.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tokens[id]; ok {
		return t.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveToken(_ context.Context, t *entity.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = t.Clone()
	return nil
}

func (s *Memory) Market(_ context.Context, id string) (*entity.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.markets[id]; ok {
		return m.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveMarket(_ context.Context, m *entity.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *Memory) Account(_ context.Context, id string) (*entity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveAccount(_ context.Context, a *entity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *Memory) ProtocolAccount(_ context.Context, id string) (*entity.ProtocolAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pa, ok := s.protocolAccounts[id]; ok {
		return pa.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveProtocolAccount(_ context.Context, pa *entity.ProtocolAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolAccounts[pa.ID] = pa.Clone()
	return nil
}

func (s *Memory) MarketAccount(_ context.Context, id string) (*entity.MarketAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ma, ok := s.marketAccounts[id]; ok {
		return ma.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveMarketAccount(_ context.Context, ma *entity.MarketAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketAccounts[ma.ID] = ma.Clone()
	return nil
}

func (s *Memory) DeleteMarketAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marketAccounts, id)
	return nil
}

func (s *Memory) MarketAccountsByAccount(_ context.Context, accountID string) ([]*entity.MarketAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.MarketAccount
	for _, ma := range s.marketAccounts {
		if ma.Account == accountID {
			out = append(out, ma.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) Snapshot(_ context.Context, id string) (*entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.snapshots[id]; ok {
		return snap.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveSnapshot(_ context.Context, snap *entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = snap.Clone()
	return nil
}

func (s *Memory) MarketSnapshot(_ context.Context, id string) (*entity.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ms, ok := s.marketSnapshots[id]; ok {
		return ms.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveMarketSnapshot(_ context.Context, ms *entity.MarketSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketSnapshots[ms.ID] = ms.Clone()
	return nil
}

func (s *Memory) ChainCursor(_ context.Context, network string) (*entity.ChainCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cursors[network]; ok {
		return c.Clone(), nil
	}
	return nil, nil
}

func (s *Memory) SaveChainCursor(_ context.Context, c *entity.ChainCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[c.Network] = c.Clone()
	return nil
}
