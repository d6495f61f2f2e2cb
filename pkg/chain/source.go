package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/takotako/lending-indexer/internal/metrics"
	"github.com/takotako/lending-indexer/pkg/config"
	"github.com/takotako/lending-indexer/pkg/entity"
)

// Poller streams decoded events in chain order: a block's logs first (in
// log-index order), then the block's tick. Auxiliary tokens registered via
// WatchToken are included in subsequent filter windows, mirroring how the
// reserve-initialization flow subscribes to new aToken/debt token
// contracts.
type Poller struct {
	client *Client
	cfg    *config.EthereumConfig
	logger *zap.Logger

	mu      sync.RWMutex
	watched map[common.Address]entity.PositionSide
}

// NewPoller creates a log poller over the given client.
func NewPoller(client *Client, cfg *config.EthereumConfig, logger *zap.Logger) *Poller {
	return &Poller{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		watched: make(map[common.Address]entity.PositionSide),
	}
}

// WatchToken registers an auxiliary token contract so its Transfer events
// are captured from the next filter window on.
func (p *Poller) WatchToken(addr common.Address, side entity.PositionSide) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[addr]; ok {
		return
	}
	p.watched[addr] = side
	p.logger.Info("Watching auxiliary token",
		zap.String("token", AddressID(addr)),
		zap.String("side", string(side)))
}

func (p *Poller) watchedSide(addr common.Address) (entity.PositionSide, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	side, ok := p.watched[addr]
	return side, ok
}

func (p *Poller) filterAddresses() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	addrs := []common.Address{
		common.HexToAddress(p.cfg.LendingPool),
		common.HexToAddress(p.cfg.PoolConfigurator),
	}
	for addr := range p.watched {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Stream polls for confirmed blocks starting at fromBlock and pushes
// decoded events. Both channels close when ctx is done; a send on the error
// channel terminates the stream.
func (p *Poller) Stream(ctx context.Context, fromBlock int64) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		ticker := time.NewTicker(p.cfg.PollingInterval)
		defer ticker.Stop()

		next := fromBlock
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			latest, err := p.client.Eth().BlockNumber(ctx)
			if err != nil {
				errs <- fmt.Errorf("failed to get latest block: %w", err)
				return
			}
			safe := int64(latest) - int64(p.cfg.ConfirmationBlocks)
			if safe < next {
				continue
			}

			if err := p.pollRange(ctx, next, safe, events); err != nil {
				errs <- err
				return
			}
			next = safe + 1
		}
	}()

	return events, errs
}

func (p *Poller) pollRange(ctx context.Context, from, to int64, events chan<- Event) error {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: p.filterAddresses(),
	}
	logs, err := p.client.Eth().FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter logs [%d, %d]: %w", from, to, err)
	}

	byBlock := make(map[int64][]types.Log)
	for _, l := range logs {
		byBlock[int64(l.BlockNumber)] = append(byBlock[int64(l.BlockNumber)], l)
	}

	pool := common.HexToAddress(p.cfg.LendingPool)
	configurator := common.HexToAddress(p.cfg.PoolConfigurator)

	for block := from; block <= to; block++ {
		header, err := p.client.Eth().HeaderByNumber(ctx, big.NewInt(block))
		if err != nil {
			return fmt.Errorf("failed to get header %d: %w", block, err)
		}
		timestamp := int64(header.Time)

		blockLogs := byBlock[block]
		sort.Slice(blockLogs, func(i, j int) bool { return blockLogs[i].Index < blockLogs[j].Index })

		for _, l := range blockLogs {
			event, err := p.decode(l, timestamp, pool, configurator)
			if err != nil {
				return err
			}
			if event == nil {
				continue
			}
			metrics.EventsDetected.WithLabelValues(event.Name()).Inc()
			select {
			case events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case events <- BlockTick{Number: block, Timestamp: timestamp}:
		case <-ctx.Done():
			return ctx.Err()
		}
		metrics.LastPolledBlock.Set(float64(block))
	}
	return nil
}

func (p *Poller) decode(l types.Log, timestamp int64, pool, configurator common.Address) (Event, error) {
	switch l.Address {
	case pool:
		return DecodeLendingPoolLog(l)
	case configurator:
		return DecodeReserveInitializedLog(l, timestamp)
	default:
		side, ok := p.watchedSide(l.Address)
		if !ok {
			return nil, nil
		}
		return DecodeTransferLog(l, side)
	}
}
