// Package chain talks to the EVM node: it decodes lending pool logs into
// typed events, reads token metadata and oracle prices, and polls blocks in
// chain order for the indexer engine.
package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/takotako/lending-indexer/pkg/entity"
)

// Event is a decoded chain occurrence delivered to the engine. BlockTick is
// delivered through the same stream, after the block's logs, so ordering is
// preserved end to end.
type Event interface {
	Name() string
}

// ReserveInitialized announces a new lending pool reserve and its auxiliary
// tokens.
type ReserveInitialized struct {
	Asset             common.Address
	OutputToken       common.Address
	StableDebtToken   common.Address
	VariableDebtToken common.Address
	BlockNumber       int64
	Timestamp         int64
}

func (ReserveInitialized) Name() string { return "ReserveInitialized" }

// Deposit is a supply of the reserve's underlying asset.
type Deposit struct {
	Reserve    common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

func (Deposit) Name() string { return "Deposit" }

// Withdraw removes supplied underlying from a reserve.
type Withdraw struct {
	Reserve common.Address
	To      common.Address
	Amount  *big.Int
}

func (Withdraw) Name() string { return "Withdraw" }

// Borrow draws debt against a reserve.
type Borrow struct {
	Reserve    common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

func (Borrow) Name() string { return "Borrow" }

// Repay settles debt on a reserve.
type Repay struct {
	Reserve common.Address
	User    common.Address
	Amount  *big.Int
}

func (Repay) Name() string { return "Repay" }

// LiquidationCall reports a liquidation. The handler decodes it but applies
// no ledger mutation; the balance effects arrive as Transfer/Repay events.
type LiquidationCall struct {
	CollateralAsset            common.Address
	DebtAsset                  common.Address
	User                       common.Address
	Liquidator                 common.Address
	DebtToCover                *big.Int
	LiquidatedCollateralAmount *big.Int
}

func (LiquidationCall) Name() string { return "LiquidationCall" }

// Transfer is an ERC20 transfer on a watched auxiliary token. Side says
// whether the token tracks supplied (LENDER) or borrowed (BORROWER)
// positions.
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
	Side  entity.PositionSide
}

func (Transfer) Name() string { return "Transfer" }

// BlockTick is emitted once per processed block, after the block's events.
type BlockTick struct {
	Number    int64
	Timestamp int64
}

func (BlockTick) Name() string { return "BlockTick" }

const lendingPoolABIJSON = `[
  {"type":"event","name":"Deposit","inputs":[
    {"name":"reserve","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":false},
    {"name":"onBehalfOf","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"referral","type":"uint16","indexed":true}]},
  {"type":"event","name":"Withdraw","inputs":[
    {"name":"reserve","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"Borrow","inputs":[
    {"name":"reserve","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":false},
    {"name":"onBehalfOf","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"borrowRateMode","type":"uint256","indexed":false},
    {"name":"borrowRate","type":"uint256","indexed":false},
    {"name":"referral","type":"uint16","indexed":true}]},
  {"type":"event","name":"Repay","inputs":[
    {"name":"reserve","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"repayer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"LiquidationCall","inputs":[
    {"name":"collateralAsset","type":"address","indexed":true},
    {"name":"debtAsset","type":"address","indexed":true},
    {"name":"user","type":"address","indexed":true},
    {"name":"debtToCover","type":"uint256","indexed":false},
    {"name":"liquidatedCollateralAmount","type":"uint256","indexed":false},
    {"name":"liquidator","type":"address","indexed":false},
    {"name":"receiveAToken","type":"bool","indexed":false}]}
]`

const configuratorABIJSON = `[
  {"type":"event","name":"ReserveInitialized","inputs":[
    {"name":"asset","type":"address","indexed":true},
    {"name":"aToken","type":"address","indexed":true},
    {"name":"stableDebtToken","type":"address","indexed":false},
    {"name":"variableDebtToken","type":"address","indexed":false},
    {"name":"interestRateStrategyAddress","type":"address","indexed":false}]}
]`

const erc20ABIJSON = `[
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"type":"address"}],"outputs":[{"type":"uint256"}]}
]`

const gTokenABIJSON = `[
  {"type":"function","name":"getAssetPrice","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

var (
	lendingPoolABI  = mustParseABI(lendingPoolABIJSON)
	configuratorABI = mustParseABI(configuratorABIJSON)
	erc20ABI        = mustParseABI(erc20ABIJSON)
	gTokenABI       = mustParseABI(gTokenABIJSON)

	depositTopic            = lendingPoolABI.Events["Deposit"].ID
	withdrawTopic           = lendingPoolABI.Events["Withdraw"].ID
	borrowTopic             = lendingPoolABI.Events["Borrow"].ID
	repayTopic              = lendingPoolABI.Events["Repay"].ID
	liquidationTopic        = lendingPoolABI.Events["LiquidationCall"].ID
	reserveInitializedTopic = configuratorABI.Events["ReserveInitialized"].ID
	transferTopic           = erc20ABI.Events["Transfer"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func topicAddress(log types.Log, i int) (common.Address, error) {
	if len(log.Topics) <= i {
		return common.Address{}, fmt.Errorf("log %s: missing topic %d", log.Topics[0], i)
	}
	return common.BytesToAddress(log.Topics[i].Bytes()), nil
}

// DecodeLendingPoolLog decodes a LendingPool log into a typed event.
// Returns (nil, nil) for topics the indexer does not track.
func DecodeLendingPoolLog(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}
	switch log.Topics[0] {
	case depositTopic:
		reserve, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		onBehalfOf, err := topicAddress(log, 2)
		if err != nil {
			return nil, err
		}
		vals, err := lendingPoolABI.Unpack("Deposit", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Deposit: %w", err)
		}
		return Deposit{Reserve: reserve, OnBehalfOf: onBehalfOf, Amount: vals[1].(*big.Int)}, nil

	case withdrawTopic:
		reserve, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		to, err := topicAddress(log, 3)
		if err != nil {
			return nil, err
		}
		vals, err := lendingPoolABI.Unpack("Withdraw", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Withdraw: %w", err)
		}
		return Withdraw{Reserve: reserve, To: to, Amount: vals[0].(*big.Int)}, nil

	case borrowTopic:
		reserve, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		onBehalfOf, err := topicAddress(log, 2)
		if err != nil {
			return nil, err
		}
		vals, err := lendingPoolABI.Unpack("Borrow", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Borrow: %w", err)
		}
		return Borrow{Reserve: reserve, OnBehalfOf: onBehalfOf, Amount: vals[1].(*big.Int)}, nil

	case repayTopic:
		reserve, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		user, err := topicAddress(log, 2)
		if err != nil {
			return nil, err
		}
		vals, err := lendingPoolABI.Unpack("Repay", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Repay: %w", err)
		}
		return Repay{Reserve: reserve, User: user, Amount: vals[0].(*big.Int)}, nil

	case liquidationTopic:
		collateral, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		debt, err := topicAddress(log, 2)
		if err != nil {
			return nil, err
		}
		user, err := topicAddress(log, 3)
		if err != nil {
			return nil, err
		}
		vals, err := lendingPoolABI.Unpack("LiquidationCall", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack LiquidationCall: %w", err)
		}
		return LiquidationCall{
			CollateralAsset:            collateral,
			DebtAsset:                  debt,
			User:                       user,
			DebtToCover:                vals[0].(*big.Int),
			LiquidatedCollateralAmount: vals[1].(*big.Int),
			Liquidator:                 vals[2].(common.Address),
		}, nil
	}
	return nil, nil
}

// DecodeReserveInitializedLog decodes a configurator log. Returns (nil, nil)
// for untracked topics.
func DecodeReserveInitializedLog(log types.Log, timestamp int64) (Event, error) {
	if len(log.Topics) == 0 || log.Topics[0] != reserveInitializedTopic {
		return nil, nil
	}
	asset, err := topicAddress(log, 1)
	if err != nil {
		return nil, err
	}
	aToken, err := topicAddress(log, 2)
	if err != nil {
		return nil, err
	}
	vals, err := configuratorABI.Unpack("ReserveInitialized", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack ReserveInitialized: %w", err)
	}
	return ReserveInitialized{
		Asset:             asset,
		OutputToken:       aToken,
		StableDebtToken:   vals[0].(common.Address),
		VariableDebtToken: vals[1].(common.Address),
		BlockNumber:       int64(log.BlockNumber),
		Timestamp:         timestamp,
	}, nil
}

// DecodeTransferLog decodes an ERC20 Transfer emitted by a watched
// auxiliary token. Returns (nil, nil) for untracked topics.
func DecodeTransferLog(log types.Log, side entity.PositionSide) (Event, error) {
	if len(log.Topics) == 0 || log.Topics[0] != transferTopic {
		return nil, nil
	}
	from, err := topicAddress(log, 1)
	if err != nil {
		return nil, err
	}
	to, err := topicAddress(log, 2)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("Transfer", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack Transfer: %w", err)
	}
	return Transfer{Token: log.Address, From: from, To: to, Value: vals[0].(*big.Int), Side: side}, nil
}

// AddressID renders an address the way entity ids store it: lowercase hex.
func AddressID(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
