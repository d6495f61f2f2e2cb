package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takotako/lending-indexer/pkg/entity"
)

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func packNonIndexed(t *testing.T, parsed string, event string, vals ...interface{}) []byte {
	t.Helper()
	var data []byte
	var err error
	switch parsed {
	case "pool":
		data, err = lendingPoolABI.Events[event].Inputs.NonIndexed().Pack(vals...)
	case "configurator":
		data, err = configuratorABI.Events[event].Inputs.NonIndexed().Pack(vals...)
	case "erc20":
		data, err = erc20ABI.Events[event].Inputs.NonIndexed().Pack(vals...)
	}
	require.NoError(t, err)
	return data
}

func TestDecodeLendingPoolLog_Deposit(t *testing.T) {
	reserve, caller, onBehalfOf := testAddr(1), testAddr(2), testAddr(3)
	log := types.Log{
		Topics: []common.Hash{
			depositTopic,
			addrTopic(reserve),
			addrTopic(onBehalfOf),
			common.BigToHash(big.NewInt(0)),
		},
		Data: packNonIndexed(t, "pool", "Deposit", caller, big.NewInt(1234)),
	}

	ev, err := DecodeLendingPoolLog(log)
	require.NoError(t, err)
	deposit, ok := ev.(Deposit)
	require.True(t, ok)
	assert.Equal(t, reserve, deposit.Reserve)
	assert.Equal(t, onBehalfOf, deposit.OnBehalfOf)
	assert.Equal(t, big.NewInt(1234), deposit.Amount)
}

func TestDecodeLendingPoolLog_Withdraw(t *testing.T) {
	reserve, user, to := testAddr(1), testAddr(2), testAddr(3)
	log := types.Log{
		Topics: []common.Hash{
			withdrawTopic,
			addrTopic(reserve),
			addrTopic(user),
			addrTopic(to),
		},
		Data: packNonIndexed(t, "pool", "Withdraw", big.NewInt(500)),
	}

	ev, err := DecodeLendingPoolLog(log)
	require.NoError(t, err)
	withdraw, ok := ev.(Withdraw)
	require.True(t, ok)
	assert.Equal(t, reserve, withdraw.Reserve)
	assert.Equal(t, to, withdraw.To)
	assert.Equal(t, big.NewInt(500), withdraw.Amount)
}

func TestDecodeLendingPoolLog_Borrow(t *testing.T) {
	reserve, caller, onBehalfOf := testAddr(1), testAddr(2), testAddr(3)
	log := types.Log{
		Topics: []common.Hash{
			borrowTopic,
			addrTopic(reserve),
			addrTopic(onBehalfOf),
			common.BigToHash(big.NewInt(0)),
		},
		Data: packNonIndexed(t, "pool", "Borrow",
			caller, big.NewInt(900), big.NewInt(2), big.NewInt(31536000)),
	}

	ev, err := DecodeLendingPoolLog(log)
	require.NoError(t, err)
	borrow, ok := ev.(Borrow)
	require.True(t, ok)
	assert.Equal(t, reserve, borrow.Reserve)
	assert.Equal(t, onBehalfOf, borrow.OnBehalfOf)
	assert.Equal(t, big.NewInt(900), borrow.Amount)
}

func TestDecodeLendingPoolLog_Repay(t *testing.T) {
	reserve, user, repayer := testAddr(1), testAddr(2), testAddr(3)
	log := types.Log{
		Topics: []common.Hash{
			repayTopic,
			addrTopic(reserve),
			addrTopic(user),
			addrTopic(repayer),
		},
		Data: packNonIndexed(t, "pool", "Repay", big.NewInt(450)),
	}

	ev, err := DecodeLendingPoolLog(log)
	require.NoError(t, err)
	repay, ok := ev.(Repay)
	require.True(t, ok)
	assert.Equal(t, reserve, repay.Reserve)
	assert.Equal(t, user, repay.User)
	assert.Equal(t, big.NewInt(450), repay.Amount)
}

func TestDecodeLendingPoolLog_LiquidationCall(t *testing.T) {
	collateral, debt, user, liquidator := testAddr(1), testAddr(2), testAddr(3), testAddr(4)
	log := types.Log{
		Topics: []common.Hash{
			liquidationTopic,
			addrTopic(collateral),
			addrTopic(debt),
			addrTopic(user),
		},
		Data: packNonIndexed(t, "pool", "LiquidationCall",
			big.NewInt(100), big.NewInt(110), liquidator, true),
	}

	ev, err := DecodeLendingPoolLog(log)
	require.NoError(t, err)
	liq, ok := ev.(LiquidationCall)
	require.True(t, ok)
	assert.Equal(t, collateral, liq.CollateralAsset)
	assert.Equal(t, debt, liq.DebtAsset)
	assert.Equal(t, user, liq.User)
	assert.Equal(t, liquidator, liq.Liquidator)
	assert.Equal(t, big.NewInt(100), liq.DebtToCover)
	assert.Equal(t, big.NewInt(110), liq.LiquidatedCollateralAmount)
}

func TestDecodeLendingPoolLog_UntrackedTopic(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{common.HexToHash("0xdead")},
	}
	ev, err := DecodeLendingPoolLog(log)
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = DecodeLendingPoolLog(types.Log{})
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestDecodeReserveInitializedLog(t *testing.T) {
	asset, aToken, sDebt, vDebt, strategy := testAddr(1), testAddr(2), testAddr(3), testAddr(4), testAddr(5)
	log := types.Log{
		BlockNumber: 777,
		Topics: []common.Hash{
			reserveInitializedTopic,
			addrTopic(asset),
			addrTopic(aToken),
		},
		Data: packNonIndexed(t, "configurator", "ReserveInitialized", sDebt, vDebt, strategy),
	}

	ev, err := DecodeReserveInitializedLog(log, 1700000000)
	require.NoError(t, err)
	ri, ok := ev.(ReserveInitialized)
	require.True(t, ok)
	assert.Equal(t, asset, ri.Asset)
	assert.Equal(t, aToken, ri.OutputToken)
	assert.Equal(t, sDebt, ri.StableDebtToken)
	assert.Equal(t, vDebt, ri.VariableDebtToken)
	assert.Equal(t, int64(777), ri.BlockNumber)
	assert.Equal(t, int64(1700000000), ri.Timestamp)
}

func TestDecodeTransferLog(t *testing.T) {
	token, from, to := testAddr(9), testAddr(1), testAddr(2)
	log := types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			addrTopic(from),
			addrTopic(to),
		},
		Data: packNonIndexed(t, "erc20", "Transfer", big.NewInt(42)),
	}

	ev, err := DecodeTransferLog(log, entity.SideLender)
	require.NoError(t, err)
	transfer, ok := ev.(Transfer)
	require.True(t, ok)
	assert.Equal(t, token, transfer.Token)
	assert.Equal(t, from, transfer.From)
	assert.Equal(t, to, transfer.To)
	assert.Equal(t, big.NewInt(42), transfer.Value)
	assert.Equal(t, entity.SideLender, transfer.Side)

	// approval or any other topic on the same contract is not an event
	ev, err = DecodeTransferLog(types.Log{Topics: []common.Hash{common.HexToHash("0xbeef")}}, entity.SideLender)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestAddressID(t *testing.T) {
	a := common.HexToAddress("0xABCDEF0123456789abcdef0123456789ABCDEF01")
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", AddressID(a))
}
