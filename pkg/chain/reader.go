package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ErrReverted marks a contract call that the node executed but the contract
// rejected (or that returned no data). Metadata callers fall back to
// defaults on it; the pricing pass treats it as fatal for the tick.
var ErrReverted = errors.New("contract call reverted")

// UnknownTokenValue is the symbol/name used when introspection fails.
const UnknownTokenValue = "unknown"

// nullEthValue is the bytes32 "non-null but no string" marker some broken
// ERC20s return; it is rejected the same as a revert.
var nullEthValue = common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000001")

// Client reads token metadata, balances and oracle prices from the node.
type Client struct {
	eth    *ethclient.Client
	logger *zap.Logger
}

// NewClient connects to the EVM JSON-RPC endpoint.
func NewClient(rpcURL string, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	logger.Info("Connected to EVM node", zap.String("rpc_url", rpcURL))
	return &Client{eth: eth, logger: logger}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Eth exposes the raw client for the log poller.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if strings.Contains(err.Error(), "revert") {
			return nil, fmt.Errorf("%w: %s", ErrReverted, err)
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrReverted
	}
	return out, nil
}

// TokenSymbol resolves an ERC20 symbol with the string accessor first, then
// the non-standard bytes32 accessor. The bytes32 non-null marker counts as
// a revert.
func (c *Client) TokenSymbol(ctx context.Context, token common.Address) (string, error) {
	return c.tokenString(ctx, token, "symbol")
}

// TokenName resolves an ERC20 name the same way as TokenSymbol.
func (c *Client) TokenName(ctx context.Context, token common.Address) (string, error) {
	return c.tokenString(ctx, token, "name")
}

func (c *Client) tokenString(ctx context.Context, token common.Address, method string) (string, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return "", err
	}

	if vals, err := erc20ABI.Unpack(method, out); err == nil {
		if s, ok := vals[0].(string); ok {
			return s, nil
		}
	}

	// non-standard ERC20 with a bytes32 accessor
	s, ok := decodeBytes32String(out)
	if !ok {
		return "", ErrReverted
	}
	return s, nil
}

// decodeBytes32String interprets raw return data as a bytes32-encoded
// string. The null marker and all-zero values are rejected.
func decodeBytes32String(out []byte) (string, bool) {
	if len(out) != 32 {
		return "", false
	}
	var h common.Hash
	copy(h[:], out)
	if h == nullEthValue || h == (common.Hash{}) {
		return "", false
	}
	return string(bytes.TrimRight(out, "\x00")), true
}

// TokenDecimals resolves ERC20 decimals.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals: %w", err)
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrReverted, err)
	}
	return vals[0].(uint8), nil
}

// BalanceOf reads an account's balance on a token contract.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReverted, err)
	}
	return vals[0].(*big.Int), nil
}

// AssetPrice reads the oracle price from a market's interest-bearing token,
// scaled by 1e18.
func (c *Client) AssetPrice(ctx context.Context, gToken common.Address) (*big.Int, error) {
	data, err := gTokenABI.Pack("getAssetPrice")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAssetPrice: %w", err)
	}
	out, err := c.call(ctx, gToken, data)
	if err != nil {
		return nil, err
	}
	vals, err := gTokenABI.Unpack("getAssetPrice", out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReverted, err)
	}
	return vals[0].(*big.Int), nil
}
