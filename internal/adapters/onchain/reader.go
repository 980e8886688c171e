package onchain

// reader.go — read-only Polygon access for the solvency ledger.
//
// The exchange's REST balance endpoint and the fill stream both drift; the
// chain is the ground truth. This reader answers four questions:
//   - how much USDC.e does the funder hold
//   - how much of it may the exchange pull (ERC20 allowance)
//   - how many shares of an outcome token does the funder hold (ERC1155)
//   - may the exchange operator move those shares (setApprovalForAll)

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract — holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// CTF Exchange operator that needs ERC1155 approval and USDC.e allowance
	exchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

	// Every contract read gets its own deadline; a hung RPC must never
	// stall the maker loop.
	callTimeout = 10 * time.Second
)

var (
	erc20ReadABI   abi.ABI
	erc1155ReadABI abi.ABI
)

func init() {
	var err error

	erc20ReadABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}

	erc1155ReadABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "id", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc1155 abi parse: " + err.Error())
	}
}

// Reader implements ports.ChainReader against a Polygon RPC node.
type Reader struct {
	client  *ethclient.Client
	account common.Address // funder: the wallet whose funds settle orders
}

// NewReader dials the RPC endpoint. accountHex is the funder address.
func NewReader(rpcURL, accountHex string) (*Reader, error) {
	if !common.IsHexAddress(accountHex) {
		return nil, fmt.Errorf("onchain: invalid account address %q", accountHex)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}

	return &Reader{
		client:  client,
		account: common.HexToAddress(accountHex),
	}, nil
}

// Close releases the RPC connection.
func (r *Reader) Close() {
	r.client.Close()
}

// CollateralBalance returns the funder's USDC.e balance in USDC.
func (r *Reader) CollateralBalance(ctx context.Context) (float64, error) {
	callData, err := erc20ReadABI.Pack("balanceOf", r.account)
	if err != nil {
		return 0, fmt.Errorf("onchain: pack balanceOf: %w", err)
	}

	raw, err := r.call(ctx, usdcEAddress, callData)
	if err != nil {
		return 0, fmt.Errorf("onchain: collateral balance: %w", err)
	}

	vals, err := erc20ReadABI.Unpack("balanceOf", raw)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("onchain: unpack balanceOf: %w", err)
	}
	return microToUSDC(vals[0].(*big.Int)), nil
}

// CollateralAllowance returns the USDC.e allowance granted to the exchange.
func (r *Reader) CollateralAllowance(ctx context.Context) (float64, error) {
	callData, err := erc20ReadABI.Pack("allowance", r.account, common.HexToAddress(exchangeAddress))
	if err != nil {
		return 0, fmt.Errorf("onchain: pack allowance: %w", err)
	}

	raw, err := r.call(ctx, usdcEAddress, callData)
	if err != nil {
		return 0, fmt.Errorf("onchain: collateral allowance: %w", err)
	}

	vals, err := erc20ReadABI.Unpack("allowance", raw)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("onchain: unpack allowance: %w", err)
	}
	return microToUSDC(vals[0].(*big.Int)), nil
}

// OutcomeBalance returns the ERC1155 share count for a token, in shares.
// tokenID is the decimal token id string from the CLOB.
func (r *Reader) OutcomeBalance(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("onchain: invalid token id %q", tokenID)
	}

	callData, err := erc1155ReadABI.Pack("balanceOf", r.account, id)
	if err != nil {
		return 0, fmt.Errorf("onchain: pack erc1155 balanceOf: %w", err)
	}

	raw, err := r.call(ctx, ctfAddress, callData)
	if err != nil {
		return 0, fmt.Errorf("onchain: outcome balance: %w", err)
	}

	vals, err := erc1155ReadABI.Unpack("balanceOf", raw)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("onchain: unpack erc1155 balanceOf: %w", err)
	}
	return microToUSDC(vals[0].(*big.Int)), nil
}

// IsApprovedForAll reports whether the exchange may move the funder's
// conditional tokens.
func (r *Reader) IsApprovedForAll(ctx context.Context) (bool, error) {
	callData, err := erc1155ReadABI.Pack("isApprovedForAll", r.account, common.HexToAddress(exchangeAddress))
	if err != nil {
		return false, fmt.Errorf("onchain: pack isApprovedForAll: %w", err)
	}

	raw, err := r.call(ctx, ctfAddress, callData)
	if err != nil {
		return false, fmt.Errorf("onchain: isApprovedForAll: %w", err)
	}

	vals, err := erc1155ReadABI.Unpack("isApprovedForAll", raw)
	if err != nil || len(vals) == 0 {
		return false, fmt.Errorf("onchain: unpack isApprovedForAll: %w", err)
	}
	return vals[0].(bool), nil
}

func (r *Reader) call(ctx context.Context, contractHex string, callData []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	contract := common.HexToAddress(contractHex)
	return r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: callData,
	}, nil)
}

// microToUSDC converts a 6-decimal on-chain amount to a float. Shares use
// the same 1e6 scale as USDC.e.
func microToUSDC(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, big.NewFloat(1e6))
	out, _ := f.Float64()
	return out
}
