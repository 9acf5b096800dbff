package asset

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/chain"
)

const erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// TokenReader performs read-only ERC-20 calls against one token contract.
type TokenReader struct {
	token  common.Address
	caller chain.Caller
}

// NewTokenReader wires a token address to an RPC caller.
func NewTokenReader(token common.Address, caller chain.Caller) *TokenReader {
	return &TokenReader{token: token, caller: caller}
}

// Decimals reads the token's reported decimals.
func (r *TokenReader) Decimals(ctx context.Context) (uint8, error) {
	payload, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := r.caller.Call(ctx, r.token, payload)
	if err != nil {
		return 0, err
	}

	outputs, err := erc20ABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	dec, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return dec, nil
}

// BalanceOf reads the raw atomic balance for an account.
func (r *TokenReader) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	payload, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}

	res, err := r.caller.Call(ctx, r.token, payload)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected balanceOf response")
	}

	bal, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode balanceOf output")
	}
	return bal, nil
}

// WholeBalanceOf reads the balance scaled to whole tokens.
func (r *TokenReader) WholeBalanceOf(ctx context.Context, account common.Address, decimals uint8) (decimal.Decimal, error) {
	raw, err := r.BalanceOf(ctx, account)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)), nil
}
