package asset

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/chain"
	"collateral-watch/internal/oracle"
)

// Token is the public read surface for one admitted token's economic wrapper.
// Capability dispatch between plain assets and collateral is an explicit
// query: IsCollateral plus AsCollateral, resolved once at admission time.
type Token interface {
	Symbol() string
	ERC20() common.Address
	ERC20Decimals() uint8
	Bal(ctx context.Context, account common.Address) (decimal.Decimal, error)
	MaxTradeVolume() decimal.Decimal
	IsCollateral() bool

	StrictPrice(ctx context.Context) (decimal.Decimal, error)
	Price(ctx context.Context, allowFallback bool) (bool, decimal.Decimal, error)

	RewardERC20() common.Address
	ClaimCalldata() (common.Address, []byte)
	ClaimRewards(ctx context.Context, delegate Delegate, holder common.Address) ([]RewardsClaimed, error)
}

// AsCollateral performs the checked capability conversion. Callers resolve
// this once when a token is admitted and cache the result.
func AsCollateral(t Token) (*Collateral, bool) {
	c, ok := t.(*Collateral)
	return c, ok
}

// Spec holds the immutable identity of an asset at admission time.
type Spec struct {
	Symbol         string
	ERC20          common.Address
	Decimals       uint8
	MaxTradeVolume decimal.Decimal
	Claim          *ClaimPlan
}

// Asset wraps one plain (non-collateral) token: identity, balance reads, a
// UoA/tok pricing adapter, and an optional reward claim plan. Identity fields
// never change after construction.
type Asset struct {
	symbol         string
	erc20          common.Address
	decimals       uint8
	maxTradeVolume decimal.Decimal
	price          *oracle.Adapter
	reader         *TokenReader
	caller         chain.Caller
	claim          *ClaimPlan
	logger         zerolog.Logger
}

// NewAsset constructs an asset wrapper. The configured decimals are checked
// against the token's own reported decimals; a mismatch rejects construction.
func NewAsset(ctx context.Context, spec Spec, price *oracle.Adapter, caller chain.Caller, logger zerolog.Logger) (*Asset, error) {
	if spec.Symbol == "" {
		return nil, fmt.Errorf("asset %s: symbol required", spec.ERC20.Hex())
	}

	reader := NewTokenReader(spec.ERC20, caller)
	onchain, err := reader.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("asset %s: read token decimals: %w", spec.Symbol, err)
	}
	if onchain != spec.Decimals {
		return nil, fmt.Errorf("asset %s: configured decimals %d do not match token decimals %d", spec.Symbol, spec.Decimals, onchain)
	}

	return &Asset{
		symbol:         spec.Symbol,
		erc20:          spec.ERC20,
		decimals:       spec.Decimals,
		maxTradeVolume: spec.MaxTradeVolume,
		price:          price,
		reader:         reader,
		caller:         caller,
		claim:          spec.Claim,
		logger:         logger.With().Str("component", "asset").Str("symbol", spec.Symbol).Logger(),
	}, nil
}

// Symbol reports the configured display symbol.
func (a *Asset) Symbol() string { return a.symbol }

// ERC20 reports the wrapped token's address.
func (a *Asset) ERC20() common.Address { return a.erc20 }

// ERC20Decimals reports the token's decimals, validated at construction.
func (a *Asset) ERC20Decimals() uint8 { return a.decimals }

// MaxTradeVolume reports the UoA-denominated trade cap.
func (a *Asset) MaxTradeVolume() decimal.Decimal { return a.maxTradeVolume }

// IsCollateral reports false for plain assets.
func (a *Asset) IsCollateral() bool { return false }

// Bal reads the account's balance in whole tokens.
func (a *Asset) Bal(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return a.reader.WholeBalanceOf(ctx, account, a.decimals)
}

// StrictPrice reads the precise UoA/tok price. Fails with
// oracle.ErrPriceUnavailable when the upstream feed cannot produce a value.
func (a *Asset) StrictPrice(ctx context.Context) (decimal.Decimal, error) {
	return a.price.StrictPrice(ctx)
}

// Price reads a usable UoA/tok price, degrading per the adapter's fallback
// protocol when allowFallback is set.
func (a *Asset) Price(ctx context.Context, allowFallback bool) (bool, decimal.Decimal, error) {
	return a.price.Price(ctx, allowFallback)
}

var _ Token = (*Asset)(nil)
