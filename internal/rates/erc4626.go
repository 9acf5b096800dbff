package rates

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/chain"
)

const erc4626ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc4626ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// RefPerTokSource reads the redemption rate between a wrapper token and its
// reference unit.
type RefPerTokSource interface {
	RefPerTok(ctx context.Context) (decimal.Decimal, error)
}

// ERC4626Source derives refPerTok from an ERC-4626 vault by asking how many
// reference assets one whole share redeems into.
type ERC4626Source struct {
	vault  common.Address
	caller chain.Caller
	logger zerolog.Logger
}

// NewERC4626Source wires a vault address to an RPC caller.
func NewERC4626Source(vault common.Address, caller chain.Caller, logger zerolog.Logger) *ERC4626Source {
	return &ERC4626Source{
		vault:  vault,
		caller: caller,
		logger: logger.With().Str("component", "erc4626_source").Str("vault", vault.Hex()).Logger(),
	}
}

// RefPerTok calls convertToAssets(1e18) and scales the result to a ratio.
func (s *ERC4626Source) RefPerTok(ctx context.Context) (decimal.Decimal, error) {
	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	payload, err := erc4626ABI.Pack("convertToAssets", oneShare)
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := s.caller.Call(ctx, s.vault, payload)
	if err != nil {
		return decimal.Decimal{}, err
	}

	outputs, err := erc4626ABI.Unpack("convertToAssets", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, errors.New("unexpected convertToAssets response")
	}

	assets, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode convertToAssets output")
	}

	return decimal.NewFromBigInt(assets, -18), nil
}

// ConstantSource reports a fixed refPerTok, used for collateral whose token
// is its own reference unit.
type ConstantSource struct {
	Value decimal.Decimal
}

// RefPerTok reports the constant ratio.
func (s ConstantSource) RefPerTok(ctx context.Context) (decimal.Decimal, error) {
	return s.Value, nil
}

var (
	_ RefPerTokSource = (*ERC4626Source)(nil)
	_ RefPerTokSource = ConstantSource{}
)
