package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/chain"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// Reading is a single observation from an upstream feed.
type Reading struct {
	Value     decimal.Decimal
	UpdatedAt time.Time
}

// Feed supplies raw price observations for one token pair.
type Feed interface {
	Read(ctx context.Context) (Reading, error)
}

// ChainlinkFeed reads a Chainlink-style aggregator contract. The feed's own
// decimals are fetched once and cached for the feed's lifetime.
type ChainlinkFeed struct {
	address common.Address
	caller  chain.Caller
	logger  zerolog.Logger

	decMux   sync.Mutex
	decimals int32
	haveDec  bool
}

// NewChainlinkFeed wires an aggregator address to an RPC caller.
func NewChainlinkFeed(address common.Address, caller chain.Caller, logger zerolog.Logger) *ChainlinkFeed {
	return &ChainlinkFeed{
		address: address,
		caller:  caller,
		logger:  logger.With().Str("component", "chainlink_feed").Str("feed", address.Hex()).Logger(),
	}
}

// Read fetches latestRoundData and scales the answer by the feed decimals.
// A negative answer is treated as a feed fault; zero is passed through as a
// legitimate observation.
func (f *ChainlinkFeed) Read(ctx context.Context) (Reading, error) {
	dec, err := f.feedDecimals(ctx)
	if err != nil {
		return Reading{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Reading{}, err
	}

	res, err := f.caller.Call(ctx, f.address, payload)
	if err != nil {
		return Reading{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Reading{}, err
	}
	if len(outputs) != 5 {
		return Reading{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Reading{}, errors.New("failed to decode feed answer")
	}
	if answer.Sign() < 0 {
		return Reading{}, fmt.Errorf("feed %s reported negative answer", f.address.Hex())
	}

	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Reading{}, errors.New("failed to decode feed timestamp")
	}

	return Reading{
		Value:     decimal.NewFromBigInt(answer, -dec),
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context) (int32, error) {
	f.decMux.Lock()
	defer f.decMux.Unlock()

	if f.haveDec {
		return f.decimals, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := f.caller.Call(ctx, f.address, payload)
	if err != nil {
		return 0, err
	}

	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	dec, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode feed decimals")
	}

	f.decimals = int32(dec)
	f.haveDec = true
	return f.decimals, nil
}

var _ Feed = (*ChainlinkFeed)(nil)
