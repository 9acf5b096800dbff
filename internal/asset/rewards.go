package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/chain"
)

// ErrClaimDelegation indicates the reward-claim target rejected or could not
// execute the delegated call. No claim state changes on this error.
var ErrClaimDelegation = errors.New("asset: reward claim delegation failed")

// Delegate executes a described claim call under the caller's own authority.
// The holder's identity must be preserved because rewards accrue to the
// holder, not to an intermediary.
type Delegate interface {
	Execute(ctx context.Context, target common.Address, payload []byte) error
}

// CallDelegate executes claim payloads as read-only calls through an RPC
// caller. It validates target reachability without spending gas; a signing
// delegate slots in behind the same interface when the operator holds keys.
type CallDelegate struct {
	Caller chain.Caller
}

// Execute performs the claim call via eth_call.
func (d CallDelegate) Execute(ctx context.Context, target common.Address, payload []byte) error {
	_, err := d.Caller.Call(ctx, target, payload)
	return err
}

// RewardsClaimed records one reward token actually claimed, for accounting.
type RewardsClaimed struct {
	Token  common.Address
	Amount decimal.Decimal
}

// ClaimPlan describes how to claim the rewards a token accrues: the target
// contract and the exact payload. It is a pure descriptor; it never executes
// the call itself. The payload is fixed at admission time so a compromised
// config cannot later redirect the delegated call.
type ClaimPlan struct {
	rewardToken common.Address
	target      common.Address
	payload     []byte
}

// NewClaimPlan packs the claim calldata for a method signature such as
// "claimComp(address)" or "getReward()". When holder is non-nil it is packed
// as the single address argument.
func NewClaimPlan(rewardToken, target common.Address, signature string, holder *common.Address) (*ClaimPlan, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, errors.New("claim plan: method signature required")
	}

	payload := crypto.Keccak256([]byte(signature))[:4]

	if holder != nil {
		addressType, err := abi.NewType("address", "", nil)
		if err != nil {
			return nil, fmt.Errorf("claim plan: %w", err)
		}
		args, err := abi.Arguments{{Type: addressType}}.Pack(*holder)
		if err != nil {
			return nil, fmt.Errorf("claim plan: pack holder: %w", err)
		}
		payload = append(payload, args...)
	}

	return &ClaimPlan{rewardToken: rewardToken, target: target, payload: payload}, nil
}

// RewardERC20 reports the token rewards are paid in, or the zero address if
// the asset pays none.
func (a *Asset) RewardERC20() common.Address {
	if a.claim == nil {
		return common.Address{}
	}
	return a.claim.rewardToken
}

// ClaimCalldata returns the target and payload needed to claim accrued
// rewards, or zero values if no rewards exist for this asset.
func (a *Asset) ClaimCalldata() (common.Address, []byte) {
	if a.claim == nil {
		return common.Address{}, nil
	}
	return a.claim.target, a.claim.payload
}

// ClaimRewards executes the claim plan through the supplied delegate and
// reports one RewardsClaimed record per reward token whose holder balance
// actually grew. Assets without a plan claim nothing and emit nothing. A
// delegation failure surfaces as ErrClaimDelegation with no records.
func (a *Asset) ClaimRewards(ctx context.Context, delegate Delegate, holder common.Address) ([]RewardsClaimed, error) {
	if a.claim == nil {
		return nil, nil
	}
	if delegate == nil {
		return nil, fmt.Errorf("%w: no delegate supplied", ErrClaimDelegation)
	}

	rewardReader := NewTokenReader(a.claim.rewardToken, a.caller)
	rewardDecimals, err := rewardReader.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read reward token decimals: %w", err)
	}

	before, err := rewardReader.WholeBalanceOf(ctx, holder, rewardDecimals)
	if err != nil {
		return nil, fmt.Errorf("read pre-claim balance: %w", err)
	}

	if err := delegate.Execute(ctx, a.claim.target, a.claim.payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClaimDelegation, err)
	}

	after, err := rewardReader.WholeBalanceOf(ctx, holder, rewardDecimals)
	if err != nil {
		return nil, fmt.Errorf("read post-claim balance: %w", err)
	}

	claimed := after.Sub(before)
	if !claimed.IsPositive() {
		return nil, nil
	}

	a.logger.Info().
		Str("reward_token", a.claim.rewardToken.Hex()).
		Str("amount", claimed.String()).
		Msg("rewards claimed")

	return []RewardsClaimed{{Token: a.claim.rewardToken, Amount: claimed}}, nil
}
