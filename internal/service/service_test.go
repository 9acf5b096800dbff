package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"collateral-watch/internal/asset"
	"collateral-watch/internal/config"
	"collateral-watch/internal/storage"
)

// fakeToken is a configurable plain-asset stand-in.
type fakeToken struct {
	symbol     string
	price      decimal.Decimal
	isFallback bool
	priceErr   error

	rewardToken common.Address
	claimed     []asset.RewardsClaimed
	claimErr    error
	claimCalls  int
}

func (f *fakeToken) Symbol() string                  { return f.symbol }
func (f *fakeToken) ERC20() common.Address           { return common.HexToAddress("0x01") }
func (f *fakeToken) ERC20Decimals() uint8            { return 18 }
func (f *fakeToken) MaxTradeVolume() decimal.Decimal { return decimal.New(1, 6) }
func (f *fakeToken) IsCollateral() bool              { return false }

func (f *fakeToken) Bal(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

func (f *fakeToken) StrictPrice(ctx context.Context) (decimal.Decimal, error) {
	if f.priceErr != nil {
		return decimal.Decimal{}, f.priceErr
	}
	return f.price, nil
}

func (f *fakeToken) Price(ctx context.Context, allowFallback bool) (bool, decimal.Decimal, error) {
	if f.priceErr != nil {
		return false, decimal.Decimal{}, f.priceErr
	}
	return f.isFallback, f.price, nil
}

func (f *fakeToken) RewardERC20() common.Address { return f.rewardToken }

func (f *fakeToken) ClaimCalldata() (common.Address, []byte) {
	if f.rewardToken == (common.Address{}) {
		return common.Address{}, nil
	}
	return common.HexToAddress("0x02"), []byte{0xde, 0xad, 0xbe, 0xef}
}

func (f *fakeToken) ClaimRewards(ctx context.Context, delegate asset.Delegate, holder common.Address) ([]asset.RewardsClaimed, error) {
	f.claimCalls++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimed, nil
}

var _ asset.Token = (*fakeToken)(nil)

type fakeSnapshotStore struct {
	upserted []storage.Snapshot
	err      error
}

func (s *fakeSnapshotStore) UpsertSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.upserted = append(s.upserted, snap)
	return nil
}

func (s *fakeSnapshotStore) ListSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.Snapshot, error) {
	return nil, nil
}

func (s *fakeSnapshotStore) ListRecentSnapshots(ctx context.Context, limit int) ([]storage.Snapshot, error) {
	return nil, nil
}

func (s *fakeSnapshotStore) CountSnapshots(ctx context.Context) (int64, error) {
	return int64(len(s.upserted)), nil
}

var _ storage.SnapshotStore = (*fakeSnapshotStore)(nil)

type fakeClaimStore struct {
	inserted []storage.RewardClaim
}

func (s *fakeClaimStore) InsertRewardClaim(ctx context.Context, claim storage.RewardClaim) (storage.RewardClaim, error) {
	claim.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, claim)
	return claim, nil
}

func (s *fakeClaimStore) ListRecentRewardClaims(ctx context.Context, limit int) ([]storage.RewardClaim, error) {
	return s.inserted, nil
}

var _ storage.RewardClaimStore = (*fakeClaimStore)(nil)

func testConfig() *config.Config {
	return &config.Config{}
}

func newTestMonitor(tokens []asset.Token, store storage.SnapshotStore) *Monitor {
	return New(testConfig(), nil, tokens, store, nil, nil, nil, nil, zerolog.Nop())
}

func TestProcessTickPersistsSnapshots(t *testing.T) {
	store := &fakeSnapshotStore{}
	good := &fakeToken{symbol: "COMP", price: decimal.RequireFromString("42.5")}
	degraded := &fakeToken{symbol: "AAVE", price: decimal.New(90, 0), isFallback: true}

	monitor := newTestMonitor([]asset.Token{good, degraded}, store)

	tick := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := monitor.ProcessTick(context.Background(), tick); err != nil {
		t.Fatalf("process tick: %v", err)
	}

	if len(store.upserted) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(store.upserted))
	}

	first := store.upserted[0]
	if first.Symbol != "COMP" || !first.Tick.Equal(tick) {
		t.Fatalf("unexpected snapshot identity %+v", first)
	}
	if first.Status != "ASSET" {
		t.Fatalf("plain asset snapshot should carry ASSET status, got %s", first.Status)
	}
	if !first.Price.Equal(decimal.RequireFromString("42.5")) || first.PriceFallback {
		t.Fatalf("unexpected price fields %+v", first)
	}

	second := store.upserted[1]
	if !second.PriceFallback {
		t.Fatal("fallback price should be flagged in the snapshot")
	}
}

func TestProcessTickRecordsPriceFailure(t *testing.T) {
	store := &fakeSnapshotStore{}
	broken := &fakeToken{symbol: "COMP", priceErr: errors.New("no usable price")}

	monitor := newTestMonitor([]asset.Token{broken}, store)

	if err := monitor.ProcessTick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("a failing asset must not abort the tick: %v", err)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("snapshot should persist even without a price, got %d", len(store.upserted))
	}
	snap := store.upserted[0]
	if snap.Error == nil || *snap.Error != "no usable price" {
		t.Fatalf("expected recorded price error, got %+v", snap.Error)
	}
}

func TestClaimAllSkipsRewardlessAndAggregates(t *testing.T) {
	rewardToken := common.HexToAddress("0x99")
	rewardless := &fakeToken{symbol: "PLAIN"}
	rewarding := &fakeToken{
		symbol:      "COMP",
		rewardToken: rewardToken,
		claimed:     []asset.RewardsClaimed{{Token: rewardToken, Amount: decimal.New(3, 0)}},
	}
	failing := &fakeToken{symbol: "CRV", rewardToken: rewardToken, claimErr: asset.ErrClaimDelegation}

	monitor := newTestMonitor([]asset.Token{rewardless, rewarding, failing}, nil)

	claims := &fakeClaimStore{}
	results, err := monitor.ClaimAll(context.Background(), nil, common.HexToAddress("0x77"), claims)
	if !errors.Is(err, asset.ErrClaimDelegation) {
		t.Fatalf("expected first claim failure surfaced, got %v", err)
	}

	if rewardless.claimCalls != 0 {
		t.Fatal("tokens without a reward plan should not be claimed")
	}
	if got := results["COMP"]; len(got) != 1 || !got[0].Amount.Equal(decimal.New(3, 0)) {
		t.Fatalf("unexpected COMP results %v", got)
	}
	if _, present := results["CRV"]; present {
		t.Fatal("failed claim should not report results")
	}
	if len(claims.inserted) != 1 || claims.inserted[0].Symbol != "COMP" {
		t.Fatalf("expected one persisted claim for COMP, got %v", claims.inserted)
	}
}
