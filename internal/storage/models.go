package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot represents one asset's state as of one refresh tick.
type Snapshot struct {
	Tick           time.Time
	Symbol         string
	Status         string
	RefPerTok      decimal.Decimal
	TargetPerRef   decimal.Decimal
	PricePerTarget decimal.Decimal
	Price          decimal.Decimal
	PriceFallback  bool
	BlockNumber    *int64
	Error          *string
	CreatedAt      time.Time
}

// StatusEvent captures a collateral status transition for auditing.
type StatusEvent struct {
	ID         int64
	Symbol     string
	FromStatus string
	ToStatus   string
	Reason     string
	OccurredAt time.Time
	CreatedAt  time.Time
}

// RewardClaim records one RewardsClaimed emission.
type RewardClaim struct {
	ID        int64
	Symbol    string
	Token     string
	Amount    decimal.Decimal
	ClaimedAt time.Time
	CreatedAt time.Time
}
