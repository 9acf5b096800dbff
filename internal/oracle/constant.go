package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ConstantFeed always reports the same value with a fresh timestamp. It backs
// links for which no upstream feed exists, such as a target unit that is the
// unit of account itself.
type ConstantFeed struct {
	Value decimal.Decimal
}

// Read reports the constant value as a fresh observation.
func (f ConstantFeed) Read(ctx context.Context) (Reading, error) {
	return Reading{Value: f.Value, UpdatedAt: time.Now().UTC()}, nil
}

var _ Feed = ConstantFeed{}
