package coupon

import (
	"context"
	"errors"
)

var ErrInvalidCoupon = errors.New("invalid coupon code")

// Engine computes the discount (minor currency units) a coupon code grants
// against a subtotal. The real engine lives in the promotions service; this
// package only defines the seam and a fixed-rate stand-in.
type Engine interface {
	Discount(ctx context.Context, code string, subtotal int64) (int64, error)
}

// FixedPercent grants a flat percentage off to any non-empty code.
// Rate is in basis points (1000 = 10%). Fractions round half up.
type FixedPercent struct {
	RateBP int64
}

func NewFixedPercent(rateBP int64) *FixedPercent {
	return &FixedPercent{RateBP: rateBP}
}

func (e *FixedPercent) Discount(ctx context.Context, code string, subtotal int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	return (subtotal*e.RateBP + 5000) / 10000, nil
}
