package svm

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/constants"
)

// Split is the lamport breakdown of a marketplace purchase
type Split struct {
	Total    uint64
	Seller   uint64
	Platform uint64
}

// SOLToLamports converts a decimal SOL amount using floating point math, flooring the result
func SOLToLamports(amount string) (uint64, error) {
	sol, err := parseSOL(amount)
	if err != nil {
		return 0, err
	}
	lamports := math.Floor(sol * constants.LamportsPerSOL)
	if lamports < 1 {
		return 0, fmt.Errorf("%w: %s SOL is less than one lamport", chains.ErrInvalidAmount, amount)
	}
	return uint64(lamports), nil
}

// SplitPayment divides price between seller and platform.
// feePercent is a fraction in [0, 1); the two shares never sum to more than the floored total.
func SplitPayment(price string, feePercent float64) (Split, error) {
	if math.IsNaN(feePercent) || feePercent < 0 || feePercent >= 1 {
		return Split{}, fmt.Errorf("%w: fee percent %v must be in [0, 1)", chains.ErrInvalidAmount, feePercent)
	}
	sol, err := parseSOL(price)
	if err != nil {
		return Split{}, err
	}

	s := Split{
		Total:    uint64(math.Floor(sol * constants.LamportsPerSOL)),
		Seller:   uint64(math.Floor(sol * (1 - feePercent) * constants.LamportsPerSOL)),
		Platform: uint64(math.Floor(sol * feePercent * constants.LamportsPerSOL)),
	}
	if s.Seller > s.Total {
		s.Seller = s.Total
	}
	if s.Seller+s.Platform > s.Total {
		s.Platform = s.Total - s.Seller
	}
	if s.Seller == 0 {
		return Split{}, fmt.Errorf("%w: price %s leaves nothing for the seller", chains.ErrInvalidAmount, price)
	}
	return s, nil
}

func parseSOL(amount string) (float64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", chains.ErrInvalidAmount, amount, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", chains.ErrInvalidAmount, amount)
	}
	f, _ := d.Float64()
	return f, nil
}
