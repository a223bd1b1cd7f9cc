// Package pricing turns box quantities and product pricing snapshots into
// amounts and savings. Every function is total: missing or malformed snapshot
// fields fall back to documented defaults and never fail.
//
// Defaulting rules:
//   - itemsPerBox below 1 reads as 1
//   - boxPrice absent reads as unitPrice x itemsPerBox
//   - wholesaleMinBoxes absent reads as 50
//   - negative prices read as 0
//   - a quantity of 0 or less prices as 0
package pricing

import (
	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

// BoxPrice is the retail price of one box.
func BoxPrice(s models.ProductSnapshot) decimal.Decimal {
	if s.BoxPrice.Valid {
		return nonNegative(s.BoxPrice.Decimal)
	}
	return nonNegative(s.UnitPrice).Mul(decimal.NewFromInt(int64(s.EffectiveItemsPerBox())))
}

// WholesaleApplies reports whether the wholesale box price is in effect for
// this quantity and tier.
func WholesaleApplies(quantityBoxes int, s models.ProductSnapshot, tier models.ClientTier) bool {
	return tier.Normalize() == models.TierWholesale &&
		quantityBoxes > 0 &&
		quantityBoxes >= s.EffectiveWholesaleMinBoxes() &&
		s.WholesaleBoxPrice.Valid
}

// UnitBoxPrice is the per-box price actually charged.
func UnitBoxPrice(quantityBoxes int, s models.ProductSnapshot, tier models.ClientTier) decimal.Decimal {
	if WholesaleApplies(quantityBoxes, s, tier) {
		return nonNegative(s.WholesaleBoxPrice.Decimal)
	}
	return BoxPrice(s)
}

func Price(quantityBoxes int, s models.ProductSnapshot, tier models.ClientTier) decimal.Decimal {
	if quantityBoxes <= 0 {
		return decimal.Zero
	}
	return UnitBoxPrice(quantityBoxes, s, tier).Mul(decimal.NewFromInt(int64(quantityBoxes)))
}

func Savings(quantityBoxes int, s models.ProductSnapshot, tier models.ClientTier) decimal.Decimal {
	if !WholesaleApplies(quantityBoxes, s, tier) {
		return decimal.Zero
	}
	perBox := BoxPrice(s).Sub(nonNegative(s.WholesaleBoxPrice.Decimal))
	if perBox.IsNegative() {
		return decimal.Zero
	}
	return perBox.Mul(decimal.NewFromInt(int64(quantityBoxes)))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
