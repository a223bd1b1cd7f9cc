package models

import (
	"github.com/shopspring/decimal"
)

// DefaultWholesaleMinBoxes is the box threshold used when a product does not
// carry its own wholesale minimum.
const DefaultWholesaleMinBoxes = 50

// ProductSnapshot is the pricing and stock state of a product at the moment it
// was read from the catalog. A snapshot captured into a cart line is never
// mutated afterwards; reconciliation replaces it wholesale.
type ProductSnapshot struct {
	ProductID         string              `json:"productId"`
	Name              string              `json:"name"`
	UnitPrice         decimal.Decimal     `json:"unitPrice"`
	BoxPrice          decimal.NullDecimal `json:"boxPrice"`
	ItemsPerBox       int                 `json:"itemsPerBox"`
	WholesaleBoxPrice decimal.NullDecimal `json:"wholesaleBoxPrice"`
	WholesaleMinBoxes *int                `json:"wholesaleMinBoxes,omitempty"`
	StockBoxes        int                 `json:"stockBoxes"`
	IsActive          bool                `json:"isActive"`
}

// EffectiveItemsPerBox never returns less than one.
func (p ProductSnapshot) EffectiveItemsPerBox() int {
	if p.ItemsPerBox < 1 {
		return 1
	}
	return p.ItemsPerBox
}

// EffectiveWholesaleMinBoxes falls back to DefaultWholesaleMinBoxes when the
// product has no threshold of its own.
func (p ProductSnapshot) EffectiveWholesaleMinBoxes() int {
	if p.WholesaleMinBoxes == nil {
		return DefaultWholesaleMinBoxes
	}
	return *p.WholesaleMinBoxes
}

func (p ProductSnapshot) InStock() bool {
	return p.StockBoxes > 0 && p.IsActive
}

// Price builds a NullDecimal from a float, for fixtures and catalog decoding.
func Price(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

// IntPtr is a convenience for the optional wholesale threshold.
func IntPtr(v int) *int {
	return &v
}

// ProductPage is one page of the active catalog.
type ProductPage struct {
	Products   []ProductSnapshot `json:"products"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Total      int64             `json:"total"`
	TotalPages int               `json:"totalPages"`
}
