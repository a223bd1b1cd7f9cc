package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ClientTier string

const (
	TierRetail    ClientTier = "RETAIL"
	TierWholesale ClientTier = "WHOLESALE"
)

// Normalize maps the zero value to TierRetail.
func (t ClientTier) Normalize() ClientTier {
	if t == "" {
		return TierRetail
	}
	return t
}

func ParseClientTier(s string) (ClientTier, error) {
	switch ClientTier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierRetail, "":
		return TierRetail, nil
	case TierWholesale:
		return TierWholesale, nil
	default:
		return "", NewCartError(KindInvalidArgument, "parse tier", fmt.Errorf("unknown client tier %q", s))
	}
}

// CartLine is one product in a cart. Amount and Savings are derived from
// QuantityBoxes, PriceSnapshot and the cart tier and are rewritten by every
// recompute.
type CartLine struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"productId"`
	QuantityBoxes int             `json:"quantityBoxes"`
	PriceSnapshot ProductSnapshot `json:"priceSnapshot"`
	AddedAt       time.Time       `json:"addedAt"`
	Amount        decimal.Decimal `json:"amount"`
	Savings       decimal.Decimal `json:"savings"`
}

type Cart struct {
	Lines        []CartLine      `json:"lines"`
	ClientTier   ClientTier      `json:"clientTier"`
	TotalBoxes   int             `json:"totalBoxes"`
	TotalItems   int             `json:"totalItems"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	TotalSavings decimal.Decimal `json:"totalSavings"`
	LineCount    int             `json:"lineCount"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func EmptyCart() *Cart {
	return &Cart{
		Lines:      []CartLine{},
		ClientTier: TierRetail,
	}
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

func (c *Cart) LineByID(lineID string) (int, bool) {
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) LineByProduct(productID string) (int, bool) {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

func (c *Cart) ProductIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

// Clone copies the line slice so callers cannot mutate the stored cart.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Lines = append([]CartLine(nil), c.Lines...)
	return &out
}

// PersistedCart is the on-device record of the guest cart. Aggregates are not
// part of it; they are rebuilt from Lines and ClientTier on every load.
type PersistedCart struct {
	Lines      []CartLine `json:"lines"`
	ClientTier ClientTier `json:"clientTier"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (c *Cart) ToPersisted() PersistedCart {
	return PersistedCart{
		Lines:      append([]CartLine(nil), c.Lines...),
		ClientTier: c.ClientTier.Normalize(),
		UpdatedAt:  c.UpdatedAt,
	}
}

// FromPersisted returns a cart with empty aggregates; callers recompute.
func (p PersistedCart) FromPersisted() *Cart {
	lines := p.Lines
	if lines == nil {
		lines = []CartLine{}
	}
	return &Cart{
		Lines:      append([]CartLine(nil), lines...),
		ClientTier: p.ClientTier.Normalize(),
		UpdatedAt:  p.UpdatedAt,
	}
}

type AddToCartRequest struct {
	ProductID     string `json:"productId" binding:"required"`
	QuantityBoxes int    `json:"quantityBoxes" binding:"required,min=1"`
}

type UpdateCartLineRequest struct {
	QuantityBoxes *int `json:"quantityBoxes" binding:"required"`
}

type SetTierRequest struct {
	Tier string `json:"tier" binding:"required,oneof=RETAIL WHOLESALE retail wholesale"`
}
