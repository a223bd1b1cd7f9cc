package pricing

import (
	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

// ApplyLine re-derives the line amount and savings under tier.
func ApplyLine(line models.CartLine, tier models.ClientTier) models.CartLine {
	line.Amount = Price(line.QuantityBoxes, line.PriceSnapshot, tier)
	line.Savings = Savings(line.QuantityBoxes, line.PriceSnapshot, tier)
	return line
}

// Recompute rebuilds every derived field of cart from its lines and tier.
// Nothing is carried over from the previous aggregates.
func Recompute(cart *models.Cart) {
	cart.ClientTier = cart.ClientTier.Normalize()
	cart.TotalBoxes = 0
	cart.TotalItems = 0
	cart.TotalAmount = decimal.Zero
	cart.TotalSavings = decimal.Zero

	for i := range cart.Lines {
		line := ApplyLine(cart.Lines[i], cart.ClientTier)
		cart.Lines[i] = line

		cart.TotalBoxes += line.QuantityBoxes
		cart.TotalItems += line.QuantityBoxes * line.PriceSnapshot.EffectiveItemsPerBox()
		cart.TotalAmount = cart.TotalAmount.Add(line.Amount)
		cart.TotalSavings = cart.TotalSavings.Add(line.Savings)
	}

	cart.LineCount = len(cart.Lines)
}
