// Package reconcile checks cart lines against fresh catalog state before
// checkout. It performs no I/O: the caller fetches the catalog truth.
package reconcile

import (
	"fmt"

	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/pricing"
)

// Validate walks cart lines in order. Unknown, inactive and out of stock
// products are dropped with an ERROR issue; quantities above stock are clamped
// with a WARNING. Every kept line carries the snapshot from truth and is
// re-priced under the cart's tier.
func Validate(cart *models.Cart, truth map[string]models.ProductSnapshot) models.ValidationResult {
	result := models.ValidationResult{
		AcceptedLines: []models.CartLine{},
		Issues:        []models.Issue{},
	}
	if cart == nil {
		result.CanCheckout = true
		return result
	}
	tier := cart.ClientTier.Normalize()

	for _, line := range cart.Lines {
		product, found := truth[line.ProductID]

		switch {
		case !found:
			result.Issues = append(result.Issues, rejection(line, models.IssueNotFound, displayName(line, product),
				"is no longer available"))
			continue
		case !product.IsActive:
			result.Issues = append(result.Issues, rejection(line, models.IssueInactive, displayName(line, product),
				"has been discontinued"))
			continue
		case product.StockBoxes <= 0:
			result.Issues = append(result.Issues, rejection(line, models.IssueOutOfStock, displayName(line, product),
				"is out of stock"))
			continue
		}

		kept := line
		kept.PriceSnapshot = product
		if line.QuantityBoxes > product.StockBoxes {
			previous, adjusted := line.QuantityBoxes, product.StockBoxes
			kept.QuantityBoxes = adjusted
			result.Issues = append(result.Issues, models.Issue{
				Kind:             models.IssueQuantityAdjusted,
				LineID:           line.ID,
				ProductID:        line.ProductID,
				ProductName:      displayName(line, product),
				Message:          fmt.Sprintf("%s: only %d boxes in stock, quantity reduced from %d", displayName(line, product), adjusted, previous),
				Severity:         models.SeverityWarning,
				PreviousQuantity: &previous,
				AdjustedQuantity: &adjusted,
			})
		}
		result.AcceptedLines = append(result.AcceptedLines, pricing.ApplyLine(kept, tier))
	}

	result.CanCheckout = !hasErrors(result.Issues)
	return result
}

// Changed reports whether applying the result alters the cart's lines.
func Changed(cart *models.Cart, result models.ValidationResult) bool {
	if cart == nil {
		return false
	}
	if len(result.Issues) > 0 {
		return true
	}
	for i := range result.AcceptedLines {
		if !sameSnapshot(cart.Lines[i].PriceSnapshot, result.AcceptedLines[i].PriceSnapshot) {
			return true
		}
	}
	return false
}

func rejection(line models.CartLine, kind models.IssueKind, name, reason string) models.Issue {
	return models.Issue{
		Kind:        kind,
		LineID:      line.ID,
		ProductID:   line.ProductID,
		ProductName: name,
		Message:     fmt.Sprintf("%s %s and was removed from the cart", name, reason),
		Severity:    models.SeverityError,
	}
}

func displayName(line models.CartLine, product models.ProductSnapshot) string {
	if product.Name != "" {
		return product.Name
	}
	if line.PriceSnapshot.Name != "" {
		return line.PriceSnapshot.Name
	}
	return line.ProductID
}

func hasErrors(issues []models.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

func sameSnapshot(a, b models.ProductSnapshot) bool {
	return a.ProductID == b.ProductID &&
		a.UnitPrice.Equal(b.UnitPrice) &&
		a.BoxPrice.Valid == b.BoxPrice.Valid && a.BoxPrice.Decimal.Equal(b.BoxPrice.Decimal) &&
		a.WholesaleBoxPrice.Valid == b.WholesaleBoxPrice.Valid && a.WholesaleBoxPrice.Decimal.Equal(b.WholesaleBoxPrice.Decimal) &&
		a.EffectiveItemsPerBox() == b.EffectiveItemsPerBox() &&
		a.EffectiveWholesaleMinBoxes() == b.EffectiveWholesaleMinBoxes() &&
		a.StockBoxes == b.StockBoxes &&
		a.IsActive == b.IsActive &&
		a.Name == b.Name
}
