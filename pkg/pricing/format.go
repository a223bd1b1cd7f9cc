package pricing

import "fmt"

// FormatQuantity renders a box count with its item count, for display only.
// Products sold by the single item collapse to a plain item count.
func FormatQuantity(quantityBoxes, itemsPerBox int) string {
	if itemsPerBox < 1 {
		itemsPerBox = 1
	}
	items := quantityBoxes * itemsPerBox
	if itemsPerBox == 1 {
		return plural(items, "item", "items")
	}
	return fmt.Sprintf("%s (%s)", plural(quantityBoxes, "box", "boxes"), plural(items, "item", "items"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
