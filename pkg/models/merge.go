package models

import "time"

// MergeItem is what the server receives per guest line. Price snapshots are
// deliberately absent: after merge the server prices the cart.
type MergeItem struct {
	ProductID     string `json:"productId"`
	QuantityBoxes int    `json:"quantityBoxes"`
}

type MergeRequest struct {
	Items      []MergeItem `json:"items"`
	MergeToken string      `json:"mergeToken,omitempty"`
}

// MergeStats are the adjustment counters the server reports for a merge.
type MergeStats struct {
	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Adjusted int `json:"adjusted"`
	Skipped  int `json:"skipped"`
}

type MergeResult struct {
	Cart  *Cart       `json:"cart,omitempty"`
	Stats *MergeStats `json:"stats,omitempty"`
}

// MergeOutcome is what the coordinator hands back to the session layer.
// MergedCount is every item submitted by this call; ResubmittedCount is the
// part of it re-sent under an earlier token, which the server may already
// have applied.
type MergeOutcome struct {
	MergedCount      int         `json:"mergedCount"`
	ResubmittedCount int         `json:"resubmittedCount"`
	Stats            *MergeStats `json:"stats,omitempty"`
	Cart             *Cart       `json:"cart,omitempty"`
	Resumed          bool        `json:"resumed"`
}

// MergeBatch is one submission: the items exactly as sent and their token.
type MergeBatch struct {
	Token string      `json:"token"`
	Items []MergeItem `json:"items"`
}

// MergeMarker is persisted while a merge has been sent but the guest cart has
// not yet been cleared. Batches are in submission order.
type MergeMarker struct {
	Batches   []MergeBatch `json:"batches"`
	StartedAt time.Time    `json:"startedAt"`
}

// Submitted sums the quantities of every batch per product.
func (m MergeMarker) Submitted() map[string]int {
	out := map[string]int{}
	for _, batch := range m.Batches {
		for _, item := range batch.Items {
			out[item.ProductID] += item.QuantityBoxes
		}
	}
	return out
}

type AddResult struct {
	Cart     *Cart  `json:"cart"`
	LineID   string `json:"lineId"`
	Inserted bool   `json:"inserted"`
}
