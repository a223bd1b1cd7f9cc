package models

type IssueKind string

const (
	IssueNotFound         IssueKind = "NOT_FOUND"
	IssueInactive         IssueKind = "INACTIVE"
	IssueOutOfStock       IssueKind = "OUT_OF_STOCK"
	IssueQuantityAdjusted IssueKind = "QUANTITY_ADJUSTED"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Issue reports one line that reconciliation dropped or changed.
type Issue struct {
	Kind             IssueKind `json:"kind"`
	LineID           string    `json:"lineId"`
	ProductID        string    `json:"productId"`
	ProductName      string    `json:"productName"`
	Message          string    `json:"message"`
	Severity         Severity  `json:"severity"`
	PreviousQuantity *int      `json:"previousQuantity,omitempty"`
	AdjustedQuantity *int      `json:"adjustedQuantity,omitempty"`
}

type ValidationResult struct {
	AcceptedLines []CartLine `json:"acceptedLines"`
	Issues        []Issue    `json:"issues"`
	CanCheckout   bool       `json:"canCheckout"`
}

func (r ValidationResult) Errors() []Issue {
	return r.filter(SeverityError)
}

func (r ValidationResult) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r ValidationResult) filter(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}
