// Package variance compares supplier submitted prices against the ordered
// prices. Positive variance means the supplier charged more than ordered.
package variance

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptySKU      = errors.New("empty_sku")
	ErrDuplicateSKU  = errors.New("duplicate_sku")
	ErrNegativeValue = errors.New("negative_value")
	ErrValueTooLarge = errors.New("value_too_large")
)

var hundred = decimal.NewFromInt(100)

// Result is the variance between two totals in minor units. Percent is null
// when the original total is zero.
type Result struct {
	Original  int64               `json:"original"`
	Submitted int64               `json:"submitted"`
	Variance  int64               `json:"variance"`
	Percent   decimal.NullDecimal `json:"percent"`
}

// Calculate returns submitted minus original and its share of original.
func Calculate(submitted, original int64) Result {
	r := Result{
		Original:  original,
		Submitted: submitted,
		Variance:  submitted - original,
	}
	if original != 0 {
		r.Percent = decimal.NewNullDecimal(
			decimal.NewFromInt(r.Variance).Mul(hundred).Div(decimal.NewFromInt(original)),
		)
	}
	return r
}

// Display renders the percentage at two decimals, or "n/a" when undefined.
func (r Result) Display() string {
	if !r.Percent.Valid {
		return "n/a"
	}
	return r.Percent.Decimal.StringFixed(2)
}

// Line is one priced SKU of an order or a supplier submission.
type Line struct {
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Total is quantity times unit price.
func (l Line) Total() int64 { return l.Quantity * l.UnitPrice }

type LineResult struct {
	SKU string `json:"sku"`
	Result
}

// Report is a line level comparison. Unordered lists submitted SKUs absent
// from the order; Missing lists ordered SKUs absent from the submission.
// Both still count toward Total.
type Report struct {
	Total     Result       `json:"total"`
	Lines     []LineResult `json:"lines"`
	Unordered []string     `json:"unordered"`
	Missing   []string     `json:"missing"`
}

// CalculateLines compares an order against a submission SKU by SKU.
func CalculateLines(original, submitted []Line) (Report, error) {
	ordered, err := index(original)
	if err != nil {
		return Report{}, err
	}
	received, err := index(submitted)
	if err != nil {
		return Report{}, err
	}

	skus := make([]string, 0, len(ordered)+len(received))
	for sku := range ordered {
		skus = append(skus, sku)
	}
	for sku := range received {
		if _, ok := ordered[sku]; !ok {
			skus = append(skus, sku)
		}
	}
	sort.Strings(skus)

	report := Report{Lines: make([]LineResult, 0, len(skus))}
	var originalTotal, submittedTotal int64
	for _, sku := range skus {
		o, inOrder := ordered[sku]
		s, inSubmission := received[sku]
		switch {
		case !inOrder:
			report.Unordered = append(report.Unordered, sku)
		case !inSubmission:
			report.Missing = append(report.Missing, sku)
		}
		originalTotal += o.Total()
		submittedTotal += s.Total()
		report.Lines = append(report.Lines, LineResult{SKU: sku, Result: Calculate(s.Total(), o.Total())})
	}
	report.Total = Calculate(submittedTotal, originalTotal)
	return report, nil
}

// index validates one side of the comparison. Every line total and the side
// total must fit in int64.
func index(lines []Line) (map[string]Line, error) {
	out := make(map[string]Line, len(lines))
	var total int64
	for _, line := range lines {
		line.SKU = strings.TrimSpace(line.SKU)
		if line.SKU == "" {
			return nil, ErrEmptySKU
		}
		if line.Quantity < 0 || line.UnitPrice < 0 {
			return nil, ErrNegativeValue
		}
		if line.UnitPrice != 0 && line.Quantity > math.MaxInt64/line.UnitPrice {
			return nil, ErrValueTooLarge
		}
		if line.Total() > math.MaxInt64-total {
			return nil, ErrValueTooLarge
		}
		total += line.Total()
		if _, dup := out[line.SKU]; dup {
			return nil, ErrDuplicateSKU
		}
		out[line.SKU] = line
	}
	return out, nil
}
