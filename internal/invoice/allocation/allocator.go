// Package allocation spreads a payment across invoice milestones without
// losing or inventing a cent, and reverses those credits exactly.
package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/invoice/domain"
)

// Request is a payment to allocate against the current milestone set.
type Request struct {
	Amount  int64
	Balance int64
	Items   []domain.ScheduleItem
	ItemIDs []snowflake.ID
}

// Credit is the share of a payment given to one milestone.
type Credit struct {
	ScheduleItemID snowflake.ID
	Remaining      int64
	Amount         int64
}

// Result lists the credits of an allocation in milestone order. It is empty
// for an unlinked payment.
type Result struct {
	Credits []Credit
}

// Selected returns the ids of the credited milestones.
func (r Result) Selected() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(r.Credits))
	for _, c := range r.Credits {
		ids = append(ids, c.ScheduleItemID)
	}
	return ids
}

// Credited drops zero credits. Only these become allocation rows.
func (r Result) Credited() []Credit {
	out := make([]Credit, 0, len(r.Credits))
	for _, c := range r.Credits {
		if c.Amount != 0 {
			out = append(out, c)
		}
	}
	return out
}

// Total is the sum of all credits.
func (r Result) Total() int64 {
	var total int64
	for _, c := range r.Credits {
		total += c.Amount
	}
	return total
}

// Allocate validates a payment and distributes it over the selected
// milestones. When the amount equals the selected remainder each milestone
// is filled; otherwise shares follow the largest-remainder method with ties
// going to the earlier milestone.
func Allocate(req Request) (Result, error) {
	if req.Amount <= 0 {
		return Result{}, &domain.PaymentValidationError{Rule: domain.RuleAmountNotPositive}
	}
	if req.Amount > req.Balance {
		return Result{}, &domain.PaymentValidationError{
			Rule:   domain.RuleAmountExceedsBalance,
			Detail: fmt.Sprintf("amount %d exceeds balance %d", req.Amount, req.Balance),
		}
	}

	ids := dedupe(req.ItemIDs)
	if len(ids) == 0 {
		for _, item := range req.Items {
			if item.Remaining() > 0 {
				return Result{}, &domain.PaymentValidationError{Rule: domain.RuleMilestoneSelectionRequired}
			}
		}
		return Result{}, nil
	}

	byID := make(map[snowflake.ID]domain.ScheduleItem, len(req.Items))
	for _, item := range req.Items {
		byID[item.ID] = item
	}
	selected := make([]domain.ScheduleItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return Result{}, &domain.PaymentValidationError{
				Rule:   domain.RuleUnknownMilestone,
				Detail: id.String(),
			}
		}
		if item.Remaining() > 0 {
			selected = append(selected, item)
		}
	}
	if len(selected) == 0 {
		return Result{}, &domain.PaymentValidationError{Rule: domain.RuleNothingOutstandingSelection}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].SortOrder != selected[j].SortOrder {
			return selected[i].SortOrder < selected[j].SortOrder
		}
		return selected[i].ID < selected[j].ID
	})

	var remaining int64
	for _, item := range selected {
		remaining += item.Remaining()
	}
	if req.Amount > remaining {
		return Result{}, &domain.PaymentValidationError{
			Rule:   domain.RuleAmountExceedsSelection,
			Detail: fmt.Sprintf("amount %d exceeds selected remaining %d", req.Amount, remaining),
		}
	}

	credits := make([]Credit, len(selected))
	for i, item := range selected {
		credits[i] = Credit{ScheduleItemID: item.ID, Remaining: item.Remaining()}
	}
	if req.Amount == remaining {
		for i := range credits {
			credits[i].Amount = credits[i].Remaining
		}
		return Result{Credits: credits}, nil
	}

	if err := largestRemainder(credits, req.Amount, remaining); err != nil {
		return Result{}, err
	}
	return Result{Credits: credits}, nil
}

func largestRemainder(credits []Credit, amount, remaining int64) error {
	total := decimal.NewFromInt(remaining)
	share := decimal.NewFromInt(amount)
	fractions := make([]decimal.Decimal, len(credits))

	leftover := amount
	for i := range credits {
		quotient, rest := share.Mul(decimal.NewFromInt(credits[i].Remaining)).QuoRem(total, 0)
		credits[i].Amount = quotient.IntPart()
		fractions[i] = rest
		leftover -= credits[i].Amount
	}

	order := make([]int, len(credits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]].GreaterThan(fractions[order[b]])
	})
	for _, idx := range order {
		if leftover == 0 {
			break
		}
		credits[idx].Amount++
		leftover--
	}

	for i := range credits {
		if credits[i].Amount > credits[i].Remaining {
			leftover += credits[i].Amount - credits[i].Remaining
			credits[i].Amount = credits[i].Remaining
		}
	}
	if leftover != 0 {
		return &domain.AllocationInvariantError{
			Detail: fmt.Sprintf("%d cents left undistributed", leftover),
		}
	}
	return nil
}

// Apply adds credits to the milestones and stamps the paid date on those it
// settles.
func Apply(items []domain.ScheduleItem, credits []Credit, paidOn time.Time) ([]domain.ScheduleItem, error) {
	out := append([]domain.ScheduleItem(nil), items...)
	index := indexByID(out)
	for _, c := range credits {
		i, ok := index[c.ScheduleItemID]
		if !ok {
			return nil, &domain.AllocationInvariantError{
				Detail: fmt.Sprintf("credit for unknown milestone %s", c.ScheduleItemID),
			}
		}
		next := out[i].PaidAmount + c.Amount
		if c.Amount < 0 || next > out[i].Amount {
			return nil, &domain.AllocationInvariantError{
				Detail: fmt.Sprintf("milestone %s would be paid %d of %d", c.ScheduleItemID, next, out[i].Amount),
			}
		}
		out[i].PaidAmount = next
		if c.Amount > 0 && next == out[i].Amount {
			day := paidOn
			out[i].PaidDate = &day
		}
	}
	return out, nil
}

// Reverse subtracts exactly what the allocations credited and clears the
// paid date of milestones that are no longer settled.
func Reverse(items []domain.ScheduleItem, allocations []domain.PaymentAllocation) ([]domain.ScheduleItem, error) {
	out := append([]domain.ScheduleItem(nil), items...)
	index := indexByID(out)
	for _, a := range allocations {
		i, ok := index[a.ScheduleItemID]
		if !ok {
			return nil, &domain.AllocationInvariantError{
				Detail: fmt.Sprintf("allocation for unknown milestone %s", a.ScheduleItemID),
			}
		}
		next := out[i].PaidAmount - a.Amount
		if next < 0 {
			return nil, &domain.AllocationInvariantError{
				Detail: fmt.Sprintf("milestone %s would be paid %d", a.ScheduleItemID, next),
			}
		}
		out[i].PaidAmount = next
		if next < out[i].Amount {
			out[i].PaidDate = nil
		}
	}
	return out, nil
}

func indexByID(items []domain.ScheduleItem) map[snowflake.ID]int {
	index := make(map[snowflake.ID]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}
	return index
}

func dedupe(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
