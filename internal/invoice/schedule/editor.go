// Package schedule stages edits to an invoice payment schedule and commits
// them only when the milestones add up to the whole invoice.
package schedule

import (
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/procura/internal/invoice/domain"
)

var (
	hundred     = decimal.NewFromInt(100)
	basisPoints = decimal.NewFromInt(10000)
	tolerance   = decimal.New(1, -2)
)

// IDGenerator issues ids for new milestones.
type IDGenerator interface {
	Generate() snowflake.ID
}

type entry struct {
	item    domain.ScheduleItem
	isNew   bool
	deleted bool
}

// Editor is a working copy of one invoice's milestones. It is not safe for
// concurrent use.
type Editor struct {
	invoiceAmount int64
	entries       []*entry
	ids           IDGenerator
}

// Plan is the set of writes produced by a successful commit.
type Plan struct {
	Inserts []domain.ScheduleItem
	Updates []domain.ScheduleItem
	Deletes []snowflake.ID
}

// NewEditor starts an edit session over a copy of items.
func NewEditor(invoiceAmount int64, items []domain.ScheduleItem, ids IDGenerator) *Editor {
	if invoiceAmount < 0 {
		invoiceAmount = 0
	}
	entries := make([]*entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, &entry{item: item})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].item.SortOrder < entries[j].item.SortOrder
	})
	return &Editor{invoiceAmount: invoiceAmount, entries: entries, ids: ids}
}

// InvoiceAmount returns the amount the schedule must add up to.
func (e *Editor) InvoiceAmount() int64 { return e.invoiceAmount }

// Items returns the active milestones in sort order.
func (e *Editor) Items() []domain.ScheduleItem {
	active := e.active()
	items := make([]domain.ScheduleItem, 0, len(active))
	for _, en := range active {
		items = append(items, en.item)
	}
	return items
}

// Get returns an active milestone by id.
func (e *Editor) Get(id snowflake.ID) (domain.ScheduleItem, bool) {
	en := e.find(id)
	if en == nil {
		return domain.ScheduleItem{}, false
	}
	return en.item, true
}

// Total is the sum of active percentages.
func (e *Editor) Total() decimal.Decimal {
	total := decimal.Zero
	for _, en := range e.active() {
		total = total.Add(en.item.Percentage)
	}
	return total
}

// IsValid reports whether the active percentages total 100 within 0.01.
func (e *Editor) IsValid() bool {
	return e.Total().Sub(hundred).Abs().LessThan(tolerance)
}

// SetPercentage makes the percentage authoritative for one milestone and
// derives its amount. Out of range input is clamped.
func (e *Editor) SetPercentage(id snowflake.ID, value decimal.Decimal) error {
	en := e.find(id)
	if en == nil {
		return domain.ErrMilestoneNotFound
	}
	en.item.Percentage = clampPercentage(value)
	en.item.Amount = e.amountFor(en.item.Percentage)
	e.reconcile(id)
	return nil
}

// SetAmount makes the amount authoritative for one milestone and derives its
// percentage at basis-point precision. Out of range input is clamped.
func (e *Editor) SetAmount(id snowflake.ID, value int64) error {
	en := e.find(id)
	if en == nil {
		return domain.ErrMilestoneNotFound
	}
	if value < 0 {
		value = 0
	}
	if value > e.invoiceAmount {
		value = e.invoiceAmount
	}
	en.item.Amount = value
	en.item.Percentage = e.percentageFor(value)
	e.reconcile(id)
	return nil
}

// AddMilestone appends a manual milestone holding whatever percentage is
// still unassigned and returns its id.
func (e *Editor) AddMilestone() snowflake.ID {
	remaining := hundred.Sub(e.Total())
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	remaining = clampPercentage(remaining)

	nextOrder := 1
	for _, en := range e.entries {
		if en.item.SortOrder >= nextOrder {
			nextOrder = en.item.SortOrder + 1
		}
	}

	id := e.ids.Generate()
	item := domain.ScheduleItem{
		ID:            id,
		MilestoneName: fmt.Sprintf("Milestone %d", len(e.active())+1),
		Percentage:    remaining,
		Amount:        e.amountFor(remaining),
		Trigger:       domain.TriggerManual,
		TriggerStatus: domain.TriggerStatusPending,
		SortOrder:     nextOrder,
	}
	e.entries = append(e.entries, &entry{item: item, isNew: true})
	e.reconcile(id)
	return id
}

// RemoveMilestone soft deletes a milestone. The last active milestone and
// milestones that already received payments cannot be removed.
func (e *Editor) RemoveMilestone(id snowflake.ID) error {
	en := e.find(id)
	if en == nil {
		return domain.ErrMilestoneNotFound
	}
	if len(e.active()) == 1 {
		return domain.ErrLastMilestone
	}
	if en.item.PaidAmount > 0 {
		return domain.ErrMilestoneHasPayments
	}
	en.deleted = true
	e.reconcile(0)
	return nil
}

// DistributeEvenly splits percentages in whole basis points. With no ids all
// active milestones share 100%; otherwise the named milestones share what
// the others leave. The last milestone takes the exact remainder.
func (e *Editor) DistributeEvenly(ids ...snowflake.ID) error {
	targets := e.active()
	budget := int64(10000)
	if len(ids) > 0 {
		selected := make(map[snowflake.ID]struct{}, len(ids))
		for _, id := range ids {
			if e.find(id) == nil {
				return domain.ErrMilestoneNotFound
			}
			selected[id] = struct{}{}
		}
		targets = targets[:0:0]
		for _, en := range e.active() {
			if _, ok := selected[en.item.ID]; ok {
				targets = append(targets, en)
				continue
			}
			budget -= en.item.Percentage.Mul(hundred).Round(0).IntPart()
		}
		if budget < 0 {
			budget = 0
		}
	}
	if len(targets) == 0 {
		return nil
	}

	n := int64(len(targets))
	share := budget / n
	for i, en := range targets {
		bp := share
		if int64(i) == n-1 {
			bp = budget - share*(n-1)
		}
		en.item.Percentage = decimal.New(bp, -2)
		en.item.Amount = e.amountFor(en.item.Percentage)
	}
	e.reconcile(0)
	return nil
}

// Rename sets the milestone name.
func (e *Editor) Rename(id snowflake.ID, name string) error {
	en := e.find(id)
	if en == nil {
		return domain.ErrMilestoneNotFound
	}
	en.item.MilestoneName = name
	return nil
}

// SetTrigger changes the event that starts the milestone's countdown.
func (e *Editor) SetTrigger(id snowflake.ID, trigger domain.Trigger) error {
	en := e.find(id)
	if en == nil {
		return domain.ErrMilestoneNotFound
	}
	if !trigger.Valid() {
		return domain.ErrInvalidTrigger
	}
	en.item.Trigger = trigger
	return nil
}

// SetOffsetDays sets the grace period after the trigger. Negative values clamp to zero.
func (e *Editor) SetOffsetDays(id snowflake.ID, days int) error {
	en := e.find(id)
	if en == nil {
		return domain.ErrMilestoneNotFound
	}
	if days < 0 {
		days = 0
	}
	en.item.OffsetDays = days
	return nil
}

// Reorder moves the listed milestones to the front in the given order. The
// rest keep their relative order.
func (e *Editor) Reorder(ids []snowflake.ID) error {
	position := make(map[snowflake.ID]int, len(ids))
	for i, id := range ids {
		if e.find(id) == nil {
			return domain.ErrMilestoneNotFound
		}
		if _, dup := position[id]; !dup {
			position[id] = i
		}
	}
	sort.SliceStable(e.entries, func(i, j int) bool {
		pi, iok := position[e.entries[i].item.ID]
		pj, jok := position[e.entries[j].item.ID]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return false
		}
	})
	for i, en := range e.entries {
		en.item.SortOrder = i + 1
	}
	return nil
}

// Commit validates the working set and returns the writes needed to persist
// it. Nothing is returned but the error when the schedule is invalid.
func (e *Editor) Commit() (Plan, error) {
	if !e.IsValid() {
		return Plan{}, &domain.ScheduleInvalidError{Total: e.Total()}
	}
	e.reconcile(0)
	for _, en := range e.active() {
		if en.item.Amount < en.item.PaidAmount {
			return Plan{}, &domain.ScheduleInvalidError{
				Total:  e.Total(),
				Reason: fmt.Sprintf("milestone %q amount is below its paid amount", en.item.MilestoneName),
			}
		}
	}

	var plan Plan
	order := 0
	for _, en := range e.entries {
		if en.deleted {
			if !en.isNew {
				plan.Deletes = append(plan.Deletes, en.item.ID)
			}
			continue
		}
		order++
		en.item.SortOrder = order
		if en.isNew {
			plan.Inserts = append(plan.Inserts, en.item)
		} else {
			plan.Updates = append(plan.Updates, en.item)
		}
	}
	return plan, nil
}

// reconcile folds the rounding residual into the last active milestone the
// edit did not target so active amounts add up to the invoice amount. A
// negative residual only comes out of unpaid remainders.
func (e *Editor) reconcile(target snowflake.ID) {
	if !e.IsValid() {
		return
	}
	active := e.active()
	residual := e.invoiceAmount
	for _, en := range active {
		residual -= en.item.Amount
	}
	if residual == 0 {
		return
	}

	candidates := make([]*entry, 0, len(active))
	var targeted *entry
	for i := len(active) - 1; i >= 0; i-- {
		if active[i].item.ID == target {
			targeted = active[i]
			continue
		}
		candidates = append(candidates, active[i])
	}
	if targeted != nil {
		candidates = append(candidates, targeted)
	}

	for _, en := range candidates {
		if residual == 0 {
			return
		}
		var delta int64
		if residual < 0 {
			delta = -min(-residual, en.item.Remaining())
		} else {
			delta = min(residual, e.invoiceAmount-en.item.Amount)
		}
		en.item.Amount += delta
		residual -= delta
	}
}

func (e *Editor) amountFor(percentage decimal.Decimal) int64 {
	return decimal.NewFromInt(e.invoiceAmount).Mul(percentage).Div(hundred).Round(0).IntPart()
}

func (e *Editor) percentageFor(amount int64) decimal.Decimal {
	if e.invoiceAmount == 0 {
		return decimal.Zero
	}
	bp := decimal.NewFromInt(amount).Mul(basisPoints).Div(decimal.NewFromInt(e.invoiceAmount)).Round(0)
	return bp.Div(hundred)
}

func (e *Editor) active() []*entry {
	active := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		if !en.deleted {
			active = append(active, en)
		}
	}
	return active
}

func (e *Editor) find(id snowflake.ID) *entry {
	for _, en := range e.entries {
		if en.item.ID == id && !en.deleted {
			return en
		}
	}
	return nil
}

func clampPercentage(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	if value.GreaterThan(hundred) {
		return hundred
	}
	return value.Round(2)
}
