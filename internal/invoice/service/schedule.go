package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoice/schedule"
	"github.com/smallbiznis/procura/internal/invoice/trigger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundredPercent = decimal.NewFromInt(100)

// SaveSchedule replaces the invoice schedule with milestones. The list is the
// complete desired schedule in display order: persisted milestones missing
// from it, or flagged Deleted, are removed. Nothing is written unless the
// result totals 100%.
func (s *Service) SaveSchedule(ctx context.Context, invoiceID snowflake.ID, milestones []domain.MilestoneInput) (*domain.InvoiceView, error) {
	var plan schedule.Plan
	err := s.withInvoice(ctx, invoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		now := s.clock.Now().UTC()
		items, err := s.repo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		original := make(map[snowflake.ID]domain.ScheduleItem, len(items))
		for _, item := range items {
			original[item.ID] = item
		}

		payments, err := s.loadPayments(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		lastPaid := lastPaymentDates(payments)

		editor := schedule.NewEditor(invoice.Amount, items, s.genID)
		plan, err = stageMilestones(editor, original, lastPaid, milestones)
		if err != nil {
			return err
		}

		for i := range plan.Inserts {
			item := &plan.Inserts[i]
			item.InvoiceID = invoice.ID
			item.CreatedAt = now
			item.UpdatedAt = now
			*item = trigger.Initialize(*item, invoice.IssuedAt)
			*item, _ = trigger.Tick(*item, now)
		}
		for i := range plan.Updates {
			item := &plan.Updates[i]
			if prev, ok := original[item.ID]; ok && prev.Trigger != item.Trigger {
				*item = trigger.Initialize(*item, invoice.IssuedAt)
			} else {
				*item = trigger.Reschedule(*item, now)
			}
			*item = rederivePaidDate(*item, lastPaid, now)
			*item, _ = trigger.Tick(*item, now)
			item.UpdatedAt = now
		}

		if err := s.repo.DeleteItems(ctx, tx, invoice.ID, plan.Deletes); err != nil {
			return err
		}
		for i := range plan.Updates {
			if err := s.repo.UpdateItem(ctx, tx, &plan.Updates[i]); err != nil {
				return err
			}
		}
		if err := s.repo.InsertItems(ctx, tx, plan.Inserts); err != nil {
			return err
		}

		current := append(append([]domain.ScheduleItem(nil), plan.Updates...), plan.Inserts...)
		_, err = s.refresh(ctx, tx, invoice, current, now)
		return err
	})
	if err != nil {
		var invalid *domain.ScheduleInvalidError
		if errors.As(err, &invalid) {
			s.obsMetrics.RecordScheduleSaved(ctx, "invalid")
		}
		return nil, err
	}

	s.obsMetrics.RecordScheduleSaved(ctx, "committed")
	s.log.Info("payment schedule saved",
		zap.String("invoice_id", invoiceID.String()),
		zap.Int("inserted", len(plan.Inserts)),
		zap.Int("updated", len(plan.Updates)),
		zap.Int("deleted", len(plan.Deletes)),
	)
	s.audit(ctx, auditdomain.ActionScheduleSaved, auditdomain.TargetTypeInvoice, invoiceID, map[string]any{
		"inserted": len(plan.Inserts),
		"updated":  len(plan.Updates),
		"deleted":  len(plan.Deletes),
	})
	return s.GetInvoice(ctx, invoiceID)
}

// stageMilestones replays the requested schedule onto the editor. Adds and
// edits run before removals so replacing the only milestone never trips the
// last-milestone rule.
func stageMilestones(editor *schedule.Editor, original map[snowflake.ID]domain.ScheduleItem, allocated map[snowflake.ID]time.Time, milestones []domain.MilestoneInput) (schedule.Plan, error) {
	kept := make(map[snowflake.ID]struct{}, len(milestones))
	order := make([]snowflake.ID, 0, len(milestones))
	var removals []snowflake.ID

	for _, in := range milestones {
		if in.Deleted {
			if in.ID != 0 {
				if _, ok := original[in.ID]; !ok {
					return schedule.Plan{}, domain.ErrMilestoneNotFound
				}
				removals = append(removals, in.ID)
			}
			continue
		}

		id := in.ID
		if id == 0 {
			id = editor.AddMilestone()
		} else if _, ok := original[id]; !ok {
			return schedule.Plan{}, domain.ErrMilestoneNotFound
		}
		if err := applyMilestone(editor, id, in); err != nil {
			return schedule.Plan{}, err
		}
		if _, seen := kept[id]; !seen {
			kept[id] = struct{}{}
			order = append(order, id)
		}
	}

	for id := range original {
		if _, ok := kept[id]; !ok {
			removals = append(removals, id)
		}
	}
	removed := make(map[snowflake.ID]struct{}, len(removals))
	for _, id := range removals {
		if _, done := removed[id]; done {
			continue
		}
		if _, ok := kept[id]; ok {
			continue
		}
		removed[id] = struct{}{}
		if _, ok := allocated[id]; ok {
			return schedule.Plan{}, domain.ErrMilestoneHasPayments
		}
		if err := editor.RemoveMilestone(id); err != nil {
			return schedule.Plan{}, err
		}
	}

	if err := editor.Reorder(order); err != nil {
		return schedule.Plan{}, err
	}
	return editor.Commit()
}

// lastPaymentDates maps every milestone with allocation rows to the date of
// the latest payment that credited it.
func lastPaymentDates(payments []domain.Payment) map[snowflake.ID]time.Time {
	out := make(map[snowflake.ID]time.Time)
	for _, p := range payments {
		for _, a := range p.Allocations {
			if prev, ok := out[a.ScheduleItemID]; !ok || p.Date.After(prev) {
				out[a.ScheduleItemID] = p.Date
			}
		}
	}
	return out
}

// rederivePaidDate keeps paid_date consistent after an amount edit: cleared
// while the milestone is short, stamped once it is settled.
func rederivePaidDate(item domain.ScheduleItem, lastPaid map[snowflake.ID]time.Time, now time.Time) domain.ScheduleItem {
	if !trigger.Settled(item) {
		item.PaidDate = nil
		return item
	}
	if item.PaidDate == nil {
		paidOn, ok := lastPaid[item.ID]
		if !ok {
			paidOn = now
		}
		paidOn = trigger.Day(paidOn)
		item.PaidDate = &paidOn
	}
	return item
}

func applyMilestone(editor *schedule.Editor, id snowflake.ID, in domain.MilestoneInput) error {
	if name := strings.TrimSpace(in.MilestoneName); name != "" {
		if err := editor.Rename(id, name); err != nil {
			return err
		}
	}
	if in.Trigger != "" {
		if err := editor.SetTrigger(id, in.Trigger); err != nil {
			return err
		}
	}
	if err := editor.SetOffsetDays(id, in.OffsetDays); err != nil {
		return err
	}
	switch {
	case in.Percentage != nil:
		return editor.SetPercentage(id, *in.Percentage)
	case in.Amount != nil:
		return editor.SetAmount(id, *in.Amount)
	}
	return nil
}
