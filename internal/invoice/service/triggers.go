package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoice/trigger"
	pkgdb "github.com/smallbiznis/procura/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errReplayed = errors.New("trigger_event_replayed")

// ApplyTrigger fires an external business event on every matching pending
// milestone of the invoice. Events are stored by (invoice, trigger, day). A
// repeat of an event that already fired a milestone is reported as replayed
// and changes nothing; a repeat of one that matched nothing is evaluated
// again, so it can fire milestones added since.
func (s *Service) ApplyTrigger(ctx context.Context, req domain.TriggerEventRequest) (domain.TriggerResult, error) {
	if !req.Trigger.Valid() {
		return domain.TriggerResult{}, domain.ErrInvalidTrigger
	}
	if !req.Trigger.External() {
		return domain.TriggerResult{}, domain.ErrTriggerNotExternal
	}
	now := s.clock.Now().UTC()
	eventDay := trigger.Day(now)
	if !req.EventDate.IsZero() {
		eventDay = trigger.Day(req.EventDate)
	}

	var result domain.TriggerResult
	err := s.withInvoice(ctx, req.InvoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		event, err := s.repo.FindTriggerEvent(ctx, tx, invoice.ID, req.Trigger, eventDay)
		if err != nil {
			return err
		}
		switch {
		case event != nil && event.Applied > 0:
			return errReplayed
		case event == nil:
			event = &domain.TriggerEvent{
				ID:         s.genID.Generate(),
				InvoiceID:  invoice.ID,
				Trigger:    req.Trigger,
				EventDate:  eventDay,
				ReceivedAt: now,
			}
			if err := s.repo.InsertTriggerEvent(ctx, tx, event); err != nil {
				if pkgdb.IsDuplicateKeyErr(err) {
					return errReplayed
				}
				return err
			}
		}

		items, err := s.repo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		fired, applied := trigger.FireAll(items, req.Trigger, eventDay)
		fired, _ = trigger.TickAll(fired, now)
		if err := s.saveChanged(ctx, tx, items, fired, now); err != nil {
			return err
		}
		if _, err := s.refresh(ctx, tx, invoice, fired, now); err != nil {
			return err
		}
		result.Applied = applied
		return s.repo.UpdateTriggerEventApplied(ctx, tx, event.ID, applied)
	})
	if errors.Is(err, errReplayed) {
		s.obsMetrics.RecordTrigger(ctx, string(req.Trigger), "replayed")
		s.log.Info("trigger event replayed",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("trigger", string(req.Trigger)),
			zap.Time("event_date", eventDay),
		)
		return domain.TriggerResult{Replayed: true}, nil
	}
	if err != nil {
		return domain.TriggerResult{}, err
	}

	outcome := "applied"
	if result.Applied == 0 {
		outcome = "no_match"
	}
	s.obsMetrics.RecordTrigger(ctx, string(req.Trigger), outcome)
	s.log.Info("trigger event applied",
		zap.String("invoice_id", req.InvoiceID.String()),
		zap.String("trigger", string(req.Trigger)),
		zap.Time("event_date", eventDay),
		zap.Int("applied", result.Applied),
	)
	s.audit(ctx, auditdomain.ActionTriggerApplied, auditdomain.TargetTypeInvoice, req.InvoiceID, map[string]any{
		"trigger":    string(req.Trigger),
		"event_date": eventDay.Format("2006-01-02"),
		"applied":    result.Applied,
	})
	return result, nil
}

// MarkManual fires a manual milestone as of today. Marking an already fired
// milestone is a no-op.
func (s *Service) MarkManual(ctx context.Context, invoiceID, itemID snowflake.ID) (*domain.InvoiceView, error) {
	var changed bool
	err := s.withInvoice(ctx, invoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		now := s.clock.Now().UTC()
		items, err := s.repo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range items {
			if items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.ErrMilestoneNotFound
		}
		if items[idx].Trigger != domain.TriggerManual {
			return domain.ErrMilestoneNotManual
		}

		next := append([]domain.ScheduleItem(nil), items...)
		next[idx], changed = trigger.Fire(next[idx], domain.TriggerManual, now)
		if !changed {
			return nil
		}
		next[idx], _ = trigger.Tick(next[idx], now)
		if err := s.saveChanged(ctx, tx, items, next, now); err != nil {
			return err
		}
		_, err = s.refresh(ctx, tx, invoice, next, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("manual milestone marked",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("item_id", itemID.String()),
		)
		s.audit(ctx, auditdomain.ActionMilestoneMarked, auditdomain.TargetTypeInvoice, invoiceID, map[string]any{
			"item_id": itemID.String(),
		})
	}
	return s.GetInvoice(ctx, invoiceID)
}

// SweepOverdue ticks every invoice that may have crossed a due date and
// persists the new states. It returns the number of milestones moved to
// overdue plus unscheduled invoices that became overdue. A failing invoice
// does not stop the sweep.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	ids, err := s.repo.ListSweepCandidates(ctx, s.db, trigger.Day(now))
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		count, err := s.sweepInvoice(ctx, id)
		if err != nil {
			s.log.Warn("overdue sweep failed for invoice", zap.String("invoice_id", id.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		total += count
	}

	s.obsMetrics.RecordOverdue(ctx, "sweeper", total)
	if total > 0 {
		s.log.Info("overdue sweep finished", zap.Int("candidates", len(ids)), zap.Int("overdue", total))
	}
	return total, errors.Join(errs...)
}

func (s *Service) sweepInvoice(ctx context.Context, invoiceID snowflake.ID) (int, error) {
	var count int
	err := s.withInvoice(ctx, invoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		now := s.clock.Now().UTC()
		items, err := s.repo.ListItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		ticked, n := trigger.TickAll(items, now)
		if err := s.saveChanged(ctx, tx, items, ticked, now); err != nil {
			return err
		}
		previous := invoice.Status
		summary, err := s.refresh(ctx, tx, invoice, ticked, now)
		if err != nil {
			return err
		}
		count = n
		if len(items) == 0 && summary.Status == domain.InvoiceStatusOverdue && previous != domain.InvoiceStatusOverdue {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.audit(ctx, auditdomain.ActionMilestoneOverdue, auditdomain.TargetTypeInvoice, invoiceID, map[string]any{
			"count": count,
		})
	}
	return count, nil
}
