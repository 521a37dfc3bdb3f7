// Package balance recomputes invoice level totals and status from payments
// and milestones.
package balance

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoice/trigger"
)

// Summary is the derived state of one invoice.
type Summary struct {
	InvoiceID     snowflake.ID         `json:"invoice_id"`
	Amount        int64                `json:"amount"`
	PaidAmount    int64                `json:"paid_amount"`
	Balance       int64                `json:"balance"`
	Status        domain.InvoiceStatus `json:"status"`
	ScheduledPaid int64                `json:"scheduled_paid"`
	Unallocated   int64                `json:"unallocated"`
	OverdueItems  int                  `json:"overdue_items"`
}

// Compute folds payments and milestones into invoice totals at now.
func Compute(invoice domain.Invoice, items []domain.ScheduleItem, payments []domain.Payment, now time.Time) Summary {
	s := Summary{InvoiceID: invoice.ID, Amount: invoice.Amount}
	for _, p := range payments {
		s.PaidAmount += p.Amount
	}
	s.Balance = invoice.Amount - s.PaidAmount
	if s.Balance < 0 {
		s.Balance = 0
	}
	for _, item := range items {
		s.ScheduledPaid += item.PaidAmount
		if trigger.IsPastDue(item, now) {
			s.OverdueItems++
		}
	}
	s.Unallocated = s.PaidAmount - s.ScheduledPaid
	if s.Unallocated < 0 {
		s.Unallocated = 0
	}
	s.Status = status(invoice, items, s, now)
	return s
}

func status(invoice domain.Invoice, items []domain.ScheduleItem, s Summary, now time.Time) domain.InvoiceStatus {
	if s.Balance == 0 {
		return domain.InvoiceStatusPaid
	}
	if len(items) > 0 && s.OverdueItems > 0 {
		return domain.InvoiceStatusOverdue
	}
	if len(items) == 0 && invoice.DueAt != nil && trigger.Day(now).After(trigger.Day(*invoice.DueAt)) {
		return domain.InvoiceStatusOverdue
	}
	if s.PaidAmount > 0 {
		return domain.InvoiceStatusPartial
	}
	return domain.InvoiceStatusUnpaid
}

// Fold aggregates invoice summaries for a portfolio view.
func Fold(summaries []Summary) domain.Portfolio {
	portfolio := domain.Portfolio{ByStatus: make(map[domain.InvoiceStatus]int, 4)}
	for _, st := range domain.InvoiceStatuses() {
		portfolio.ByStatus[st] = 0
	}
	for _, s := range summaries {
		portfolio.InvoiceCount++
		portfolio.TotalAmount += s.Amount
		portfolio.TotalPaid += s.PaidAmount
		portfolio.Outstanding += s.Balance
		portfolio.ByStatus[s.Status]++
		if s.Status == domain.InvoiceStatusOverdue {
			portfolio.OverdueCount++
		}
	}
	return portfolio
}
