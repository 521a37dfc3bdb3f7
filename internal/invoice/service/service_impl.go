package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/smallbiznis/procura/internal/invoice/balance"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoice/schedule"
	"github.com/smallbiznis/procura/internal/invoice/trigger"
	"github.com/smallbiznis/procura/internal/invoicelock"
	obsmetrics "github.com/smallbiznis/procura/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/procura/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultMilestoneName = "Full Payment"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Locker     invoicelock.Locker
	Cfg        config.Config
	Terms      *config.TermsHolder `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	locker     invoicelock.Locker
	terms      *config.TermsHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics

	attachmentPrefix string
}

func NewService(p Params) domain.Service {
	prefix := strings.Trim(strings.TrimSpace(p.Cfg.AttachmentPrefix), "/")
	if prefix == "" {
		prefix = "payments"
	}
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("invoice.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		locker:           p.Locker,
		terms:            p.Terms,
		auditSvc:         p.AuditSvc,
		obsMetrics:       p.ObsMetrics,
		attachmentPrefix: prefix,
	}
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.InvoiceView, error) {
	number := strings.TrimSpace(req.InvoiceNumber)
	if number == "" {
		return nil, domain.ErrInvalidInvoiceNumber
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	issuedAt := req.IssuedAt.UTC()
	if req.IssuedAt.IsZero() {
		issuedAt = now
	}
	var dueAt *time.Time
	if req.DueAt != nil {
		due := trigger.Day(*req.DueAt)
		if due.Before(trigger.Day(issuedAt)) {
			return nil, fmt.Errorf("%w: due date before issue date", domain.ErrInvalidInvoice)
		}
		dueAt = &due
	}

	invoice := domain.Invoice{
		ID:               s.genID.Generate(),
		InvoiceNumber:    number,
		PurchaseOrderRef: strings.TrimSpace(req.PurchaseOrderRef),
		SupplierName:     strings.TrimSpace(req.SupplierName),
		Currency:         currency,
		Amount:           req.Amount,
		Balance:          req.Amount,
		Status:           domain.InvoiceStatusUnpaid,
		IssuedAt:         issuedAt,
		DueAt:            dueAt,
		Metadata:         jsonMap(req.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	items, err := s.initialSchedule(invoice, req.TermsCode)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].InvoiceID = invoice.ID
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
		items[i] = trigger.Initialize(items[i], issuedAt)
	}
	items, _ = trigger.TickAll(items, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertInvoice(ctx, tx, &invoice); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrInvoiceNumberTaken
			}
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}
		_, err := s.refresh(ctx, tx, &invoice, items, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Int64("amount", invoice.Amount),
		zap.Int("milestones", len(items)),
	)
	s.audit(ctx, auditdomain.ActionInvoiceCreated, auditdomain.TargetTypeInvoice, invoice.ID, map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"amount":         invoice.Amount,
		"terms_code":     strings.TrimSpace(req.TermsCode),
	})
	return s.GetInvoice(ctx, invoice.ID)
}

// initialSchedule builds the creation-time milestones: the named payment terms
// template, or a single upfront milestone covering the whole amount.
func (s *Service) initialSchedule(invoice domain.Invoice, termsCode string) ([]domain.ScheduleItem, error) {
	termsCode = strings.TrimSpace(termsCode)
	if termsCode == "" {
		return []domain.ScheduleItem{{
			ID:            s.genID.Generate(),
			MilestoneName: defaultMilestoneName,
			Percentage:    hundredPercent,
			Amount:        invoice.Amount,
			Trigger:       domain.TriggerUpfront,
			TriggerStatus: domain.TriggerStatusPending,
			SortOrder:     1,
		}}, nil
	}
	if s.terms == nil {
		return nil, domain.ErrUnknownPaymentTerms
	}
	terms, ok := s.terms.Lookup(termsCode)
	if !ok {
		return nil, domain.ErrUnknownPaymentTerms
	}

	editor := schedule.NewEditor(invoice.Amount, nil, s.genID)
	for _, m := range terms.Milestones {
		id := editor.AddMilestone()
		if name := strings.TrimSpace(m.Name); name != "" {
			if err := editor.Rename(id, name); err != nil {
				return nil, err
			}
		}
		if err := editor.SetTrigger(id, m.Trigger); err != nil {
			return nil, err
		}
		if err := editor.SetOffsetDays(id, m.OffsetDays); err != nil {
			return nil, err
		}
		if err := editor.SetPercentage(id, m.PercentageDecimal()); err != nil {
			return nil, err
		}
	}
	plan, err := editor.Commit()
	if err != nil {
		return nil, err
	}
	return plan.Inserts, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*domain.InvoiceView, error) {
	if invoiceID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindInvoice(ctx, s.db, invoiceID, false)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	payments, err := s.loadPayments(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	return buildView(*invoice, items, payments, s.clock.Now().UTC()), nil
}

// Summary folds every invoice at the current time. Statuses are recomputed so
// milestones that went past due since the last sweep are already counted.
func (s *Service) Summary(ctx context.Context) (domain.Portfolio, error) {
	invoices, err := s.repo.ListInvoices(ctx, s.db)
	if err != nil {
		return domain.Portfolio{}, err
	}
	ids := make([]snowflake.ID, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
	}
	items, err := s.repo.ListItemsByInvoices(ctx, s.db, ids)
	if err != nil {
		return domain.Portfolio{}, err
	}
	payments, err := s.repo.ListPaymentsByInvoices(ctx, s.db, ids)
	if err != nil {
		return domain.Portfolio{}, err
	}

	itemsByInvoice := make(map[snowflake.ID][]domain.ScheduleItem, len(invoices))
	for _, item := range items {
		itemsByInvoice[item.InvoiceID] = append(itemsByInvoice[item.InvoiceID], item)
	}
	paymentsByInvoice := make(map[snowflake.ID][]domain.Payment, len(invoices))
	for _, p := range payments {
		paymentsByInvoice[p.InvoiceID] = append(paymentsByInvoice[p.InvoiceID], p)
	}

	now := s.clock.Now().UTC()
	summaries := make([]balance.Summary, 0, len(invoices))
	for _, inv := range invoices {
		summaries = append(summaries, balance.Compute(inv, itemsByInvoice[inv.ID], paymentsByInvoice[inv.ID], now))
	}
	return balance.Fold(summaries), nil
}

// withInvoice runs fn under the invoice's writer lock inside one transaction
// with the invoice row locked.
func (s *Service) withInvoice(ctx context.Context, invoiceID snowflake.ID, fn func(tx *gorm.DB, invoice *domain.Invoice) error) error {
	if invoiceID == 0 {
		return domain.ErrInvoiceNotFound
	}
	release, err := s.locker.Lock(ctx, invoiceID)
	if err != nil {
		return err
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindInvoice(ctx, tx, invoiceID, true)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}
		return fn(tx, invoice)
	})
}

// refresh recomputes the invoice totals from its payments and persists them.
func (s *Service) refresh(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, items []domain.ScheduleItem, now time.Time) (balance.Summary, error) {
	payments, err := s.repo.ListPayments(ctx, tx, invoice.ID)
	if err != nil {
		return balance.Summary{}, err
	}
	summary := balance.Compute(*invoice, items, payments, now)
	invoice.PaidAmount = summary.PaidAmount
	invoice.Balance = summary.Balance
	invoice.Status = summary.Status
	invoice.UpdatedAt = now
	if err := s.repo.UpdateInvoiceTotals(ctx, tx, invoice); err != nil {
		return balance.Summary{}, err
	}
	return summary, nil
}

// saveChanged writes the milestones whose lifecycle or payment state differs
// from before. Both slices are in the same order.
func (s *Service) saveChanged(ctx context.Context, tx *gorm.DB, before, after []domain.ScheduleItem, now time.Time) error {
	for i := range after {
		if i < len(before) && sameState(before[i], after[i]) {
			continue
		}
		after[i].UpdatedAt = now
		if err := s.repo.UpdateItem(ctx, tx, &after[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loadPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	payments, err := s.repo.ListPayments(ctx, db, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return payments, nil
	}
	ids := make([]snowflake.ID, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	allocations, err := s.repo.ListAllocations(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	attachments, err := s.repo.ListAttachments(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	index := make(map[snowflake.ID]int, len(payments))
	for i := range payments {
		index[payments[i].ID] = i
		payments[i].ScheduleItemIDs = []snowflake.ID{}
	}
	for _, a := range allocations {
		if i, ok := index[a.PaymentID]; ok {
			payments[i].Allocations = append(payments[i].Allocations, a)
			payments[i].ScheduleItemIDs = append(payments[i].ScheduleItemIDs, a.ScheduleItemID)
		}
	}
	for _, a := range attachments {
		if i, ok := index[a.PaymentID]; ok {
			payments[i].Attachments = append(payments[i].Attachments, a)
		}
	}
	return payments, nil
}

func (s *Service) audit(ctx context.Context, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	id := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, targetType, &id, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func buildView(invoice domain.Invoice, items []domain.ScheduleItem, payments []domain.Payment, now time.Time) *domain.InvoiceView {
	summary := balance.Compute(invoice, items, payments, now)
	invoice.PaidAmount = summary.PaidAmount
	invoice.Balance = summary.Balance
	invoice.Status = summary.Status

	view := &domain.InvoiceView{
		Invoice:       invoice,
		Schedule:      make([]domain.MilestoneView, 0, len(items)),
		Payments:      payments,
		ScheduledPaid: summary.ScheduledPaid,
		Unallocated:   summary.Unallocated,
		OverdueItems:  summary.OverdueItems,
	}
	if view.Payments == nil {
		view.Payments = []domain.Payment{}
	}
	for _, item := range items {
		view.Schedule = append(view.Schedule, domain.MilestoneView{
			ScheduleItem: item,
			Remaining:    item.Remaining(),
			Settled:      trigger.Settled(item),
			PastDue:      trigger.IsPastDue(item, now),
			Timeline:     trigger.Describe(item),
		})
	}
	return view
}

func sameState(a, b domain.ScheduleItem) bool {
	return a.TriggerStatus == b.TriggerStatus &&
		a.PaidAmount == b.PaidAmount &&
		sameDay(a.TriggerDate, b.TriggerDate) &&
		sameDay(a.DueDate, b.DueDate) &&
		sameDay(a.PaidDate, b.PaidDate)
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func normalizeCurrency(value string) (string, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if len(value) != 3 {
		return "", domain.ErrInvalidCurrency
	}
	for _, r := range value {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCurrency
		}
	}
	return value, nil
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range m {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = v
		}
	}
	return out
}

func isPaymentValidation(err error) (*domain.PaymentValidationError, bool) {
	var target *domain.PaymentValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
