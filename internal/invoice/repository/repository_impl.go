package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/invoice/domain"
	pkgdb "github.com/smallbiznis/procura/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, invoice_number, purchase_order_ref, supplier_name, currency, amount,
	paid_amount, balance, status, issued_at, due_at, metadata, created_at, updated_at`

const itemColumns = `id, invoice_id, milestone_name, percentage, amount, trigger_type, trigger_status,
	trigger_date, offset_days, due_date, paid_amount, paid_date, sort_order, created_at, updated_at`

const paymentColumns = `id, invoice_id, payment_date, amount, method, reference, notes, metadata, created_at`

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.InvoiceNumber,
		invoice.PurchaseOrderRef,
		invoice.SupplierName,
		invoice.Currency,
		invoice.Amount,
		invoice.PaidAmount,
		invoice.Balance,
		invoice.Status,
		invoice.IssuedAt,
		invoice.DueAt,
		invoice.Metadata,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

// FindInvoice returns nil, nil when the invoice does not exist. forUpdate takes
// a row lock on dialects that support it.
func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`
	if forUpdate && pkgdb.SupportsRowLocks(db) {
		query += ` FOR UPDATE`
	}

	var invoice domain.Invoice
	if err := db.WithContext(ctx).Raw(query, id).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT ` + invoiceColumns + ` FROM invoices ORDER BY issued_at DESC, id DESC`,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) UpdateInvoiceTotals(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET paid_amount = ?, balance = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		invoice.PaidAmount,
		invoice.Balance,
		invoice.Status,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

// ListSweepCandidates returns invoices that may have crossed a due date before
// the given day: unsettled triggered milestones past due, or unscheduled
// invoices past their own due date.
func (r *repo) ListSweepCandidates(ctx context.Context, db *gorm.DB, before time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT invoice_id FROM payment_schedule_items
		 WHERE trigger_status = ? AND due_date IS NOT NULL AND due_date < ? AND paid_amount < amount
		 UNION
		 SELECT i.id FROM invoices i
		 WHERE i.status NOT IN (?, ?) AND i.due_at IS NOT NULL AND i.due_at < ?
		   AND NOT EXISTS (SELECT 1 FROM payment_schedule_items s WHERE s.invoice_id = i.id)`,
		domain.TriggerStatusTriggered,
		before,
		domain.InvoiceStatusPaid,
		domain.InvoiceStatusOverdue,
		before,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.ScheduleItem, error) {
	var items []domain.ScheduleItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM payment_schedule_items
		 WHERE invoice_id = ?
		 ORDER BY sort_order ASC, id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListItemsByInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]domain.ScheduleItem, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	var items []domain.ScheduleItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM payment_schedule_items
		 WHERE invoice_id IN ?
		 ORDER BY invoice_id ASC, sort_order ASC, id ASC`,
		invoiceIDs,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.ScheduleItem) error {
	for i := range items {
		item := &items[i]
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_schedule_items (`+itemColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.InvoiceID,
			item.MilestoneName,
			item.Percentage,
			item.Amount,
			item.Trigger,
			item.TriggerStatus,
			item.TriggerDate,
			item.OffsetDays,
			item.DueDate,
			item.PaidAmount,
			item.PaidDate,
			item.SortOrder,
			item.CreatedAt,
			item.UpdatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) UpdateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_schedule_items
		 SET milestone_name = ?, percentage = ?, amount = ?, trigger_type = ?, trigger_status = ?,
			trigger_date = ?, offset_days = ?, due_date = ?, paid_amount = ?, paid_date = ?,
			sort_order = ?, updated_at = ?
		 WHERE id = ? AND invoice_id = ?`,
		item.MilestoneName,
		item.Percentage,
		item.Amount,
		item.Trigger,
		item.TriggerStatus,
		item.TriggerDate,
		item.OffsetDays,
		item.DueDate,
		item.PaidAmount,
		item.PaidDate,
		item.SortOrder,
		item.UpdatedAt,
		item.ID,
		item.InvoiceID,
	).Error
}

func (r *repo) DeleteItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM payment_schedule_items WHERE invoice_id = ? AND id IN ?`,
		invoiceID,
		ids,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.InvoiceID,
		payment.Date,
		payment.Amount,
		payment.Method,
		payment.Reference,
		payment.Notes,
		payment.Metadata,
		payment.CreatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, invoiceID, paymentID snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = ? AND id = ?`,
		invoiceID,
		paymentID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE invoice_id = ?
		 ORDER BY payment_date ASC, id ASC`,
		invoiceID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListPaymentsByInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]domain.Payment, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE invoice_id IN ?
		 ORDER BY invoice_id ASC, payment_date ASC, id ASC`,
		invoiceIDs,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) DeletePayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM payments WHERE id = ?`, paymentID).Error
}

func (r *repo) InsertAllocations(ctx context.Context, db *gorm.DB, allocations []domain.PaymentAllocation) error {
	for _, allocation := range allocations {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_allocations (id, payment_id, schedule_item_id, amount, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			allocation.ID,
			allocation.PaymentID,
			allocation.ScheduleItemID,
			allocation.Amount,
			allocation.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListAllocations(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) ([]domain.PaymentAllocation, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	var allocations []domain.PaymentAllocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, schedule_item_id, amount, created_at
		 FROM payment_allocations
		 WHERE payment_id IN ?
		 ORDER BY payment_id ASC, id ASC`,
		paymentIDs,
	).Scan(&allocations).Error
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repo) DeleteAllocations(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM payment_allocations WHERE payment_id = ?`, paymentID).Error
}

func (r *repo) InsertAttachments(ctx context.Context, db *gorm.DB, attachments []domain.PaymentAttachment) error {
	for _, attachment := range attachments {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_attachments (id, payment_id, file_name, content_type, size_bytes, storage_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			attachment.ID,
			attachment.PaymentID,
			attachment.FileName,
			attachment.ContentType,
			attachment.SizeBytes,
			attachment.StorageKey,
			attachment.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListAttachments(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) ([]domain.PaymentAttachment, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	var attachments []domain.PaymentAttachment
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, file_name, content_type, size_bytes, storage_key, created_at
		 FROM payment_attachments
		 WHERE payment_id IN ?
		 ORDER BY payment_id ASC, id ASC`,
		paymentIDs,
	).Scan(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

func (r *repo) DeleteAttachments(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM payment_attachments WHERE payment_id = ?`, paymentID).Error
}

// InsertTriggerEvent fails with a duplicate key error when the same event was
// already received for the invoice.
func (r *repo) InsertTriggerEvent(ctx context.Context, db *gorm.DB, event *domain.TriggerEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO trigger_events (id, invoice_id, trigger_type, event_date, applied, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.InvoiceID,
		event.Trigger,
		event.EventDate,
		event.Applied,
		event.ReceivedAt,
	).Error
}

// FindTriggerEvent returns the stored event for the invoice, trigger and the
// day of eventDate, or nil.
func (r *repo) FindTriggerEvent(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, trigger domain.Trigger, eventDate time.Time) (*domain.TriggerEvent, error) {
	start := eventDate.UTC().Truncate(24 * time.Hour)
	var event domain.TriggerEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, trigger_type, event_date, applied, received_at
		 FROM trigger_events
		 WHERE invoice_id = ? AND trigger_type = ? AND event_date >= ? AND event_date < ?
		 LIMIT 1`,
		invoiceID,
		trigger,
		start,
		start.Add(24*time.Hour),
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) UpdateTriggerEventApplied(ctx context.Context, db *gorm.DB, eventID snowflake.ID, applied int) error {
	return db.WithContext(ctx).Exec(
		`UPDATE trigger_events SET applied = ? WHERE id = ?`,
		applied,
		eventID,
	).Error
}
