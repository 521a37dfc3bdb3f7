package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Invoice, error)
	ListInvoices(ctx context.Context, db *gorm.DB) ([]Invoice, error)
	UpdateInvoiceTotals(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListSweepCandidates(ctx context.Context, db *gorm.DB, before time.Time) ([]snowflake.ID, error)

	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]ScheduleItem, error)
	ListItemsByInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]ScheduleItem, error)
	InsertItems(ctx context.Context, db *gorm.DB, items []ScheduleItem) error
	UpdateItem(ctx context.Context, db *gorm.DB, item *ScheduleItem) error
	DeleteItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, ids []snowflake.ID) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, invoiceID, paymentID snowflake.ID) (*Payment, error)
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
	ListPaymentsByInvoices(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) ([]Payment, error)
	DeletePayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) error

	InsertAllocations(ctx context.Context, db *gorm.DB, allocations []PaymentAllocation) error
	ListAllocations(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) ([]PaymentAllocation, error)
	DeleteAllocations(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) error

	InsertAttachments(ctx context.Context, db *gorm.DB, attachments []PaymentAttachment) error
	ListAttachments(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID) ([]PaymentAttachment, error)
	DeleteAttachments(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) error

	InsertTriggerEvent(ctx context.Context, db *gorm.DB, event *TriggerEvent) error
	FindTriggerEvent(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, trigger Trigger, eventDate time.Time) (*TriggerEvent, error)
	UpdateTriggerEventApplied(ctx context.Context, db *gorm.DB, eventID snowflake.ID, applied int) error
}
