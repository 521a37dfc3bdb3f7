// Package domain contains persistence models and contracts for invoice payment schedules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus is the derived settlement state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// InvoiceStatuses lists every status in display order.
func InvoiceStatuses() []InvoiceStatus {
	return []InvoiceStatus{
		InvoiceStatusUnpaid,
		InvoiceStatusPartial,
		InvoiceStatusPaid,
		InvoiceStatusOverdue,
	}
}

// Invoice is a supplier invoice. Amount is immutable once issued; PaidAmount,
// Balance and Status are recomputed after every schedule or payment mutation.
type Invoice struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	InvoiceNumber    string            `json:"invoice_number" gorm:"type:text;not null;uniqueIndex:ux_invoices_number"`
	PurchaseOrderRef string            `json:"purchase_order_ref" gorm:"type:text"`
	SupplierName     string            `json:"supplier_name" gorm:"type:text"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	Amount           int64             `json:"amount" gorm:"not null"`
	PaidAmount       int64             `json:"paid_amount" gorm:"not null;default:0"`
	Balance          int64             `json:"balance" gorm:"not null;default:0"`
	Status           InvoiceStatus     `json:"status" gorm:"type:text;not null;default:'unpaid';index"`
	IssuedAt         time.Time         `json:"issued_at" gorm:"not null"`
	DueAt            *time.Time        `json:"due_at"`
	Metadata         datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// ScheduleItem is one milestone of an invoice payment schedule.
type ScheduleItem struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID     snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	MilestoneName string          `json:"milestone_name" gorm:"type:text;not null"`
	Percentage    decimal.Decimal `json:"percentage" gorm:"type:numeric(5,2);not null"`
	Amount        int64           `json:"amount" gorm:"not null"`
	Trigger       Trigger         `json:"trigger" gorm:"column:trigger_type;type:text;not null"`
	TriggerStatus TriggerStatus   `json:"trigger_status" gorm:"type:text;not null;default:'pending'"`
	TriggerDate   *time.Time      `json:"trigger_date"`
	OffsetDays    int             `json:"offset_days" gorm:"not null;default:0"`
	DueDate       *time.Time      `json:"due_date" gorm:"index"`
	PaidAmount    int64           `json:"paid_amount" gorm:"not null;default:0"`
	PaidDate      *time.Time      `json:"paid_date"`
	SortOrder     int             `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (ScheduleItem) TableName() string { return "payment_schedule_items" }

// Remaining is the unpaid part of the milestone.
func (s ScheduleItem) Remaining() int64 {
	remaining := s.Amount - s.PaidAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Payment is a recorded payment against an invoice.
type Payment struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	InvoiceID snowflake.ID      `json:"invoice_id" gorm:"not null;index"`
	Date      time.Time         `json:"date" gorm:"column:payment_date;not null"`
	Amount    int64             `json:"amount" gorm:"not null"`
	Method    PaymentMethod     `json:"method" gorm:"type:text;not null"`
	Reference string            `json:"reference" gorm:"type:text"`
	Notes     string            `json:"notes" gorm:"type:text"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`

	ScheduleItemIDs []snowflake.ID      `json:"schedule_item_ids" gorm:"-"`
	Allocations     []PaymentAllocation `json:"allocations,omitempty" gorm:"-"`
	Attachments     []PaymentAttachment `json:"attachments,omitempty" gorm:"-"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// PaymentAllocation is the credit a payment applied to one milestone.
// It is the only record used to reverse that credit.
type PaymentAllocation struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID      snowflake.ID `json:"payment_id" gorm:"not null;index;uniqueIndex:ux_payment_allocations_item,priority:1"`
	ScheduleItemID snowflake.ID `json:"schedule_item_id" gorm:"not null;index;uniqueIndex:ux_payment_allocations_item,priority:2"`
	Amount         int64        `json:"amount" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentAllocation) TableName() string { return "payment_allocations" }

// PaymentAttachment describes a file stored outside the database for a payment.
type PaymentAttachment struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID   snowflake.ID `json:"payment_id" gorm:"not null;index"`
	FileName    string       `json:"file_name" gorm:"type:text;not null"`
	ContentType string       `json:"content_type" gorm:"type:text"`
	SizeBytes   int64        `json:"size_bytes" gorm:"not null;default:0"`
	StorageKey  string       `json:"storage_key" gorm:"type:text;not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentAttachment) TableName() string { return "payment_attachments" }

// TriggerEvent records a business event received from the trigger feed.
type TriggerEvent struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID  snowflake.ID `json:"invoice_id" gorm:"not null;uniqueIndex:ux_trigger_events_dedupe,priority:1"`
	Trigger    Trigger      `json:"trigger" gorm:"column:trigger_type;type:text;not null;uniqueIndex:ux_trigger_events_dedupe,priority:2"`
	EventDate  time.Time    `json:"event_date" gorm:"not null;uniqueIndex:ux_trigger_events_dedupe,priority:3"`
	Applied    int          `json:"applied" gorm:"not null;default:0"`
	ReceivedAt time.Time    `json:"received_at" gorm:"not null"`
}

// TableName sets the database table name.
func (TriggerEvent) TableName() string { return "trigger_events" }

// Portfolio is the fold of many invoices for a summary view.
type Portfolio struct {
	InvoiceCount int                   `json:"invoice_count"`
	TotalAmount  int64                 `json:"total_amount"`
	TotalPaid    int64                 `json:"total_paid"`
	Outstanding  int64                 `json:"outstanding"`
	OverdueCount int                   `json:"overdue_count"`
	ByStatus     map[InvoiceStatus]int `json:"by_status"`
}
