package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateInvoiceRequest struct {
	InvoiceNumber    string
	PurchaseOrderRef string
	SupplierName     string
	Currency         string
	Amount           int64
	IssuedAt         time.Time
	DueAt            *time.Time
	TermsCode        string
	Metadata         map[string]any
}

// MilestoneInput is one row of a schedule save. A zero ID adds a milestone.
// Percentage wins over Amount when both are set.
type MilestoneInput struct {
	ID            snowflake.ID
	MilestoneName string
	Percentage    *decimal.Decimal
	Amount        *int64
	Trigger       Trigger
	OffsetDays    int
	Deleted       bool
}

type AttachmentInput struct {
	FileName    string
	ContentType string
	SizeBytes   int64
}

type RecordPaymentRequest struct {
	InvoiceID       snowflake.ID
	Amount          int64
	Date            time.Time
	Method          PaymentMethod
	Reference       string
	Notes           string
	ScheduleItemIDs []snowflake.ID
	Attachments     []AttachmentInput
	Metadata        map[string]any
}

type TriggerEventRequest struct {
	InvoiceID snowflake.ID
	Trigger   Trigger
	EventDate time.Time
}

// TriggerResult reports how many milestones an event moved to triggered.
// Replayed is set when the same event was already applied.
type TriggerResult struct {
	Applied  int  `json:"applied"`
	Replayed bool `json:"replayed"`
}

// MilestoneTimeline is the display state of a milestone.
type MilestoneTimeline struct {
	State       string     `json:"state"`
	Label       string     `json:"label"`
	TriggerDate *time.Time `json:"trigger_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	PaidDate    *time.Time `json:"paid_date,omitempty"`
}

type MilestoneView struct {
	ScheduleItem
	Remaining int64             `json:"remaining"`
	Settled   bool              `json:"settled"`
	PastDue   bool              `json:"past_due"`
	Timeline  MilestoneTimeline `json:"timeline"`
}

// InvoiceView is the read model consumed by presentation layers.
type InvoiceView struct {
	Invoice
	Schedule      []MilestoneView `json:"schedule"`
	Payments      []Payment       `json:"payments"`
	ScheduledPaid int64           `json:"scheduled_paid"`
	Unallocated   int64           `json:"unallocated"`
	OverdueItems  int             `json:"overdue_items"`
}

type Service interface {
	CreateInvoice(context.Context, CreateInvoiceRequest) (*InvoiceView, error)
	GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*InvoiceView, error)
	Summary(context.Context) (Portfolio, error)
	SaveSchedule(ctx context.Context, invoiceID snowflake.ID, milestones []MilestoneInput) (*InvoiceView, error)
	RecordPayment(context.Context, RecordPaymentRequest) (*Payment, error)
	DeletePayment(ctx context.Context, invoiceID, paymentID snowflake.ID, confirmationReference string) (bool, error)
	AddAttachments(ctx context.Context, invoiceID, paymentID snowflake.ID, attachments []AttachmentInput) ([]PaymentAttachment, error)
	ApplyTrigger(context.Context, TriggerEventRequest) (TriggerResult, error)
	MarkManual(ctx context.Context, invoiceID, itemID snowflake.ID) (*InvoiceView, error)
	SweepOverdue(context.Context) (int, error)
}
