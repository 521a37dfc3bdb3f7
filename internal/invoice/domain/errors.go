package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInvoice       = errors.New("invalid_invoice")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidInvoiceNumber = errors.New("invalid_invoice_number")
	ErrInvoiceNumberTaken   = errors.New("invoice_number_taken")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrInvalidPaymentDate   = errors.New("invalid_payment_date")
	ErrInvalidTrigger       = errors.New("invalid_trigger")
	ErrTriggerNotExternal   = errors.New("trigger_not_external")
	ErrInvalidAttachment    = errors.New("invalid_attachment")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrMilestoneNotFound    = errors.New("milestone_not_found")
	ErrLastMilestone        = errors.New("last_milestone")
	ErrMilestoneHasPayments = errors.New("milestone_has_payments")
	ErrMilestoneNotManual   = errors.New("milestone_not_manual")
	ErrUnknownPaymentTerms  = errors.New("unknown_payment_terms")
)

// ScheduleInvalidError reports a schedule that cannot be committed.
// Nothing is persisted when it is returned.
type ScheduleInvalidError struct {
	Total  decimal.Decimal
	Reason string
}

func (e *ScheduleInvalidError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("schedule_invalid: %s (total %s%%)", e.Reason, e.Total.StringFixed(2))
	}
	return fmt.Sprintf("schedule_invalid: total %s%% must equal 100%%", e.Total.StringFixed(2))
}

// Payment validation rules.
const (
	RuleAmountNotPositive           = "amount_not_positive"
	RuleAmountExceedsBalance        = "amount_exceeds_balance"
	RuleMilestoneSelectionRequired  = "milestone_selection_required"
	RuleUnknownMilestone            = "unknown_milestone"
	RuleNothingOutstandingSelection = "nothing_outstanding_on_selection"
	RuleAmountExceedsSelection      = "amount_exceeds_selection"
)

// PaymentValidationError names the payment precondition that was violated.
type PaymentValidationError struct {
	Rule   string
	Detail string
}

func (e *PaymentValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("payment_invalid: %s: %s", e.Rule, e.Detail)
	}
	return "payment_invalid: " + e.Rule
}

// AllocationInvariantError signals a broken allocation invariant. Validated
// input never produces it.
type AllocationInvariantError struct {
	Detail string
}

func (e *AllocationInvariantError) Error() string {
	return "allocation_invariant: " + e.Detail
}

// ConfirmationMismatchError is returned when the confirmation reference does
// not exactly equal the stored payment reference.
type ConfirmationMismatchError struct {
	PaymentID snowflake.ID
}

func (e *ConfirmationMismatchError) Error() string {
	return fmt.Sprintf("confirmation_mismatch: payment %s", e.PaymentID)
}

// UndeletablePaymentError is returned for payments stored without a reference.
type UndeletablePaymentError struct {
	PaymentID snowflake.ID
}

func (e *UndeletablePaymentError) Error() string {
	return fmt.Sprintf("payment_undeletable: payment %s has no reference", e.PaymentID)
}
