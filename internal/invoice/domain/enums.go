package domain

import "strings"

// Trigger is the business event that starts a milestone's due-date countdown.
type Trigger string

const (
	TriggerPOConfirmed      Trigger = "po_confirmed"
	TriggerInspectionPassed Trigger = "inspection_passed"
	TriggerCustomsCleared   Trigger = "customs_cleared"
	TriggerShipmentDeparted Trigger = "shipment_departed"
	TriggerGoodsReceived    Trigger = "goods_received"
	TriggerManual           Trigger = "manual"
	TriggerUpfront          Trigger = "upfront"
)

// Triggers lists every trigger in workflow order.
func Triggers() []Trigger {
	return []Trigger{
		TriggerUpfront,
		TriggerPOConfirmed,
		TriggerInspectionPassed,
		TriggerShipmentDeparted,
		TriggerCustomsCleared,
		TriggerGoodsReceived,
		TriggerManual,
	}
}

// ParseTrigger normalizes and validates a trigger name.
func ParseTrigger(value string) (Trigger, error) {
	trigger := Trigger(strings.ToLower(strings.TrimSpace(value)))
	if !trigger.Valid() {
		return "", ErrInvalidTrigger
	}
	return trigger, nil
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerPOConfirmed,
		TriggerInspectionPassed,
		TriggerCustomsCleared,
		TriggerShipmentDeparted,
		TriggerGoodsReceived,
		TriggerManual,
		TriggerUpfront:
		return true
	default:
		return false
	}
}

// External reports whether t may arrive through the trigger feed.
// Upfront fires at issue time and manual only through an explicit mark.
func (t Trigger) External() bool {
	switch t {
	case TriggerPOConfirmed,
		TriggerInspectionPassed,
		TriggerCustomsCleared,
		TriggerShipmentDeparted,
		TriggerGoodsReceived:
		return true
	default:
		return false
	}
}

// Label returns a human readable name.
func (t Trigger) Label() string {
	switch t {
	case TriggerPOConfirmed:
		return "PO confirmed"
	case TriggerInspectionPassed:
		return "Inspection passed"
	case TriggerCustomsCleared:
		return "Customs cleared"
	case TriggerShipmentDeparted:
		return "Shipment departed"
	case TriggerGoodsReceived:
		return "Goods received"
	case TriggerManual:
		return "Manual"
	case TriggerUpfront:
		return "Upfront"
	default:
		return string(t)
	}
}

// TriggerStatus is the lifecycle state of a milestone.
type TriggerStatus string

const (
	TriggerStatusPending   TriggerStatus = "pending"
	TriggerStatusTriggered TriggerStatus = "triggered"
	TriggerStatusOverdue   TriggerStatus = "overdue"
)

// Valid reports whether s is a known trigger status.
func (s TriggerStatus) Valid() bool {
	switch s {
	case TriggerStatusPending, TriggerStatusTriggered, TriggerStatusOverdue:
		return true
	default:
		return false
	}
}

// PaymentMethod is how a payment was made.
type PaymentMethod string

const (
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodWireTransfer   PaymentMethod = "wire_transfer"
	PaymentMethodLetterOfCredit PaymentMethod = "letter_of_credit"
	PaymentMethodCheck          PaymentMethod = "check"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodCash           PaymentMethod = "cash"
	PaymentMethodOther          PaymentMethod = "other"
)

// ParsePaymentMethod normalizes and validates a payment method. Empty input
// defaults to bank transfer.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return PaymentMethodBankTransfer, nil
	}
	method := PaymentMethod(value)
	if !method.Valid() {
		return "", ErrInvalidPaymentMethod
	}
	return method, nil
}

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodBankTransfer,
		PaymentMethodWireTransfer,
		PaymentMethodLetterOfCredit,
		PaymentMethodCheck,
		PaymentMethodCard,
		PaymentMethodCash,
		PaymentMethodOther:
		return true
	default:
		return false
	}
}
