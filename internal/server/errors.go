package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/procura/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/procura/internal/invoice/domain"
	"github.com/smallbiznis/procura/internal/invoicelock"
	"github.com/smallbiznis/procura/internal/variance"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels are input errors reported as 400 with their own code.
// Order matters only for wrapped errors matching more than one entry.
var validationSentinels = []error{
	ErrInvalidRequest,
	invoicedomain.ErrInvalidInvoice,
	invoicedomain.ErrInvalidAmount,
	invoicedomain.ErrInvalidCurrency,
	invoicedomain.ErrInvalidInvoiceNumber,
	invoicedomain.ErrInvalidPaymentMethod,
	invoicedomain.ErrInvalidPaymentDate,
	invoicedomain.ErrInvalidTrigger,
	invoicedomain.ErrTriggerNotExternal,
	invoicedomain.ErrInvalidAttachment,
	invoicedomain.ErrUnknownPaymentTerms,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	variance.ErrEmptySKU,
	variance.ErrDuplicateSKU,
	variance.ErrNegativeValue,
	variance.ErrValueTooLarge,
}

var validationFields = map[string]string{
	"invalid_request":        "request",
	"invalid_invoice":        "invoice",
	"trigger_not_external":   "trigger",
	"unknown_payment_terms":  "terms_code",
	"invalid_page_token":     "page_token",
	"invalid_time_range":     "start_at",
	"empty_sku":              "sku",
	"duplicate_sku":          "sku",
	"negative_value":         "lines",
	"value_too_large":        "lines",
	"invalid_payment_method": "method",
	"invalid_payment_date":   "date",
	"invalid_invoice_number": "invoice_number",
}

var registerValidationOnce sync.Once

// registerValidation makes binding errors report JSON field names.
func registerValidation() {
	registerValidationOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return field.Name
		})
	})
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindingError converts a gin binding failure into field level errors.
func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: bindingMessage(fe),
		})
	}
	return &ValidationErrors{Errors: out}
}

func bindingMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt", "gte", "lt", "lte", "min", "max", "len":
		return fe.Field() + " must satisfy " + fe.Tag() + "=" + fe.Param()
	default:
		return "invalid value"
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var scheduleErr *invoicedomain.ScheduleInvalidError
	if errors.As(err, &scheduleErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "schedule_invalid",
			Message: scheduleErr.Error(),
			Errors: []ValidationError{{
				Field:   "milestones",
				Code:    "total_" + scheduleErr.Total.StringFixed(2),
				Message: scheduleErr.Error(),
			}},
		}
	}

	var paymentErr *invoicedomain.PaymentValidationError
	if errors.As(err, &paymentErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "payment_invalid",
			Message: paymentErr.Error(),
			Errors: []ValidationError{{
				Field:   paymentRuleField(paymentErr.Rule),
				Code:    paymentErr.Rule,
				Message: paymentErr.Error(),
			}},
		}
	}

	var mismatchErr *invoicedomain.ConfirmationMismatchError
	if errors.As(err, &mismatchErr) {
		return http.StatusConflict, errorPayload{
			Type:    "confirmation_mismatch",
			Message: "confirmation reference does not match the payment reference",
		}
	}

	var undeletableErr *invoicedomain.UndeletablePaymentError
	if errors.As(err, &undeletableErr) {
		return http.StatusConflict, errorPayload{
			Type:    "payment_undeletable",
			Message: "payment has no reference and cannot be deleted",
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, invoicedomain.ErrInvoiceNumberTaken),
		errors.Is(err, invoicedomain.ErrLastMilestone),
		errors.Is(err, invoicedomain.ErrMilestoneHasPayments),
		errors.Is(err, invoicedomain.ErrMilestoneNotManual):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, invoicelock.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code written to request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrPaymentNotFound),
		errors.Is(err, invoicedomain.ErrMilestoneNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if field, ok := validationFields[code]; ok {
		return field
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "trigger_not_external":
		return "trigger is not fed by external events"
	case "unknown_payment_terms":
		return "unknown payment terms"
	case "invalid_payment_date":
		return "payment date cannot be in the future"
	default:
		return "invalid value"
	}
}

func paymentRuleField(rule string) string {
	switch rule {
	case invoicedomain.RuleMilestoneSelectionRequired,
		invoicedomain.RuleUnknownMilestone,
		invoicedomain.RuleNothingOutstandingSelection:
		return "schedule_item_ids"
	default:
		return "amount"
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNumberTaken):
		return "invoice number already exists"
	case errors.Is(err, invoicedomain.ErrLastMilestone):
		return "an invoice keeps at least one milestone"
	case errors.Is(err, invoicedomain.ErrMilestoneHasPayments):
		return "milestone has payments"
	case errors.Is(err, invoicedomain.ErrMilestoneNotManual):
		return "milestone is not manually triggered"
	default:
		return "conflict"
	}
}
