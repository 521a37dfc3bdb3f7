package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/procura/internal/invoice/domain"
)

type attachmentRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes" binding:"gte=0"`
}

type recordPaymentRequest struct {
	Amount          int64               `json:"amount"`
	Date            string              `json:"date"`
	Method          string              `json:"method"`
	Reference       string              `json:"reference"`
	Notes           string              `json:"notes"`
	ScheduleItemIDs []string            `json:"schedule_item_ids"`
	Attachments     []attachmentRequest `json:"attachments" binding:"dive"`
	Metadata        map[string]any      `json:"metadata"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	date, err := parseOptionalTime(req.Date, false)
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}
	itemIDs, err := parseSnowflakeIDs(req.ScheduleItemIDs)
	if err != nil {
		AbortWithError(c, newValidationError("schedule_item_ids", "invalid_schedule_item_ids", "invalid schedule item id"))
		return
	}
	method, err := invoicedomain.ParsePaymentMethod(req.Method)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record := invoicedomain.RecordPaymentRequest{
		InvoiceID:       invoiceID,
		Amount:          req.Amount,
		Method:          method,
		Reference:       req.Reference,
		Notes:           req.Notes,
		ScheduleItemIDs: itemIDs,
		Attachments:     toAttachmentInputs(req.Attachments),
		Metadata:        req.Metadata,
	}
	if date != nil {
		record.Date = *date
	}

	payment, err := s.invoiceSvc.RecordPayment(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

// DeletePayment requires confirmation_reference to equal the stored
// reference exactly; it is passed through untrimmed.
func (s *Server) DeletePayment(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "payment_id")
	if !ok {
		return
	}

	confirmation, present := c.GetQuery("confirmation_reference")
	if !present {
		AbortWithError(c, newValidationError("confirmation_reference", "required", "confirmation_reference is required"))
		return
	}

	deleted, err := s.invoiceSvc.DeletePayment(c.Request.Context(), invoiceID, paymentID, confirmation)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": deleted}})
}

type addAttachmentsRequest struct {
	Attachments []attachmentRequest `json:"attachments" binding:"required,min=1,dive"`
}

func (s *Server) AddAttachments(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "payment_id")
	if !ok {
		return
	}

	var req addAttachmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	created, err := s.invoiceSvc.AddAttachments(c.Request.Context(), invoiceID, paymentID, toAttachmentInputs(req.Attachments))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": created})
}

func toAttachmentInputs(in []attachmentRequest) []invoicedomain.AttachmentInput {
	out := make([]invoicedomain.AttachmentInput, 0, len(in))
	for _, a := range in {
		out = append(out, invoicedomain.AttachmentInput{
			FileName:    a.FileName,
			ContentType: a.ContentType,
			SizeBytes:   a.SizeBytes,
		})
	}
	return out
}
