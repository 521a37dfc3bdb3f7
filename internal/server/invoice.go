package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/procura/internal/invoice/domain"
)

type createInvoiceRequest struct {
	InvoiceNumber    string         `json:"invoice_number" binding:"required"`
	PurchaseOrderRef string         `json:"purchase_order_ref"`
	SupplierName     string         `json:"supplier_name"`
	Currency         string         `json:"currency" binding:"required,len=3"`
	Amount           int64          `json:"amount" binding:"required,gt=0"`
	IssuedAt         string         `json:"issued_at"`
	DueAt            string         `json:"due_at"`
	TermsCode        string         `json:"terms_code"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	issuedAt, err := parseOptionalTime(req.IssuedAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("issued_at", "invalid_issued_at", "invalid issued_at"))
		return
	}
	dueAt, err := parseOptionalTime(req.DueAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("due_at", "invalid_due_at", "invalid due_at"))
		return
	}

	create := invoicedomain.CreateInvoiceRequest{
		InvoiceNumber:    req.InvoiceNumber,
		PurchaseOrderRef: req.PurchaseOrderRef,
		SupplierName:     req.SupplierName,
		Currency:         req.Currency,
		Amount:           req.Amount,
		DueAt:            dueAt,
		TermsCode:        strings.TrimSpace(req.TermsCode),
		Metadata:         req.Metadata,
	}
	if issuedAt != nil {
		create.IssuedAt = *issuedAt
	}

	view, err := s.invoiceSvc.CreateInvoice(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": view})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := s.invoiceSvc.GetInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) InvoiceSummary(c *gin.Context) {
	portfolio, err := s.invoiceSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": portfolio})
}

type milestoneRequest struct {
	ID            string           `json:"id"`
	MilestoneName string           `json:"milestone_name"`
	Percentage    *decimal.Decimal `json:"percentage"`
	Amount        *int64           `json:"amount" binding:"omitempty,gte=0"`
	Trigger       string           `json:"trigger"`
	OffsetDays    int              `json:"offset_days" binding:"gte=0"`
	Deleted       bool             `json:"deleted"`
}

type saveScheduleRequest struct {
	Milestones []milestoneRequest `json:"milestones" binding:"required,dive"`
}

// SaveSchedule takes the full desired schedule in display order.
func (s *Server) SaveSchedule(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req saveScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	milestones := make([]invoicedomain.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		id, err := parseOptionalSnowflakeID(m.ID)
		if err != nil {
			AbortWithError(c, newValidationError("milestones.id", "invalid_id", "invalid milestone id"))
			return
		}
		input := invoicedomain.MilestoneInput{
			MilestoneName: m.MilestoneName,
			Percentage:    m.Percentage,
			Amount:        m.Amount,
			OffsetDays:    m.OffsetDays,
			Deleted:       m.Deleted,
		}
		if id != nil {
			input.ID = *id
		}
		if trimmed := strings.TrimSpace(m.Trigger); trimmed != "" {
			trigger, err := invoicedomain.ParseTrigger(trimmed)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			input.Trigger = trigger
		}
		milestones = append(milestones, input)
	}

	view, err := s.invoiceSvc.SaveSchedule(c.Request.Context(), invoiceID, milestones)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) MarkMilestone(c *gin.Context) {
	invoiceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(c, "item_id")
	if !ok {
		return
	}

	view, err := s.invoiceSvc.MarkManual(c.Request.Context(), invoiceID, itemID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListPaymentTerms(c *gin.Context) {
	if s.terms == nil {
		c.JSON(http.StatusOK, gin.H{"data": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.terms.All()})
}
