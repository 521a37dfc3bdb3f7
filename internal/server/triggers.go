package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/procura/internal/invoice/domain"
)

type triggerEventRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
	Trigger   string `json:"trigger" binding:"required"`
	EventDate string `json:"event_date"`
}

// ApplyTrigger consumes one business event from the trigger feed. Replays of
// the same (invoice, trigger, day) answer 200 with replayed set.
func (s *Server) ApplyTrigger(c *gin.Context) {
	var req triggerEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	invoiceID, err := parseOptionalSnowflakeID(req.InvoiceID)
	if err != nil || invoiceID == nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice_id"))
		return
	}
	trigger, err := invoicedomain.ParseTrigger(req.Trigger)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	eventDate, err := parseOptionalTime(req.EventDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("event_date", "invalid_event_date", "invalid event_date"))
		return
	}

	event := invoicedomain.TriggerEventRequest{
		InvoiceID: *invoiceID,
		Trigger:   trigger,
	}
	if eventDate != nil {
		event.EventDate = *eventDate
	}

	result, err := s.invoiceSvc.ApplyTrigger(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
