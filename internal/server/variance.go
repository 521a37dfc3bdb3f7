package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/procura/internal/variance"
)

type varianceRequest struct {
	Original       int64           `json:"original" binding:"gte=0"`
	Submitted      int64           `json:"submitted" binding:"gte=0"`
	OriginalLines  []variance.Line `json:"original_lines"`
	SubmittedLines []variance.Line `json:"submitted_lines"`
}

type varianceResponse struct {
	variance.Result
	Display string           `json:"display"`
	Report  *variance.Report `json:"report,omitempty"`
}

// CalculateVariance compares a supplier submission with the order. When
// lines are sent the totals come from the line level report.
func (s *Server) CalculateVariance(c *gin.Context) {
	var req varianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	if len(req.OriginalLines) == 0 && len(req.SubmittedLines) == 0 {
		result := variance.Calculate(req.Submitted, req.Original)
		c.JSON(http.StatusOK, gin.H{"data": varianceResponse{Result: result, Display: result.Display()}})
		return
	}

	report, err := variance.CalculateLines(req.OriginalLines, req.SubmittedLines)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": varianceResponse{
		Result:  report.Total,
		Display: report.Total.Display(),
		Report:  &report,
	}})
}
