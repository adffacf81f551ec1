package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/stylora/stylora/internal/ledger/domain"
	"github.com/stylora/stylora/pkg/db/pagination"
	"gorm.io/datatypes"
)

type balanceResponse struct {
	Remaining   int64     `json:"remaining"`
	Used        int64     `json:"used"`
	Limit       int64     `json:"limit"`
	PercentUsed string    `json:"percent_used"`
	PeriodEnd   time.Time `json:"period_end"`
}

func toBalanceResponse(b ledgerdomain.Balance) balanceResponse {
	return balanceResponse{
		Remaining:   b.Remaining,
		Used:        b.Used,
		Limit:       b.Limit,
		PercentUsed: ledgerdomain.FormatPercent(b.PercentUsed),
		PeriodEnd:   b.PeriodEnd,
	}
}

// Deduct reserves tokens ahead of the paid generation call. A business
// rejection is 402 with the gap spelled out, not an error.
func (s *Server) Deduct(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req struct {
		Amount   int64             `json:"amount"`
		Metadata datatypes.JSONMap `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledgerSvc.TryDeduct(c.Request.Context(), ledgerdomain.DeductRequest{
		UserID:   userID,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !result.Committed {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"committed": false,
			"reason":    result.Reason,
			"remaining": result.Remaining,
			"required":  result.Required,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"committed": true,
		"remaining": result.Remaining,
	})
}

func (s *Server) Refund(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req struct {
		Amount   int64             `json:"amount"`
		Metadata datatypes.JSONMap `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.ledgerSvc.Refund(c.Request.Context(), ledgerdomain.RefundRequest{
		UserID:   userID,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toBalanceResponse(balance)})
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toBalanceResponse(balance)})
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		Kind string `form:"kind"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind := ledgerdomain.EventKind(strings.ToUpper(strings.TrimSpace(query.Kind)))
	switch kind {
	case "", ledgerdomain.EventKindDeduct, ledgerdomain.EventKindRefund:
	default:
		AbortWithError(c, newValidationError("kind", "invalid_kind", "invalid kind"))
		return
	}

	events, pageInfo, err := s.ledgerSvc.ListEvents(c.Request.Context(), ledgerdomain.ListEventsRequest{
		UserID:     userID,
		Kind:       kind,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "page_info": pageInfo})
}

func (s *Server) Reconcile(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	result, err := s.ledgerSvc.Reconcile(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
