package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stylora/stylora/internal/plan"
	subscriptiondomain "github.com/stylora/stylora/internal/subscription/domain"
)

type subscriptionResponse struct {
	ID          string     `json:"id"`
	PlanType    plan.Type  `json:"plan_type"`
	Status      string     `json:"status"`
	TokensLimit int64      `json:"tokens_limit"`
	TokensUsed  int64      `json:"tokens_used"`
	Remaining   int64      `json:"remaining"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toSubscriptionResponse(sub subscriptiondomain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:          sub.ID.String(),
		PlanType:    sub.PlanType,
		Status:      string(sub.Status),
		TokensLimit: sub.TokensLimit,
		TokensUsed:  sub.TokensUsed,
		Remaining:   sub.Remaining(),
		PeriodStart: sub.PeriodStart,
		PeriodEnd:   sub.PeriodEnd,
		CancelledAt: sub.CancelledAt,
	}
}

func (s *Server) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.subscriptionSvc.Plans(c.Request.Context())})
}

// EnsureSubscription provisions the free tier for a new account. Safe
// to call again; an existing subscription is returned unchanged.
func (s *Server) EnsureSubscription(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.EnsureSubscription(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(sub)})
}

func (s *Server) GetSubscription(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(sub)})
}

func (s *Server) ActivateSubscription(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req struct {
		PlanID string `json:"plan_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID := plan.Type(strings.TrimSpace(req.PlanID))
	if planID == "" {
		AbortWithError(c, newValidationError("plan_id", "required", "plan_id is required"))
		return
	}

	sub, err := s.subscriptionSvc.Activate(c.Request.Context(), subscriptiondomain.ActivateRequest{
		UserID: userID,
		PlanID: planID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(sub)})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(sub)})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Reactivate(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(sub)})
}
