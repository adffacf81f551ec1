package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/stylora/stylora/internal/entitlement/domain"
)

func (s *Server) GetEffectiveCap(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	kind := entitlementdomain.ResourceKind(strings.TrimSpace(c.Param("resource")))

	limit, err := s.entitlementSvc.EffectiveCap(c.Request.Context(), userID, kind)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": limit})
}

func (s *Server) CanCreate(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}
	kind := entitlementdomain.ResourceKind(strings.TrimSpace(c.Param("resource")))

	currentCount, err := strconv.Atoi(c.DefaultQuery("current_count", "0"))
	if err != nil || currentCount < 0 {
		AbortWithError(c, newValidationError("current_count", "invalid_current_count", "invalid current_count"))
		return
	}

	allowed, limit, err := s.entitlementSvc.CanCreate(c.Request.Context(), userID, kind, currentCount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed": allowed,
		"cap":     limit,
	})
}

func (s *Server) ListAddOns(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	addOns, err := s.entitlementSvc.ListAddOns(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": addOns})
}

func (s *Server) PurchaseAddOn(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	var req struct {
		ResourceKind   string `json:"resource_kind"`
		Quantity       int    `json:"quantity"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.entitlementSvc.PurchaseAddOn(c.Request.Context(), entitlementdomain.PurchaseAddOnRequest{
		UserID:         userID,
		ResourceKind:   entitlementdomain.ResourceKind(strings.TrimSpace(req.ResourceKind)),
		Quantity:       req.Quantity,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": result.AddOn, "created": result.Created})
}

func (s *Server) CancelAddOn(c *gin.Context) {
	userID, ok := s.userID(c)
	if !ok {
		return
	}

	addOnID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	addOn, err := s.entitlementSvc.CancelAddOn(c.Request.Context(), userID, addOnID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": addOn})
}
