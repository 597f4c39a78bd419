package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
)

type adjustRequest struct {
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

func (s *Server) AdjustAccount(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.Adjustment{
		AccountID: id,
		Delta:     req.Delta,
		Reason:    strings.TrimSpace(req.Reason),
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) DeactivateAccount(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	if err := s.accountSvc.Deactivate(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type recoverRequest struct {
	OlderThanSeconds int64 `json:"older_than_seconds"`
}

// RecoverGenerations runs the recovery sweep on demand.
func (s *Server) RecoverGenerations(c *gin.Context) {
	var req recoverRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.OlderThanSeconds < 0 {
		AbortWithError(c, newValidationError("older_than_seconds", "invalid_older_than", "older_than_seconds must not be negative"))
		return
	}

	olderThan := s.policy.Get().RequestTimeout
	if req.OlderThanSeconds > 0 {
		olderThan = time.Duration(req.OlderThanSeconds) * time.Second
	}

	report, err := s.generationSvc.RecoverStale(c.Request.Context(), s.clock.Now().Add(-olderThan))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
