package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/yardcraft/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 16

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhookSvc.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		// Retrying a delivery for an account that does not exist cannot succeed.
		if errors.Is(err, paymentdomain.ErrInvalidAccount) {
			logger.FromContext(c.Request.Context()).Warn("webhook for unknown account acknowledged", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": string(paymentdomain.OutcomeIgnored)})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}
