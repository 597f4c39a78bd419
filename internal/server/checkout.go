package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	providerdomain "github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
)

type tokenCheckoutRequest struct {
	Package string `json:"package"`
}

func (s *Server) CreateTokenCheckout(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tokenCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	pkg := strings.TrimSpace(req.Package)
	if _, err := strconv.ParseInt(pkg, 10, 64); err != nil {
		AbortWithError(c, newValidationError("package", "invalid_package", "package must be a token amount"))
		return
	}

	session, err := s.paymentProvider.CreateTokenCheckout(c.Request.Context(), providerdomain.CheckoutRequest{
		AccountID:  account.ID,
		Email:      account.Email,
		CustomerID: stringValue(account.StripeCustomerID),
		Package:    pkg,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func (s *Server) CreateSubscriptionCheckout(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	session, err := s.paymentProvider.CreateSubscriptionCheckout(c.Request.Context(), providerdomain.CheckoutRequest{
		AccountID:  account.ID,
		Email:      account.Email,
		CustomerID: stringValue(account.StripeCustomerID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
