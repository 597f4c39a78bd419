package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/auth"
	"github.com/smallbiznis/yardcraft/internal/authorization"
	"github.com/smallbiznis/yardcraft/internal/funding"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/yardcraft/internal/payment/domain"
	providerdomain "github.com/smallbiznis/yardcraft/internal/providers/payment/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type     string             `json:"type"`
	Message  string             `json:"message"`
	Errors   []ValidationError  `json:"errors,omitempty"`
	Reasons  []string           `json:"reasons,omitempty"`
	Guidance []funding.Guidance `json:"guidance,omitempty"`
	Funding  *fundingShortfall  `json:"funding,omitempty"`
}

// fundingShortfall lets the client explain a denial when the chosen source
// holds some units but not enough for every requested area.
type fundingShortfall struct {
	Source    string `json:"source"`
	Available int64  `json:"available"`
	Requested int    `json:"requested"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErrs *ValidationErrors
	if errors.As(err, &vErrs) && vErrs != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErrs.Errors,
		}
	}

	var genErr *generationdomain.ValidationError
	if errors.As(err, &genErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   genErr.Field,
				Code:    "invalid_" + genErr.Field,
				Message: genErr.Message,
			}},
		}
	}

	var denied *funding.DeniedError
	if errors.As(err, &denied) {
		return http.StatusPaymentRequired, errorPayload{
			Type:     "authorization_denied",
			Message:  "no funding source available",
			Reasons:  denied.Reasons,
			Guidance: denied.Guidance,
		}
	}

	var shortfall *ledgerdomain.ShortfallError
	if errors.As(err, &shortfall) {
		guidance := []funding.Guidance{funding.GuidanceBuyTokens, funding.GuidanceSubscribe}
		if shortfall.Available > 0 {
			guidance = append([]funding.Guidance{funding.GuidanceReduceAreas}, guidance...)
		}
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: "not enough credit for this request",
			Reasons: []string{fmt.Sprintf("%s covers %d of %d requested areas",
				shortfall.Source, shortfall.Available, shortfall.Requested)},
			Guidance: guidance,
			Funding: &fundingShortfall{
				Source:    shortfall.Source.String(),
				Available: shortfall.Available,
				Requested: shortfall.Requested,
			},
		}
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, errorPayload{
			Type:     "insufficient_funds",
			Message:  "not enough credit for this request",
			Guidance: []funding.Guidance{funding.GuidanceBuyTokens, funding.GuidanceSubscribe},
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidJWT),
		errors.Is(err, auth.ErrExpiredJWT):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, accountdomain.ErrAlreadyDeactivated),
		errors.Is(err, ledgerdomain.ErrDuplicateReference):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   "request",
				Code:    err.Error(),
				Message: err.Error(),
			}},
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, generationdomain.ErrShuttingDown),
		errors.Is(err, providerdomain.ErrNotConfigured),
		errors.Is(err, paymentdomain.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, generationdomain.ErrInvalidRequest),
		errors.Is(err, accountdomain.ErrInvalidExternalID),
		errors.Is(err, accountdomain.ErrInvalidEmail),
		errors.Is(err, accountdomain.ErrInvalidAutoReload),
		errors.Is(err, accountdomain.ErrNoPaymentMethod),
		errors.Is(err, ledgerdomain.ErrInvalidUnits),
		errors.Is(err, ledgerdomain.ErrInvalidReference),
		errors.Is(err, providerdomain.ErrUnknownPackage),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidAccount),
		errors.Is(err, paymentdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, generationdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger the same classification the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "server", code
	}
	return "client", code
}
