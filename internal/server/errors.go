package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	dashboarddomain "github.com/smallbiznis/tontine/internal/dashboard/domain"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/smallbiznis/tontine/internal/providertoken"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/schedule"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
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
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

var validationErrors = []error{
	ErrInvalidRequest,
	agentdomain.ErrInvalidAgent,
	agentdomain.ErrInvalidName,
	agentdomain.ErrInvalidPhone,
	clientdomain.ErrInvalidClient,
	clientdomain.ErrInvalidAgent,
	clientdomain.ErrInvalidName,
	clientdomain.ErrInvalidPhone,
	subscriptiondomain.ErrInvalidSubscription,
	subscriptiondomain.ErrInvalidClient,
	subscriptiondomain.ErrInvalidAgent,
	subscriptiondomain.ErrClientAgentMismatch,
	schedule.ErrInvalidCycle,
	schedule.ErrInvalidAmount,
	schedule.ErrInvalidStartDate,
	obligationdomain.ErrInvalidObligation,
	obligationdomain.ErrInvalidDayNumbers,
	obligationdomain.ErrInvalidMarker,
	commissiondomain.ErrInvalidAgent,
	commissiondomain.ErrInvalidClient,
	commissiondomain.ErrInvalidAmount,
	enforcementdomain.ErrInvalidAgent,
	dashboarddomain.ErrInvalidAgent,
	paymentdomain.ErrInvalidRequest,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidPhone,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCommissionSet,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
}

var conflictErrors = []error{
	obligationdomain.ErrNotPaid,
	obligationdomain.ErrNoPendingObligations,
	obligationdomain.ErrNotPending,
	subscriptiondomain.ErrSubscriptionNotActive,
	clientdomain.ErrPhoneTaken,
	commissiondomain.ErrAlreadyPaid,
	paymentdomain.ErrDuplicateWebhook,
}

var notFoundErrors = []error{
	ErrNotFound,
	agentdomain.ErrAgentNotFound,
	clientdomain.ErrClientNotFound,
	subscriptiondomain.ErrSubscriptionNotFound,
	obligationdomain.ErrObligationNotFound,
	commissiondomain.ErrCommissionNotFound,
	paymentdomain.ErrAttemptNotFound,
	paymentdomain.ErrUnknownAttempt,
	paymentdomain.ErrProviderNotFound,
	gorm.ErrRecordNotFound,
}

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

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := matchAny(err, validationErrors); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "missing or invalid " + HeaderAgentID,
		}
	case errors.Is(err, agentdomain.ErrAgentBlocked):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Code:    agentdomain.ErrAgentBlocked.Error(),
			Message: "agent is blocked until overdue commissions are paid",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case matchAny(err, conflictErrors) != nil:
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    matchAny(err, conflictErrors).Error(),
			Message: "conflict",
		}
	case matchAny(err, notFoundErrors) != nil:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    matchAny(err, notFoundErrors).Error(),
			Message: "not found",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many payment requests",
		}
	case errors.Is(err, paymentdomain.ErrProviderUnavailable),
		errors.Is(err, providertoken.ErrCredentialRenewalFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_unavailable",
			Message: "payment provider unavailable",
		}
	case errors.Is(err, ratelimit.ErrLockTimeout):
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

// classifyErrorForLog feeds the request logger with the mapped type and code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "client_agent_mismatch":
		return "client belongs to another agent"
	default:
		return "invalid value"
	}
}
