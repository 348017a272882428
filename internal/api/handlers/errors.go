package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
)

// Error codes for request-level failures raised directly by handlers
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidID      = "INVALID_ID"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// statusForCode maps settlement error codes to HTTP statuses
var statusForCode = map[string]int{
	domainerrors.CodeRequestNotFound:       http.StatusNotFound,
	domainerrors.CodeAlreadyProcessed:      http.StatusConflict,
	domainerrors.CodeMissingRecipient:      http.StatusUnprocessableEntity,
	domainerrors.CodeUnsupportedRoute:      http.StatusUnprocessableEntity,
	domainerrors.CodeConversionUnavailable: http.StatusServiceUnavailable,
	domainerrors.CodeReserveInsufficient:   http.StatusServiceUnavailable,
	domainerrors.CodeTransferFailed:        http.StatusBadGateway,
	domainerrors.CodeTransferAmbiguous:     http.StatusConflict,
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondDomainError translates a domain error into an HTTP response
func respondDomainError(c *gin.Context, err error) {
	if de, ok := domainerrors.GetDomainError(err); ok {
		status, known := statusForCode[de.Code]
		if !known {
			status = http.StatusInternalServerError
		}
		details := de.Details
		if de.Retryable {
			if details == nil {
				details = map[string]interface{}{}
			}
			details["retryable"] = true
		}
		respondError(c, status, de.Code, de.Message, details)
		return
	}
	respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error", nil)
}
