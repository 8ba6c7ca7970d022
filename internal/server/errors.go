package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	fixedassetdomain "github.com/smallbiznis/glcore/internal/fixedasset/domain"
	ledgerdomain "github.com/smallbiznis/glcore/internal/ledger/domain"
	recondomain "github.com/smallbiznis/glcore/internal/reconciliation/domain"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
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

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	var sodErr *recondomain.SoDError
	if errors.As(err, &sodErr) {
		return http.StatusForbidden, errorPayload{
			Type:    "segregation_of_duties_violation",
			Message: sodErr.Reason,
			Details: map[string]any{
				"prepared_by":  sodErr.PreparedBy,
				"reviewed_by":  sodErr.ReviewedBy,
				"certified_by": sodErr.CertifiedBy,
			},
		}
	}

	var trErr *recondomain.TransitionError
	if errors.As(err, &trErr) {
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: trErr.Error(),
			Details: map[string]any{
				"current":   string(trErr.Current),
				"requested": trErr.Requested,
			},
		}
	}

	switch {
	case errors.Is(err, recondomain.ErrSegregationOfDuties):
		return http.StatusForbidden, errorPayload{
			Type:    "segregation_of_duties_violation",
			Message: "segregation of duties violation",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, recondomain.ErrFeedUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "subledger feed unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, ledgerdomain.ErrInvalidTenant),
		errors.Is(err, ledgerdomain.ErrInvalidBook),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidCode),
		errors.Is(err, ledgerdomain.ErrInvalidNormalSide),
		errors.Is(err, ledgerdomain.ErrInvalidEffectiveDate),
		errors.Is(err, ledgerdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, ledgerdomain.ErrInvalidLineAmount),
		errors.Is(err, ledgerdomain.ErrInvalidLineDirection),
		errors.Is(err, ledgerdomain.ErrEmptyLines),
		errors.Is(err, ledgerdomain.ErrImbalancedPosting),
		errors.Is(err, ledgerdomain.ErrCurrencyMismatch):
		return true
	case errors.Is(err, recondomain.ErrInvalidTenant),
		errors.Is(err, recondomain.ErrInvalidWorkspaceID),
		errors.Is(err, recondomain.ErrInvalidKind),
		errors.Is(err, recondomain.ErrInvalidCurrency),
		errors.Is(err, recondomain.ErrInvalidAsOfDate),
		errors.Is(err, recondomain.ErrInvalidActor),
		errors.Is(err, recondomain.ErrInvalidAttachment),
		errors.Is(err, recondomain.ErrInvalidPageToken):
		return true
	case errors.Is(err, fixedassetdomain.ErrInvalidAssetID),
		errors.Is(err, fixedassetdomain.ErrInvalidCost),
		errors.Is(err, fixedassetdomain.ErrInvalidSalvage),
		errors.Is(err, fixedassetdomain.ErrInvalidLife),
		errors.Is(err, fixedassetdomain.ErrInvalidMethod),
		errors.Is(err, fixedassetdomain.ErrInvalidUsage),
		errors.Is(err, fixedassetdomain.ErrInvalidDiscountRate),
		errors.Is(err, fixedassetdomain.ErrInvalidRecoverable),
		errors.Is(err, fixedassetdomain.ErrMethodNotConfigured):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, recondomain.ErrInvalidTransition),
		errors.Is(err, recondomain.ErrWorkspaceExists),
		errors.Is(err, recondomain.ErrWorkspaceFrozen),
		errors.Is(err, recondomain.ErrUncertifiedResidual):
		return true
	case errors.Is(err, ledgerdomain.ErrAccountExists),
		errors.Is(err, ledgerdomain.ErrInactiveAccount),
		errors.Is(err, ledgerdomain.ErrConcurrentModification):
		return true
	case errors.Is(err, fixedassetdomain.ErrScheduleInvalid),
		errors.Is(err, fixedassetdomain.ErrScheduleSumMismatch),
		errors.Is(err, fixedassetdomain.ErrScheduleKindWrong),
		errors.Is(err, fixedassetdomain.ErrGroupEmpty):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, recondomain.ErrWorkspaceNotFound),
		errors.Is(err, ledgerdomain.ErrUnknownAccount),
		errors.Is(err, ledgerdomain.ErrPostingNotFound),
		errors.Is(err, fixedassetdomain.ErrAssetNotFound),
		errors.Is(err, fixedassetdomain.ErrGroupNotFound),
		errors.Is(err, fixedassetdomain.ErrAroNotFound),
		errors.Is(err, fixedassetdomain.ErrScheduleNotFound),
		errors.Is(err, fixedassetdomain.ErrPeriodNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
