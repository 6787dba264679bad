package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/featuregate/internal/audit/domain"
	"github.com/smallbiznis/featuregate/internal/authorization"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	taxonomydomain "github.com/smallbiznis/featuregate/internal/taxonomy/domain"
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

// EntitlementError carries the resolved gate context for a denied
// feature, so clients can distinguish "not entitled" from plain RBAC
// denial and render an upgrade prompt.
type EntitlementError struct {
	GateKey      string
	ModuleKey    string
	SubmoduleKey string
	Status       string
	Locked       bool
}

func (e *EntitlementError) Error() string {
	return "feature_not_entitled"
}

type gateDenial struct {
	Key          string `json:"key"`
	ModuleKey    string `json:"module_key,omitempty"`
	SubmoduleKey string `json:"submodule_key,omitempty"`
	Status       string `json:"status,omitempty"`
	Locked       bool   `json:"locked,omitempty"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Gate    *gateDenial       `json:"gate,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
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

	if eErr := asEntitlementError(err); eErr != nil {
		return http.StatusForbidden, errorPayload{
			Type:    "feature_not_entitled",
			Message: "feature not entitled",
			Gate: &gateDenial{
				Key:          eErr.GateKey,
				ModuleKey:    eErr.ModuleKey,
				SubmoduleKey: eErr.SubmoduleKey,
				Status:       eErr.Status,
				Locked:       eErr.Locked,
			},
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
		code := validationErrorCode(err)
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
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, taxonomydomain.ErrDuplicateKey),
		errors.Is(err, entitlementdomain.ErrWriteContention):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
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

func asEntitlementError(err error) *EntitlementError {
	var eErr *EntitlementError
	if errors.As(err, &eErr) && eErr != nil {
		return eErr
	}
	return nil
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
	case isEntitlementValidationError(err),
		isTaxonomyValidationError(err),
		isAuditValidationError(err),
		isAuthorizationValidationError(err):
		return true
	default:
		return false
	}
}

func isEntitlementValidationError(err error) bool {
	switch {
	case errors.Is(err, entitlementdomain.ErrInvalidOrganization),
		errors.Is(err, entitlementdomain.ErrUnknownModule),
		errors.Is(err, entitlementdomain.ErrUnknownSubmodule),
		errors.Is(err, entitlementdomain.ErrInvalidStatus),
		errors.Is(err, entitlementdomain.ErrInvalidTrialExpiry),
		errors.Is(err, entitlementdomain.ErrMissingReason),
		errors.Is(err, entitlementdomain.ErrEmptyDiff),
		errors.Is(err, entitlementdomain.ErrInvalidIdempotency):
		return true
	default:
		return false
	}
}

func isTaxonomyValidationError(err error) bool {
	switch {
	case errors.Is(err, taxonomydomain.ErrInvalidKey),
		errors.Is(err, taxonomydomain.ErrInvalidName),
		errors.Is(err, taxonomydomain.ErrUnknownModule):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidEventType),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isAuthorizationValidationError(err error) bool {
	switch {
	case errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidOrganization),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, taxonomydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
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
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger with a coarse error
// type and code without rendering a response body.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if payload.Gate != nil && payload.Gate.Key != "" {
		code = payload.Gate.Key
	}
	return payload.Type, code
}
