package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/httputil"
	"github.com/estatedesk/crm/internal/metrics"
	"github.com/estatedesk/crm/internal/models"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeInternalError     = "internal_error"
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeTooManyFailures   = "too_many_failures"
	ErrCodeValidationError   = "validation_error"
	ErrCodeInvalidScope      = "invalid_scope"
	ErrCodeForbiddenScope    = "forbidden_scope"
	ErrCodeMissingBroker     = "missing_broker_affiliation"
	ErrCodeVersionConflict   = "version_conflict"
	ErrCodeConflict          = "conflict"
	ErrCodeInvalidReference  = "invalid_reference"
	ErrCodeSchemaUnsupported = "schema_unsupported"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

// respondServiceError maps an error from the service layer onto an HTTP
// response. Unrecognized errors are logged and reported as 500.
func respondServiceError(c *gin.Context, log *logrus.Logger, op string, err error) {
	var aerr *access.Error
	if errors.As(err, &aerr) {
		switch aerr.Kind {
		case access.KindInvalidScope:
			respondError(c, http.StatusBadRequest, ErrCodeInvalidScope, aerr.Error())
		case access.KindForbiddenScope:
			respondError(c, http.StatusForbidden, ErrCodeForbiddenScope, aerr.Error())
		default:
			respondError(c, http.StatusBadRequest, ErrCodeMissingBroker, aerr.Error())
		}

		return
	}

	var conflict *models.VersionConflictError
	if errors.As(err, &conflict) {
		metrics.ErrorsTotal.WithLabelValues(ErrCodeVersionConflict).Inc()
		httputil.RespondErrorDetails(c, http.StatusConflict, ErrCodeVersionConflict,
			"record was modified by another request; refresh and retry",
			map[string]any{
				"current_version":   conflict.CurrentVersion,
				"attempted_version": conflict.AttemptedVersion,
			})

		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	case errors.Is(err, models.ErrValidation):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())
	case errors.Is(err, models.ErrInvalidResourceType):
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, models.ErrDuplicateKey):
		respondError(c, http.StatusConflict, ErrCodeConflict, "record already exists")
	case errors.Is(err, models.ErrInvalidReference):
		respondError(c, http.StatusUnprocessableEntity, ErrCodeInvalidReference, "referenced record does not exist")
	case errors.Is(err, models.ErrSchemaUnsupported):
		log.WithError(err).Error(op)
		respondError(c, http.StatusNotImplemented, ErrCodeSchemaUnsupported, "operation not supported by the current schema")
	default:
		log.WithError(err).Error(op)
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}
