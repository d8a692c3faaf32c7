package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/leitbox/internal/api/shared"
	"github.com/phrazzld/leitbox/internal/archive"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/service/auth"
	"github.com/phrazzld/leitbox/internal/service/cards"
	"github.com/phrazzld/leitbox/internal/service/review"
	"github.com/phrazzld/leitbox/internal/store"
	"github.com/phrazzld/leitbox/internal/task"
)

// boxValidationErrors are the sentinel errors returned by domain.NewBox.
var boxValidationErrors = []error{
	domain.ErrBoxNameInvalid,
	domain.ErrBoxLimitNegative,
}

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, review.ErrSessionNotFound),
		errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, review.ErrSessionFinished),
		errors.Is(err, task.ErrTaskFinished),
		errors.Is(err, task.ErrDuplicateTask):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrUnknownCardKind),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, archive.ErrInvalidArchive),
		errors.Is(err, cards.ErrUnknownFilter),
		isBoxValidation(err):
		return http.StatusBadRequest

	// Capacity errors
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "" {
			return verr.Message
		}
		return verr.Field + " " + verr.Message

	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongTokenType):
		return "Invalid token"
	case errors.Is(err, domain.ErrUnauthorized):
		return "Authentication required"

	case errors.Is(err, domain.ErrPermissionDenied):
		return "You do not have access to this resource"

	case errors.Is(err, store.ErrBoxNotFound):
		return "Box not found"
	case errors.Is(err, store.ErrCardNotFound):
		return "Card not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, review.ErrSessionNotFound):
		return "Review session not found"
	case errors.Is(err, task.ErrTaskNotFound):
		return "Job not found"

	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"
	case errors.Is(err, review.ErrSessionFinished):
		return "Review session is finished"
	case errors.Is(err, task.ErrTaskFinished):
		return "Job already finished"
	case errors.Is(err, task.ErrDuplicateTask):
		return "Job already submitted"

	case errors.Is(err, domain.ErrBoxNameInvalid):
		return domain.ErrBoxNameInvalid.Error()
	case errors.Is(err, domain.ErrBoxLimitNegative):
		return domain.ErrBoxLimitNegative.Error()
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, domain.ErrUnknownCardKind):
		return "Unknown card type"
	case errors.Is(err, cards.ErrUnknownFilter):
		return "Unknown card filter"
	case errors.Is(err, archive.ErrInvalidArchive):
		return "Invalid archive"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return "Server is busy, try again later"

	default:
		return "An unexpected error occurred"
	}
}

// errorField returns the offending field of a validation error.
func errorField(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Field
	}
	return ""
}

func isBoxValidation(err error) bool {
	for _, target := range boxValidationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// respondWithServiceError maps err to a status and a safe message and writes
// the error response.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), shared.ErrorResponse{
		Error: GetSafeErrorMessage(err),
		Field: errorField(err),
	}, err)
}
