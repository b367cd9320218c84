package httpadapter

import (
	"net/http"
	"strings"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrQueueUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the text shown to the browser. Internal causes stay in the log
// except for validation details, which the user can act on.
func userMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return validationDetail(err)
	case domain.IsKind(err, domain.ErrJobNotFound):
		return "Job not found."
	case domain.IsKind(err, domain.ErrQueueUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return "The analysis queue is unavailable. Please try again later."
	case domain.IsKind(err, domain.ErrPathNormalization):
		return "The analysis result could not be turned into a downloadable link."
	default:
		return "Something went wrong. Please try again later."
	}
}

func validationDetail(err error) string {
	msg := err.Error()
	marker := domain.ErrValidation.Error() + ": "
	if idx := strings.LastIndex(msg, marker); idx >= 0 {
		msg = msg[idx+len(marker):]
	}
	if msg == "" {
		return "The upload was rejected."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
