package app

import (
	"net/http"

	taskgate "github.com/nevindra/taskgate"
)

// statusForErr maps a taskgate.Error's Kind to the HTTP status spec.md §6
// assigns it. Errors that are not (or do not wrap) a *taskgate.Error are
// treated as internal.
func statusForErr(err error) int {
	switch taskgate.KindOf(err) {
	case taskgate.KindUnauthenticated:
		return http.StatusUnauthorized
	case taskgate.KindForbidden:
		return http.StatusForbidden
	case taskgate.KindNotFound:
		return http.StatusNotFound
	case taskgate.KindInvalidArgument, taskgate.KindDecompositionError:
		return http.StatusBadRequest
	case taskgate.KindUnsupported:
		return http.StatusUnprocessableEntity
	case taskgate.KindNoSuitableModel, taskgate.KindModelScoringUnavailable:
		return http.StatusUnprocessableEntity
	case taskgate.KindUpstreamLLMFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
