package serviceerror

import "errors"

// ToStatus is the user-visible error mapping table for an external REST/gRPC
// façade to consume: it returns an HTTP-style code and a gRPC-style status
// name for a given tagged error.
func ToStatus(err error) (httpCode int, grpcStatus string) {
	switch {
	case errors.As(err, new(*InvalidRequest)), errors.As(err, new(*HistoryEventError)):
		return 400, "INVALID_ARGUMENT"
	case errors.As(err, new(*NotFound)):
		return 404, "NOT_FOUND"
	case errors.As(err, new(*AlreadyExists)):
		return 409, "ALREADY_EXISTS"
	case errors.As(err, new(*InvalidWorkflowState)), errors.As(err, new(*ConcurrencyConflict)):
		return 409, "FAILED_PRECONDITION"
	default:
		return 500, "INTERNAL"
	}
}

// Recover converts a panic recovered at a repository boundary into a
// PersistenceError, per the "panics from the store layer must be caught at
// the boundary" design note. Call as:
//
//	defer serviceerror.Recover(&err)
func Recover(err *error) {
	if r := recover(); r != nil {
		var cause error
		switch v := r.(type) {
		case error:
			cause = v
		default:
			cause = errUnknownPanic{v}
		}
		*err = &PersistenceError{Cause: cause}
	}
}

type errUnknownPanic struct{ v interface{} }

func (e errUnknownPanic) Error() string { return "panic recovered at store boundary" }
