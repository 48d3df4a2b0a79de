// Package coreerr defines the error taxonomy shared by every component of
// the claims core. Each kind is a sentinel that callers compare against
// with errors.Is; wrap it with fmt.Errorf("...: %w", coreerr.X) to attach
// context the way the rest of the module does.
package coreerr

import "errors"

// Kinds mirrors the semantic error taxonomy of the integration core. These
// are not HTTP status codes or FHIR OperationOutcome codes; they are the
// vocabulary every component uses to classify a failure before deciding
// whether to retry, escalate, or return a structured outcome.
var (
	ErrValidationFailure   = errors.New("validation failure")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransientNetwork    = errors.New("transient network error")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrRemoteRejection     = errors.New("remote rejection")
	ErrRenderError         = errors.New("card render error")
	ErrDeliveryFailure     = errors.New("delivery failure")
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
	ErrInternal            = errors.New("internal error")
)

// Is reports whether err is in the same error family as target, the same
// contract as errors.Is, exported here so callers don't need a second
// import when they already import coreerr.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
