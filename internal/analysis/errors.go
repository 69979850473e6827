package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a classification failed.
type ErrorKind int

const (
	// KindTransient is a retryable network or throttling failure that
	// persisted through every retry.
	KindTransient ErrorKind = iota + 1
	// KindMalformed is a response that did not fit the expected schema.
	KindMalformed
	// KindAuth is a rejected credential.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindAuth:
		return "auth"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// AnalysisError is the only error type Classify returns, apart from
// context cancellation. Err keeps the resilience taxonomy in its chain so
// resilience.IsAuth and friends still apply.
type AnalysisError struct {
	Kind ErrorKind
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// KindOf returns the kind of an AnalysisError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}
