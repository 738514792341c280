package pipeline

type ErrorKind string

const (
	KindMalformedInput  ErrorKind = "malformed_input"
	KindProviderFailure ErrorKind = "provider_failure"
	KindStorage         ErrorKind = "storage"
)

// Error is a failed run. Detail is safe to show to the client; Err keeps the
// underlying cause for logs.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

func malformed(detail string, err error) *Error {
	return &Error{Kind: KindMalformedInput, Detail: detail, Err: err}
}
