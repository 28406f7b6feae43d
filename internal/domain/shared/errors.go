package shared

// DomainError wraps a sentinel with a message that is safe to show to API
// clients. errors.Is still sees the sentinel through Unwrap.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Err.Error() + ": " + e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a DomainError classified by err
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}
