package attendance

// Code classifies failures surfaced by the Service.
type Code string

const (
	// CodeInvalidInput marks a request the caller must fix before retrying.
	CodeInvalidInput Code = "invalid_input"
	// CodeNotFound marks a reference to a day that does not exist.
	CodeNotFound Code = "not_found"
	// CodeStorage marks a failure of the backing store.
	CodeStorage Code = "storage"
)

// Error is the domain error returned by the Service.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

var (
	// ErrInvalidInput matches any Error with CodeInvalidInput under errors.Is.
	ErrInvalidInput = &Error{Code: CodeInvalidInput}
	// ErrNotFound matches any Error with CodeNotFound under errors.Is.
	ErrNotFound = &Error{Code: CodeNotFound}
	// ErrStorage matches any Error with CodeStorage under errors.Is.
	ErrStorage = &Error{Code: CodeStorage}
)

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func invalidInput(message string) *Error {
	return &Error{Code: CodeInvalidInput, Message: message}
}

func notFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func storageError(message string, cause error) *Error {
	return &Error{Code: CodeStorage, Message: message, Cause: cause}
}
