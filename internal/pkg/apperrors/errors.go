package apperrors

import "errors"

// Common errors
var (
	// Resource errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrConflict         = errors.New("conflict")

	// Authentication errors
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("invalid token")
	ErrInvalidFormat = errors.New("invalid token format")

	// Authorization errors
	ErrPermissionDenied = errors.New("permission denied")

	// Validation errors
	ErrBadRequest       = errors.New("bad request")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrRateLimited      = errors.New("rate limited")
)

// Chat errors
var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrNotParticipant      = errors.New("user is not an active participant of this chat")
	ErrAlreadyParticipant  = errors.New("user is already an active participant of this chat")
	ErrPrivateChatReadOnly = errors.New("operation is not allowed on a private chat")
	ErrEmptyMessage        = errors.New("message content is empty")
)

// NewResourceNotFoundError creates a new custom error for resource not found with a message
func NewResourceNotFoundError(message string) error {
	return &CustomError{
		Err:     ErrResourceNotFound,
		Message: message,
	}
}

// NewConflictError creates a new custom error for conflict situations with a message
func NewConflictError(message string) error {
	return &CustomError{
		Err:     ErrConflict,
		Message: message,
	}
}

// NewForbiddenError creates a new custom error for permission denied with a message
func NewForbiddenError(message string) error {
	return &CustomError{
		Err:     ErrPermissionDenied,
		Message: message,
	}
}

// NewBadRequestError creates a new custom error for bad request with a message
func NewBadRequestError(message string) error {
	return &CustomError{
		Err:     ErrBadRequest,
		Message: message,
	}
}

// NewInvalidOperationError creates a new custom error for an operation the
// target resource does not support (renaming a private chat, empty messages...)
func NewInvalidOperationError(message string) error {
	return &CustomError{
		Err:     ErrInvalidOperation,
		Message: message,
	}
}

// Wrap attaches a chat-level cause to one of the taxonomy sentinels so both
// errors.Is(err, ErrResourceNotFound) and errors.Is(err, ErrChatNotFound) hold.
func Wrap(kind, cause error) error {
	return &CustomError{
		Err:     kind,
		Cause:   cause,
		Message: cause.Error(),
	}
}

// Is returns whether target matches any of the errors in errList
func Is(err, target error, errList ...error) bool {
	if errors.Is(err, target) {
		return true
	}

	for _, e := range errList {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}

// CustomError represents application-specific errors with additional context
type CustomError struct {
	Err     error
	Cause   error
	Message string
	Code    string
	Details map[string]interface{}
}

// Error implements error interface
func (e *CustomError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the multi-error form of errors.Unwrap
func (e *CustomError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewCustomError creates a CustomError with underlying error
func NewCustomError(err error, message string) *CustomError {
	return &CustomError{
		Err:     err,
		Message: message,
	}
}

// WithDetails adds context details to the error
func (e *CustomError) WithDetails(details map[string]interface{}) *CustomError {
	e.Details = details
	return e
}

// WithCode adds an error code
func (e *CustomError) WithCode(code string) *CustomError {
	e.Code = code
	return e
}

// IsClientError reports whether err belongs to the synchronous rejection
// taxonomy (not found, forbidden, invalid operation, bad request, conflict).
func IsClientError(err error) bool {
	return Is(err, ErrResourceNotFound,
		ErrPermissionDenied,
		ErrInvalidOperation,
		ErrBadRequest,
		ErrConflict,
		ErrRateLimited,
	)
}
