package repositories

// Error is a plain RepositoryError implementation for in-memory repositories.
type Error struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

// NewNotFoundError builds an error classified as a missing record.
func NewNotFoundError(msg string) *Error {
	return &Error{msg: msg, notFound: true}
}

// NewConflictError builds an error classified as a conflicting write.
func NewConflictError(msg string) *Error {
	return &Error{msg: msg, conflict: true}
}

// NewUnavailableError builds an error classified as a transient outage.
func NewUnavailableError(msg string) *Error {
	return &Error{msg: msg, unavailable: true}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.msg
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }
