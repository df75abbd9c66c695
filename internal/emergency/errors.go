package emergency

// Error is an engine error carrying a stable code for API responses
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrAlreadyMonitoring = &Error{Code: "ALREADY_MONITORING", Message: "monitoring already active for user"}
	ErrNoSuchSession     = &Error{Code: "NO_SUCH_SESSION", Message: "no monitoring session for user"}
	ErrNoSuchResponse    = &Error{Code: "NO_SUCH_RESPONSE", Message: "emergency response not found"}
	ErrNoSuchAction      = &Error{Code: "NO_SUCH_ACTION", Message: "action not part of emergency response"}
	ErrInvalidTransition = &Error{Code: "INVALID_TRANSITION", Message: "emergency response cannot move to requested status"}
	ErrMissingUser       = &Error{Code: "MISSING_USER", Message: "user id is required"}
)
