package wire

// Reason codes carried in the "error" field of a response.
const (
	CodeInvalidJSON  = "invalid_json"
	CodeMissingType  = "missing_type"
	CodeBadNamespace = "bad_namespace"
	CodeBadName      = "bad_name"
	CodeBadPort      = "bad_port"
	CodeBadTTL       = "bad_ttl"
	CodeLineTooLong  = "line_too_long"
	CodeTimeout      = "timeout"
	CodeEmptyLine    = "empty_line"
)

// An Error is the failure half of a Result. Code is a stable reason code,
// Message is a human readable detail and Limit is only set for oversized
// input. Empty fields are omitted on the wire.
type Error struct {
	Code    string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (err *Error) Error() string {
	switch {
	case err.Code != "" && err.Message != "":
		return err.Code + ": " + err.Message
	case err.Code != "":
		return err.Code
	default:
		return err.Message
	}
}

// NewError returns an Error with the given reason code.
func NewError(code string) *Error {
	return &Error{Code: code}
}

// NewErrorMessage returns an Error that only carries a message. It is used
// where there is no stable reason code, such as unknown commands and
// internal failures.
func NewErrorMessage(msg string) *Error {
	return &Error{Message: msg}
}

// ErrLineTooLong returns the Error written when a request line exceeds limit
// bytes.
func ErrLineTooLong(limit int) *Error {
	return &Error{Code: CodeLineTooLong, Limit: limit}
}

// ErrTimeout is written when no request line arrives before the idle timeout.
func ErrTimeout() *Error {
	return &Error{Code: CodeTimeout, Message: "no data received, closing connection"}
}

// ErrEmptyLine is written when the request line is blank.
func ErrEmptyLine() *Error {
	return &Error{Code: CodeEmptyLine, Message: "empty request line"}
}

// ErrUnknownCommand is returned for any request type that is not a known
// command.
func ErrUnknownCommand() *Error {
	return &Error{Message: "Unknown command"}
}
