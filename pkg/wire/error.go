package wire

// Error codes carried by DomainError and by error stream updates.
const (
	CodeTransport         = "transport"
	CodeTimeout           = "timeout"
	CodeEmptyTranscript   = "empty_transcript"
	CodeIllegalMove       = "illegal_move"
	CodeEngineUnavailable = "engine_unavailable"
	CodeMissingResult     = "missing_result"
	CodeSessionNotFound   = "session_not_found"
)

// DomainError is a turn failure surfaced to the caller with a stable code
// and a human-readable message.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "voice chess turn error"
}
