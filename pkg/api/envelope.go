package api

// Envelope is the wire shape every operation answers with: {ok:true, ...}
// on success or
// {ok:false, error_type, reason, ...} on failure. CLI commands marshal this
// directly to JSON unless invoked with --text.
type Envelope struct {
	OK               bool           `json:"ok"`
	ErrorType        ErrorType      `json:"error_type,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Suggestion       string         `json:"suggestion,omitempty"`
	Alternatives     []string       `json:"alternatives,omitempty"`
	RecoveryCommands []string       `json:"recovery_commands,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	Result           any            `json:"result,omitempty"`
}

// NewEnvelope wraps a (result, error) pair from an api method into the
// success/failure envelope. err must be nil or *Error; any other
// error indicates a bug upstream (a call site that forgot to wrap a raw
// error) and is rendered as a database_error to avoid ever panicking.
func NewEnvelope(result any, err error) Envelope {
	if err == nil {
		return Envelope{OK: true, Result: result}
	}
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = databaseError("operation", err)
	}
	return Envelope{
		OK:               false,
		ErrorType:        apiErr.ErrorType,
		Reason:           apiErr.Reason,
		Suggestion:       apiErr.Suggestion,
		Alternatives:     apiErr.Alternatives,
		RecoveryCommands: apiErr.RecoveryCommands,
		Context:          apiErr.Context,
	}
}
