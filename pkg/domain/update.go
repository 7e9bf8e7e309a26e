package domain

// Update is the partial state change produced by a step.
// Zero-valued fields leave the state untouched.
type Update struct {
	// History is appended to the existing history.
	History []Message

	// Extracted, when non-nil, replaces the whole extraction.
	Extracted *Extraction

	// Result, when non-nil, is stored under its Provider key.
	// Only the step that owns that key may write it.
	Result *Result

	// FinalOutput may only be set by the terminal step, once.
	FinalOutput string

	// Errors are appended to the error trail.
	Errors []ErrorRecord
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return len(u.History) == 0 && u.Extracted == nil && u.Result == nil &&
		u.FinalOutput == "" && len(u.Errors) == 0
}

// SuspendSignal is returned by a step, in place of an error, to halt the workflow
// and surface Payload to the caller until Resume is called.
type SuspendSignal struct {
	Payload any
}

func (s *SuspendSignal) Error() string {
	return "workflow suspended awaiting input"
}

// Suspend builds a SuspendSignal carrying the given payload.
func Suspend(payload any) error {
	return &SuspendSignal{Payload: payload}
}
