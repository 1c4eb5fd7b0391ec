// Package status defines the lifecycle of an exam resource as the client tracks it.
package status

import "fmt"

// Status represents the lifecycle phase of an exam resource
type Status string

const (
	// Pending means the exam was uploaded and no analysis was requested yet
	Pending Status = "pending"

	// Analyzing means an analysis job is in flight on the server
	Analyzing Status = "analyzing"

	// Completed means the analysis finished successfully
	Completed Status = "completed"

	// Failed means the analysis finished with an error
	Failed Status = "failed"

	// Analyzed is a client-local marker set after the analyze call succeeded.
	// It is never sent by the server and keeps a stale "analyzing" row from
	// reappearing before the list is revalidated.
	Analyzed Status = "analyzed"
)

// StageCount is the number of server-reported analysis steps
const StageCount = 4

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case Pending, Analyzing, Completed, Failed, Analyzed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further server-driven transition is expected
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// String implements fmt.Stringer
func (s Status) String() string {
	return string(s)
}

// TransitionError is returned when a status change breaks the lifecycle rules
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether a resource may move from one status to another
// as a default (non re-analyze) transition.
//
// Allowed: pending->analyzing, analyzing->analyzing (progress only),
// analyzing->{completed,failed,analyzed} and analyzed->{completed,failed}.
func CanTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == Analyzing
	case Analyzing:
		return to == Analyzing || to == Completed || to == Failed || to == Analyzed
	case Analyzed:
		return to == Completed || to == Failed
	default:
		return false
	}
}

// CanReanalyze reports whether an explicit re-analyze may move the resource
// back into analyzing.
func CanReanalyze(from Status) bool {
	return from == Completed || from == Failed || from == Analyzed
}

// ValidateTransition returns a *TransitionError if the change is not allowed.
// When reanalyze is true the explicit re-analyze entry into analyzing is also accepted.
func ValidateTransition(from, to Status, reanalyze bool) error {
	if CanTransition(from, to) {
		return nil
	}
	if reanalyze && to == Analyzing && CanReanalyze(from) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// StageIndex maps the 1-based server step to a 0-based UI stage.
// The index is 0 whenever the resource is not analyzing.
func StageIndex(s Status, step *int) int {
	if s != Analyzing || step == nil {
		return 0
	}
	idx := *step - 1
	if idx < 0 {
		return 0
	}
	if idx > StageCount-1 {
		return StageCount - 1
	}
	return idx
}
