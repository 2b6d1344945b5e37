package term

import "fmt"

// Status represents where an academic term is in its lifecycle. Terms move
// forward only; CLOSED is terminal and irreversible.
type Status string

const (
	// StatusPlanning indicates the term has been set up but not started.
	StatusPlanning Status = "PLANNING"

	// StatusActive indicates classes are running.
	StatusActive Status = "ACTIVE"

	// StatusClosing indicates end-of-term report generation has been requested.
	StatusClosing Status = "CLOSING"

	// StatusClosed indicates the term has been closed for good.
	StatusClosed Status = "CLOSED"
)

func (s Status) String() string { return string(s) }

// ParseStatus converts a string to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "PLANNING":
		return StatusPlanning
	case "ACTIVE":
		return StatusActive
	case "CLOSING":
		return StatusClosing
	case "CLOSED":
		return StatusClosed
	default:
		return "" // represents unspecified
	}
}

// AllowsGeneration reports whether report generation may be requested for a
// term in this status.
func (s Status) AllowsGeneration() bool {
	return s == StatusPlanning || s == StatusActive || s == StatusClosing
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid term status transition from %s to %s", s, target)
	}
	return nil
}

func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusPlanning:
		return target == StatusActive || target == StatusClosing
	case StatusActive:
		return target == StatusClosing
	case StatusClosing:
		return target == StatusClosed
	case StatusClosed:
		return false
	default:
		return false
	}
}
