package model

import "time"

// EventKind discriminates events on a job's event stream
type EventKind string

const (
	// EventProgress carries updated ready/total counts
	EventProgress EventKind = "Progress"

	// EventLog carries one human-readable log line
	EventLog EventKind = "Log"

	// EventFinished is the successful terminal event, carrying the final path
	EventFinished EventKind = "Finished"

	// EventFailed is the failure terminal event, carrying the reason
	EventFailed EventKind = "Failed"

	// EventCancelled is the user-initiated terminal event
	EventCancelled EventKind = "Cancelled"
)

// Event is one entry on a job's one-way, ordered event stream. Exactly one
// terminal event (Finished, Failed or Cancelled) is emitted per job, after
// which the stream is closed.
type Event struct {
	Kind EventKind
	At   time.Time

	// Ready/Total are set for EventProgress
	Ready int
	Total int

	// Text is set for EventLog
	Text string

	// Path is set for EventFinished
	Path string

	// Reason is set for EventFailed
	Reason string
}

// Terminal returns true for the three job-ending event kinds
func (e Event) Terminal() bool {
	return e.Kind == EventFinished || e.Kind == EventFailed || e.Kind == EventCancelled
}
