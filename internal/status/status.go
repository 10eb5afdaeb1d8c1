// Package status holds the analysis lifecycle state machine and the
// wall-clock timeout rule. It owns no storage.
package status

import "time"

// Status is the lifecycle state of an analysis.
type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Done      Status = "done"
	Error     Status = "error"
	Timeout   Status = "timeout"
	Cancelled Status = "cancelled"
)

// DefaultTimeout is the processing budget of a single analysis.
const DefaultTimeout = 2 * time.Minute

var transitions = map[Status][]Status{
	Queued:    {Running, Cancelled, Error},
	Running:   {Done, Error, Timeout, Cancelled},
	Done:      {},
	Error:     {Queued},
	Timeout:   {Queued},
	Cancelled: {Queued},
}

// All lists every status in lifecycle order.
func All() []Status {
	return []Status{Queued, Running, Done, Error, Timeout, Cancelled}
}

// Parse returns the Status named by s.
func Parse(s string) (Status, bool) {
	st := Status(s)
	_, ok := transitions[st]
	return st, ok
}

func (s Status) String() string { return string(s) }

// IsValidTransition reports whether from -> to is an edge of the state machine.
func IsValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the statuses reachable from s in one step.
func NextStates(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// IsTerminal reports whether s has no outgoing edges.
func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

func IsError(s Status) bool {
	return s == Error || s == Timeout
}

func IsRetryable(s Status) bool {
	return s == Error || s == Timeout || s == Cancelled
}

// IsActive reports whether work is pending or in progress.
func IsActive(s Status) bool {
	return s == Queued || s == Running
}
