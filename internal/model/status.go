package model

import "strings"

// Status is the structured form of a task's status. The server reports status as
// free text carrying bracketed markers such as "[COMPLETED]"; ParseStatus is the
// only place that knows about that convention.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	MarkerCompleted = "[COMPLETED]"
	MarkerFailed    = "[FAILED]"
	MarkerRunning   = "[IN_PROGRESS]"
)

// ParseStatus maps raw server status text to a Status. Unknown text is pending.
func ParseStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == "":
		return StatusPending
	case strings.Contains(s, MarkerCompleted):
		return StatusCompleted
	case strings.Contains(s, MarkerFailed):
		return StatusFailed
	case strings.Contains(s, MarkerRunning):
		return StatusRunning
	}
	// Bare words, as produced by the Jira mapping.
	switch strings.Trim(s, "[] ") {
	case "COMPLETED", "COMPLETE", "DONE", "CLOSED", "RESOLVED":
		return StatusCompleted
	case "FAILED", "ERROR":
		return StatusFailed
	case "IN_PROGRESS", "IN PROGRESS", "RUNNING":
		return StatusRunning
	}
	return StatusPending
}

// Terminal reports whether a poller watching for completion can stop.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Marker returns the server-side text for s.
func (s Status) Marker() string {
	switch s {
	case StatusCompleted:
		return MarkerCompleted
	case StatusFailed:
		return MarkerFailed
	case StatusRunning:
		return MarkerRunning
	default:
		return ""
	}
}
