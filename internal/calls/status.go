// Package calls implements the voice channel: the eligibility gate, the
// dispatcher, the retry scheduler and the provider webhook reconciler.
package calls

import "strings"

// Canonical call statuses.
const (
	StatusQueued     = "queued"
	StatusStarting   = "starting"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusNoAnswer   = "no-answer"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

var statusAliases = map[string]string{
	"queued":      StatusQueued,
	"starting":    StatusStarting,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"inprogress":  StatusInProgress,
	"completed":   StatusCompleted,
	"complete":    StatusCompleted,
	"ended":       StatusCompleted,
	"no-answer":   StatusNoAnswer,
	"noanswer":    StatusNoAnswer,
	"busy":        StatusBusy,
	"failed":      StatusFailed,
	"canceled":    StatusCanceled,
	"cancelled":   StatusCanceled,
}

// NormalizeStatus maps a provider status onto the canonical vocabulary.
// Unknown values return "".
func NormalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return statusAliases[s]
}

// IsTerminal reports whether no further transition follows status.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusNoAnswer, StatusBusy, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// terminalFromEndedReason maps an end-of-call reason onto a terminal status.
func terminalFromEndedReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	switch {
	case r == "":
		return ""
	case strings.Contains(r, "did-not-answer"), strings.Contains(r, "no-answer"), strings.Contains(r, "voicemail"):
		return StatusNoAnswer
	case strings.Contains(r, "busy"):
		return StatusBusy
	case strings.Contains(r, "cancel"):
		return StatusCanceled
	case strings.Contains(r, "error"), strings.Contains(r, "failed"), strings.Contains(r, "fault"):
		return StatusFailed
	}
	return StatusCompleted
}
