package calls

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a provider webhook normalized into the fields the reconciler uses.
type Event struct {
	Type           string
	RawStatus      string
	Status         string
	EndedReason    string
	ExternalCallID string
	LeadID         *uuid.UUID
	Summary        string
	RecordingURL   string
	StartedAt      *time.Time
	EndedAt        *time.Time
	// DurationSeconds is nil when neither the provider nor the timestamps give one.
	DurationSeconds *int
}

// ParseEvent decodes a provider webhook body. Providers nest the same fields
// in several places; the first non-empty alias wins.
func ParseEvent(body []byte) (Event, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return Event{}, fmt.Errorf("decode webhook: %w", err)
	}
	if root == nil {
		return Event{}, fmt.Errorf("decode webhook: empty body")
	}

	message := object(root, "message")
	call := object(root, "call")
	if call == nil {
		call = object(message, "call")
	}

	ev := Event{
		Type: firstString(str(root, "type"), str(message, "type")),
		RawStatus: firstString(
			str(root, "status"),
			str(root, "callStatus"),
			str(message, "status"),
			str(call, "status"),
			str(object(message, "call"), "status"),
		),
		EndedReason:    firstString(str(message, "endedReason"), str(call, "endedReason"), str(root, "endedReason")),
		ExternalCallID: firstString(str(call, "id"), str(root, "callId"), str(message, "callId")),
		Summary: firstString(
			str(root, "summary"),
			str(message, "summary"),
			str(object(message, "analysis"), "summary"),
			str(object(call, "analysis"), "summary"),
			str(object(root, "analysis"), "summary"),
		),
		RecordingURL: firstString(
			str(root, "recordingUrl"),
			str(message, "recordingUrl"),
			str(call, "recordingUrl"),
			str(object(message, "artifact"), "recordingUrl"),
		),
	}

	ev.Status = NormalizeStatus(ev.RawStatus)
	if ev.EndedReason != "" && (ev.Status == "" || ev.Status == StatusCompleted) {
		// "ended" alone says nothing about whether anyone picked up.
		if derived := terminalFromEndedReason(ev.EndedReason); derived != "" {
			ev.Status = derived
		}
	}
	if ev.Status == "" && ev.Type == "end-of-call-report" {
		ev.Status = StatusCompleted
	}

	ev.LeadID = leadIDFrom(
		str(object(call, "metadata"), "lead_id"),
		str(object(root, "metadata"), "lead_id"),
		str(object(message, "metadata"), "lead_id"),
		str(object(object(call, "assistantOverrides"), "variableValues"), "lead_id"),
	)

	ev.StartedAt = firstTime(
		str(call, "startedAt"), str(call, "startTime"),
		str(message, "startedAt"), str(message, "startTime"),
		str(root, "startedAt"), str(root, "startTime"),
	)
	ev.EndedAt = firstTime(
		str(call, "endedAt"), str(call, "endTime"),
		str(message, "endedAt"), str(message, "endTime"),
		str(root, "endedAt"), str(root, "endTime"),
	)

	ev.DurationSeconds = firstDuration(
		call["durationSeconds"], call["duration"],
		message["durationSeconds"], message["duration"],
		root["durationSeconds"], root["duration"],
	)
	if ev.DurationSeconds == nil && ev.StartedAt != nil && ev.EndedAt != nil {
		d := int(math.Round(ev.EndedAt.Sub(*ev.StartedAt).Seconds()))
		if d < 0 {
			d = 0
		}
		ev.DurationSeconds = &d
	}

	return ev, nil
}

// Duration returns the call length in seconds, 0 when unknown.
func (e Event) Duration() int {
	if e.DurationSeconds == nil {
		return 0
	}
	return *e.DurationSeconds
}

// StatusOrRaw is the value written to observability rows.
func (e Event) StatusOrRaw() string {
	switch {
	case e.Status != "":
		return e.Status
	case e.RawStatus != "":
		return strings.ToLower(e.RawStatus)
	case e.Type != "":
		return e.Type
	}
	return "event"
}

func object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func leadIDFrom(values ...string) *uuid.UUID {
	for _, v := range values {
		if v == "" {
			continue
		}
		if id, err := uuid.Parse(v); err == nil {
			return &id
		}
	}
	return nil
}

func firstTime(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func firstDuration(values ...any) *int {
	for _, v := range values {
		switch n := v.(type) {
		case float64:
			d := int(math.Round(n))
			return &d
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				d := int(math.Round(f))
				return &d
			}
		}
	}
	return nil
}
