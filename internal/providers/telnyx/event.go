package telnyx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fax/internal/domain"
)

const ProviderName = "telnyx"

// Envelope is the subset of a Telnyx webhook body the service reads.
type Envelope struct {
	EventID    string
	EventType  string
	OccurredAt *time.Time
	Payload    map[string]any
}

// ParseEnvelope decodes a webhook body. Nested data.* fields win over
// top-level ones. A body without an event id is rejected.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return Envelope{}, &domain.ValidationError{Field: "body", Msg: fmt.Sprintf("invalid webhook payload: %v", err)}
	}
	if root == nil {
		return Envelope{}, &domain.ValidationError{Field: "body", Msg: "invalid webhook payload: not an object"}
	}

	data, _ := root["data"].(map[string]any)
	env := Envelope{
		EventID:   firstString(data, root, "id"),
		EventType: firstString(data, root, "event_type"),
		Payload:   payloadOf(root),
	}
	if env.EventType == "" {
		env.EventType = "unknown"
	}
	if env.EventID == "" {
		return Envelope{}, &domain.ValidationError{Field: "id", Msg: "missing webhook event id"}
	}
	if data != nil {
		if s, ok := data["occurred_at"].(string); ok {
			if t, err := parseTime(s); err == nil {
				env.OccurredAt = &t
			}
		}
	}
	return env, nil
}

// ProviderJobID returns the correlation key: fax.id, then fax_id, then id.
func (e Envelope) ProviderJobID() string {
	if fax, ok := e.Payload["fax"].(map[string]any); ok {
		if s := stringValue(fax["id"]); s != "" {
			return s
		}
	}
	if s := stringValue(e.Payload["fax_id"]); s != "" {
		return s
	}
	return stringValue(e.Payload["id"])
}

// ProviderStatus prefers payload.status and otherwise strips the category
// prefix from the event type ("fax.delivered" -> "delivered").
func (e Envelope) ProviderStatus() string {
	status := strings.ToLower(strings.TrimSpace(stringValue(e.Payload["status"])))
	if status == "" {
		status = strings.ToLower(strings.TrimSpace(e.EventType))
		if _, rest, ok := strings.Cut(status, "."); ok {
			status = rest
		}
	}
	return status
}

func (e Envelope) FailureReason() string {
	return stringValue(e.Payload["failure_reason"])
}

// Detail is the short text shown next to a timeline entry.
func (e Envelope) Detail() string {
	if r := e.FailureReason(); r != "" {
		return r
	}
	return stringValue(e.Payload["status"])
}

// ParseStoredEvent re-reads a persisted webhook row. Unlike ParseEnvelope it
// does not require an event id, since the row already carries one.
func ParseStoredEvent(ev domain.WebhookEvent) (Envelope, error) {
	var root map[string]any
	if err := json.Unmarshal(ev.Payload, &root); err != nil {
		return Envelope{}, err
	}
	if root == nil {
		return Envelope{}, errors.New("stored payload is not an object")
	}
	env := Envelope{EventID: ev.ExternalEventID, EventType: ev.EventType, Payload: payloadOf(root)}
	if data, ok := root["data"].(map[string]any); ok {
		if s, ok := data["occurred_at"].(string); ok {
			if t, err := parseTime(s); err == nil {
				env.OccurredAt = &t
			}
		}
	}
	return env, nil
}

func payloadOf(root map[string]any) map[string]any {
	if data, ok := root["data"].(map[string]any); ok {
		if p, ok := data["payload"].(map[string]any); ok {
			return p
		}
	}
	if p, ok := root["payload"].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}

func firstString(primary, fallback map[string]any, key string) string {
	if s := stringValue(primary[key]); s != "" {
		return s
	}
	return stringValue(fallback[key])
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
