package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Payload is a caller-supplied event as decoded from JSON. Older clients send
// measurement and context fields top-level; newer ones nest them under
// "eventData" and "context".
type Payload map[string]any

// Normalize converts a payload into a canonical Event. A field set at the top
// level takes precedence over the same field nested under eventData or context.
// Optional fields are defaulted; missing required fields are left empty for
// ValidateEvent to report. Normalize never fails.
func Normalize(p Payload, now time.Time) *Event {
	now = now.UTC()
	e := &Event{
		ID:            asString(p["eventId"]),
		ParticipantID: firstString(p["participantId"], p["userId"]),
		SessionID:     asString(p["sessionId"]),
		Timestamp:     asTime(p["timestamp"], now),
		EventType:     EventType(asString(p["eventType"])),
	}

	e.EventCategory = Category(asString(p["eventCategory"]))
	if e.EventCategory == "" {
		e.EventCategory = InferCategory(e.EventType)
	}

	data := p.nested("eventData")
	e.Data = EventData{
		ModuleID:         asString(pick(p, data, "moduleId")),
		AssessmentID:     asString(pick(p, data, "assessmentId")),
		QuestionID:       asString(pick(p, data, "questionId")),
		ResponseTimeMs:   asFloat(pickAny(p, data, "responseTimeMs", "responseTime")),
		Score:            asFloat(pick(p, data, "score")),
		InteractionCount: asInt(pickAny(p, data, "interactionCount", "interactions")),
		PreviousAnswer:   asRaw(pick(p, data, "previousAnswer")),
		CurrentAnswer:    asRaw(pick(p, data, "currentAnswer")),
		Confidence:       asFloat(pick(p, data, "confidence")),
		PageURL:          asString(pick(p, data, "pageUrl")),
		SearchQuery:      asString(pick(p, data, "searchQuery")),
		ToolName:         asString(pick(p, data, "toolName")),
		ActionType:       asString(pick(p, data, "actionType")),
		Metadata:         asRaw(pick(p, data, "metadata")),
	}

	ctx := p.nested("context")
	e.Context = Context{
		DeviceType:        orDefault(asString(pick(p, ctx, "deviceType")), DefaultDeviceType),
		NetworkType:       orDefault(asString(pick(p, ctx, "networkType")), DefaultNetworkType),
		OfflineMode:       asBool(pick(p, ctx, "offlineMode")),
		Language:          orDefault(asString(pick(p, ctx, "language")), DefaultLanguage),
		AccessibilityMode: orDefault(asString(pick(p, ctx, "accessibilityMode")), DefaultAccessibilityMode),
		UserAgent:         asString(pick(p, ctx, "userAgent")),
		ScreenWidth:       asInt(pick(p, ctx, "screenWidth")),
		ScreenHeight:      asInt(pick(p, ctx, "screenHeight")),
	}

	exp := p.nested("experimentData")
	e.Experiment = Experiment{
		ExperimentID:     asString(exp["experimentId"]),
		Group:            asString(exp["group"]),
		Variant:          asString(exp["variant"]),
		TreatmentApplied: asBool(exp["treatmentApplied"]),
	}

	sync := p.nested("syncStatus")
	e.Sync = SyncStatus{
		SyncedAt: now,
		Source:   SyncSource(orDefault(asString(sync["source"]), string(SourceOnline))),
	}
	if _, ok := sync["queuedAt"]; ok {
		if t := asTime(sync["queuedAt"], time.Time{}); !t.IsZero() {
			e.Sync.QueuedAt = &t
		}
	}
	if n := asInt(sync["retryCount"]); n != nil && *n > 0 {
		e.Sync.RetryCount = *n
	}

	return e
}

func (p Payload) nested(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// present reports whether v carries a value. Zero numbers and false are
// values; nil and the empty string are not.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	}
	return true
}

func pick(top Payload, nested map[string]any, key string) any {
	if v := top[key]; present(v) {
		return v
	}
	return nested[key]
}

// pickAny tries each key in turn, the first being the current name and the
// rest legacy aliases.
func pickAny(top Payload, nested map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := pick(top, nested, k); present(v) {
			return v
		}
	}
	return nil
}

func firstString(vs ...any) string {
	for _, v := range vs {
		if s := asString(v); s != "" {
			return s
		}
	}
	return ""
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

func asFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func asInt(v any) *int {
	f := asFloat(v)
	if f == nil || *f > math.MaxInt32 || *f < math.MinInt32 {
		return nil
	}
	n := int(*f)
	return &n
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return false
}

// asTime accepts RFC 3339 strings and Unix epoch milliseconds, returning
// fallback for anything else.
func asTime(v any, fallback time.Time) time.Time {
	switch x := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(x)); err == nil {
			return t.UTC()
		}
	case float64, int, int64, json.Number:
		if ms := asFloat(x); ms != nil && *ms > 0 {
			return time.UnixMilli(int64(*ms)).UTC()
		}
	}
	return fallback
}

func asRaw(v any) json.RawMessage {
	if !present(v) {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
