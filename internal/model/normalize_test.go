package model

import (
	"encoding/json"
	"testing"
	"time"
)

var normNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func decodePayload(t *testing.T, s string) Payload {
	t.Helper()
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	return p
}

func TestNormalize_Defaults(t *testing.T) {
	e := Normalize(Payload{"participantId": "p1", "sessionId": "s1", "eventType": "login"}, normNow)

	if !e.Timestamp.Equal(normNow) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, normNow)
	}
	if e.EventCategory != CategorySystem {
		t.Errorf("EventCategory = %q, want %q", e.EventCategory, CategorySystem)
	}
	want := Context{
		DeviceType:        "unknown",
		NetworkType:       "unknown",
		OfflineMode:       false,
		Language:          "en",
		AccessibilityMode: "standard",
	}
	if e.Context != want {
		t.Errorf("Context = %+v, want %+v", e.Context, want)
	}
	if e.Sync.Source != SourceOnline {
		t.Errorf("Sync.Source = %q, want online", e.Sync.Source)
	}
	if !e.Sync.SyncedAt.Equal(normNow) {
		t.Errorf("Sync.SyncedAt = %v, want %v", e.Sync.SyncedAt, normNow)
	}
	if e.Sync.RetryCount != 0 || e.Sync.QueuedAt != nil {
		t.Errorf("unexpected sync status %+v", e.Sync)
	}
	if e.ID != "" {
		t.Errorf("ID = %q, want empty (assigned by the pipeline)", e.ID)
	}
}

func TestNormalize_TopLevelWinsOverNested(t *testing.T) {
	p := decodePayload(t, `{
		"participantId": "p1", "sessionId": "s1", "eventType": "assessment_answer",
		"questionId": "q-top",
		"deviceType": "mobile",
		"eventData": {"questionId": "q-nested", "assessmentId": "a-nested", "score": 3},
		"context": {"deviceType": "desktop", "language": "sw"}
	}`)
	e := Normalize(p, normNow)

	if e.Data.QuestionID != "q-top" {
		t.Errorf("QuestionID = %q, want q-top", e.Data.QuestionID)
	}
	if e.Data.AssessmentID != "a-nested" {
		t.Errorf("AssessmentID = %q, want a-nested", e.Data.AssessmentID)
	}
	if e.Data.Score == nil || *e.Data.Score != 3 {
		t.Errorf("Score = %v, want 3", e.Data.Score)
	}
	if e.Context.DeviceType != "mobile" {
		t.Errorf("DeviceType = %q, want mobile", e.Context.DeviceType)
	}
	if e.Context.Language != "sw" {
		t.Errorf("Language = %q, want sw", e.Context.Language)
	}
}

func TestNormalize_ZeroScoreIsKept(t *testing.T) {
	p := decodePayload(t, `{"participantId":"p1","sessionId":"s1","eventType":"module_progress","score":0,"eventData":{"score":55}}`)
	e := Normalize(p, normNow)
	if e.Data.Score == nil || *e.Data.Score != 0 {
		t.Fatalf("Score = %v, want 0", e.Data.Score)
	}
}

func TestNormalize_OfflineModeFalseTopLevelWins(t *testing.T) {
	p := decodePayload(t, `{"offlineMode":false,"context":{"offlineMode":true}}`)
	if Normalize(p, normNow).Context.OfflineMode {
		t.Fatal("OfflineMode = true, want false from top level")
	}
	p = decodePayload(t, `{"context":{"offlineMode":true}}`)
	if !Normalize(p, normNow).Context.OfflineMode {
		t.Fatal("OfflineMode = false, want true from context")
	}
}

func TestNormalize_LegacyAliases(t *testing.T) {
	p := decodePayload(t, `{
		"userId": "legacy-user", "sessionId": "s1", "eventType": "assessment_answer",
		"responseTime": 1234.5, "interactions": 4
	}`)
	e := Normalize(p, normNow)
	if e.ParticipantID != "legacy-user" {
		t.Errorf("ParticipantID = %q, want legacy-user", e.ParticipantID)
	}
	if e.Data.ResponseTimeMs == nil || *e.Data.ResponseTimeMs != 1234.5 {
		t.Errorf("ResponseTimeMs = %v, want 1234.5", e.Data.ResponseTimeMs)
	}
	if e.Data.InteractionCount == nil || *e.Data.InteractionCount != 4 {
		t.Errorf("InteractionCount = %v, want 4", e.Data.InteractionCount)
	}

	// participantId takes precedence over the alias.
	e = Normalize(Payload{"participantId": "p1", "userId": "u1"}, normNow)
	if e.ParticipantID != "p1" {
		t.Errorf("ParticipantID = %q, want p1", e.ParticipantID)
	}
}

func TestNormalize_Timestamp(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   any
		want time.Time
	}{
		{"RFC3339", "2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"RFC3339Offset", "2026-01-02T06:04:05+03:00", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"EpochMillis", float64(1767323045000), time.UnixMilli(1767323045000).UTC()},
		{"Garbage", "yesterday-ish", normNow},
		{"Missing", nil, normNow},
		{"Negative", float64(-5), normNow},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := Payload{}
			if tc.in != nil {
				p["timestamp"] = tc.in
			}
			if got := Normalize(p, normNow).Timestamp; !got.Equal(tc.want) {
				t.Errorf("Timestamp = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalize_CallerCategoryKept(t *testing.T) {
	e := Normalize(Payload{"eventType": "search", "eventCategory": "research"}, normNow)
	if e.EventCategory != CategoryResearch {
		t.Errorf("EventCategory = %q, want research", e.EventCategory)
	}
}

func TestNormalize_NumericStrings(t *testing.T) {
	e := Normalize(Payload{"score": "87.5", "screenWidth": "390", "confidence": "high"}, normNow)
	if e.Data.Score == nil || *e.Data.Score != 87.5 {
		t.Errorf("Score = %v, want 87.5", e.Data.Score)
	}
	if e.Context.ScreenWidth == nil || *e.Context.ScreenWidth != 390 {
		t.Errorf("ScreenWidth = %v, want 390", e.Context.ScreenWidth)
	}
	if e.Data.Confidence != nil {
		t.Errorf("Confidence = %v, want nil for non-numeric input", *e.Data.Confidence)
	}
}

func TestNormalize_AnswersAndMetadataAreRaw(t *testing.T) {
	p := decodePayload(t, `{"eventData":{"currentAnswer":["b","c"],"previousAnswer":"a","metadata":{"attempt":2}}}`)
	e := Normalize(p, normNow)
	if string(e.Data.CurrentAnswer) != `["b","c"]` {
		t.Errorf("CurrentAnswer = %s", e.Data.CurrentAnswer)
	}
	if string(e.Data.PreviousAnswer) != `"a"` {
		t.Errorf("PreviousAnswer = %s", e.Data.PreviousAnswer)
	}
	if string(e.Data.Metadata) != `{"attempt":2}` {
		t.Errorf("Metadata = %s", e.Data.Metadata)
	}
}

func TestNormalize_ExperimentAndSync(t *testing.T) {
	p := decodePayload(t, `{
		"eventId": "client-42",
		"experimentData": {"experimentId": "exp-1", "group": "treatment_b", "variant": "v2", "treatmentApplied": true},
		"syncStatus": {"queuedAt": "2026-03-13T20:00:00Z", "retryCount": 2, "source": "offline_sync"}
	}`)
	e := Normalize(p, normNow)

	if e.ID != "client-42" {
		t.Errorf("ID = %q, want client-42", e.ID)
	}
	wantExp := Experiment{ExperimentID: "exp-1", Group: "treatment_b", Variant: "v2", TreatmentApplied: true}
	if e.Experiment != wantExp {
		t.Errorf("Experiment = %+v, want %+v", e.Experiment, wantExp)
	}
	if e.Sync.Source != SourceOfflineSync {
		t.Errorf("Source = %q, want offline_sync", e.Sync.Source)
	}
	if e.Sync.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", e.Sync.RetryCount)
	}
	if e.Sync.QueuedAt == nil || !e.Sync.QueuedAt.Equal(time.Date(2026, 3, 13, 20, 0, 0, 0, time.UTC)) {
		t.Errorf("QueuedAt = %v", e.Sync.QueuedAt)
	}
}

func TestNormalize_NonObjectNestedIgnored(t *testing.T) {
	e := Normalize(Payload{"eventData": "oops", "context": 12, "deviceType": "tablet"}, normNow)
	if e.Context.DeviceType != "tablet" {
		t.Errorf("DeviceType = %q, want tablet", e.Context.DeviceType)
	}
}
