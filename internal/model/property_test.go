package model

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genEventType() gopter.Gen {
	vals := make([]any, len(EventTypes))
	for i, et := range EventTypes {
		vals[i] = string(et)
	}
	return gen.OneConstOf(vals...)
}

// TestProperty_InferCategoryTotal checks that every string maps to a valid
// category and that the fallback is system.
func TestProperty_InferCategoryTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("InferCategory always returns a valid category", prop.ForAll(
		func(s string) bool {
			return InferCategory(EventType(s)).IsValid()
		},
		gen.AnyString(),
	))

	properties.Property("unknown event types fall back to system", prop.ForAll(
		func(s string) bool {
			et := EventType("x_" + s)
			return et.IsValid() || InferCategory(et) == CategorySystem
		},
		gen.AlphaString(),
	))

	properties.Property("InferCategory is deterministic", prop.ForAll(
		func(s string) bool {
			return InferCategory(EventType(s)) == InferCategory(EventType(s))
		},
		genEventType(),
	))

	properties.TestingRun(t)
}

// TestProperty_NormalizeThenValidate checks the acceptance contract: a
// payload with non-empty identifiers and a known event type always passes,
// and the normalized event always carries a category.
func TestProperty_NormalizeThenValidate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("well-formed payloads are accepted", prop.ForAll(
		func(participant, session, eventType string) bool {
			e := Normalize(Payload{
				"participantId": participant,
				"sessionId":     session,
				"eventType":     eventType,
			}, now)
			return ValidateEvent(e) == nil && e.EventCategory != ""
		},
		gen.Identifier(),
		gen.Identifier(),
		genEventType(),
	))

	properties.Property("unknown event types are rejected naming eventType", prop.ForAll(
		func(suffix string) bool {
			e := Normalize(Payload{
				"participantId": "p1",
				"sessionId":     "s1",
				"eventType":     "zz_" + suffix,
			}, now)
			var ve *ValidationError
			return errors.As(ValidateEvent(e), &ve) && ve.Has("eventType")
		},
		gen.AlphaString(),
	))

	properties.Property("missing identifiers are all reported", prop.ForAll(
		func(eventType string) bool {
			e := Normalize(Payload{"eventType": eventType}, now)
			var ve *ValidationError
			return errors.As(ValidateEvent(e), &ve) && ve.Has("participantId") && ve.Has("sessionId")
		},
		genEventType(),
	))

	properties.Property("context defaults are never empty", prop.ForAll(
		func(eventType string) bool {
			c := Normalize(Payload{"eventType": eventType}, now).Context
			return c.DeviceType != "" && c.NetworkType != "" && c.Language != "" && c.AccessibilityMode != ""
		},
		genEventType(),
	))

	properties.TestingRun(t)
}
