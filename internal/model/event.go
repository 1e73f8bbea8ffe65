package model

import (
	"encoding/json"
	"time"
)

// EventType identifies the learner interaction being recorded.
type EventType string

const (
	EventPageView             EventType = "page_view"
	EventModuleStart          EventType = "module_start"
	EventModuleProgress       EventType = "module_progress"
	EventModuleComplete       EventType = "module_complete"
	EventAssessmentStart      EventType = "assessment_start"
	EventAssessmentAnswer     EventType = "assessment_answer"
	EventAssessmentComplete   EventType = "assessment_complete"
	EventBusinessToolUse      EventType = "business_tool_use"
	EventNavigation           EventType = "navigation"
	EventSearch               EventType = "search"
	EventLogin                EventType = "login"
	EventLogout               EventType = "logout"
	EventError                EventType = "error"
	EventInterventionReceived EventType = "intervention_received"
	EventConsentAction        EventType = "consent_action"
	EventEconomicSurvey       EventType = "economic_survey"
	EventVoiceCommand         EventType = "voice_command"
	EventAccessibilityToggle  EventType = "accessibility_toggle"
)

// EventTypes lists every accepted event type in declaration order.
var EventTypes = []EventType{
	EventPageView, EventModuleStart, EventModuleProgress, EventModuleComplete,
	EventAssessmentStart, EventAssessmentAnswer, EventAssessmentComplete,
	EventBusinessToolUse, EventNavigation, EventSearch, EventLogin, EventLogout,
	EventError, EventInterventionReceived, EventConsentAction, EventEconomicSurvey,
	EventVoiceCommand, EventAccessibilityToggle,
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid reports whether t is one of the closed set of event types.
func (t EventType) IsValid() bool {
	_, ok := categoryByType[t]
	return ok
}

// Category is the coarse grouping of an event type.
type Category string

const (
	CategoryLearning      Category = "learning"
	CategoryAssessment    Category = "assessment"
	CategoryBusinessTool  Category = "business_tool"
	CategoryNavigation    Category = "navigation"
	CategorySystem        Category = "system"
	CategoryResearch      Category = "research"
	CategoryAccessibility Category = "accessibility"
)

// Categories lists every accepted category.
var Categories = []Category{
	CategoryLearning, CategoryAssessment, CategoryBusinessTool, CategoryNavigation,
	CategorySystem, CategoryResearch, CategoryAccessibility,
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks whether the category is a known value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryLearning, CategoryAssessment, CategoryBusinessTool, CategoryNavigation,
		CategorySystem, CategoryResearch, CategoryAccessibility:
		return true
	}
	return false
}

// SyncSource records how an event reached the server.
type SyncSource string

const (
	SourceOnline      SyncSource = "online"
	SourceOfflineSync SyncSource = "offline_sync"
)

// IsValid checks whether the source is a known value.
func (s SyncSource) IsValid() bool {
	return s == SourceOnline || s == SourceOfflineSync
}

// Context value sets accepted by the durable store.
var (
	DeviceTypes        = []string{"mobile", "tablet", "desktop", "unknown"}
	NetworkTypes       = []string{"wifi", "4g", "3g", "2g", "offline", "unknown"}
	Languages          = []string{"en", "sw"}
	AccessibilityModes = []string{"standard", "simplified", "voice"}
)

// Context defaults applied by Normalize.
const (
	DefaultDeviceType        = "unknown"
	DefaultNetworkType       = "unknown"
	DefaultLanguage          = "en"
	DefaultAccessibilityMode = "standard"
)

// Event is one recorded learner interaction.
type Event struct {
	ID            string     `json:"eventId"`
	ParticipantID string     `json:"participantId"`
	SessionID     string     `json:"sessionId"`
	Timestamp     time.Time  `json:"timestamp"`
	EventType     EventType  `json:"eventType"`
	EventCategory Category   `json:"eventCategory"`
	Data          EventData  `json:"eventData"`
	Context       Context    `json:"context"`
	Experiment    Experiment `json:"experimentData"`
	Sync          SyncStatus `json:"syncStatus"`
}

// EventData holds the optional measurements attached to an event.
type EventData struct {
	ModuleID         string          `json:"moduleId,omitempty"`
	AssessmentID     string          `json:"assessmentId,omitempty"`
	QuestionID       string          `json:"questionId,omitempty"`
	ResponseTimeMs   *float64        `json:"responseTimeMs,omitempty"`
	Score            *float64        `json:"score,omitempty"`
	InteractionCount *int            `json:"interactionCount,omitempty"`
	PreviousAnswer   json.RawMessage `json:"previousAnswer,omitempty"`
	CurrentAnswer    json.RawMessage `json:"currentAnswer,omitempty"`
	Confidence       *float64        `json:"confidence,omitempty"`
	PageURL          string          `json:"pageUrl,omitempty"`
	SearchQuery      string          `json:"searchQuery,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	ActionType       string          `json:"actionType,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Context is device, network and accessibility metadata for an event.
type Context struct {
	DeviceType        string `json:"deviceType"`
	NetworkType       string `json:"networkType"`
	OfflineMode       bool   `json:"offlineMode"`
	Language          string `json:"language"`
	AccessibilityMode string `json:"accessibilityMode"`
	UserAgent         string `json:"userAgent,omitempty"`
	ScreenWidth       *int   `json:"screenWidth,omitempty"`
	ScreenHeight      *int   `json:"screenHeight,omitempty"`
}

// Experiment is A/B assignment metadata. The pipeline never interprets it;
// the read side filters on ExperimentID and Group.
type Experiment struct {
	ExperimentID     string `json:"experimentId,omitempty"`
	Group            string `json:"group,omitempty"`
	Variant          string `json:"variant,omitempty"`
	TreatmentApplied bool   `json:"treatmentApplied,omitempty"`
}

// SyncStatus is delivery bookkeeping for an event.
type SyncStatus struct {
	QueuedAt   *time.Time `json:"queuedAt,omitempty"`
	SyncedAt   time.Time  `json:"syncedAt"`
	RetryCount int        `json:"retryCount"`
	Source     SyncSource `json:"source"`
}
