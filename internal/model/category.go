package model

var categoryByType = map[EventType]Category{
	EventPageView:             CategoryNavigation,
	EventModuleStart:          CategoryLearning,
	EventModuleProgress:       CategoryLearning,
	EventModuleComplete:       CategoryLearning,
	EventAssessmentStart:      CategoryAssessment,
	EventAssessmentAnswer:     CategoryAssessment,
	EventAssessmentComplete:   CategoryAssessment,
	EventBusinessToolUse:      CategoryBusinessTool,
	EventNavigation:           CategoryNavigation,
	EventSearch:               CategoryNavigation,
	EventLogin:                CategorySystem,
	EventLogout:               CategorySystem,
	EventError:                CategorySystem,
	EventInterventionReceived: CategoryResearch,
	EventConsentAction:        CategoryResearch,
	EventEconomicSurvey:       CategoryResearch,
	EventVoiceCommand:         CategoryAccessibility,
	EventAccessibilityToggle:  CategoryAccessibility,
}

// InferCategory returns the category for an event type. Unmapped types,
// including the empty string, fall back to CategorySystem.
func InferCategory(t EventType) Category {
	if c, ok := categoryByType[t]; ok {
		return c
	}
	return CategorySystem
}
