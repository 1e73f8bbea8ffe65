// Package ui renders terminal output for the lt CLI.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/learnertrace/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 215 // orange
	colorFail   = 203 // red
)

var categoryColors = map[model.Category]int{
	model.CategoryLearning:      114,
	model.CategoryAssessment:    179,
	model.CategoryBusinessTool:  141,
	model.CategoryNavigation:    74,
	model.CategorySystem:        245,
	model.CategoryResearch:      215,
	model.CategoryAccessibility: 80,
}

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

func RenderOK(s string) string   { return paint(colorOK, s) }
func RenderWarn(s string) string { return paint(colorWarn, s) }
func RenderFail(s string) string { return paint(colorFail, s) }

// RenderCategory colors s by event category. Unknown categories are muted.
func RenderCategory(c model.Category, s string) string {
	code, ok := categoryColors[c]
	if !ok {
		code = colorMuted
	}
	return paint(code, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
