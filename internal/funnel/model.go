// Package funnel provides funnel definitions and step matching for the
// analytics pipeline. A funnel is an ordered sequence of steps describing a
// user journey; progress tracks the furthest step a session has reached.
package funnel

import (
	"errors"
	"fmt"
)

// Event types that can trigger a funnel step.
const (
	EventPageView    = "page_view"
	EventButtonClick = "button_click"
	EventFormSubmit  = "form_submit"
	EventNavigation  = "navigation"
	EventCustom      = "custom"
)

// ErrNoSteps is returned when a definition has no steps.
var ErrNoSteps = errors.New("funnel has no steps")

// Step is a single stage in a funnel. PagePath and EventName are optional
// constraints; an empty value matches anything.
type Step struct {
	StepNumber int    `json:"step_number"`
	StepName   string `json:"step_name"`
	PagePath   string `json:"page_path,omitempty"`
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name,omitempty"`
}

// Definition is an ordered funnel loaded from the store at startup and
// treated as read-only configuration thereafter.
type Definition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// StepCount returns the number of steps in the funnel.
func (d *Definition) StepCount() int {
	return len(d.Steps)
}

// Validate checks the funnel's structural invariants: at least one step,
// step numbers strictly increasing from 1, and the last step number equal
// to the step count (which defines "completed").
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	for i, step := range d.Steps {
		if step.StepNumber != i+1 {
			return fmt.Errorf("funnel %s: step at index %d has number %d, want %d", d.ID, i, step.StepNumber, i+1)
		}
		if step.EventType == "" {
			return fmt.Errorf("funnel %s: step %d has no event type", d.ID, step.StepNumber)
		}
	}
	return nil
}

// MatchStep returns the first step matching the given page path, event type
// and event name, or nil if no step matches. A step matches when its page
// path (if set) equals the current path, its event type equals the
// triggering event's type, and its event name (if set) equals the
// triggering event's name.
func (d *Definition) MatchStep(pagePath, eventType, eventName string) *Step {
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.PagePath != "" && step.PagePath != pagePath {
			continue
		}
		if step.EventType != eventType {
			continue
		}
		if step.EventName != "" && step.EventName != eventName {
			continue
		}
		return step
	}
	return nil
}
