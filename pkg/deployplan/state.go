package deployplan

import (
	"fmt"
	"regexp"
	"strings"
)

// JobState is the desired state of a job or one of its instances.
type JobState string

const (
	JobStateStarted  JobState = "started"
	JobStateStopped  JobState = "stopped"
	JobStateDetached JobState = "detached"

	// JobStateRecreate and JobStateRestart are virtual: they are never
	// persisted and resolve to started plus a SpecModifier.
	JobStateRecreate JobState = "recreate"
	JobStateRestart  JobState = "restart"
)

// ValidJobStates lists every accepted job state.
var ValidJobStates = []JobState{
	JobStateStarted,
	JobStateStopped,
	JobStateDetached,
	JobStateRecreate,
	JobStateRestart,
}

// SpecModifier is applied to an instance spec when a virtual state resolves.
type SpecModifier string

const (
	SpecModifierNone     SpecModifier = ""
	SpecModifierRecreate SpecModifier = "recreate"
	SpecModifierRestart  SpecModifier = "restart"
)

// Valid reports whether s is one of ValidJobStates.
func (s JobState) Valid() bool {
	for _, v := range ValidJobStates {
		if s == v {
			return true
		}
	}
	return false
}

// Virtual reports whether s never persists.
func (s JobState) Virtual() bool {
	return s == JobStateRecreate || s == JobStateRestart
}

// Resolve maps s to the state that is persisted and the modifier the
// instance-update pipeline applies.
func (s JobState) Resolve() (JobState, SpecModifier) {
	switch s {
	case JobStateRecreate:
		return JobStateStarted, SpecModifierRecreate
	case JobStateRestart:
		return JobStateStarted, SpecModifierRestart
	default:
		return s, SpecModifierNone
	}
}

// ParseJobState validates raw and returns it as a JobState.
func ParseJobState(raw string) (JobState, error) {
	s := JobState(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobState, raw)
	}
	return s, nil
}

// Lifecycle classifies how a job runs.
type Lifecycle string

const (
	LifecycleService Lifecycle = "service"
	LifecycleErrand  Lifecycle = "errand"
)

// ParseLifecycle validates raw. An empty value yields LifecycleService.
func ParseLifecycle(raw string) (Lifecycle, error) {
	switch Lifecycle(strings.TrimSpace(raw)) {
	case "", LifecycleService:
		return LifecycleService, nil
	case LifecycleErrand:
		return LifecycleErrand, nil
	default:
		return "", fmt.Errorf("%w: %q (expected service or errand)", ErrInvalidLifecycle, raw)
	}
}

var nonCanonical = regexp.MustCompile(`[^a-z0-9-]`)

// Canonical returns the normalized form of a name used for cross-references:
// lowercase, underscores become dashes, anything else outside [a-z0-9-] is
// dropped.
func Canonical(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "_", "-")
	return nonCanonical.ReplaceAllString(s, "")
}
