package appointment

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions lists every allowed move. Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition checks a status change against the state machine.
func Transition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

var statusLabels = map[string]map[Status]string{
	"en": {
		StatusScheduled: "Scheduled",
		StatusCompleted: "Completed",
		StatusCancelled: "Cancelled",
	},
	"pl": {
		StatusScheduled: "Zaplanowana",
		StatusCompleted: "Odbyta",
		StatusCancelled: "Odwołana",
	},
}

// Label is the display name of s in lang, falling back to English.
func (s Status) Label(lang string) string {
	labels, ok := statusLabels[strings.ToLower(lang)]
	if !ok {
		labels = statusLabels["en"]
	}
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// ParseStatus maps canonical values and any display label back to a Status.
// Used when importing rows written with localized labels.
func ParseStatus(raw string) (Status, error) {
	v := strings.TrimSpace(raw)
	if s := Status(strings.ToLower(v)); s.Valid() {
		return s, nil
	}
	for _, labels := range statusLabels {
		for s, l := range labels {
			if strings.EqualFold(l, v) {
				return s, nil
			}
		}
	}
	return "", invalid("status", "unknown value %q", raw)
}
