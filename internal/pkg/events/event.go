package events

import (
	"fmt"
	"strings"
	"time"
)

// Outcome of an event, both on the envelope and in its data
type Outcome string

// Possible outcomes
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// ParseOutcome parses an outcome string case-insensitively
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeSuccess:
		return OutcomeSuccess, nil
	case OutcomeFail:
		return OutcomeFail, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// OutcomeOf maps a boolean result to an outcome
func OutcomeOf(ok bool) Outcome {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFail
}

// Data keys shared by the events of the sipin pipeline
const (
	DataOutcome     = "outcome"
	DataDestination = "destination"
	DataMessage     = "message"
)

//Event is the envelope exchanged on every topic
type Event struct {
	ID            string
	Type          string
	Source        string
	Subject       string
	Time          time.Time
	Outcome       Outcome
	CorrelationID string
	Data          map[string]interface{}
}

// DataOutcome returns the outcome carried in the event data, empty when absent or unknown
func (e Event) DataOutcome() Outcome {
	raw, ok := e.Data[DataOutcome].(string)
	if !ok {
		return ""
	}
	outcome, err := ParseOutcome(raw)
	if err != nil {
		return ""
	}
	return outcome
}

// HasSuccessfulOutcome reports whether the upstream stage succeeded
func (e Event) HasSuccessfulOutcome() bool {
	return e.DataOutcome() == OutcomeSuccess
}

// DataString returns a non-empty string field from the event data
func (e Event) DataString(key string) (string, bool) {
	v, ok := e.Data[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
