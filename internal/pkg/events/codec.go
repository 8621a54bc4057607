package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	cetypes "github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"
)

// ContentTypeStructured is the content type of a structured mode cloudevent
const ContentTypeStructured = "application/cloudevents+json"

// cloudevent extension names, lower-case alphanumerics only
const (
	extOutcome       = "outcome"
	extCorrelationID = "correlationid"
)

// Message property keys set on every encoded event
const (
	PropContentType   = "content-type"
	PropID            = "id"
	PropType          = "type"
	PropSource        = "source"
	PropSubject       = "subject"
	PropOutcome       = "outcome"
	PropCorrelationID = "correlation_id"
	PropSpecVersion   = "specversion"
	PropTime          = "time"
)

// WireMessage is a broker neutral message: body, properties and event timestamp
type WireMessage struct {
	Payload    []byte
	Properties map[string]string
	EventTime  time.Time
}

// DecodeError is returned when a message can't be turned into an Event
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode event: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec builds, encodes and decodes events for one source
type Codec struct {
	Source string
	now    func() time.Time
	newID  func() string
}

// NewCodec returns a codec stamping source on every event it builds
func NewCodec(source string) *Codec {
	return &Codec{
		Source: source,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Build creates an event. The outcome is set on the envelope and merged into the data.
func (c *Codec) Build(eventType string, outcome Outcome, subject, correlationID string, fields map[string]interface{}) Event {
	data := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data[DataOutcome] = string(outcome)

	return Event{
		ID:            c.newID(),
		Type:          eventType,
		Source:        c.Source,
		Subject:       subject,
		Time:          c.now().UTC(),
		Outcome:       outcome,
		CorrelationID: correlationID,
		Data:          data,
	}
}

// Encode serializes the event into a structured mode cloudevent
func Encode(e Event) (WireMessage, error) {
	ce := event.New()
	ce.SetID(e.ID)
	ce.SetType(e.Type)
	ce.SetSource(e.Source)
	ce.SetSubject(e.Subject)
	ce.SetTime(e.Time)
	ce.SetExtension(extOutcome, string(e.Outcome))
	ce.SetExtension(extCorrelationID, e.CorrelationID)
	if err := ce.SetData(event.ApplicationJSON, e.Data); err != nil {
		return WireMessage{}, fmt.Errorf("encode event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return WireMessage{}, fmt.Errorf("encode event: %w", err)
	}

	payload, err := json.Marshal(ce)
	if err != nil {
		return WireMessage{}, fmt.Errorf("encode event: %w", err)
	}

	return WireMessage{
		Payload: payload,
		Properties: map[string]string{
			PropContentType:   ContentTypeStructured,
			PropID:            e.ID,
			PropType:          e.Type,
			PropSource:        e.Source,
			PropSubject:       e.Subject,
			PropOutcome:       string(e.Outcome),
			PropCorrelationID: e.CorrelationID,
			PropSpecVersion:   ce.SpecVersion(),
			PropTime:          e.Time.UTC().Format(time.RFC3339Nano),
		},
		EventTime: e.Time,
	}, nil
}

// Decode parses a structured mode cloudevent
func Decode(msg WireMessage) (Event, error) {
	if len(bytes.TrimSpace(msg.Payload)) == 0 {
		return Event{}, &DecodeError{Reason: "empty payload"}
	}

	payload, err := normalizeAttributeNames(msg.Payload)
	if err != nil {
		return Event{}, &DecodeError{Reason: "payload is not a json object", Err: err}
	}

	ce := event.New()
	if err := json.Unmarshal(payload, &ce); err != nil {
		return Event{}, &DecodeError{Reason: "payload is not a cloudevent", Err: err}
	}
	if err := ce.Validate(); err != nil {
		return Event{}, &DecodeError{Reason: "invalid envelope", Err: err}
	}

	extensions := ce.Extensions()

	rawOutcome, err := extensionString(extensions, extOutcome)
	if err != nil {
		return Event{}, &DecodeError{Reason: "missing outcome", Err: err}
	}
	outcome, err := ParseOutcome(rawOutcome)
	if err != nil {
		return Event{}, &DecodeError{Reason: "invalid outcome", Err: err}
	}

	correlationID, err := extensionString(extensions, extCorrelationID)
	if err != nil {
		var ok bool
		correlationID, ok = msg.Properties[PropCorrelationID]
		if !ok {
			return Event{}, &DecodeError{Reason: "missing correlation id", Err: err}
		}
	}

	if len(ce.Data()) == 0 {
		return Event{}, &DecodeError{Reason: "missing data"}
	}
	var data map[string]interface{}
	if err := json.Unmarshal(ce.Data(), &data); err != nil {
		return Event{}, &DecodeError{Reason: "data is not a json object", Err: err}
	}
	if data == nil {
		return Event{}, &DecodeError{Reason: "data is null"}
	}

	eventTime := ce.Time()
	if eventTime.IsZero() {
		eventTime = msg.EventTime
	}

	return Event{
		ID:            ce.ID(),
		Type:          ce.Type(),
		Source:        ce.Source(),
		Subject:       ce.Subject(),
		Time:          eventTime,
		Outcome:       outcome,
		CorrelationID: correlationID,
		Data:          data,
	}, nil
}

// normalizeAttributeNames rewrites attribute names such as correlation_id, sent by
// producers that don't follow the cloudevents naming rules, to their alphanumeric form.
// An attribute already present under the normalized name wins.
func normalizeAttributeNames(payload []byte) ([]byte, error) {
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(payload, &attrs); err != nil {
		return nil, err
	}

	changed := false
	for name, value := range attrs {
		if name == dataBase64Attribute {
			continue
		}
		normalized := attributeName(name)
		if normalized == name {
			continue
		}
		delete(attrs, name)
		changed = true
		if normalized == "" {
			continue
		}
		if _, exists := attrs[normalized]; !exists {
			attrs[normalized] = value
		}
	}
	if !changed {
		return payload, nil
	}
	return json.Marshal(attrs)
}

const dataBase64Attribute = "data_base64"

func attributeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return -1
	}, name)
}

func extensionString(extensions map[string]interface{}, name string) (string, error) {
	v, ok := extensions[name]
	if !ok {
		return "", fmt.Errorf("extension %q not set", name)
	}
	return cetypes.ToString(v)
}
