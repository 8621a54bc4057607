package events

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec() *Codec {
	c := NewCodec("sip-validator")
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	c.newID = func() string { return "event-1" }
	return c
}

func TestBuildMergesOutcomeIntoData(t *testing.T) {
	c := newTestCodec()
	e := c.Build("be.meemoo.sipin.bag.validate", OutcomeFail, "/data/bag1", "abc", map[string]interface{}{
		DataMessage: "broken",
		DataOutcome: "success",
	})

	if e.Source != "sip-validator" {
		t.Errorf("source not stamped, got %q", e.Source)
	}
	if e.Subject != "/data/bag1" {
		t.Errorf("subject not stamped, got %q", e.Subject)
	}
	if e.Outcome != OutcomeFail || e.DataOutcome() != OutcomeFail {
		t.Errorf("outcome should be fail on envelope and data, got %v / %v", e.Outcome, e.DataOutcome())
	}
	if e.Data[DataMessage] != "broken" {
		t.Errorf("data field lost: %v", e.Data)
	}
}

func TestBuildDoesNotAliasFields(t *testing.T) {
	c := newTestCodec()
	fields := map[string]interface{}{DataMessage: "hi"}
	c.Build("t", OutcomeSuccess, "s", "c", fields)
	if _, ok := fields[DataOutcome]; ok {
		t.Error("Build modified the caller's map")
	}
}

func TestEncodeDecode(t *testing.T) {
	c := newTestCodec()
	in := c.Build("be.meemoo.sipin.bag.validate", OutcomeSuccess, "/data/bag1", "abc", map[string]interface{}{
		DataDestination: "/data/bag1",
		DataMessage:     "Path '/data/bag1' is a valid bag",
	})

	wire, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	if wire.Properties[PropCorrelationID] != "abc" {
		t.Errorf("correlation id property missing: %v", wire.Properties)
	}
	if wire.Properties[PropContentType] != ContentTypeStructured {
		t.Errorf("unexpected content type %q", wire.Properties[PropContentType])
	}
	if !wire.EventTime.Equal(in.Time) {
		t.Errorf("event time not carried: %v != %v", wire.EventTime, in.Time)
	}

	out, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if out.CorrelationID != "abc" || out.Subject != "/data/bag1" || out.Type != in.Type || out.ID != "event-1" {
		t.Errorf("envelope not preserved: %+v", out)
	}
	if !out.HasSuccessfulOutcome() {
		t.Error("expected successful outcome")
	}
	if d, _ := out.DataString(DataDestination); d != "/data/bag1" {
		t.Errorf("destination not preserved, got %q", d)
	}
}

func TestDecodeCorrelationFallsBackToProperty(t *testing.T) {
	payload := `{"specversion":"1.0","id":"1","type":"be.meemoo.sipin.bag.unzip","source":"unzip",
		"outcome":"success","datacontenttype":"application/json",
		"data":{"outcome":"success","destination":"/data/bag1"}}`

	e, err := Decode(WireMessage{
		Payload:    []byte(payload),
		Properties: map[string]string{PropCorrelationID: "from-props"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.CorrelationID != "from-props" {
		t.Errorf("expected correlation id from properties, got %q", e.CorrelationID)
	}
}

func TestDecodeOutcomeCaseInsensitive(t *testing.T) {
	payload := `{"specversion":"1.0","id":"1","type":"t","source":"s","outcome":"SUCCESS",
		"correlationid":"abc","data":{"outcome":"SUCCESS"}}`
	e, err := Decode(WireMessage{Payload: []byte(payload)})
	if err != nil {
		t.Fatal(err)
	}
	if e.Outcome != OutcomeSuccess || !e.HasSuccessfulOutcome() {
		t.Errorf("expected success, got %v / %v", e.Outcome, e.DataOutcome())
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"not json":        `hello there`,
		"no id":           `{"specversion":"1.0","type":"t","source":"s","outcome":"success","correlationid":"c","data":{}}`,
		"no outcome":      `{"specversion":"1.0","id":"1","type":"t","source":"s","correlationid":"c","data":{}}`,
		"bad outcome":     `{"specversion":"1.0","id":"1","type":"t","source":"s","outcome":"maybe","correlationid":"c","data":{}}`,
		"no correlation":  `{"specversion":"1.0","id":"1","type":"t","source":"s","outcome":"success","data":{}}`,
		"no data":         `{"specversion":"1.0","id":"1","type":"t","source":"s","outcome":"success","correlationid":"c"}`,
		"data not object": `{"specversion":"1.0","id":"1","type":"t","source":"s","outcome":"success","correlationid":"c","datacontenttype":"application/json","data":[1,2]}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(WireMessage{Payload: []byte(payload)})
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), "decode event") {
				t.Errorf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestParseOutcome(t *testing.T) {
	if o, err := ParseOutcome(" Fail "); err != nil || o != OutcomeFail {
		t.Errorf("expected fail, got %v %v", o, err)
	}
	if _, err := ParseOutcome(""); err == nil {
		t.Error("expected error for empty outcome")
	}
	if OutcomeOf(true) != OutcomeSuccess || OutcomeOf(false) != OutcomeFail {
		t.Error("OutcomeOf mapping wrong")
	}
}

func TestDecodeUnderscoreCorrelationAttribute(t *testing.T) {
	payload := `{"specversion":"1.0","id":"1","type":"be.meemoo.sipin.bag.unzip","source":"unzip",
		"subject":"bag.zip","outcome":"success","correlation_id":"abc","datacontenttype":"application/json",
		"data":{"outcome":"success","destination":"/data/bag1"}}`

	cases := map[string]map[string]string{
		"without property":        nil,
		"with property":           {PropCorrelationID: "abc"},
		"with differing property": {PropCorrelationID: "other"},
	}
	for name, props := range cases {
		t.Run(name, func(t *testing.T) {
			e, err := Decode(WireMessage{Payload: []byte(payload), Properties: props})
			if err != nil {
				t.Fatal(err)
			}
			if e.CorrelationID != "abc" {
				t.Errorf("expected correlation id from the envelope, got %q", e.CorrelationID)
			}
			if dest, _ := e.DataString(DataDestination); dest != "/data/bag1" {
				t.Errorf("data lost while normalizing: %v", e.Data)
			}
		})
	}
}

func TestNormalizeAttributeNames(t *testing.T) {
	in := []byte(`{"correlation_id":"a","correlationid":"b","data_base64":"eA==","Outcome":"fail"}`)
	out, err := normalizeAttributeNames(in)
	if err != nil {
		t.Fatal(err)
	}
	var attrs map[string]string
	if err := json.Unmarshal(out, &attrs); err != nil {
		t.Fatal(err)
	}
	if attrs["correlationid"] != "b" {
		t.Errorf("existing attribute should win, got %q", attrs["correlationid"])
	}
	if _, ok := attrs["correlation_id"]; ok {
		t.Error("underscore attribute kept")
	}
	if attrs["data_base64"] != "eA==" || attrs["outcome"] != "fail" {
		t.Errorf("unexpected attributes %v", attrs)
	}

	plain := []byte(`{"id":"1"}`)
	if out, _ := normalizeAttributeNames(plain); string(out) != string(plain) {
		t.Errorf("payload without odd names should be untouched, got %s", out)
	}
}
