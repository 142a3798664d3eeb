// Package answer defines the canonical answer payload stored by the cache.
//
// Upstream pipelines historically produced either a plain text response or a
// structured object, and sometimes a JSON string wrapping one of the two.
// Parse resolves that ambiguity once at the ingestion boundary so internal
// code always handles a single canonical shape.
package answer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the payload union.
type Kind string

const (
	KindRawText    Kind = "raw_text"
	KindStructured Kind = "structured"
)

// Structured is the full answer shape produced by the generation pipeline.
type Structured struct {
	Response  string           `json:"response"`
	FollowUp  string           `json:"follow_up,omitempty"`
	TableData []map[string]any `json:"table_data,omitempty"`
	UCID      string           `json:"ucid,omitempty"`
}

// Payload is a tagged union of RawText | Structured.
// The zero value is an empty raw-text payload.
type Payload struct {
	kind       Kind
	raw        string
	structured Structured
}

// FromText builds a raw-text payload.
func FromText(text string) Payload {
	return Payload{kind: KindRawText, raw: text}
}

// FromStructured builds a structured payload.
func FromStructured(s Structured) Payload {
	return Payload{kind: KindStructured, structured: s}
}

// Parse resolves raw bytes into a canonical Payload.
// Accepted inputs, tried in order:
//   - a JSON object with a "response" field (structured shape)
//   - a JSON string, itself re-parsed once (double-encoded storage artifact)
//   - anything else is kept verbatim as raw text
//
// An empty input yields an empty raw-text payload and an error so callers
// can skip the record.
func Parse(data []byte) (Payload, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Payload{kind: KindRawText}, fmt.Errorf("empty answer payload")
	}

	var s Structured
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil && s.Response != "" {
		return Payload{kind: KindStructured, structured: s}, nil
	}

	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		// Double-encoded: a JSON string holding either an object or plain text.
		if err := json.Unmarshal([]byte(inner), &s); err == nil && s.Response != "" {
			return Payload{kind: KindStructured, structured: s}, nil
		}
		return Payload{kind: KindRawText, raw: inner}, nil
	}

	if json.Valid([]byte(trimmed)) {
		// Valid JSON but not our shape (array, number, object without
		// "response"): reject as corrupt rather than guessing.
		return Payload{kind: KindRawText}, fmt.Errorf("unrecognized answer payload shape")
	}

	return Payload{kind: KindRawText, raw: trimmed}, nil
}

// Kind reports which branch of the union this payload holds.
func (p Payload) Kind() Kind {
	if p.kind == "" {
		return KindRawText
	}
	return p.kind
}

// Response returns the user-facing answer text.
func (p Payload) Response() string {
	if p.Kind() == KindStructured {
		return p.structured.Response
	}
	return p.raw
}

// Structured returns the structured branch and whether it is populated.
func (p Payload) Structured() (Structured, bool) {
	if p.Kind() == KindStructured {
		return p.structured, true
	}
	return Structured{}, false
}

// MarshalJSON stores structured payloads as their object form and raw text
// as a JSON string.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Kind() == KindStructured {
		return json.Marshal(p.structured)
	}
	return json.Marshal(p.raw)
}

// UnmarshalJSON resolves stored bytes through Parse, keeping the single
// ingestion path for shape disambiguation.
func (p *Payload) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
