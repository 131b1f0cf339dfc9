// Package schema holds the JSON Schemas that extracted section payloads must
// conform to, one embedded schema per section type.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// FallbackType is the section type used when detection is unsure and the
// type every fallback-split section gets.
const FallbackType = "general"

// sectionTypes is the configured section type enumeration, with a short
// description used in detection prompts.
var sectionTypes = map[string]string{
	"header":       "Title page, document information, metadata, cover page",
	"summary":      "Executive summary, abstract, or overview",
	"introduction": "Introduction, background, or context section",
	"body":         "Main content sections, detailed information",
	"tables":       "Data tables, statistical information, tabular data",
	"figures":      "Charts, graphs, diagrams, images with captions",
	"results":      "Results, findings, outcomes section",
	"discussion":   "Discussion, analysis, interpretation section",
	"conclusion":   "Conclusion, summary of findings",
	"appendix":     "Supplementary information, additional data",
	"references":   "Citations, bibliography, references",
	"general":      "General content section (fallback)",
}

// ViolationError reports a payload that failed its section schema.
type ViolationError struct {
	SectionType string
	Err         error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("payload violates %s schema: %v", e.SectionType, e.Err)
}

func (e *ViolationError) Unwrap() error {
	return e.Err
}

// Registry holds the compiled schema per section type.
type Registry struct {
	compiled map[string]*jsonschema.Schema
	raw      map[string]json.RawMessage
}

// NewRegistry loads and compiles all embedded section schemas.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		compiled: make(map[string]*jsonschema.Schema, len(sectionTypes)),
		raw:      make(map[string]json.RawMessage, len(sectionTypes)),
	}

	for name := range sectionTypes {
		data, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}

		compiler := jsonschema.NewCompiler()
		url := "docuport://schemas/" + name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}

		r.compiled[name] = sch
		r.raw[name] = json.RawMessage(data)
	}

	return r, nil
}

// Types returns the configured section type enumeration in stable order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(sectionTypes))
	for name := range sectionTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Describe returns the short description for a section type, or "".
func Describe(sectionType string) string {
	return sectionTypes[sectionType]
}

// Known reports whether sectionType is part of the enumeration.
func (r *Registry) Known(sectionType string) bool {
	_, ok := r.compiled[sectionType]
	return ok
}

// Raw returns the raw schema for a section type, falling back to the general
// schema for unknown types.
func (r *Registry) Raw(sectionType string) json.RawMessage {
	if raw, ok := r.raw[sectionType]; ok {
		return raw
	}
	return r.raw[FallbackType]
}

// Validate checks an extracted payload against its section type's schema.
// Unknown types validate against the general schema. A failure is returned
// as a ViolationError.
func (r *Registry) Validate(sectionType string, payload map[string]any) error {
	sch, ok := r.compiled[sectionType]
	if !ok {
		sectionType = FallbackType
		sch = r.compiled[FallbackType]
	}

	if err := sch.Validate(normalize(payload)); err != nil {
		return &ViolationError{SectionType: sectionType, Err: err}
	}
	return nil
}

// normalize round-trips the payload through JSON so numeric types match what
// the validator expects regardless of how the payload was constructed.
func normalize(payload map[string]any) any {
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return payload
	}
	return v
}
