// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package validation checks and sanitizes inbound relay payloads.
//
// Validation is pure and stateless: given an action kind and a raw payload
// map, it returns either a fully sanitized copy of the payload or the
// complete list of field errors. It never mutates its input and never
// fails fast: every problem with an event is reported at once so the
// client can fix them all in one round trip.
//
// The sanitization policy is strict: a string field matching any
// dangerous-content pattern (script or iframe tags, javascript: scheme,
// inline event handlers, remaining angle-bracket markup) rejects the whole
// event rather than being stripped and forwarded.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// FieldError describes one validation failure on one payload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating one inbound event. When Valid is
// true, Fields holds the sanitized payload; otherwise Errors lists every
// failure found.
type Result struct {
	Valid  bool
	Fields map[string]any
	Errors []FieldError
}

// dangerousPatterns reject string content that could execute or render in a
// receiving client: script/iframe tags, the javascript: scheme, inline
// event-handler attributes, and any remaining angle-bracket markup.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)<\s*/?\s*iframe`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`<\s*/?\s*[a-zA-Z!]`),
}

// whitespaceRun matches internal whitespace runs collapsed to one space.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Validator validates inbound payloads against the fixed schema table.
// The zero value is not usable; construct with New.
type Validator struct {
	precision int
}

// DefaultPrecision is the location coordinate rounding precision used when
// the configured value is out of range.
const DefaultPrecision = 4

// New creates a Validator with the given location rounding precision,
// clamped to [0,6].
func New(precision int) *Validator {
	if precision < 0 || precision > 6 {
		precision = DefaultPrecision
	}
	return &Validator{precision: precision}
}

// Validate checks rawPayload against the schema for actionKind and returns
// a sanitized copy or the collected field errors.
func (v *Validator) Validate(actionKind string, rawPayload map[string]any) Result {
	schema, ok := schemas[actionKind]
	if !ok {
		return Result{Errors: []FieldError{{
			Field:   "type",
			Message: fmt.Sprintf("unknown action kind %q", actionKind),
		}}}
	}

	fields := make(map[string]any, len(schema))
	var errs []FieldError

	for name, rule := range schema {
		raw, present := rawPayload[name]
		if !present || raw == nil {
			if rule.required {
				errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf("%s is required", name)})
			}
			continue
		}

		value, fieldErrs := v.checkField(name, rule, raw)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		if value != nil {
			fields[name] = value
		}
	}

	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Valid: true, Fields: fields}
}

// checkField validates a single present field against its rule.
func (v *Validator) checkField(name string, rule fieldRule, raw any) (any, []FieldError) {
	switch rule.kind {
	case kindString:
		return v.checkString(name, rule, raw)
	case kindStringArray:
		return v.checkStringArray(name, raw)
	case kindLocation:
		return v.checkLocation(name, raw)
	case kindRaw:
		return raw, nil
	default:
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s has unsupported schema kind", name)}}
	}
}

func (v *Validator) checkString(name string, rule fieldRule, raw any) (any, []FieldError) {
	s, ok := raw.(string)
	if !ok {
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s must be a string", name)}}
	}

	clean, safe := Sanitize(s)
	if !safe {
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s contains disallowed content", name)}}
	}
	if rule.required && clean == "" {
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s is required", name)}}
	}
	if rule.maxLen > 0 && len(clean) > rule.maxLen {
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s must be at most %d characters", name, rule.maxLen)}}
	}
	if len(rule.enum) > 0 && !contains(rule.enum, clean) {
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s must be one of: %s", name, strings.Join(rule.enum, ", "))}}
	}
	return clean, nil
}

// checkStringArray filters the array to string elements, sanitizes each and
// caps the result at maxArrayElements. A dangerous element rejects the
// whole event, consistent with the strict string policy.
func (v *Validator) checkStringArray(name string, raw any) (any, []FieldError) {
	items, ok := raw.([]any)
	if !ok {
		if strs, isStrs := raw.([]string); isStrs {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s must be an array", name)}}
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, isStr := item.(string)
		if !isStr {
			continue // non-string elements are filtered, not fatal
		}
		clean, safe := Sanitize(s)
		if !safe {
			return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s contains a disallowed element", name)}}
		}
		if clean == "" {
			continue
		}
		out = append(out, clean)
		if len(out) == maxArrayElements {
			break
		}
	}
	return out, nil
}

// checkLocation accepts a {lat, lng} sub-object with in-range numeric
// coordinates and rounds both to the configured precision.
func (v *Validator) checkLocation(name string, raw any) (any, []FieldError) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, []FieldError{{Field: name, Message: fmt.Sprintf("%s must be an object with lat and lng", name)}}
	}

	var errs []FieldError
	lat, latOK := toFloat(obj["lat"])
	lng, lngOK := toFloat(obj["lng"])

	if !latOK || lat < -90 || lat > 90 {
		errs = append(errs, FieldError{Field: name + ".lat", Message: "lat must be a number between -90 and 90"})
	}
	if !lngOK || lng < -180 || lng > 180 {
		errs = append(errs, FieldError{Field: name + ".lng", Message: "lng must be a number between -180 and 180"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return map[string]any{
		"lat": roundTo(lat, v.precision),
		"lng": roundTo(lng, v.precision),
	}, nil
}

// Sanitize trims the string, collapses internal whitespace runs to single
// spaces, and reports whether the result is free of dangerous content.
// Sanitize is idempotent: Sanitize(clean) == clean for any accepted value.
func Sanitize(s string) (string, bool) {
	clean := whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(clean) {
			return "", false
		}
	}
	return clean, true
}

// roundTo rounds v to p decimal places.
func roundTo(v float64, p int) float64 {
	scale := math.Pow10(p)
	return math.Round(v*scale) / scale
}

// toFloat accepts the numeric types a JSON decoder may produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
