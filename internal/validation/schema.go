// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package validation

// fieldKind selects how a payload field is checked and sanitized.
type fieldKind int

const (
	// kindString is a sanitized text field with a length limit.
	kindString fieldKind = iota

	// kindStringArray is a list of sanitized strings, non-string elements
	// filtered out, capped at maxArrayElements.
	kindStringArray

	// kindLocation is a {lat, lng} sub-object with numeric coordinates in
	// valid ranges, rounded to the configured precision.
	kindLocation

	// kindRaw is passed through untouched. Used for opaque signaling blobs
	// (SDP descriptions, ICE candidates) that are never rendered as markup.
	kindRaw
)

// maxArrayElements caps array fields to bound payload size.
const maxArrayElements = 50

// fieldRule describes one payload field within a schema.
type fieldRule struct {
	required bool
	kind     fieldKind
	maxLen   int      // string fields only; 0 means no limit
	enum     []string // string fields only; empty means any value
}

// schemas is the fixed schema table keyed by actionKind. Unknown kinds fail
// validation.
var schemas = map[string]map[string]fieldRule{
	"emergency-alert": {
		"message":    {required: true, kind: kindString, maxLen: 1000},
		"alertType":  {kind: kindString, maxLen: 50, enum: []string{"sos", "medical", "fire", "police", "accident", "other"}},
		"recipients": {kind: kindStringArray},
		"location":   {kind: kindLocation},
	},
	"chat-message": {
		"to":      {required: true, kind: kindString, maxLen: 128},
		"message": {required: true, kind: kindString, maxLen: 2000},
	},
	"group-message": {
		"groupId":    {kind: kindString, maxLen: 128},
		"recipients": {kind: kindStringArray},
		"message":    {required: true, kind: kindString, maxLen: 2000},
	},
	"user-status": {
		"userId": {required: true, kind: kindString, maxLen: 128},
		"status": {required: true, kind: kindString, maxLen: 16, enum: []string{"online", "offline"}},
	},
	"voice-call-offer": {
		"to":  {kind: kindString, maxLen: 128},
		"sdp": {required: true, kind: kindRaw},
	},
	"voice-call-answer": {
		"to":  {kind: kindString, maxLen: 128},
		"sdp": {required: true, kind: kindRaw},
	},
	"voice-call-end": {
		"to":     {kind: kindString, maxLen: 128},
		"reason": {kind: kindString, maxLen: 200},
	},
	"ice-candidate": {
		"to":        {kind: kindString, maxLen: 128},
		"candidate": {required: true, kind: kindRaw},
	},
	"typing-group": {
		"groupId":    {kind: kindString, maxLen: 128},
		"recipients": {kind: kindStringArray},
	},
	"stop-typing-group": {
		"groupId":    {kind: kindString, maxLen: 128},
		"recipients": {kind: kindStringArray},
	},
}

// KnownKind reports whether actionKind has a schema.
func KnownKind(actionKind string) bool {
	_, ok := schemas[actionKind]
	return ok
}
