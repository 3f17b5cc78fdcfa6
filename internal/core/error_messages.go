package core

// error_messages.go maps technical errors to coded, user-facing messages.
//
// Codes by category:
//
//	VAL001-VAL099   record validation
//	DS001-DS099     dataset access
//	FILE001-FILE099 dataset files and imports
//	GRID001-GRID099 grid operations
//	SES001-SES099   browser session
//	BAT001-BAT099   batch runs
//	AI001-AI099     assistant
//	REQ001-REQ099   request lifecycle
//	ERR000          fallback; check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Validation
	{"validation failed", UserMessage{"The record did not pass validation", "Fix the listed errors and submit again", "VAL001"}},
	{"required field is empty", UserMessage{"A required field is empty", "Fill in every required field", "VAL002"}},
	{"invalid pattern", UserMessage{"A validation rule has an invalid pattern", "Correct the pattern in the grid profile", "VAL003"}},
	{"invalid profile", UserMessage{"The grid profile is invalid", "Correct the profile file; the previous profile stays active", "VAL004"}},

	// Dataset
	{"record not found", UserMessage{"Record not found in the dataset", "Refresh the record list and try again", "DS001"}},

	// Files
	{"empty file", UserMessage{"The file is empty", "Provide a file with at least one record", "FILE001"}},
	{"invalid json", UserMessage{"The file is not valid JSON", "Export records from this tool or check the file format", "FILE002"}},
	{"permission denied", UserMessage{"The data file could not be accessed", "Check file permissions on the data directory", "FILE003"}},

	// Grid
	{"row not found", UserMessage{"The row could not be found in the grid", "Refresh the grid view and check the row number or part number", "GRID001"}},
	{"write rejected", UserMessage{"The grid rejected the value", "Check the value against the grid's own rules and edit it manually", "GRID002"}},
	{"delete declined", UserMessage{"Delete was not confirmed", "Confirm the delete to remove the row", "GRID003"}},
	{"edit cursor busy", UserMessage{"Another grid operation is in progress", "Wait for it to finish and try again", "GRID004"}},
	{"item failed", UserMessage{"The grid operation kept failing after every retry", "Check the browser window and retry the item", "GRID005"}},
	{"timed out", UserMessage{"The grid did not respond in time", "Please try again", "GRID006"}},
	{"control not configured", UserMessage{"The grid profile has no selector for this action", "Add the selector to the grid profile", "GRID007"}},
	{"not interactable", UserMessage{"A grid control was not ready for input", "Wait for the page to finish loading and try again", "GRID008"}},

	// Session
	{"session fault", UserMessage{"The grid layout no longer matches the profile", "Re-open the grid page and reconnect", "SES001"}},
	{"session not ready", UserMessage{"The grid session is not connected", "Connect to the grid first", "SES002"}},
	{"session closed", UserMessage{"The grid session has been closed", "Restart the application to open a new session", "SES003"}},
	{"no browser", UserMessage{"No browser is attached", "Start with BROWSER_ENABLED=true", "SES004"}},

	// Batch
	{"batch too large", UserMessage{"Too many records in one batch", "Split the records into smaller batches", "BAT001"}},
	{"batch already running", UserMessage{"A batch is already running", "Wait for the current batch to finish", "BAT002"}},

	// Assistant
	{"assistant disabled", UserMessage{"The assistant is not enabled", "Set ASSISTANT_ENABLED=true to use it", "AI001"}},
	{"assistant request", UserMessage{"The assistant could not be reached", "Check that the model server is running", "AI002"}},

	// Request lifecycle
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again", "REQ002"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "REQ003"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, a generic fallback with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
