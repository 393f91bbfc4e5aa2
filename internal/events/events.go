// Package events records analysis lifecycle events to a local SQLite
// log, for `prosaic events` and post-hoc debugging of analysis runs.
// Recording is optional; a nil *Log drops everything.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies what happened during an analysis run.
type EventType string

const (
	// EventAnalysisStarted indicates a first-pass analysis began for a field
	EventAnalysisStarted EventType = "analysis_started"
	// EventBlockAnalyzed indicates a block's first-pass result was merged
	EventBlockAnalyzed EventType = "block_analyzed"
	// EventBlockFailed indicates a block's provider request errored
	EventBlockFailed EventType = "block_failed"
	// EventAnalysisCompleted indicates every dispatched block resolved
	EventAnalysisCompleted EventType = "analysis_completed"
	// EventStabilityStarted indicates an idle-triggered stability pass began
	EventStabilityStarted EventType = "stability_started"
	// EventBlockVerified indicates a block's verification result was merged
	EventBlockVerified EventType = "block_verified"
	// EventStabilityCompleted indicates a stability pass finished
	EventStabilityCompleted EventType = "stability_completed"
	// EventStabilityCancelled indicates a pass was cancelled by new activity
	EventStabilityCancelled EventType = "stability_cancelled"
	// EventIssueAccepted indicates the user applied a suggestion
	EventIssueAccepted EventType = "issue_accepted"
	// EventIssueIgnored indicates the user dismissed a suggestion
	EventIssueIgnored EventType = "issue_ignored"
)

// Event is one recorded occurrence.
type Event struct {
	ID        int64           `json:"id"`
	FieldID   string          `json:"field_id"`
	BlockID   string          `json:"block_id,omitempty"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Payload marshals v for an event's Data field; marshal failures yield
// nil rather than blocking the event.
func Payload(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
