package events

import "time"

// ScanCompletedEvent is the downstream message published once per scan
// reaching the completed state.
type ScanCompletedEvent struct {
	ScanID    string    `json:"scanId"`
	Timestamp time.Time `json:"timestamp"`
}
