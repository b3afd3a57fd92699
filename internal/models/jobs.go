package models

import (
	"errors"
	"time"
)

// ScanState is the lifecycle state of a scan run.
type ScanState string

const (
	ScanPending  ScanState = "PENDING"
	ScanRunning  ScanState = "RUNNING"
	ScanComplete ScanState = "COMPLETE"
)

// ScanRun is the persisted record of one scan invocation. A run moves
// PENDING -> RUNNING -> COMPLETE and is never resumed.
type ScanRun struct {
	ID          string          `json:"id"`
	State       ScanState       `json:"state"`
	Options     ScanOptions     `json:"options"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Progress    ScanProgress    `json:"progress"`
	Error       string          `json:"error,omitempty"`
	Result      *RankedUniverse `json:"result,omitempty"`
}

// ScanRunSummary is a scan run without its result rows, used for listings.
type ScanRunSummary struct {
	ID          string      `json:"id"`
	State       ScanState   `json:"state"`
	Universe    string      `json:"universe"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Stats       *ScanStats  `json:"stats,omitempty"`
	Options     ScanOptions `json:"options"`
}

// Summary strips the result rows.
func (r *ScanRun) Summary() ScanRunSummary {
	s := ScanRunSummary{
		ID:          r.ID,
		State:       r.State,
		Universe:    r.Options.Universe,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
		Options:     r.Options,
	}
	if r.Result != nil {
		stats := r.Result.Stats
		s.Stats = &stats
	}
	return s
}

// SystemKeyValue is a system-scoped configuration entry.
type SystemKeyValue struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	Version  int       `json:"version"`
	DateTime time.Time `json:"datetime"`
}

// ErrScanRunNotFound is returned when a scan run ID has no record.
var ErrScanRunNotFound = errors.New("scan run not found")

// Scan event types broadcast to progress subscribers.
const (
	ScanEventQueued    = "run_queued"
	ScanEventStarted   = "run_started"
	ScanEventProgress  = "run_progress"
	ScanEventCompleted = "run_completed"
)

// ScanEvent is a lifecycle or progress notification for one scan run.
type ScanEvent struct {
	Type      string         `json:"type"`
	Run       ScanRunSummary `json:"run"`
	Progress  *ScanProgress  `json:"progress,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CaptureRecord is the outcome of the most recent capture batch.
type CaptureRecord struct {
	Universe    string    `json:"universe"`
	CompletedAt time.Time `json:"completed_at"`
	Saved       int       `json:"saved"`
	Total       int       `json:"total"`
	Error       string    `json:"error,omitempty"`
}
