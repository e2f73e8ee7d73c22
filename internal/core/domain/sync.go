package domain

import "time"

// StreamState is the coordinator state for one stream
type StreamState string

const (
	StreamStateIdle          StreamState = "idle"
	StreamStatePolling       StreamState = "polling"
	StreamStateEnriching     StreamState = "enriching"
	StreamStatePublishing    StreamState = "publishing"
	StreamStateCheckpointing StreamState = "checkpointing"
)

// SyncStats holds counters for one stream pass
type SyncStats struct {
	RowsPolled         int `json:"rows_polled"`
	AggregatesResolved int `json:"aggregates_resolved"`
	DocumentsBuilt     int `json:"documents_built"`
	DocumentsPublished int `json:"documents_published"`
	RecordsDropped     int `json:"records_dropped"`
	MissingAggregates  int `json:"missing_aggregates"`
	CheckpointsWritten int `json:"checkpoints_written"`
}

// Add accumulates counters.
func (s *SyncStats) Add(other SyncStats) {
	s.RowsPolled += other.RowsPolled
	s.AggregatesResolved += other.AggregatesResolved
	s.DocumentsBuilt += other.DocumentsBuilt
	s.DocumentsPublished += other.DocumentsPublished
	s.RecordsDropped += other.RecordsDropped
	s.MissingAggregates += other.MissingAggregates
	s.CheckpointsWritten += other.CheckpointsWritten
}

// SyncResult is the outcome of one pass over one stream
type SyncResult struct {
	Stream     StreamDescriptor `json:"stream"`
	Since      string           `json:"since"`
	Checkpoint string           `json:"checkpoint"`
	Stats      SyncStats        `json:"stats"`
	// Stalled is set when a publish was partial and the checkpoint was held back
	Stalled  bool    `json:"stalled"`
	Duration float64 `json:"duration_seconds"`
}

// StreamStatus is the observable state of one stream, served by the status API
type StreamStatus struct {
	Stream      StreamDescriptor `json:"stream"`
	State       StreamState      `json:"state"`
	Checkpoint  string           `json:"checkpoint,omitempty"`
	LastCycleAt *time.Time       `json:"last_cycle_at,omitempty"`
	Totals      SyncStats        `json:"totals"`
	Error       string           `json:"error,omitempty"`
}
