package models

import "time"

// Artifact describes one file moved between the remote endpoint and local storage.
type Artifact struct {
	Name       string
	RemotePath string
	LocalPath  string
	Size       int64
	Checksum   string
	Format     Format
}

// OutcomeStatus captures what happened to one listed remote file during export.
type OutcomeStatus string

const (
	OutcomeDownloaded   OutcomeStatus = "downloaded"
	OutcomeDeleted      OutcomeStatus = "deleted"
	OutcomeDeleteFailed OutcomeStatus = "delete_failed"
	OutcomeSkipped      OutcomeStatus = "skipped"
	OutcomeFailed       OutcomeStatus = "failed"
)

// FileOutcome is the per-file result of an export.
type FileOutcome struct {
	Name    string        `bson:"name" json:"name"`
	Status  OutcomeStatus `bson:"status" json:"status"`
	Records int           `bson:"records" json:"records"`
	Error   string        `bson:"error,omitempty" json:"error,omitempty"`
}

// Failed reports whether the file could not be downloaded or parsed.
// A file whose remote delete failed still counts as exported.
func (o FileOutcome) Failed() bool {
	return o.Status == OutcomeFailed
}

// ExportResult aggregates parsed records and per-file outcomes.
type ExportResult struct {
	Records  []Record
	Outcomes []FileOutcome
}

// CycleStatus classifies a sync cycle.
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CyclePartial CycleStatus = "partial"
	CycleFailure CycleStatus = "failure"
)

// CycleReport is the explicit result of one scheduled sync cycle.
type CycleReport struct {
	ID         string        `bson:"_id" json:"id"`
	StartedAt  time.Time     `bson:"started_at" json:"started_at"`
	FinishedAt time.Time     `bson:"finished_at" json:"finished_at"`
	Attempts   int           `bson:"attempts" json:"attempts"`
	Status     CycleStatus   `bson:"status" json:"status"`
	Files      []FileOutcome `bson:"files" json:"files"`
	Succeeded  int           `bson:"succeeded" json:"succeeded"`
	Failed     int           `bson:"failed" json:"failed"`
	Skipped    int           `bson:"skipped" json:"skipped"`
	Records    int           `bson:"records" json:"records"`
	Error      string        `bson:"error,omitempty" json:"error,omitempty"`
}

// ImportRequest is the body accepted by the HTTP import endpoint.
type ImportRequest struct {
	Format   string   `json:"format"`
	FileName string   `json:"file_name"`
	Records  []Record `json:"records" binding:"required"`
}
