package models

import "time"

// JobStatus is the externally-visible state of one evaluation job.
type JobStatus string

const (
	StatusInProgress JobStatus = "in-progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions may occur.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobType classifies the artifact a job tracks.
type JobType string

const (
	JobTypeDocument JobType = "DOCUMENT"
	JobTypeAudio    JobType = "AUDIO"
)

// JobRecord is the Firestore document for one job, keyed by job ID.
// Clients poll it until the status is terminal.
type JobRecord struct {
	JobID              string    `firestore:"job_id,omitempty" json:"job_id"`
	CompanyName        string    `firestore:"company_name,omitempty" json:"company_name"`
	Status             JobStatus `firestore:"status,omitempty" json:"status"`
	FirestoreDB        string    `firestore:"firestore_db,omitempty" json:"firestore_db,omitempty"`
	ExpectedArtifacts  int       `firestore:"expected_artifacts,omitempty" json:"expected_artifacts,omitempty"`
	CompletedArtifacts int       `firestore:"completed_artifacts,omitempty" json:"completed_artifacts,omitempty"`
	Timestamp          time.Time `firestore:"timestamp,serverTimestamp" json:"timestamp"`
}

// DeadLetter records a suppressed pipeline error so swallowed failures stay
// observable. One record per failed stage invocation, keyed by job ID.
type DeadLetter struct {
	JobID       string    `firestore:"job_id,omitempty"`
	CompanyName string    `firestore:"company_name,omitempty"`
	Stage       string    `firestore:"stage,omitempty"`
	Filename    string    `firestore:"filename,omitempty"`
	Error       string    `firestore:"error,omitempty"`
	Timestamp   time.Time `firestore:"timestamp,serverTimestamp"`
}
