// Package registry implements the job-status state machine on Firestore.
// One document per job, keyed by job ID. Workers report artifact completion
// here; only the refiner writes the terminal "completed" status.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	JobsCollection        = "jobs"
	DeadLettersCollection = "dead_letters"
)

// Registry wraps the Firestore collections backing the job state machine.
type Registry struct {
	client     *firestore.Client
	databaseID string
}

func New(client *firestore.Client, databaseID string) *Registry {
	return &Registry{client: client, databaseID: databaseID}
}

// CreateJob records a new job at ingress time with the number of artifacts
// that share its job ID. The completion counter starts at zero; workers
// increment it as they finish.
func (r *Registry) CreateJob(ctx context.Context, jobID, companyName string, expectedArtifacts int) error {
	rec := models.JobRecord{
		JobID:             jobID,
		CompanyName:       companyName,
		Status:            models.StatusInProgress,
		FirestoreDB:       r.databaseID,
		ExpectedArtifacts: expectedArtifacts,
	}
	if _, err := r.client.Collection(JobsCollection).Doc(jobID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to create job record %s: %w", jobID, err)
	}
	return nil
}

// ReportArtifactDone counts one finished artifact against the job. Workers
// call this on success and on swallowed failure alike so the fan-in barrier
// cannot hang on a lost result. The merge-and-set tolerates a missing job
// record (pre-barrier jobs published before ingress wrote one).
func (r *Registry) ReportArtifactDone(ctx context.Context, jobID string) error {
	_, err := r.client.Collection(JobsCollection).Doc(jobID).Set(ctx, map[string]any{
		"job_id":              jobID,
		"completed_artifacts": firestore.Increment(1),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to report artifact completion for job %s: %w", jobID, err)
	}
	return nil
}

// GetJob fetches the job record. A missing document returns (nil, nil): the
// polling contract treats absence as "keep polling", not as an error.
func (r *Registry) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	snap, err := r.client.Collection(JobsCollection).Doc(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job record %s: %w", jobID, err)
	}
	var rec models.JobRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode job record %s: %w", jobID, err)
	}
	return &rec, nil
}

// MarkCompleted writes the terminal completed status. A job already in a
// terminal state is left untouched.
func (r *Registry) MarkCompleted(ctx context.Context, jobID, companyName string) error {
	return r.markTerminal(ctx, jobID, companyName, models.StatusCompleted)
}

// MarkFailed writes the terminal failed status. A job already in a terminal
// state is left untouched.
func (r *Registry) MarkFailed(ctx context.Context, jobID, companyName string) error {
	return r.markTerminal(ctx, jobID, companyName, models.StatusFailed)
}

func (r *Registry) markTerminal(ctx context.Context, jobID, companyName string, s models.JobStatus) error {
	docRef := r.client.Collection(JobsCollection).Doc(jobID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *models.JobRecord
		snap, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			var rec models.JobRecord
			if err := snap.DataTo(&rec); err == nil {
				current = &rec
			}
		}
		payload, ok := terminalWrite(current, jobID, companyName, r.databaseID, s)
		if !ok {
			slog.Warn("Job already terminal; refusing transition.", "jobId", jobID, "status", current.Status, "attempted", s)
			return nil
		}
		return tx.Set(docRef, payload, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s as %s: %w", jobID, s, err)
	}
	return nil
}

// terminalWrite builds the merge-set payload for a terminal transition.
// Returns false when the current record is already terminal: terminal states
// are immutable, a redelivered refiner message must not flip them.
func terminalWrite(current *models.JobRecord, jobID, companyName, databaseID string, s models.JobStatus) (map[string]any, bool) {
	if current != nil && current.Status.IsTerminal() {
		return nil, false
	}
	return map[string]any{
		"job_id":       jobID,
		"company_name": companyName,
		"status":       string(s),
		"firestore_db": databaseID,
		"timestamp":    firestore.ServerTimestamp,
	}, true
}

// RecordDeadLetter persists a suppressed error so that swallowed failures are
// observable. Dead-letter writes are best-effort; callers log and continue on
// failure.
func (r *Registry) RecordDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	if _, _, err := r.client.Collection(DeadLettersCollection).Add(ctx, dl); err != nil {
		return fmt.Errorf("failed to record dead letter for job %s: %w", dl.JobID, err)
	}
	return nil
}

