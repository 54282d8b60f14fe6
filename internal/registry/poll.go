package registry

import (
	"context"
	"time"

	"github.com/SahilChopra1908/google-hackathon/internal/models"
)

// JobGetter is the read-side of the registry, narrowed for the polling
// contract. *Registry satisfies it.
type JobGetter interface {
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
}

// Poll is the client-side status contract: re-read the job record at a fixed
// interval until it reaches a terminal state. An absent record means the
// pipeline has not written a status yet and polling continues. No timeout is
// enforced here; callers bound the wait through ctx.
func Poll(ctx context.Context, getter JobGetter, jobID string, interval time.Duration) (models.JobStatus, error) {
	for {
		rec, err := getter.GetJob(ctx, jobID)
		if err != nil {
			return "", err
		}
		if rec != nil && rec.Status.IsTerminal() {
			return rec.Status, nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// AwaitArtifacts is the fan-in barrier: it polls the job record until every
// expected artifact has reported completion. The timeout is a last-resort
// escape, not the primary trigger; on expiry it returns false and the caller
// proceeds over whatever results exist, logging the job as partial.
func AwaitArtifacts(ctx context.Context, getter JobGetter, jobID string, pollInterval, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		rec, err := getter.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		if rec != nil && rec.ExpectedArtifacts > 0 && rec.CompletedArtifacts >= rec.ExpectedArtifacts {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
