package registry

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalWriteFromInProgress(t *testing.T) {
	current := &models.JobRecord{JobID: "job-1", Status: models.StatusInProgress}

	payload, ok := terminalWrite(current, "job-1", "Acme", "ai-evaluation-firestore", models.StatusCompleted)

	require.True(t, ok)
	assert.Equal(t, "job-1", payload["job_id"])
	assert.Equal(t, "Acme", payload["company_name"])
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "ai-evaluation-firestore", payload["firestore_db"])
	assert.Equal(t, firestore.ServerTimestamp, payload["timestamp"])
}

func TestTerminalWriteForAbsentRecord(t *testing.T) {
	// A refiner triggered before ingress wrote the record still gets its
	// terminal status persisted.
	payload, ok := terminalWrite(nil, "job-1", "Acme", "db", models.StatusFailed)

	require.True(t, ok)
	assert.Equal(t, "failed", payload["status"])
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	completed := &models.JobRecord{JobID: "job-1", Status: models.StatusCompleted}
	failed := &models.JobRecord{JobID: "job-1", Status: models.StatusFailed}

	_, ok := terminalWrite(completed, "job-1", "Acme", "db", models.StatusFailed)
	assert.False(t, ok)

	_, ok = terminalWrite(failed, "job-1", "Acme", "db", models.StatusCompleted)
	assert.False(t, ok)

	// Re-asserting the same terminal status is refused too; the first write
	// wins and keeps its server timestamp.
	_, ok = terminalWrite(completed, "job-1", "Acme", "db", models.StatusCompleted)
	assert.False(t, ok)
}
