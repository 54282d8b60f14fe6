// status-poller is a small CLI implementing the client-side polling contract:
// it re-reads a job's registry record until the status is terminal. Exits 0
// on "completed", 1 on "failed" or error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/SahilChopra1908/google-hackathon/internal/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	jobID := flag.String("job-id", "", "job ID to poll (required)")
	projectID := flag.String("project", gcp.GetEnv("PROJECT_ID", ""), "GCP project ID")
	database := flag.String("database", gcp.GetEnv("FIRESTORE_DATABASE", "ai-evaluation-firestore"), "Firestore database ID")
	interval := flag.Duration("interval", 5*time.Second, "polling interval")
	timeout := flag.Duration("timeout", 15*time.Minute, "give up after this long")
	flag.Parse()

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "usage: status-poller -job-id <id> [-project <id>] [-interval 5s] [-timeout 15m]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	firestoreClient, err := gcp.NewFirestoreClient(ctx, *projectID, *database)
	if err != nil {
		slog.Error("Failed to create Firestore client", "error", err)
		os.Exit(1)
	}
	defer firestoreClient.Close()

	reg := registry.New(firestoreClient, *database)
	status, err := registry.Poll(ctx, reg, *jobID, *interval)
	if err != nil {
		slog.Error("Polling failed", "jobId", *jobID, "error", err)
		os.Exit(1)
	}

	slog.Info("Job reached terminal status.", "jobId", *jobID, "status", status)
	if status != models.StatusCompleted {
		os.Exit(1)
	}
}
