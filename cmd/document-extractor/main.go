package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/SahilChopra1908/google-hackathon/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	workerInstance *services.DocumentWorkerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes the Pub/Sub
	// event here.
	functions.CloudEvent("ProcessPitchDeck", processPitchDeck)
}

// main is required by the Go Functions Framework.
func main() {}

// processPitchDeck is the Cloud Function entry point for document artifacts.
// Processing failures are swallowed inside Run so the message is always
// acknowledged; only a transient init or decode failure is returned.
func processPitchDeck(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		workerInstance, initErr = services.NewDocumentWorker(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var event models.PubSubEvent
	if err := json.Unmarshal(e.Data(), &event); err != nil {
		slog.Error("Failed to unmarshal event envelope", "error", err)
		return nil // malformed envelope; redelivery will not help
	}

	var msg models.RoutingMessage
	if err := json.Unmarshal(event.Message.Data, &msg); err != nil {
		slog.Error("Failed to unmarshal routing message", "error", err, "data", string(event.Message.Data))
		return nil
	}

	workerInstance.Run(ctx, msg)
	return nil
}
