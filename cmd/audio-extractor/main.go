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
	workerInstance *services.AudioWorkerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessAudio", processAudio)
}

// main is required by the Go Functions Framework.
func main() {}

// processAudio is the Cloud Function entry point for audio artifacts.
func processAudio(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		workerInstance, initErr = services.NewAudioWorker(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var event models.PubSubEvent
	if err := json.Unmarshal(e.Data(), &event); err != nil {
		slog.Error("Failed to unmarshal event envelope", "error", err)
		return nil
	}

	var msg models.RoutingMessage
	if err := json.Unmarshal(event.Message.Data, &msg); err != nil {
		slog.Error("Failed to unmarshal routing message", "error", err, "data", string(event.Message.Data))
		return nil
	}

	workerInstance.Run(ctx, msg)
	return nil
}
