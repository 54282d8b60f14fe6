package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/SahilChopra1908/google-hackathon/internal/services"
)

var (
	uploaderInstance *services.UploaderFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the HTTP function with the framework.
	// "UploadPitchDeck" is the entry point name configured in GCP.
	functions.HTTP("UploadPitchDeck", uploadPitchDeck)
}

// main is required by the Go Functions Framework.
func main() {}

// uploadPitchDeck is the HTTP handler for the upload endpoint.
func uploadPitchDeck(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		uploaderInstance, initErr = services.NewUploader(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Uploader initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	uploaderInstance.ServeHTTP(w, r)
}
