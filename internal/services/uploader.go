package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/SahilChopra1908/google-hackathon/internal/registry"
)

// audioExtensions route to the AUDIO pipeline; everything else, including
// unrecognized binaries, is routed as a document.
var audioExtensions = map[string]struct{}{
	".mp3": {},
	".wav": {},
	".m4a": {},
}

// ClassifyArtifact determines the job type of an uploaded file from its
// extension.
func ClassifyArtifact(filename string) models.JobType {
	if _, ok := audioExtensions[strings.ToLower(path.Ext(filename))]; ok {
		return models.JobTypeAudio
	}
	return models.JobTypeDocument
}

// BlobSaver persists one uploaded artifact under a job-scoped object name.
type BlobSaver interface {
	Save(ctx context.Context, objectName, contentType string, r io.Reader) error
}

// RoutePublisher publishes one routing message to the channel matching its
// job type, plus the refine channel that triggers the merge stage.
type RoutePublisher interface {
	PublishRoute(ctx context.Context, msg models.RoutingMessage) error
}

// JobCreator records new jobs with their expected artifact counts.
type JobCreator interface {
	CreateJob(ctx context.Context, jobID, companyName string, expectedArtifacts int) error
}

// UploaderConfig holds all configuration for the ingress router.
type UploaderConfig struct {
	ProjectID         string
	UploadBucket      string
	DocumentTopicID   string
	AudioTopicID      string
	RefineTopicID     string
	FirestoreDatabase string
}

// UploaderFunction is the ingress router: it accepts a multipart upload,
// persists each artifact, records the job, and publishes routing messages.
type UploaderFunction struct {
	blobs  BlobSaver
	routes RoutePublisher
	jobs   JobCreator
	config UploaderConfig
	now    func() time.Time
}

func loadUploaderConfig() (*UploaderConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	return &UploaderConfig{
		ProjectID:         projectID,
		UploadBucket:      gcp.GetEnv("UPLOAD_BUCKET", "company-data-ai-hackathon"),
		DocumentTopicID:   gcp.GetEnv("DOC_TOPIC", "gcs-upload-document-ai"),
		AudioTopicID:      gcp.GetEnv("AUDIO_TOPIC", "gcs-upload-audio-ai"),
		RefineTopicID:     gcp.GetEnv("REFINE_TOPIC", "refiner-agent-trigger"),
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", "ai-evaluation-firestore"),
	}, nil
}

// NewUploader creates an UploaderFunction backed by real GCP clients.
func NewUploader(ctx context.Context) (*UploaderFunction, error) {
	config, err := loadUploaderConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	pubsubClient, err := gcp.NewPubSubClient(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, err
	}

	f := &UploaderFunction{
		blobs: &gcsBlobSaver{bucket: storageClient.Bucket(config.UploadBucket)},
		routes: &pubsubRouter{
			documentTopic: pubsubClient.Topic(config.DocumentTopicID),
			audioTopic:    pubsubClient.Topic(config.AudioTopicID),
			refineTopic:   pubsubClient.Topic(config.RefineTopicID),
		},
		jobs:   registry.New(firestoreClient, config.FirestoreDatabase),
		config: *config,
		now:    time.Now,
	}
	slog.Info("Uploader logic initialized.", "bucket", config.UploadBucket)
	return f, nil
}

// NewUploaderWithDeps wires explicit collaborators; used by tests.
func NewUploaderWithDeps(blobs BlobSaver, routes RoutePublisher, jobs JobCreator, config UploaderConfig, now func() time.Time) *UploaderFunction {
	return &UploaderFunction{blobs: blobs, routes: routes, jobs: jobs, config: config, now: now}
}

// artifactPlan is the per-file routing decision, computed up front so the
// expected artifact count per job ID is known before anything is published.
type artifactPlan struct {
	header   *multipart.FileHeader
	filename string
	jobID    string
	jobType  models.JobType
	blobName string
	stamp    string
}

// ServeHTTP handles the multipart upload endpoint.
func (f *UploaderFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "could not parse multipart form")
		return
	}

	companyName := strings.TrimSpace(r.FormValue("company_name"))
	if companyName == "" {
		writeJSONError(w, http.StatusBadRequest, "company_name is required")
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeJSONError(w, http.StatusBadRequest, "file(s) required")
		return
	}

	plans := make([]artifactPlan, 0, len(headers))
	expected := make(map[string]int, len(headers))
	for _, header := range headers {
		stamp := f.now().Format("20060102_150405")
		filename := strings.ToLower(header.Filename)
		plan := artifactPlan{
			header:   header,
			filename: filename,
			jobID:    fmt.Sprintf("%s_%s", companyName, stamp),
			jobType:  ClassifyArtifact(filename),
			blobName: fmt.Sprintf("%s/%s_%s", companyName, stamp, filename),
			stamp:    stamp,
		}
		plans = append(plans, plan)
		// Files uploaded within the same second share a job ID and are
		// merged by the refiner as siblings.
		expected[plan.jobID]++
	}

	responses := make([]models.UploadedFile, 0, len(plans))
	created := make(map[string]bool, len(expected))
	for _, plan := range plans {
		if err := f.processArtifact(r.Context(), companyName, plan, expected, created); err != nil {
			slog.Error("Upload failed.", "company", companyName, "filename", plan.filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		responses = append(responses, models.UploadedFile{
			JobID:   plan.jobID,
			JobType: plan.jobType,
			Message: fmt.Sprintf("%s uploaded and published to %s pipeline", plan.filename, plan.jobType),
			Path:    plan.blobName,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.UploadResponse{Files: responses})
}

// processArtifact stores one artifact and, only after storage succeeds,
// records the job and publishes its routing message. A storage failure leaves
// no routing-without-storage state behind.
func (f *UploaderFunction) processArtifact(ctx context.Context, companyName string, plan artifactPlan, expected map[string]int, created map[string]bool) error {
	src, err := plan.header.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file %s: %w", plan.filename, err)
	}
	defer src.Close()

	contentType := plan.header.Header.Get("Content-Type")
	if err := f.blobs.Save(ctx, plan.blobName, contentType, src); err != nil {
		return fmt.Errorf("failed to store %s: %w", plan.filename, err)
	}

	if !created[plan.jobID] {
		if err := f.jobs.CreateJob(ctx, plan.jobID, companyName, expected[plan.jobID]); err != nil {
			return fmt.Errorf("failed to create job record %s: %w", plan.jobID, err)
		}
		created[plan.jobID] = true
	}

	msg := models.RoutingMessage{
		JobID:       plan.jobID,
		Bucket:      f.config.UploadBucket,
		Path:        plan.blobName,
		Filename:    plan.filename,
		CompanyName: companyName,
		Timestamp:   plan.stamp,
		JobType:     plan.jobType,
	}
	if err := f.routes.PublishRoute(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish routing message for %s: %w", plan.filename, err)
	}

	slog.Info("Artifact routed.", "jobId", plan.jobID, "jobType", plan.jobType, "path", plan.blobName)
	return nil
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}

// gcsBlobSaver stores artifacts in the upload bucket.
type gcsBlobSaver struct {
	bucket *storage.BucketHandle
}

func (s *gcsBlobSaver) Save(ctx context.Context, objectName, contentType string, r io.Reader) error {
	writer := s.bucket.Object(objectName).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy upload to GCS object %s: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write for %s: %w", objectName, err)
	}
	return nil
}

// pubsubRouter publishes to the type-specific channel and mirrors every
// message to the refine channel so the merge stage is triggered per artifact.
type pubsubRouter struct {
	documentTopic *pubsub.Topic
	audioTopic    *pubsub.Topic
	refineTopic   *pubsub.Topic
}

func (p *pubsubRouter) PublishRoute(ctx context.Context, msg models.RoutingMessage) error {
	topic := p.documentTopic
	if msg.JobType == models.JobTypeAudio {
		topic = p.audioTopic
	}
	if err := gcp.PublishJSON(ctx, topic, msg); err != nil {
		return err
	}
	return gcp.PublishJSON(ctx, p.refineTopic, msg)
}
