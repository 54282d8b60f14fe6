package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/storage"
	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/SahilChopra1908/google-hackathon/internal/registry"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DocumentAgentLabel prefixes this worker's result objects in the agents
// bucket. The refiner matches on the _{job_id}.json suffix, not the label.
const DocumentAgentLabel = "document_ai_output"

// DocumentWorkerConfig holds all configuration for the document extraction
// worker.
type DocumentWorkerConfig struct {
	ProjectID         string
	DocAILocation     string
	ProcessorID       string
	AgentsBucket      string
	MaxPages          int
	FirestoreDatabase string
}

// DocumentWorkerFunction consumes one routing message referencing a document
// artifact, runs it through Document AI part by part, and writes one result
// object per artifact.
type DocumentWorkerFunction struct {
	storageClient *storage.Client
	docaiClient   *documentai.DocumentProcessorClient
	registry      *registry.Registry
	config        DocumentWorkerConfig
}

func loadDocumentWorkerConfig() (*DocumentWorkerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	processorID := gcp.GetEnv("DOC_AI_PROCESSOR_ID", "")
	if processorID == "" {
		return nil, fmt.Errorf("DOC_AI_PROCESSOR_ID environment variable must be set")
	}
	maxPages, err := strconv.Atoi(gcp.GetEnv("MAX_PAGES", "15"))
	if err != nil || maxPages < 1 {
		return nil, fmt.Errorf("MAX_PAGES must be a positive integer")
	}

	return &DocumentWorkerConfig{
		ProjectID:         projectID,
		DocAILocation:     gcp.GetEnv("DOC_AI_LOCATION", "us"),
		ProcessorID:       processorID,
		AgentsBucket:      gcp.GetEnv("AGENTS_BUCKET", "agents_output_collection"),
		MaxPages:          maxPages,
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", "ai-evaluation-firestore"),
	}, nil
}

// NewDocumentWorker creates a DocumentWorkerFunction backed by real GCP clients.
func NewDocumentWorker(ctx context.Context) (*DocumentWorkerFunction, error) {
	config, err := loadDocumentWorkerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	docaiClient, err := gcp.NewDocumentAIClient(ctx, config.DocAILocation)
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, err
	}

	f := &DocumentWorkerFunction{
		storageClient: storageClient,
		docaiClient:   docaiClient,
		registry:      registry.New(firestoreClient, config.FirestoreDatabase),
		config:        *config,
	}
	slog.Info("Document worker initialized.", "processorId", config.ProcessorID, "maxPages", config.MaxPages)
	return f, nil
}

// Run wraps Process with the acknowledge-regardless contract: a processing
// failure is logged and dead-lettered but never returned, so the transport
// does not enter a redelivery storm. The artifact is counted against the
// fan-in barrier either way.
func (f *DocumentWorkerFunction) Run(ctx context.Context, msg models.RoutingMessage) {
	logCtx := slog.With("jobId", msg.JobID, "company", msg.CompanyName, "filename", msg.Filename)

	if err := f.Process(ctx, msg); err != nil {
		logCtx.Error("Document extraction failed; no result object produced.", "error", err)
		if dlErr := f.registry.RecordDeadLetter(ctx, models.DeadLetter{
			JobID:       msg.JobID,
			CompanyName: msg.CompanyName,
			Stage:       "document-extractor",
			Filename:    msg.Filename,
			Error:       err.Error(),
		}); dlErr != nil {
			logCtx.Error("Failed to record dead letter.", "error", dlErr)
		}
	}

	if err := f.registry.ReportArtifactDone(ctx, msg.JobID); err != nil {
		logCtx.Error("Failed to report artifact completion.", "error", err)
	}
}

// Process downloads the artifact, splits it into bounded-size parts, extracts
// entities per part, and uploads the result object at a deterministic path so
// redelivery overwrites rather than duplicates.
func (f *DocumentWorkerFunction) Process(ctx context.Context, msg models.RoutingMessage) error {
	logCtx := slog.With("jobId", msg.JobID, "company", msg.CompanyName)
	logCtx.Info("Processing document artifact.", "bucket", msg.Bucket, "path", msg.Path)

	tempDir, err := os.MkdirTemp("", "doc-extractor-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPDF := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadToFile(ctx, f.storageClient, msg.Bucket, msg.Path, localPDF); err != nil {
		return err
	}

	parts, err := splitIfNeeded(localPDF, tempDir, f.config.MaxPages)
	if err != nil {
		return err
	}
	logCtx.Info("Document prepared.", "partsCount", len(parts))

	results := make([]models.PartResult, 0, len(parts))
	for _, part := range parts {
		fields, err := f.extractPart(ctx, part)
		if err != nil {
			return fmt.Errorf("part %s: %w", filepath.Base(part), err)
		}
		results = append(results, models.PartResult{
			PartFilename: filepath.Base(part),
			SchemaFields: fields,
		})
	}

	output := models.ExtractionResult{
		JobID:       msg.JobID,
		CompanyName: msg.CompanyName,
		Bucket:      msg.Bucket,
		Blob:        msg.Path,
		Filename:    msg.Filename,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		PartsCount:  len(parts),
		Results:     results,
	}
	content, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result object: %w", err)
	}

	objectName := ResultObjectName(msg.CompanyName, DocumentAgentLabel, msg.JobID)
	bucketHandle := f.storageClient.Bucket(f.config.AgentsBucket)
	if err := gcp.SaveToGCS(ctx, bucketHandle, objectName, content); err != nil {
		return err
	}

	logCtx.Info("Result object uploaded.", "object", objectName, "partsCount", len(parts))
	return nil
}

// extractPart runs one self-contained part through Document AI and flattens
// its entity tree.
func (f *DocumentWorkerFunction) extractPart(ctx context.Context, path string) (map[string]any, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read part: %w", err)
	}

	req := &documentaipb.ProcessRequest{
		Name: gcp.ProcessorName(f.config.ProjectID, f.config.DocAILocation, f.config.ProcessorID),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: "application/pdf",
			},
		},
	}
	resp, err := f.docaiClient.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("document ai processing failed: %w", err)
	}

	return FlattenEntities(entitiesFromDocAI(resp.GetDocument().GetEntities())), nil
}

// ResultObjectName is the deterministic, job-scoped path of an extraction
// result object: {company}/{agent_label}_{job_id}.json.
func ResultObjectName(companyName, agentLabel, jobID string) string {
	return fmt.Sprintf("%s/%s_%s.json", companyName, agentLabel, jobID)
}

// splitIfNeeded returns the source file itself when it fits the page
// threshold, or sequential parts of at most maxPages pages each, in page
// order.
func splitIfNeeded(sourcePath, outDir string, maxPages int) ([]string, error) {
	pageCount, err := api.PageCountFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount <= maxPages {
		return []string{sourcePath}, nil
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.SplitFile(sourcePath, outDir, maxPages, cfg); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	base := filepath.Base(sourcePath)
	base = base[:len(base)-len(filepath.Ext(base))]
	matches, err := filepath.Glob(filepath.Join(outDir, base+"_*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("failed to list split parts: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("split produced no parts for %s", sourcePath)
	}
	return orderSplitParts(matches), nil
}

var splitPartPattern = regexp.MustCompile(`_(\d+)(?:-\d+)?\.pdf$`)

// orderSplitParts sorts split-part filenames by their starting page number.
// Lexical order breaks past page 99 ("_100-105" sorts before "_16-30").
func orderSplitParts(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Slice(sorted, func(i, j int) bool {
		return splitPartStart(sorted[i]) < splitPartStart(sorted[j])
	})
	return sorted
}

func splitPartStart(path string) int {
	m := splitPartPattern.FindStringSubmatch(path)
	if len(m) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// entitiesFromDocAI converts the Document AI entity tree into the tagged tree
// the flattener operates on. Mention text wins over the normalized value.
func entitiesFromDocAI(entities []*documentaipb.Document_Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		value := e.GetMentionText()
		if value == "" {
			value = e.GetNormalizedValue().GetText()
		}
		out = append(out, Entity{
			Name:     e.GetType(),
			Value:    value,
			Children: entitiesFromDocAI(e.GetProperties()),
		})
	}
	return out
}
