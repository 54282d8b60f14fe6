package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"
	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/SahilChopra1908/google-hackathon/internal/registry"
	"github.com/google/uuid"
)

// identifierFields are auto-generated when the model leaves them blank.
var identifierFields = []string{"startup_id", "founder_id", "job_id"}

// corporateMarkers flag a "founder" value that is actually a company name.
var corporateMarkers = []string{"inc", "ltd", "corp", "pvt"}

// forcedEmptyListFields are populated elsewhere in the system and always
// inserted as empty lists here.
var forcedEmptyListFields = map[string]struct{}{
	"funding_rounds":         {},
	"traffic_stats":          {},
	"social_media_followers": {},
}

// AudioWorkerConfig holds all configuration for the audio extraction worker.
type AudioWorkerConfig struct {
	ProjectID         string
	VertexAIRegion    string
	BQDataset         string
	BQTables          []string
	FirestoreDatabase string
}

// AudioWorkerFunction consumes one routing message referencing an audio
// artifact, transcribes and extracts it in a single model call, and writes
// schema-coerced rows directly into the target tables. It never marks the job
// completed; that is the refiner's responsibility.
type AudioWorkerFunction struct {
	storageClient *storage.Client
	bqClient      *bigquery.Client
	vertexClient  *gcp.VertexClient
	registry      *registry.Registry
	config        AudioWorkerConfig
	now           func() time.Time
}

func loadAudioWorkerConfig() (*AudioWorkerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	var tables []string
	for _, t := range strings.Split(gcp.GetEnv("BQ_TABLES", ""), ",") {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			tables = append(tables, trimmed)
		}
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("BQ_TABLES environment variable must list at least one table")
	}

	return &AudioWorkerConfig{
		ProjectID:         projectID,
		VertexAIRegion:    gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		BQDataset:         gcp.GetEnv("BQ_DATASET", "financial_analysis"),
		BQTables:          tables,
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", "ai-evaluation-firestore"),
	}, nil
}

// NewAudioWorker creates an AudioWorkerFunction backed by real GCP clients.
func NewAudioWorker(ctx context.Context) (*AudioWorkerFunction, error) {
	config, err := loadAudioWorkerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	bqClient, err := gcp.NewBigQueryClient(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, err
	}

	f := &AudioWorkerFunction{
		storageClient: storageClient,
		bqClient:      bqClient,
		vertexClient:  vertexClient,
		registry:      registry.New(firestoreClient, config.FirestoreDatabase),
		config:        *config,
		now:           time.Now,
	}
	slog.Info("Audio worker initialized.", "dataset", config.BQDataset, "tables", config.BQTables)
	return f, nil
}

// Run wraps Process with the acknowledge-regardless contract, mirroring the
// document worker.
func (f *AudioWorkerFunction) Run(ctx context.Context, msg models.RoutingMessage) {
	logCtx := slog.With("jobId", msg.JobID, "company", msg.CompanyName, "filename", msg.Filename)

	if err := f.Process(ctx, msg); err != nil {
		logCtx.Error("Audio extraction failed.", "error", err)
		if dlErr := f.registry.RecordDeadLetter(ctx, models.DeadLetter{
			JobID:       msg.JobID,
			CompanyName: msg.CompanyName,
			Stage:       "audio-extractor",
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

// Process downloads the artifact, extracts every schema-declared field in one
// transcribe-and-extract model call, and inserts one coerced row per target
// table. Tables are written independently; one insert failure does not abort
// the others.
func (f *AudioWorkerFunction) Process(ctx context.Context, msg models.RoutingMessage) error {
	logCtx := slog.With("jobId", msg.JobID, "company", msg.CompanyName)
	logCtx.Info("Processing audio artifact.", "bucket", msg.Bucket, "path", msg.Path)

	audioBytes, err := gcp.DownloadBytes(ctx, f.storageClient, msg.Bucket, msg.Path)
	if err != nil {
		return err
	}

	// Live schemas, fetched fresh per job.
	schemaMap := make(map[string]bigquery.Schema, len(f.config.BQTables))
	for _, table := range f.config.BQTables {
		schema, err := gcp.FetchTableSchema(ctx, f.bqClient, f.config.BQDataset, table)
		if err != nil {
			return err
		}
		schemaMap[table] = schema
	}

	extracted, err := f.extractFromAudio(ctx, msg.Filename, audioBytes, schemaMap)
	if err != nil {
		return err
	}

	EnsureIdentifiers(extracted, uuid.NewString)
	if FixFounderStartupSwap(extracted) {
		logCtx.Warn("Founder name carried a corporate marker; swapped with startup name.")
	}

	now := f.now().UTC()
	for _, table := range f.config.BQTables {
		row := BuildAudioRow(table, schemaMap[table], extracted, now)
		if err := gcp.InsertRows(ctx, f.bqClient, f.config.BQDataset, table, []gcp.TableRow{row}); err != nil {
			logCtx.Error("Table insert failed; continuing with remaining tables.", "table", table, "error", err)
			if dlErr := f.registry.RecordDeadLetter(ctx, models.DeadLetter{
				JobID:       msg.JobID,
				CompanyName: msg.CompanyName,
				Stage:       "audio-extractor:" + table,
				Filename:    msg.Filename,
				Error:       err.Error(),
			}); dlErr != nil {
				logCtx.Error("Failed to record dead letter.", "error", dlErr)
			}
			continue
		}
		logCtx.Info("Inserted row.", "table", table)
	}

	return nil
}

// extractFromAudio invokes the transcription-and-extraction model and decodes
// its JSON response, recovering a balanced object from prose when necessary.
func (f *AudioWorkerFunction) extractFromAudio(ctx context.Context, filename string, audioBytes []byte, schemaMap map[string]bigquery.Schema) (map[string]any, error) {
	prompt := BuildExtractionPrompt(schemaMap)
	audioPart := genai.Blob{
		MIMEType: audioMIMEType(filename),
		Data:     audioBytes,
	}

	resp, err := f.vertexClient.AudioExtractorModel.GenerateContent(ctx, genai.Text(prompt), audioPart)
	if err != nil {
		return nil, fmt.Errorf("audio extraction model call failed: %w", err)
	}

	raw := gcp.ExtractText(resp)
	if raw == "" {
		return nil, fmt.Errorf("audio extraction model returned no text")
	}

	var extracted map[string]any
	if err := DecodeModelJSON(raw, &extracted); err != nil {
		return nil, fmt.Errorf("invalid JSON from audio extraction model: %w", err)
	}
	return extracted, nil
}

// BuildExtractionPrompt enumerates every distinct field across all target
// tables as an empty-valued JSON skeleton the model must fill in.
func BuildExtractionPrompt(schemaMap map[string]bigquery.Schema) string {
	seen := make(map[string]struct{})
	var fields []string
	for _, schema := range schemaMap {
		for _, fs := range schema {
			if _, ok := seen[fs.Name]; ok {
				continue
			}
			seen[fs.Name] = struct{}{}
			fields = append(fields, fs.Name)
		}
	}
	sort.Strings(fields)

	skeleton := make(map[string]string, len(fields))
	for _, name := range fields {
		skeleton[name] = ""
	}
	skeletonJSON, _ := json.MarshalIndent(skeleton, "", "  ")
	return fmt.Sprintf(gcp.AudioExtractorUserPromptTemplate, string(skeletonJSON))
}

// EnsureIdentifiers fills in the correlation identifiers the model left blank.
func EnsureIdentifiers(extracted map[string]any, newID func() string) {
	for _, field := range identifierFields {
		v, ok := extracted[field]
		if !ok || v == nil || strings.TrimSpace(fmt.Sprintf("%v", v)) == "" {
			extracted[field] = newID()
		}
	}
}

// FixFounderStartupSwap corrects a startup/founder name mix-up: a founder
// value containing a corporate-entity marker is swapped with the startup
// name. Reports whether a swap happened. This heuristic is preserved as
// documented behavior, pending product review.
func FixFounderStartupSwap(extracted map[string]any) bool {
	startupName := stringField(extracted, "startup_name")
	founderName := stringField(extracted, "founder_name")
	if founderName == "" {
		founderName = stringField(extracted, "name")
	}

	swapped := false
	if founderName != "" {
		lower := strings.ToLower(founderName)
		for _, marker := range corporateMarkers {
			if strings.Contains(lower, marker) {
				startupName, founderName = founderName, startupName
				swapped = true
				break
			}
		}
	}

	extracted["startup_name"] = startupName
	extracted["founder_name"] = founderName
	return swapped
}

// BuildAudioRow builds one insert row for a table from its live schema,
// sourcing the startups name/founder columns from the post-processed fields
// and coercing everything per declared type.
func BuildAudioRow(tableID string, schema bigquery.Schema, extracted map[string]any, now time.Time) gcp.TableRow {
	row := make(gcp.TableRow, len(schema))
	for _, fs := range schema {
		if _, skip := forcedEmptyListFields[fs.Name]; skip {
			row[fs.Name] = []any{}
			continue
		}

		var value any
		switch {
		case tableID == "startups" && fs.Name == "name":
			value = extracted["startup_name"]
			if value == nil || value == "" {
				value = "N/A"
			}
		case tableID == "startups" && fs.Name == "founder":
			value = firstOf(extracted, "founder", "founder_name")
			if value == nil {
				value = ""
			}
		default:
			value = extracted[fs.Name]
		}

		row[fs.Name] = CoerceValue(fs, value, now)
	}
	return row
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func audioMIMEType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp3":
		return "audio/mp3"
	case ".m4a":
		return "audio/m4a"
	default:
		return "audio/wav"
	}
}
