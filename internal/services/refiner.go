package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/SahilChopra1908/google-hackathon/internal/registry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// ResultReader lists and fetches the extraction result objects for one job.
type ResultReader interface {
	ListResults(ctx context.Context, companyName, jobID string) ([]string, error)
	ReadResult(ctx context.Context, objectName string) ([]byte, error)
}

// TableWriter inserts schema-filtered rows into one target table.
type TableWriter interface {
	InsertFiltered(ctx context.Context, table string, rows []gcp.TableRow) error
}

// JobBoard is the registry surface the refiner touches: barrier reads,
// terminal writes, dead letters.
type JobBoard interface {
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	MarkCompleted(ctx context.Context, jobID, companyName string) error
	RecordDeadLetter(ctx context.Context, dl models.DeadLetter) error
}

// RefinerConfig holds all configuration for the merge stage.
type RefinerConfig struct {
	ProjectID           string
	AgentsBucket        string
	BQDataset           string
	VertexAIRegion      string
	FirestoreDatabase   string
	BarrierPollInterval time.Duration
	BarrierTimeout      time.Duration
}

// RefinerFunction is the fan-in stage: it waits for a job's sibling artifacts
// to finish, merges their result objects, maps merged fields into table rows,
// inserts them, and marks the job completed.
type RefinerFunction struct {
	results  ResultReader
	tables   TableWriter
	jobs     JobBoard
	primary  RowMapper // nil when no generative mapper is configured
	fallback RowMapper
	config   RefinerConfig
}

func loadRefinerConfig() (*RefinerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	pollSeconds, err := strconv.Atoi(gcp.GetEnv("BARRIER_POLL_SECONDS", "5"))
	if err != nil || pollSeconds < 1 {
		return nil, fmt.Errorf("BARRIER_POLL_SECONDS must be a positive integer")
	}
	timeoutSeconds, err := strconv.Atoi(gcp.GetEnv("BARRIER_TIMEOUT_SECONDS", "120"))
	if err != nil || timeoutSeconds < 1 {
		return nil, fmt.Errorf("BARRIER_TIMEOUT_SECONDS must be a positive integer")
	}

	return &RefinerConfig{
		ProjectID:           projectID,
		AgentsBucket:        gcp.GetEnv("AGENTS_BUCKET", "agents_output_collection"),
		BQDataset:           gcp.GetEnv("BQ_DATASET", "financial_analysis"),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", ""),
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", "ai-evaluation-firestore"),
		BarrierPollInterval: time.Duration(pollSeconds) * time.Second,
		BarrierTimeout:      time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// NewRefiner creates a RefinerFunction backed by real GCP clients. The
// generative mapping strategy is enabled only when a Vertex AI region is
// configured; otherwise the deterministic heuristic is the sole strategy.
func NewRefiner(ctx context.Context) (*RefinerFunction, error) {
	config, err := loadRefinerConfig()
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
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, err
	}

	var primary RowMapper
	if config.VertexAIRegion != "" {
		vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
		if err != nil {
			return nil, err
		}
		primary = NewGeminiMapper(vertexClient)
	}

	f := &RefinerFunction{
		results:  &gcsResultReader{client: storageClient, bucket: config.AgentsBucket},
		tables:   &bqTableWriter{client: bqClient, dataset: config.BQDataset},
		jobs:     registry.New(firestoreClient, config.FirestoreDatabase),
		primary:  primary,
		fallback: HeuristicMapper{},
		config:   *config,
	}
	slog.Info("Refiner initialized.", "agentsBucket", config.AgentsBucket, "generativeMapper", primary != nil)
	return f, nil
}

// NewRefinerWithDeps wires explicit collaborators; used by tests.
func NewRefinerWithDeps(results ResultReader, tables TableWriter, jobs JobBoard, primary, fallback RowMapper, config RefinerConfig) *RefinerFunction {
	return &RefinerFunction{results: results, tables: tables, jobs: jobs, primary: primary, fallback: fallback, config: config}
}

// Run wraps Process with the acknowledge-regardless contract.
func (f *RefinerFunction) Run(ctx context.Context, msg models.RoutingMessage) {
	logCtx := slog.With("jobId", msg.JobID, "company", msg.CompanyName)

	if err := f.Process(ctx, msg); err != nil {
		logCtx.Error("Refiner failed.", "error", err)
		if dlErr := f.jobs.RecordDeadLetter(ctx, models.DeadLetter{
			JobID:       msg.JobID,
			CompanyName: msg.CompanyName,
			Stage:       "refiner",
			Error:       err.Error(),
		}); dlErr != nil {
			logCtx.Error("Failed to record dead letter.", "error", dlErr)
		}
	}
}

// Process runs the fan-in merge for one job.
func (f *RefinerFunction) Process(ctx context.Context, msg models.RoutingMessage) error {
	if msg.JobID == "" || msg.CompanyName == "" {
		slog.Warn("Refiner message missing job_id or company_name; skipping.")
		return nil
	}
	logCtx := slog.With("jobId", msg.JobID, "company", msg.CompanyName)

	// Fan-in barrier: wait for every sibling artifact to report completion.
	// The timeout is a last-resort escape; on expiry the merge proceeds over
	// a possibly partial result set.
	complete, err := registry.AwaitArtifacts(ctx, f.jobs, msg.JobID, f.config.BarrierPollInterval, f.config.BarrierTimeout)
	if err != nil {
		return fmt.Errorf("fan-in barrier failed: %w", err)
	}
	if !complete {
		logCtx.Warn("Barrier timed out; merging a possibly partial result set.", "timeout", f.config.BarrierTimeout.String())
	}

	objectNames, err := f.results.ListResults(ctx, msg.CompanyName, msg.JobID)
	if err != nil {
		return err
	}
	if len(objectNames) == 0 {
		logCtx.Info("No result objects found for job; nothing to merge.")
		return f.jobs.MarkCompleted(ctx, msg.JobID, msg.CompanyName)
	}
	logCtx.Info("Found result objects.", "count", len(objectNames))

	results := f.downloadResults(ctx, logCtx, objectNames)
	if len(results) == 0 {
		logCtx.Warn("All result objects failed to parse; nothing to merge.")
		return f.jobs.MarkCompleted(ctx, msg.JobID, msg.CompanyName)
	}

	merged := MergeResults(results)
	mapped := f.mapRows(ctx, logCtx, merged)

	for _, table := range TargetTables {
		rows := mapped[table]
		if len(rows) == 0 {
			continue
		}
		if err := f.tables.InsertFiltered(ctx, table, rows); err != nil {
			logCtx.Error("Table insert failed; continuing with remaining tables.", "table", table, "error", err)
			if dlErr := f.jobs.RecordDeadLetter(ctx, models.DeadLetter{
				JobID:       msg.JobID,
				CompanyName: msg.CompanyName,
				Stage:       "refiner:" + table,
				Error:       err.Error(),
			}); dlErr != nil {
				logCtx.Error("Failed to record dead letter.", "error", dlErr)
			}
			continue
		}
		logCtx.Info("Inserted rows.", "table", table, "rowCount", len(rows))
	}

	// Completed even when some inserts failed: a deliberately lossy but
	// simple policy, with the failures preserved as dead letters.
	if err := f.jobs.MarkCompleted(ctx, msg.JobID, msg.CompanyName); err != nil {
		return err
	}
	logCtx.Info("Refiner job completed.")
	return nil
}

// downloadResults fetches and parses the result objects concurrently,
// preserving listing order. A failed download or parse drops that object
// from the merge; the partial merge proceeds.
func (f *RefinerFunction) downloadResults(ctx context.Context, logCtx *slog.Logger, objectNames []string) []models.ExtractionResult {
	parsed := make([]*models.ExtractionResult, len(objectNames))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(5)

	for i, name := range objectNames {
		eg.Go(func() error {
			data, err := f.results.ReadResult(gctx, name)
			if err != nil {
				logCtx.Warn("Failed to download result object; dropping from merge.", "object", name, "error", err)
				return nil
			}
			var result models.ExtractionResult
			if err := json.Unmarshal(data, &result); err != nil {
				logCtx.Warn("Failed to parse result object; dropping from merge.", "object", name, "error", err)
				return nil
			}
			parsed[i] = &result
			return nil
		})
	}
	_ = eg.Wait() // workers only ever return nil; errors degrade to drops

	results := make([]models.ExtractionResult, 0, len(parsed))
	for _, r := range parsed {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// mapRows applies the primary mapping strategy, falling back to the
// deterministic heuristic when the primary is unavailable or fails.
func (f *RefinerFunction) mapRows(ctx context.Context, logCtx *slog.Logger, merged models.ExtractionResult) RowSet {
	if f.primary != nil {
		mapped, err := f.primary.MapRows(ctx, merged)
		if err == nil {
			logCtx.Info("Mapping via generative strategy succeeded.")
			return mapped
		}
		logCtx.Warn("Generative mapping failed; falling back to heuristic mapper.", "error", err)
	}

	mapped, _ := f.fallback.MapRows(ctx, merged) // heuristic never errors
	return mapped
}

// gcsResultReader backs ResultReader with the agents bucket.
type gcsResultReader struct {
	client *storage.Client
	bucket string
}

// ListResults lists the company's namespace for objects matching
// *_{job_id}.json.
func (r *gcsResultReader) ListResults(ctx context.Context, companyName, jobID string) ([]string, error) {
	pattern := regexp.MustCompile(`.*_` + regexp.QuoteMeta(jobID) + `\.json$`)
	query := &storage.Query{Prefix: companyName + "/"}
	it := r.client.Bucket(r.bucket).Objects(ctx, query)

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list result objects: %w", err)
		}
		if pattern.MatchString(attrs.Name) {
			names = append(names, attrs.Name)
		}
	}
	return names, nil
}

func (r *gcsResultReader) ReadResult(ctx context.Context, objectName string) ([]byte, error) {
	return gcp.DownloadBytes(ctx, r.client, r.bucket, objectName)
}

// bqTableWriter backs TableWriter, filtering every row down to the table's
// live schema before inserting. Unknown keys are dropped silently.
type bqTableWriter struct {
	client  *bigquery.Client
	dataset string
}

func (w *bqTableWriter) InsertFiltered(ctx context.Context, table string, rows []gcp.TableRow) error {
	schema, err := gcp.FetchTableSchema(ctx, w.client, w.dataset, table)
	if err != nil {
		return err
	}

	filtered := make([]gcp.TableRow, 0, len(rows))
	for _, row := range rows {
		cleaned := FilterRowToSchema(row, schema)
		if len(cleaned) == 0 {
			continue
		}
		filtered = append(filtered, cleaned)
	}
	return gcp.InsertRows(ctx, w.client, w.dataset, table, filtered)
}
