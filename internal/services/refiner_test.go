package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResultReader struct {
	names   []string
	objects map[string][]byte
}

func (f *fakeResultReader) ListResults(_ context.Context, _, _ string) ([]string, error) {
	return f.names, nil
}

func (f *fakeResultReader) ReadResult(_ context.Context, objectName string) ([]byte, error) {
	data, ok := f.objects[objectName]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type fakeTableWriter struct {
	inserts    map[string][]gcp.TableRow
	failTables map[string]bool
}

func (f *fakeTableWriter) InsertFiltered(_ context.Context, table string, rows []gcp.TableRow) error {
	if f.failTables[table] {
		return errors.New("insert rejected")
	}
	if f.inserts == nil {
		f.inserts = map[string][]gcp.TableRow{}
	}
	f.inserts[table] = append(f.inserts[table], rows...)
	return nil
}

type fakeJobBoard struct {
	record      *models.JobRecord
	completed   []string
	deadLetters []models.DeadLetter
}

func (f *fakeJobBoard) GetJob(_ context.Context, _ string) (*models.JobRecord, error) {
	return f.record, nil
}

func (f *fakeJobBoard) MarkCompleted(_ context.Context, jobID, _ string) error {
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeJobBoard) RecordDeadLetter(_ context.Context, dl models.DeadLetter) error {
	f.deadLetters = append(f.deadLetters, dl)
	return nil
}

type failingMapper struct{}

func (failingMapper) MapRows(_ context.Context, _ models.ExtractionResult) (RowSet, error) {
	return nil, errors.New("model unavailable")
}

type stubMapper struct {
	rows  RowSet
	calls int
}

func (m *stubMapper) MapRows(_ context.Context, _ models.ExtractionResult) (RowSet, error) {
	m.calls++
	return m.rows, nil
}

func readyJob(jobID string) *models.JobRecord {
	return &models.JobRecord{
		JobID:              jobID,
		Status:             models.StatusInProgress,
		ExpectedArtifacts:  1,
		CompletedArtifacts: 1,
	}
}

func newTestRefiner(results ResultReader, tables TableWriter, jobs JobBoard, primary RowMapper) *RefinerFunction {
	return NewRefinerWithDeps(results, tables, jobs, primary, HeuristicMapper{}, RefinerConfig{
		AgentsBucket:        "agents_output_collection",
		BQDataset:           "financial_analysis",
		BarrierPollInterval: time.Millisecond,
		BarrierTimeout:      10 * time.Millisecond,
	})
}

func resultObjectBytes(t *testing.T, jobID, company string, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(resultWithParts(jobID, company, models.PartResult{
		PartFilename: "source.pdf",
		SchemaFields: fields,
	}))
	require.NoError(t, err)
	return data
}

func TestRefinerZeroResultObjectsMarksCompleted(t *testing.T) {
	tables := &fakeTableWriter{}
	jobs := &fakeJobBoard{record: readyJob("job-1")}
	refiner := newTestRefiner(&fakeResultReader{}, tables, jobs, nil)

	err := refiner.Process(context.Background(), models.RoutingMessage{JobID: "job-1", CompanyName: "Acme"})

	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, jobs.completed)
	assert.Empty(t, tables.inserts)
}

func TestRefinerDropsUnparseableResultObjects(t *testing.T) {
	results := &fakeResultReader{
		names: []string{"Acme/document_ai_output_job-1.json", "Acme/audio_output_job-1.json"},
		objects: map[string][]byte{
			"Acme/document_ai_output_job-1.json": resultObjectBytes(t, "job-1", "Acme", map[string]any{
				"company_metrics:capital_ask": "2.5 million",
			}),
			"Acme/audio_output_job-1.json": []byte("not json at all"),
		},
	}
	tables := &fakeTableWriter{}
	jobs := &fakeJobBoard{record: readyJob("job-1")}
	refiner := newTestRefiner(results, tables, jobs, nil)

	err := refiner.Process(context.Background(), models.RoutingMessage{JobID: "job-1", CompanyName: "Acme"})

	require.NoError(t, err)
	// The parseable object still produces rows; the broken one is dropped.
	require.Len(t, tables.inserts[TableCompanyMetrics], 1)
	assert.Equal(t, "job-1", tables.inserts[TableCompanyMetrics][0]["startup_id"])
	assert.Equal(t, "2.5 million", tables.inserts[TableCompanyMetrics][0]["capital_ask"])
	assert.Equal(t, []string{"job-1"}, jobs.completed)
}

func TestRefinerFallsBackWhenPrimaryFails(t *testing.T) {
	results := &fakeResultReader{
		names: []string{"Acme/document_ai_output_job-1.json"},
		objects: map[string][]byte{
			"Acme/document_ai_output_job-1.json": resultObjectBytes(t, "job-1", "Acme", map[string]any{
				"company_metrics:current_userbase": "10000",
			}),
		},
	}
	tables := &fakeTableWriter{}
	jobs := &fakeJobBoard{record: readyJob("job-1")}
	refiner := newTestRefiner(results, tables, jobs, failingMapper{})

	err := refiner.Process(context.Background(), models.RoutingMessage{JobID: "job-1", CompanyName: "Acme"})

	require.NoError(t, err)
	// Heuristic output, not the failed primary's.
	require.Len(t, tables.inserts[TableCompanyMetrics], 1)
	assert.Equal(t, "Acme", tables.inserts[TableCompanyMetrics][0]["company_name"])
	assert.Equal(t, "10000", tables.inserts[TableCompanyMetrics][0]["current_userbase"])
}

func TestRefinerPrefersPrimaryMapper(t *testing.T) {
	results := &fakeResultReader{
		names: []string{"Acme/document_ai_output_job-1.json"},
		objects: map[string][]byte{
			"Acme/document_ai_output_job-1.json": resultObjectBytes(t, "job-1", "Acme", nil),
		},
	}
	tables := &fakeTableWriter{}
	jobs := &fakeJobBoard{record: readyJob("job-1")}
	primary := &stubMapper{rows: RowSet{
		TableFounderMetrics: []gcp.TableRow{{"startup_id": "job-1", "name": "Jordan Lee"}},
	}}
	fallback := &stubMapper{}
	refiner := NewRefinerWithDeps(results, tables, jobs, primary, fallback, RefinerConfig{
		BarrierPollInterval: time.Millisecond,
		BarrierTimeout:      10 * time.Millisecond,
	})

	err := refiner.Process(context.Background(), models.RoutingMessage{JobID: "job-1", CompanyName: "Acme"})

	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
	require.Len(t, tables.inserts[TableFounderMetrics], 1)
	assert.Equal(t, "Jordan Lee", tables.inserts[TableFounderMetrics][0]["name"])
}

func TestRefinerInsertFailureDeadLettersAndStillCompletes(t *testing.T) {
	results := &fakeResultReader{
		names: []string{"Acme/document_ai_output_job-1.json"},
		objects: map[string][]byte{
			"Acme/document_ai_output_job-1.json": resultObjectBytes(t, "job-1", "Acme", map[string]any{
				"company_metrics:capital_ask": "1 million",
			}),
		},
	}
	tables := &fakeTableWriter{failTables: map[string]bool{TableCompanyMetrics: true}}
	jobs := &fakeJobBoard{record: readyJob("job-1")}
	refiner := newTestRefiner(results, tables, jobs, nil)

	err := refiner.Process(context.Background(), models.RoutingMessage{JobID: "job-1", CompanyName: "Acme"})

	require.NoError(t, err)
	require.Len(t, jobs.deadLetters, 1)
	assert.Equal(t, "refiner:"+TableCompanyMetrics, jobs.deadLetters[0].Stage)
	assert.Equal(t, []string{"job-1"}, jobs.completed)
	// The remaining tables were still attempted.
	assert.Contains(t, tables.inserts, TableProductTechMetrics)
}

func TestRefinerBarrierTimeoutStillMerges(t *testing.T) {
	// No job record ever appears: the barrier must give up after its timeout
	// and the merge proceed over whatever exists.
	tables := &fakeTableWriter{}
	jobs := &fakeJobBoard{record: nil}
	refiner := newTestRefiner(&fakeResultReader{}, tables, jobs, nil)

	err := refiner.Process(context.Background(), models.RoutingMessage{JobID: "job-1", CompanyName: "Acme"})

	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, jobs.completed)
}

func TestRefinerSkipsMessageWithoutIdentifiers(t *testing.T) {
	jobs := &fakeJobBoard{record: readyJob("job-1")}
	refiner := newTestRefiner(&fakeResultReader{}, &fakeTableWriter{}, jobs, nil)

	err := refiner.Process(context.Background(), models.RoutingMessage{})

	require.NoError(t, err)
	assert.Empty(t, jobs.completed)
}
