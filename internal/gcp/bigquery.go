package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// NewBigQueryClient creates a BigQuery client for the given project ID.
func NewBigQueryClient(ctx context.Context, projectID string) (*bigquery.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a bigquery client")
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	return client, nil
}

// FetchTableSchema returns the live schema of a table. Schemas are fetched
// fresh per job, never cached across jobs, so that schema drift is picked up
// at insert time.
func FetchTableSchema(ctx context.Context, client *bigquery.Client, datasetID, tableID string) (bigquery.Schema, error) {
	meta, err := client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata for table %s.%s: %w", datasetID, tableID, err)
	}
	return meta.Schema, nil
}

// TableRow adapts a plain field map for the streaming inserter.
type TableRow map[string]bigquery.Value

// Save implements bigquery.ValueSaver. No insert ID is set; dedup is handled
// upstream by deterministic result-object paths.
func (r TableRow) Save() (map[string]bigquery.Value, string, error) {
	return r, "", nil
}

// InsertRows streams rows into a table. Callers are expected to have filtered
// row keys down to the table's declared schema first.
func InsertRows(ctx context.Context, client *bigquery.Client, datasetID, tableID string, rows []TableRow) error {
	if len(rows) == 0 {
		return nil
	}
	savers := make([]bigquery.ValueSaver, 0, len(rows))
	for _, row := range rows {
		savers = append(savers, row)
	}
	if err := client.Dataset(datasetID).Table(tableID).Inserter().Put(ctx, savers); err != nil {
		return fmt.Errorf("failed to insert %d rows into %s.%s: %w", len(rows), datasetID, tableID, err)
	}
	return nil
}
