package services

import "github.com/SahilChopra1908/google-hackathon/internal/models"

// MergeResults fans in all extraction results sharing a job ID. Top-level
// metadata comes from the first result encountered; the results lists are
// concatenated in arrival order.
func MergeResults(results []models.ExtractionResult) models.ExtractionResult {
	var merged models.ExtractionResult
	if len(results) == 0 {
		return merged
	}

	merged = results[0]
	merged.Results = nil
	for _, r := range results {
		merged.Results = append(merged.Results, r.Results...)
	}
	merged.PartsCount = len(merged.Results)
	return merged
}

// FlattenParts collapses every part's schema_fields into one flat map.
// Overlapping field names are last-write-wins across parts; this is the
// documented merge semantics, preserved as-is pending product review.
func FlattenParts(merged models.ExtractionResult) map[string]any {
	flat := make(map[string]any)
	for _, part := range merged.Results {
		for k, v := range part.SchemaFields {
			flat[k] = v
		}
	}
	return flat
}
