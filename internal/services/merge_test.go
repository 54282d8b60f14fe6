package services

import (
	"testing"

	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/stretchr/testify/assert"
)

func resultWithParts(jobID, company string, parts ...models.PartResult) models.ExtractionResult {
	return models.ExtractionResult{
		JobID:       jobID,
		CompanyName: company,
		Bucket:      "company-data-ai-hackathon",
		PartsCount:  len(parts),
		Results:     parts,
	}
}

func TestMergeResultsConcatenatesInArrivalOrder(t *testing.T) {
	first := resultWithParts("acme_20250920_143045", "Acme",
		models.PartResult{PartFilename: "source_1-15.pdf"},
		models.PartResult{PartFilename: "source_16-20.pdf"},
	)
	second := resultWithParts("acme_20250920_143045", "Acme",
		models.PartResult{PartFilename: "audio.wav"},
	)

	merged := MergeResults([]models.ExtractionResult{first, second})

	assert.Len(t, merged.Results, 3)
	assert.Equal(t, 3, merged.PartsCount)
	assert.Equal(t, "source_1-15.pdf", merged.Results[0].PartFilename)
	assert.Equal(t, "source_16-20.pdf", merged.Results[1].PartFilename)
	assert.Equal(t, "audio.wav", merged.Results[2].PartFilename)
}

func TestMergeResultsMetadataFromFirst(t *testing.T) {
	first := resultWithParts("job-1", "Acme")
	first.Filename = "deck.pdf"
	second := resultWithParts("job-1", "SomeoneElse")
	second.Filename = "other.pdf"

	merged := MergeResults([]models.ExtractionResult{first, second})

	assert.Equal(t, "Acme", merged.CompanyName)
	assert.Equal(t, "deck.pdf", merged.Filename)
}

func TestMergeResultsEmptyInput(t *testing.T) {
	merged := MergeResults(nil)
	assert.Empty(t, merged.JobID)
	assert.Empty(t, merged.Results)
}

func TestFlattenPartsLastWriteWins(t *testing.T) {
	merged := resultWithParts("job-1", "Acme",
		models.PartResult{SchemaFields: map[string]any{"a": float64(1)}},
		models.PartResult{SchemaFields: map[string]any{"a": float64(2), "b": "x"}},
	)

	flat := FlattenParts(merged)

	assert.Equal(t, float64(2), flat["a"])
	assert.Equal(t, "x", flat["b"])
}
