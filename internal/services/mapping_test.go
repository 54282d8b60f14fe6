package services

import (
	"context"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicMapperCompanyRows(t *testing.T) {
	merged := resultWithParts("acme_20250920_143045", "Acme",
		models.PartResult{SchemaFields: map[string]any{
			"company_metrics:current_userbase": "10000",
			"company_metrics:capital_ask":      "2.5 million",
		}},
	)

	mapped, err := HeuristicMapper{}.MapRows(context.Background(), merged)
	require.NoError(t, err)

	rows := mapped[TableCompanyMetrics]
	require.Len(t, rows, 1)
	assert.Equal(t, "acme_20250920_143045", rows[0]["startup_id"])
	assert.Equal(t, "10000", rows[0]["current_userbase"])
	assert.Equal(t, "2.5 million", rows[0]["capital_ask"])
}

func TestHeuristicMapperFounderRowOnlyWhenPresent(t *testing.T) {
	noFounder := resultWithParts("job-1", "Acme",
		models.PartResult{SchemaFields: map[string]any{"company_metrics:capital_ask": "1 million"}},
	)
	mapped, err := HeuristicMapper{}.MapRows(context.Background(), noFounder)
	require.NoError(t, err)
	assert.Empty(t, mapped[TableFounderMetrics])

	withFounder := resultWithParts("job-1", "Acme",
		models.PartResult{SchemaFields: map[string]any{"founder_metrics:name": "Jordan Lee"}},
	)
	mapped, err = HeuristicMapper{}.MapRows(context.Background(), withFounder)
	require.NoError(t, err)
	require.Len(t, mapped[TableFounderMetrics], 1)
	assert.Equal(t, "Jordan Lee", mapped[TableFounderMetrics][0]["name"])
	assert.Equal(t, "job-1_founder_1", mapped[TableFounderMetrics][0]["founder_id"])
}

func TestHeuristicMapperDropsNilValues(t *testing.T) {
	merged := resultWithParts("job-1", "Acme",
		models.PartResult{SchemaFields: map[string]any{"company_metrics:capital_ask": "1 million"}},
	)
	mapped, err := HeuristicMapper{}.MapRows(context.Background(), merged)
	require.NoError(t, err)

	for _, row := range mapped[TableCompanyMetrics] {
		assert.NotContains(t, row, "current_userbase")
	}
}

func TestHeuristicMapperFinalDealNote(t *testing.T) {
	merged := resultWithParts("job-1", "Acme",
		models.PartResult{SchemaFields: map[string]any{"final_deal_note:summary": "Strong team, early traction."}},
	)
	mapped, err := HeuristicMapper{}.MapRows(context.Background(), merged)
	require.NoError(t, err)

	require.Len(t, mapped[TableFinalDealNote], 1)
	assert.Equal(t, "Strong team, early traction.", mapped[TableFinalDealNote][0]["summary"])
	assert.Equal(t, "job-1", mapped[TableFinalDealNote][0]["startup_id"])
}

func TestFilterRowToSchemaDropsUnknownKeys(t *testing.T) {
	schema := bigquery.Schema{
		{Name: "startup_id", Type: bigquery.StringFieldType},
		{Name: "capital_ask", Type: bigquery.IntegerFieldType},
	}
	row := gcp.TableRow{
		"startup_id":  "job-1",
		"capital_ask": int64(100),
		"surprise":    "field",
	}

	filtered := FilterRowToSchema(row, schema)

	assert.Len(t, filtered, 2)
	assert.NotContains(t, filtered, "surprise")
}

func TestDecodeModelJSONWithFences(t *testing.T) {
	raw := "```json\n{\"company_metrics\": [{\"startup_id\": \"job-1\"}]}\n```"

	var parsed map[string][]map[string]any
	err := DecodeModelJSON(raw, &parsed)
	require.NoError(t, err)
	require.Len(t, parsed["company_metrics"], 1)
	assert.Equal(t, "job-1", parsed["company_metrics"][0]["startup_id"])
}

func TestDecodeModelJSONRecoversEmbeddedObject(t *testing.T) {
	raw := `Here is the mapping you asked for: {"a": "closing brace } inside string", "b": {"c": 1}} hope that helps`

	var parsed map[string]any
	err := DecodeModelJSON(raw, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "closing brace } inside string", parsed["a"])
}

func TestExtractJSONObjectErrors(t *testing.T) {
	_, err := ExtractJSONObject("no json here")
	assert.Error(t, err)

	_, err = ExtractJSONObject(`{"unbalanced": true`)
	assert.Error(t, err)
}

func TestEnsureIdentifiers(t *testing.T) {
	extracted := map[string]any{
		"startup_id": "existing",
		"founder_id": "",
	}
	n := 0
	EnsureIdentifiers(extracted, func() string {
		n++
		return "generated"
	})

	assert.Equal(t, "existing", extracted["startup_id"])
	assert.Equal(t, "generated", extracted["founder_id"])
	assert.Equal(t, "generated", extracted["job_id"])
	assert.Equal(t, 2, n)
}

func TestFixFounderStartupSwap(t *testing.T) {
	extracted := map[string]any{
		"startup_name": "Jordan Lee",
		"founder_name": "Acme Pvt Ltd",
	}
	swapped := FixFounderStartupSwap(extracted)

	assert.True(t, swapped)
	assert.Equal(t, "Acme Pvt Ltd", extracted["startup_name"])
	assert.Equal(t, "Jordan Lee", extracted["founder_name"])
}

func TestFixFounderStartupSwapNoMarker(t *testing.T) {
	extracted := map[string]any{
		"startup_name": "Acme",
		"founder_name": "Jordan Lee",
	}
	swapped := FixFounderStartupSwap(extracted)

	assert.False(t, swapped)
	assert.Equal(t, "Acme", extracted["startup_name"])
	assert.Equal(t, "Jordan Lee", extracted["founder_name"])
}
