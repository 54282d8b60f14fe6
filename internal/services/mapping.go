package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/vertexai/genai"
	"github.com/SahilChopra1908/google-hackathon/internal/gcp"
	"github.com/SahilChopra1908/google-hackathon/internal/models"
)

// Target table names in the structured store. startup_id is the universal
// correlation key across all of them.
const (
	TableCompanyMetrics     = "company_metrics"
	TableFounderMetrics     = "founder_metrics"
	TableProductTechMetrics = "product_tech_metrics"
	TableMarketMetrics      = "market_metrics"
	TableFinalDealNote      = "final_deal_note"
)

// TargetTables is the insert order for mapped rows.
var TargetTables = []string{
	TableCompanyMetrics,
	TableFounderMetrics,
	TableProductTechMetrics,
	TableMarketMetrics,
	TableFinalDealNote,
}

// RowSet holds the mapped rows per target table.
type RowSet map[string][]gcp.TableRow

// RowMapper maps one merged extraction record into per-table row sets. Both
// implementations honor the same contract so either can be swapped or tested
// independently.
type RowMapper interface {
	MapRows(ctx context.Context, merged models.ExtractionResult) (RowSet, error)
}

// HeuristicMapper is the deterministic fallback strategy: it flattens all
// parts' field maps and applies fixed projections from well-known prefixed
// field names into each table's row shape.
type HeuristicMapper struct{}

func (HeuristicMapper) MapRows(_ context.Context, merged models.ExtractionResult) (RowSet, error) {
	jobID := merged.JobID
	flat := FlattenParts(merged)

	company := gcp.TableRow{
		"startup_id":          jobID,
		"company_name":        merged.CompanyName,
		"current_userbase":    flat["company_metrics:current_userbase"],
		"key_problems_solved": flat["company_metrics:key_problems_solved"],
		"capital_ask":         flat["company_metrics:capital_ask"],
	}

	mapped := RowSet{
		TableCompanyMetrics: []gcp.TableRow{dropNil(company)},
	}

	founderBlock := keysWithPrefix(flat, "founder_metrics:")
	if len(founderBlock) == 0 {
		founderBlock = keysWithPrefix(flat, "startups:founder")
	}
	if len(founderBlock) == 0 {
		founderBlock = keysWithPrefix(flat, "founder:")
	}
	if len(founderBlock) > 0 {
		founder := gcp.TableRow{
			"startup_id":       jobID,
			"founder_id":       fmt.Sprintf("%s_founder_1", jobID),
			"name":             firstOf(founderBlock, "founder_metrics:name", "startups:founder", "founder:name"),
			"background":       founderBlock["founder_metrics:background"],
			"track_record":     founderBlock["founder_metrics:track_record"],
			"domain_expertise": founderBlock["founder_metrics:domain_expertise"],
			"linkedin_url":     founderBlock["founder_metrics:linkedin_url"],
		}
		mapped[TableFounderMetrics] = []gcp.TableRow{dropNil(founder)}
	}

	product := gcp.TableRow{
		"startup_id":      jobID,
		"product_name":    firstOf(flat, "product_metrics:product_name", "startups:product"),
		"product_stage":   flat["product_metrics:stage"],
		"product_summary": flat["product_metrics:summary"],
	}
	mapped[TableProductTechMetrics] = []gcp.TableRow{dropNil(product)}

	market := gcp.TableRow{
		"startup_id":                 jobID,
		"competitors":                flat["market_metrics:competitors"],
		"market_growth_rate":         flat["market_metrics:market_growth_rate"],
		"total_addressable_market":   flat["market_metrics:total_addressable_market"],
		"service_addressable_market": flat["market_metrics:service_addressable_market"],
	}
	mapped[TableMarketMetrics] = []gcp.TableRow{dropNil(market)}

	if summary, ok := flat["final_deal_note:summary"]; ok && summary != nil {
		note := gcp.TableRow{
			"startup_id": jobID,
			"summary":    summary,
		}
		mapped[TableFinalDealNote] = []gcp.TableRow{note}
	}

	return mapped, nil
}

// GeminiMapper is the primary strategy: a JSON-mode generative model maps the
// merged record into the four keyed row arrays.
type GeminiMapper struct {
	model *genai.GenerativeModel
}

func NewGeminiMapper(vertexClient *gcp.VertexClient) *GeminiMapper {
	return &GeminiMapper{model: vertexClient.RowMapperModel}
}

func (m *GeminiMapper) MapRows(ctx context.Context, merged models.ExtractionResult) (RowSet, error) {
	inputJSON, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged record: %w", err)
	}

	prompt := genai.Text(fmt.Sprintf(gcp.RowMapperUserPromptTemplate, string(inputJSON)))
	resp, err := m.model.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("row mapper model call failed: %w", err)
	}

	raw := gcp.ExtractText(resp)
	if raw == "" {
		return nil, fmt.Errorf("row mapper model returned no text")
	}

	var parsed map[string][]map[string]any
	if err := DecodeModelJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("row mapper output is not valid JSON: %w", err)
	}

	mapped := make(RowSet, len(parsed))
	for table, rows := range parsed {
		converted := make([]gcp.TableRow, 0, len(rows))
		for _, row := range rows {
			converted = append(converted, toTableRow(row))
		}
		mapped[table] = converted
	}
	return mapped, nil
}

// DecodeModelJSON unmarshals model output into v, tolerating code fences and
// leading/trailing prose by recovering the first balanced JSON object.
func DecodeModelJSON(raw string, v any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	obj, err := ExtractJSONObject(cleaned)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(obj), v)
}

// ExtractJSONObject returns the first balanced {...} substring of raw,
// respecting string literals and escapes.
func ExtractJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in model output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in model output")
}

// FilterRowToSchema drops every key the table's live schema does not declare.
// Unknown keys are dropped silently; this protects inserts against
// extraction-service drift at the cost of silent data loss.
func FilterRowToSchema(row gcp.TableRow, schema bigquery.Schema) gcp.TableRow {
	allowed := make(map[string]struct{}, len(schema))
	for _, fs := range schema {
		allowed[fs.Name] = struct{}{}
	}
	filtered := make(gcp.TableRow, len(row))
	for k, v := range row {
		if _, ok := allowed[k]; ok {
			filtered[k] = v
		}
	}
	return filtered
}

func toTableRow(m map[string]any) gcp.TableRow {
	row := make(gcp.TableRow, len(m))
	for k, v := range m {
		row[k] = v
	}
	return row
}

func dropNil(row gcp.TableRow) gcp.TableRow {
	out := make(gcp.TableRow, len(row))
	for k, v := range row {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func keysWithPrefix(flat map[string]any, prefix string) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
