package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Audio Extractor Model Prompts ---
const AudioExtractorSystemPrompt = "You are a helpful assistant. You transcribe pitch audio into clean text and extract structured information from it. You always return strictly valid JSON and nothing else."

// AudioExtractorUserPromptTemplate expects the JSON skeleton of every field
// the target tables declare. The worker fills it in per job from the live
// schemas.
const AudioExtractorUserPromptTemplate = `Step 1: Transcribe the audio into clean text.
Step 2: Extract structured information from the transcription.

Return the result strictly in JSON with the following fields:
%s

Rules:
- Every field must be present in the JSON
- If no match is found, use "" or []`

// --- Row Mapper Model Prompts ---
const RowMapperSystemPrompt = "You are a data mapping tool. You map extracted startup pitch fields into rows for analytics tables. You must output your response as a single valid JSON object."

// RowMapperUserPromptTemplate expects the merged extraction JSON for one job.
const RowMapperUserPromptTemplate = `You are given extracted JSON from a document extraction service for a startup. Map the extracted 'schema_fields' into rows for these tables: company_metrics, founder_metrics, product_tech_metrics, market_metrics.

Input JSON:
%s

Return a JSON object with exactly these keys:
- company_metrics: array of objects (each with startup_id and relevant fields)
- founder_metrics: array of objects (startup_id, founder_id, name, background, track_record, domain_expertise, linkedin_url)
- product_tech_metrics: array of objects (startup_id, product_name, product_stage, product_summary)
- market_metrics: array of objects (startup_id, competitors, market_growth_rate, total_addressable_market, service_addressable_market)

Do NOT include any other keys. Use startup_id = the job_id from the input. If a field isn't present, omit it.
Output only the JSON.`

// VertexClient holds all pre-configured generative models for the pipeline.
type VertexClient struct {
	AudioExtractorModel *genai.GenerativeModel
	RowMapperModel      *genai.GenerativeModel
	baseClient          *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the audio extractor model ---
	audioModel := baseClient.GenerativeModel("gemini-2.5-pro")
	audioModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AudioExtractorSystemPrompt)},
	}
	audioModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	// --- Configure the row mapper model ---
	rowMapperModel := baseClient.GenerativeModel("gemini-2.5-pro")
	rowMapperModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(RowMapperSystemPrompt)},
	}
	rowMapperModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0), // Low temp for deterministic, structured output
	}
	rowMapperModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		AudioExtractorModel: audioModel,
		RowMapperModel:      rowMapperModel,
		baseClient:          baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ExtractText concatenates the text parts of the first candidate. Returns an
// empty string when the model produced no usable content.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out += string(txt)
		}
	}
	return out
}
