package models

// These structs define the JSON payloads exchanged between the upload
// endpoint, the Pub/Sub routing channels, and the worker Cloud Functions.

// RoutingMessage is the unit of work handed to an extraction worker. Exactly
// one is published per uploaded artifact; delivery is at-least-once.
type RoutingMessage struct {
	JobID       string  `json:"job_id"`
	Bucket      string  `json:"bucket"`
	Path        string  `json:"path"`
	Filename    string  `json:"filename"`
	CompanyName string  `json:"company_name"`
	Timestamp   string  `json:"timestamp"`
	JobType     JobType `json:"job_type"`
}

// UploadedFile is the per-artifact element of the upload endpoint response.
type UploadedFile struct {
	JobID   string  `json:"job_id"`
	JobType JobType `json:"job_type"`
	Message string  `json:"message"`
	Path    string  `json:"path"`
}

// UploadResponse wraps the per-file results so the UI can safely index into it.
type UploadResponse struct {
	Files []UploadedFile `json:"files"`
}

// ErrorResponse is the JSON body for 4xx/5xx responses from the upload endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PubSubEvent is the CloudEvent data envelope for a Pub/Sub-triggered
// function. Message.Data is base64 in the wire format; encoding/json decodes
// it into raw bytes.
type PubSubEvent struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PartResult is the extraction output for one part of a (possibly split)
// artifact. SchemaFields values are either strings or nested maps for
// structured sub-entities.
type PartResult struct {
	PartFilename string         `json:"part_filename"`
	SchemaFields map[string]any `json:"schema_fields"`
}

// ExtractionResult is the one JSON object an extraction worker writes per
// artifact, stored at {company_name}/{agent_label}_{job_id}.json.
type ExtractionResult struct {
	JobID       string       `json:"job_id"`
	CompanyName string       `json:"company_name"`
	Bucket      string       `json:"bucket"`
	Blob        string       `json:"blob"`
	Filename    string       `json:"filename"`
	ProcessedAt string       `json:"processed_at"`
	PartsCount  int          `json:"parts_count"`
	Results     []PartResult `json:"results"`
}
