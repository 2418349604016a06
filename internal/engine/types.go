package engine

// Options tunes one generation call. Zero values defer to the provider's
// defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// Schema requests a JSON object response of the given shape. Providers
	// that cannot enforce a schema fall back to plain JSON mode.
	Schema *Schema
}

// Schema describes the expected JSON output structure for structured responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
