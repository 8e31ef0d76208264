package vision

import (
	"encoding/json"
	"time"
)

// AnalysisRequest asks a provider to describe one image.
type AnalysisRequest struct {
	Image  Image
	Prompt string // extra instructions appended to the fixed analysis prompt
	Model  string // overrides the provider's default model when set
}

// Label is a classification with the provider's confidence in it.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Box is a bounding box normalized to the image dimensions: every
// coordinate is a fraction in [0, 1].
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Object is a detected object, optionally with its location.
type Object struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        *Box    `json:"box,omitempty"`
}

// Analysis is a provider's description of one image.
type Analysis struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Summary  string          `json:"summary"`
	Labels   []Label         `json:"labels,omitempty"`
	Objects  []Object        `json:"objects,omitempty"`
	Text     string          `json:"text,omitempty"` // text read from the image
	Raw      json.RawMessage `json:"raw,omitempty"`  // provider reply verbatim
	Duration time.Duration   `json:"duration"`
}

// CompareRequest asks a provider to contrast two images.
type CompareRequest struct {
	A      Image
	B      Image
	Prompt string // extra instructions appended to the fixed comparison prompt
}

// Comparison is a provider's judgment of how two images relate.
type Comparison struct {
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Similarity  float64         `json:"similarity"` // 0 unrelated, 1 identical
	Summary     string          `json:"summary"`
	Differences []string        `json:"differences,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// Upload records a file pushed to a provider's file store.
type Upload struct {
	Provider  string `json:"provider"`
	ID        string `json:"id"`  // provider-side resource identifier
	URI       string `json:"uri"` // where the provider serves the file
	Name      string `json:"name"`
	MIMEType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}
