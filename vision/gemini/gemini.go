package gemini

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonwraymond/visionops/fault"
	"github.com/jonwraymond/visionops/vision"
	"google.golang.org/genai"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config configures the Gemini provider.
type Config struct {
	// APIKey authenticates requests against the Gemini API. Required.
	APIKey string

	// Model is the generative model used for analysis and comparison
	// calls. Default: DefaultModel.
	Model string

	// HTTPTimeout bounds each underlying HTTP request. Zero leaves the
	// transport unbounded; callers bound calls through context instead.
	// Default: 0.
	HTTPTimeout time.Duration
}

// Client calls the Gemini API through the official genai SDK.
type Client struct {
	cli   *genai.Client
	model string
}

var _ vision.Provider = (*Client)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindConfig, "gemini", "new", "api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.HTTPTimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	cli, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, "gemini", "new", err)
	}
	return &Client{cli: cli, model: cfg.Model}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return "gemini" }

// AnalyzeImage sends the image with the fixed analysis prompt in JSON
// mode and parses the model's reply.
func (c *Client) AnalyzeImage(ctx context.Context, req *vision.AnalysisRequest) (*vision.Analysis, error) {
	if req == nil || len(req.Image.Data) == 0 {
		return nil, fault.New(fault.KindValidation, "gemini", "analyze_image", "request has no image data")
	}

	model := c.modelFor(req.Model)
	parts := []*genai.Part{
		{Text: analysisPrompt(req.Prompt)},
		{InlineData: &genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data}},
	}

	start := time.Now()
	text, err := c.generateJSON(ctx, "analyze_image", model, parts)
	if err != nil {
		return nil, err
	}

	analysis := &vision.Analysis{}
	if err := json.Unmarshal([]byte(text), analysis); err != nil {
		return nil, fault.Wrap(fault.KindServer, "gemini", "analyze_image", err).
			WithMessage("model returned malformed JSON")
	}
	analysis.Provider = "gemini"
	analysis.Model = model
	analysis.Raw = json.RawMessage(text)
	analysis.Duration = time.Since(start)
	return analysis, nil
}

// CompareImages sends both images with the fixed comparison prompt in
// JSON mode and parses the model's reply.
func (c *Client) CompareImages(ctx context.Context, req *vision.CompareRequest) (*vision.Comparison, error) {
	if req == nil || len(req.A.Data) == 0 || len(req.B.Data) == 0 {
		return nil, fault.New(fault.KindValidation, "gemini", "compare_images", "request needs two images")
	}

	parts := []*genai.Part{
		{Text: comparePrompt(req.Prompt)},
		{InlineData: &genai.Blob{MIMEType: req.A.MIMEType, Data: req.A.Data}},
		{InlineData: &genai.Blob{MIMEType: req.B.MIMEType, Data: req.B.Data}},
	}

	start := time.Now()
	text, err := c.generateJSON(ctx, "compare_images", c.model, parts)
	if err != nil {
		return nil, err
	}

	comparison := &vision.Comparison{}
	if err := json.Unmarshal([]byte(text), comparison); err != nil {
		return nil, fault.Wrap(fault.KindServer, "gemini", "compare_images", err).
			WithMessage("model returned malformed JSON")
	}
	comparison.Provider = "gemini"
	comparison.Model = c.model
	comparison.Raw = json.RawMessage(text)
	comparison.Duration = time.Since(start)
	return comparison, nil
}

// UploadFile pushes a local file to the Gemini file store. The size is
// taken from the local file.
func (c *Client) UploadFile(ctx context.Context, path string) (*vision.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, "gemini", "upload_file", err)
	}

	mimeType := detectMIME(path)
	file, err := c.cli.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return nil, mapErr("upload_file", err)
	}

	upload := &vision.Upload{
		Provider:  "gemini",
		ID:        file.Name,
		URI:       file.URI,
		Name:      file.DisplayName,
		MIMEType:  file.MIMEType,
		SizeBytes: info.Size(),
	}
	if upload.Name == "" {
		upload.Name = filepath.Base(path)
	}
	if upload.MIMEType == "" {
		upload.MIMEType = mimeType
	}
	return upload, nil
}

// HealthCheck fetches the configured model's metadata, which exercises
// connectivity and authentication without paying for a generation.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.cli.Models.Get(ctx, c.model, nil); err != nil {
		return mapErr("health_check", err)
	}
	return nil
}

// generateJSON runs one GenerateContent call in JSON mode and returns
// the first candidate's text.
func (c *Client) generateJSON(ctx context.Context, op, model string, parts []*genai.Part) (string, error) {
	resp, err := c.cli.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Parts: parts}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return "", mapErr(op, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fault.New(fault.KindServer, "gemini", op, "model returned no candidates")
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", fault.New(fault.KindServer, "gemini", op, "model returned an empty candidate")
	}
	return text, nil
}

func (c *Client) modelFor(override string) string {
	if override != "" {
		return override
	}
	return c.model
}

// The prompts pin the reply shape to the vision result types, so the
// JSON mode output unmarshals directly.
const analysisSchema = `Analyze the attached image. Respond with one JSON object holding exactly these fields:
"summary": one-paragraph description (string),
"labels": classifications as [{"name": string, "confidence": number in [0,1]}],
"objects": detected objects as [{"label": string, "confidence": number in [0,1], "box": {"x","y","w","h"} normalized to [0,1] or null}],
"text": any text visible in the image, "" if none.`

const compareSchema = `Compare the two attached images. Respond with one JSON object holding exactly these fields:
"similarity": number in [0,1] where 1 means identical,
"summary": one-paragraph comparison (string),
"differences": notable differences as an array of strings.`

func analysisPrompt(extra string) string {
	if extra == "" {
		return analysisSchema
	}
	return analysisSchema + "\n\nAdditional instructions: " + extra
}

func comparePrompt(extra string) string {
	if extra == "" {
		return compareSchema
	}
	return compareSchema + "\n\nAdditional instructions: " + extra
}

// detectMIME sniffs the file's leading bytes, falling back to the
// extension for types the sniffer does not know.
func detectMIME(path string) string {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		buf := make([]byte, 512)
		if n, _ := f.Read(buf); n > 0 {
			if mt := http.DetectContentType(buf[:n]); mt != "application/octet-stream" {
				return mt
			}
		}
	}
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
