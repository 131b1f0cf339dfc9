package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIClientName   = "openai"
	openAIDefaultModel = "gpt-4o"

	maxTokensDetection  = 4096
	maxTokensExtraction = 16000
)

// OpenAIConfig configures the OpenAI-backed vision client.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // Default: gpt-4o
	BaseURL string        // Optional override (proxies, tests)
	Timeout time.Duration // HTTP client timeout (default 300s)

	HTTPClient *http.Client // Optional (tests)
}

// OpenAIClient implements Client using the official OpenAI SDK.
// SDK-level retries are disabled: the gateway owns retry policy.
type OpenAIClient struct {
	model  string
	client openai.Client
}

// NewOpenAIClient creates a new OpenAI vision client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIClientName
}

// DetectSections sends sampled pages and asks for the section structure.
func (c *OpenAIClient) DetectSections(ctx context.Context, req *DetectRequest) (*DetectResult, error) {
	start := time.Now()

	content, err := c.invoke(ctx, "detect", detectionPrompt(req), req.Pages, maxTokensDetection)
	if err != nil {
		return nil, err
	}

	var sections []DetectedSection
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &sections); err != nil {
		return nil, Permanent("detect", fmt.Errorf("unparseable detection response: %w", err))
	}

	return &DetectResult{
		Sections:      sections,
		RequestID:     uuid.New().String(),
		ModelUsed:     c.model,
		ExecutionTime: time.Since(start),
	}, nil
}

// ExtractSection sends one section's pages and asks for a payload conforming
// to the request schema.
func (c *OpenAIClient) ExtractSection(ctx context.Context, req *ExtractRequest) (*ExtractResult, error) {
	start := time.Now()

	content, err := c.invoke(ctx, "extract", extractionPrompt(req), req.Pages, maxTokensExtraction)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Confidence float64        `json:"confidence"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil {
		return nil, Permanent("extract", fmt.Errorf("unparseable extraction response: %w", err))
	}
	if parsed.Data == nil {
		return nil, Permanent("extract", errors.New("extraction response missing data object"))
	}

	return &ExtractResult{
		Payload:       parsed.Data,
		Confidence:    parsed.Confidence,
		RequestID:     uuid.New().String(),
		ModelUsed:     c.model,
		ExecutionTime: time.Since(start),
	}, nil
}

// invoke sends a single multimodal chat completion and returns the text
// content of the first choice.
func (c *OpenAIClient) invoke(ctx context.Context, op, prompt string, pages []Page, maxTokens int) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(pages)+1)
	for _, page := range pages {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(page.Image)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}))
	}
	parts = append(parts, openai.TextContentPart(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(0),
	})
	if err != nil {
		return "", c.mapError(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", Transient(op, errors.New("empty choices in response"))
	}

	return resp.Choices[0].Message.Content, nil
}

// mapError classifies OpenAI SDK errors into the transient/permanent taxonomy.
func (c *OpenAIClient) mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return Transient(op, fmt.Errorf("rate limited: %s", apiErr.Message))
		case apiErr.StatusCode >= 500:
			return Transient(op, fmt.Errorf("server error (status %d): %s", apiErr.StatusCode, apiErr.Message))
		default:
			return Permanent(op, fmt.Errorf("request rejected (status %d): %s", apiErr.StatusCode, apiErr.Message))
		}
	}

	// Network-level failure.
	return Transient(op, err)
}

// detectionPrompt asks for a JSON array of section boundaries.
func detectionPrompt(req *DetectRequest) string {
	pageNums := make([]string, len(req.Pages))
	for i, p := range req.Pages {
		pageNums[i] = fmt.Sprintf("%d", p.Number)
	}

	return fmt.Sprintf(`Analyze these document pages and identify logical sections.

Total pages in document: %d
Sample pages shown: [%s]

Based on these samples, infer the complete section structure.

Return ONLY a JSON array with this exact structure:
[
    {
        "section_type": "one of: %s",
        "section_name": "descriptive name",
        "start_page": number (1-indexed),
        "end_page": number (1-indexed),
        "description": "brief description",
        "confidence": number (0.0-1.0)
    }
]

Requirements:
- Sections must not overlap
- All pages (1 to %d) must be covered
- If unsure about section type, use 'general'
- Be precise with page numbers

Return the JSON array now, no other text:`,
		req.TotalPages, strings.Join(pageNums, ", "),
		strings.Join(req.SectionTypes, ", "), req.TotalPages)
}

// extractionPrompt asks for the section payload plus a confidence score.
func extractionPrompt(req *ExtractRequest) string {
	return fmt.Sprintf(`Extract structured data from these document pages.

Section: %s (type: %s, pages %d-%d)

The extracted data must conform to this JSON Schema:
%s

Return ONLY a JSON object with this exact structure:
{
    "confidence": number (0.0-1.0, your confidence in the extraction),
    "data": { ...fields conforming to the schema... }
}

Rules:
- Use the EXACT wording from the document, do not paraphrase
- Omit fields you cannot find rather than inventing values
- Return valid JSON only, no markdown, no additional text

Extract now:`,
		req.SectionName, req.SectionType, req.StartPage, req.EndPage, string(req.Schema))
}

// stripCodeFence removes a markdown code fence wrapper if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var _ Client = (*OpenAIClient)(nil)
