package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/manash/antika/internal/provider"
	"github.com/manash/antika/pkg/models"
)

const (
	// All images are declared as JPEG regardless of their real encoding.
	imageMediaType = "image/jpeg"

	analysisMaxTokens = 4096
	schemaName        = "antique_analysis"

	analysisFailedMessage = "Could not analyze the antique. Please try again."
	emptyResponseMessage  = "The analysis service returned an empty response."
	badResponseMessage    = "The analysis service returned an incomplete appraisal. Please try again."

	userInstruction = "You are a world-class antique appraiser and historian. Analyze this image deeply. " +
		"Identify the object, its probable era, origin, and estimated market value range for collectors. " +
		"Provide restoration tips, detailed historical context, and search queries for further research. " +
		"If it looks like a modern reproduction, note that in the description."

	systemDirective = "You are an expert antique valuator. Be precise, conservative with value estimates, " +
		"and helpful with restoration advice. Always respond in %s language within the JSON structure values."
)

var dataURLPrefix = regexp.MustCompile(`^data:image/[a-z]+;base64,`)

// estimatedValueFields must be present and non-null alongside the top-level
// required fields; an empty estimatedValue object is not a valuation.
var estimatedValueFields = []string{"estimatedValue.min", "estimatedValue.max", "estimatedValue.currency"}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// analysisSchema declares every record field. Optional fields are left out
// of "required", which is why the schema cannot be strict.
func analysisSchema() json.RawMessage {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	list := func(desc string) map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":         str("The specific name of the item (e.g., 'Late Victorian Mahogany Side Table')."),
			"estimatedDate": str("The estimated era or specific year range (e.g., 'Circa 1890-1910')."),
			"origin":        str("Country or region of origin."),
			"style":         str("Art movement or style (e.g., Art Deco, Baroque, Mid-Century Modern)."),
			"confidenceScore": map[string]any{
				"type":        "number",
				"description": "Confidence score between 0 and 100.",
			},
			"estimatedValue": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"min":      map[string]any{"type": "number"},
					"max":      map[string]any{"type": "number"},
					"currency": str("Currency code, prefer USD or EUR."),
				},
				"required": []string{"min", "max", "currency"},
			},
			"description":       str("Detailed physical description and identification features."),
			"restorationTips":   list("Specific advice on cleaning, maintaining, or restoring this item without damaging value."),
			"historicalContext": str("Brief history about why this item is significant or interesting."),
			"detailedHistory":   str("A comprehensive historical background of the item's era, maker, or style in 2-3 detailed paragraphs."),
			"searchQueries":     list("3-5 distinct web search queries to find similar items, auction results, or historical records."),
			"keyFeatures":       list("3-5 specific visual or constructional features that identify this item's history (e.g., 'Dovetail joints')."),
			"isAuthentic": map[string]any{
				"type":        "boolean",
				"description": "Does it appear to be an authentic vintage/antique item based on visual cues?",
			},
		},
		"required": models.RequiredFields(),
	}

	data, _ := json.Marshal(schema)
	return data
}

// Analyze sends one image for appraisal and returns the decoded record.
func (p *Provider) Analyze(ctx context.Context, imageData string) (*models.AnalysisResult, error) {
	if p.apiKey == "" {
		return nil, models.ConfigurationError(provider.MissingKeyMessage, provider.ErrAPIKeyRequired)
	}

	raw := dataURLPrefix.ReplaceAllString(strings.TrimSpace(imageData), "")
	if raw == "" {
		return nil, models.ValidationError("no image data provided")
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, models.ValidationError("image data is not valid base64")
	}
	if int64(len(decoded)) > p.maxImageSize {
		return nil, models.ImageTooLarge(int64(len(decoded)), p.maxImageSize)
	}

	chatReq := &chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: []chatContent{{Type: "text", Text: fmt.Sprintf(systemDirective, p.language)}},
			},
			{
				Role: "user",
				Content: []chatContent{
					{
						Type: "image_url",
						ImageURL: &imageURL{
							URL:    "data:" + imageMediaType + ";base64," + raw,
							Detail: "high",
						},
					},
					{Type: "text", Text: userInstruction},
				},
			},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   schemaName,
				Strict: false,
				Schema: analysisSchema(),
			},
		},
	}
	if p.reasoning() {
		chatReq.MaxCompletionTokens = analysisMaxTokens
	} else {
		chatReq.MaxTokens = analysisMaxTokens
	}

	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logRequest(http.MethodPost, url, httpReq.Header, jsonData)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.log.WithError(err).Error("analysis request failed")
		return nil, models.ServiceError(analysisFailedMessage, fmt.Errorf("%w: %w", provider.ErrAnalysisFailed, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.log.WithError(err).Error("reading analysis response failed")
		return nil, models.ServiceError(analysisFailedMessage, fmt.Errorf("%w: %w", provider.ErrAnalysisFailed, err))
	}

	p.logResponse(resp.StatusCode, resp.Header, body)

	record, usage, err := p.parseAnalysis(resp.StatusCode, body)
	if err != nil {
		return nil, err
	}

	return &models.AnalysisResult{
		Record: record,
		Model:  p.model,
		Usage:  usage,
		Cost:   p.costCalc.Calculate(p.model, usage),
	}, nil
}

func (p *Provider) parseAnalysis(status int, body []byte) (*models.AnalysisRecord, models.Usage, error) {
	var usage models.Usage

	fail := func(msg string, cause error) (*models.AnalysisRecord, models.Usage, error) {
		p.log.WithField("status", status).WithError(cause).Error("analysis failed")
		return nil, usage, models.ServiceError(msg, fmt.Errorf("%w: %w", provider.ErrAnalysisFailed, cause))
	}

	if !gjson.ValidBytes(body) {
		return fail(analysisFailedMessage, fmt.Errorf("unparsable response body (status %d)", status))
	}
	envelope := gjson.ParseBytes(body)
	if msg := envelope.Get("error.message"); msg.Exists() {
		return fail(analysisFailedMessage, fmt.Errorf("api error: %s", msg.String()))
	}
	if status != http.StatusOK {
		return fail(analysisFailedMessage, fmt.Errorf("status %d", status))
	}

	usage.InputTokens = int(envelope.Get("usage.prompt_tokens").Int())
	usage.OutputTokens = int(envelope.Get("usage.completion_tokens").Int())

	content := stripCodeFence(envelope.Get("choices.0.message.content").String())
	if content == "" {
		return fail(emptyResponseMessage, fmt.Errorf("empty message content"))
	}

	if !gjson.Valid(content) {
		return fail(badResponseMessage, fmt.Errorf("message content is not JSON"))
	}
	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return fail(badResponseMessage, fmt.Errorf("message content is not a JSON object"))
	}
	var missing []string
	for _, field := range append(models.RequiredFields(), estimatedValueFields...) {
		if v := parsed.Get(field); !v.Exists() || v.Type == gjson.Null {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fail(badResponseMessage, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	var record models.AnalysisRecord
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return fail(badResponseMessage, fmt.Errorf("decode record: %w", err))
	}

	if record.EstimatedValue.Inverted() {
		p.log.WithFields(logrus.Fields{
			"min": record.EstimatedValue.Min,
			"max": record.EstimatedValue.Max,
		}).Warn("estimated value range inverted, swapping")
		record.EstimatedValue = record.EstimatedValue.Normalized()
	}

	return &record, usage, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
