package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultGeminiModel = "gemini-2.5-flash"
)

// Gemini API request/response types (unexported).

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsage struct {
	TotalTokenCount int `json:"totalTokenCount"`
}

type geminiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GeminiProvider implements Provider for Google's Gemini API.
type GeminiProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGeminiProvider creates a Gemini provider. Empty model and baseURL take defaults.
func NewGeminiProvider(apiKey, model, baseURL string, timeout time.Duration) *GeminiProvider {
	if model == "" {
		model = defaultGeminiModel
	}
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiProvider{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: messagesToPrompt(req.Messages)}},
		}},
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.JSONMode {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var ge geminiError
		if json.Unmarshal(respBody, &ge) == nil && ge.Error.Message != "" {
			msg = ge.Error.Message
		}
		return nil, newAPIError("gemini", resp, msg)
	}

	var genResp geminiResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	var sb strings.Builder
	if len(genResp.Candidates) > 0 {
		for _, p := range genResp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyResponse
	}

	tokensUsed := 0
	if genResp.UsageMetadata != nil {
		tokensUsed = genResp.UsageMetadata.TotalTokenCount
	}

	return &ChatResponse{
		Content:    content,
		TokensUsed: tokensUsed,
		Model:      g.model,
		Provider:   "gemini",
	}, nil
}

// messagesToPrompt concatenates chat messages into a single prompt string.
// The generateContent endpoint takes one content block here, so roles become text.
func messagesToPrompt(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}

	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
		if m.Role == "system" {
			sb.WriteString("\n\n")
		} else {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
