package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"CorpusCurator/internal/classifier"
	"CorpusCurator/internal/config"
	"CorpusCurator/internal/domain"
	"CorpusCurator/internal/ports"
)

const contentPreviewRunes = 2000

const defaultSystemPrompt = `You classify educational material about machine-learned interatomic potentials.
Respond with a JSON object containing exactly these fields:
{"resource_type": "paper|lecture|exercise|documentation|tutorial",
 "difficulty_level": "beginner|intermediate|advanced|expert",
 "topics": ["specific", "technical", "topics"]}`

// ChatGPTClassifier implements ports.Classifier backed by OpenAI-compatible
// chat completion APIs.
type ChatGPTClassifier struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Classifier = (*ChatGPTClassifier)(nil)

// NewChatGPTClassifier builds a client from configuration.
func NewChatGPTClassifier(cfg config.ChatGPTConfig) *ChatGPTClassifier {
	return &ChatGPTClassifier{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type classificationPayload struct {
	ResourceType    string   `json:"resource_type"`
	DifficultyLevel string   `json:"difficulty_level"`
	Topics          []string `json:"topics"`
}

// Classify asks the model for a label set and validates the answer.
func (c *ChatGPTClassifier) Classify(ctx context.Context, title, content, url string) (domain.Classification, error) {
	if c == nil {
		return domain.Classification{}, fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Classification{}, fmt.Errorf("chatgpt client misconfigured")
	}

	user := fmt.Sprintf("Title: %s\nURL: %s\nContent: %s", title, url, preview(content))
	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"temperature": 0.1,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": user},
		},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Classification{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Classification{}, fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Classification{}, fmt.Errorf("decode chatgpt response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return domain.Classification{}, fmt.Errorf("chatgpt returned no choices")
	}

	return parseClassification(decoded.Choices[0].Message.Content)
}

func parseClassification(text string) (domain.Classification, error) {
	text = stripFences(text)

	var payload classificationPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return domain.Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	if payload.ResourceType == "" || payload.DifficultyLevel == "" || payload.Topics == nil {
		return domain.Classification{}, fmt.Errorf("classification is missing required fields")
	}

	return classifier.Validate(domain.Classification{
		ResourceType:    payload.ResourceType,
		DifficultyLevel: payload.DifficultyLevel,
		Topics:          payload.Topics,
	})
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= contentPreviewRunes {
		return content
	}
	return string(runes[:contentPreviewRunes]) + "..."
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}
