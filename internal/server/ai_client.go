package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"keyi/apps/backend/internal/config"
)

var errAIEmptyAnswer = errors.New("ai response answer is empty")

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type AIModelRequest struct {
	Model        string
	SystemPrompt string
	Conversation []ChatTurn
	UserPrompt   string
}

type AIModelResponse struct {
	Answer string
	Model  string
	Usage  AIUsage
}

type AIClient interface {
	Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error)
}

// AIProviderError carries the upstream status of a failed completion call.
type AIProviderError struct {
	StatusCode int
	Message    string
}

func (e *AIProviderError) Error() string {
	return fmt.Sprintf("ai provider error (%d): %s", e.StatusCode, e.Message)
}

// NewAIClient returns the OpenAI-compatible client when a key is configured
// and the keyword fallback otherwise.
func NewAIClient(cfg config.Config) AIClient {
	if !cfg.LLMConfigured() {
		return FallbackAIClient{}
	}
	return NewChatCompletionClient(cfg)
}

type ChatCompletionClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewChatCompletionClient(cfg config.Config) *ChatCompletionClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}
	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.LLMAPIKey))
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.LLMBaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}

	return &ChatCompletionClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       strings.TrimSpace(cfg.LLMModel),
		maxTokens:   cfg.AIMaxOutputTokens,
		temperature: float32(cfg.AITemperature),
	}
}

func (c *ChatCompletionClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if model == "" {
		return AIModelResponse{}, errors.New("LLM_MODEL is not configured")
	}

	messages := buildCompletionMessages(req)
	if len(messages) == 0 {
		return AIModelResponse{}, errors.New("AI request input is empty")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return AIModelResponse{}, classifyProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return AIModelResponse{}, errAIEmptyAnswer
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return AIModelResponse{}, errAIEmptyAnswer
	}

	modelName := strings.TrimSpace(resp.Model)
	if modelName == "" {
		modelName = model
	}
	return AIModelResponse{
		Answer: answer,
		Model:  modelName,
		Usage: AIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func buildCompletionMessages(req AIModelRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Conversation)+2)
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt})
	}
	for _, turn := range req.Conversation {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	if prompt := strings.TrimSpace(req.UserPrompt); prompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	}
	return messages
}

func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &AIProviderError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &AIProviderError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

// FallbackAIClient answers from a small keyword table. It is used when no
// provider key is configured so the chat flow stays usable in development.
type FallbackAIClient struct{}

func (FallbackAIClient) Query(_ context.Context, req AIModelRequest) (AIModelResponse, error) {
	return AIModelResponse{
		Answer: fallbackReply(req.UserPrompt),
		Model:  "fallback",
	}, nil
}

var fallbackReplies = []struct {
	keywords []string
	reply    string
}{
	{
		keywords: []string{"累", "压力", "焦虑", "烦"},
		reply:    "我听到你感觉很疲惫。能够说说是什么让你感到这么累吗？",
	},
	{
		keywords: []string{"难过", "伤心", "哭", "抑郁"},
		reply:    "我感受到你现在的难过。眼泪有时候是情绪的出口，想说说我能为你做些什么吗？",
	},
	{
		keywords: []string{"想死", "自杀", "不想活", "活着没意思"},
		reply:    "我听到你感觉很绝望。你愿意告诉我发生了什么吗？如果你有具体的想法或计划，请拨打心理危机干预热线：400-161-9995",
	},
	{
		keywords: []string{"谢谢", "感谢", "好"},
		reply:    "不用谢。我在这里陪你。还想聊些什么吗？",
	},
}

const defaultFallbackReply = "我在这里听你说。如果愿意的话，可以多说说你的想法和感受。"

func fallbackReply(message string) string {
	lowered := strings.ToLower(message)
	for _, entry := range fallbackReplies {
		for _, keyword := range entry.keywords {
			if strings.Contains(lowered, keyword) {
				return entry.reply
			}
		}
	}
	return defaultFallbackReply
}

type MockAIClient struct {
	Model  string
	Answer string
	Err    error
	// Requests records every request the mock received.
	Requests *[]AIModelRequest
}

func (m MockAIClient) Query(_ context.Context, req AIModelRequest) (AIModelResponse, error) {
	if m.Requests != nil {
		*m.Requests = append(*m.Requests, req)
	}
	if m.Err != nil {
		return AIModelResponse{}, m.Err
	}
	answer := strings.TrimSpace(m.Answer)
	if answer == "" {
		answer = "Mock response: " + strings.TrimSpace(req.UserPrompt)
	}
	model := strings.TrimSpace(m.Model)
	if model == "" {
		model = "mock-model"
	}
	return AIModelResponse{
		Answer: answer,
		Model:  model,
		Usage: AIUsage{
			PromptTokens:     120,
			CompletionTokens: 80,
			TotalTokens:      200,
		},
	}, nil
}
