package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moodjournal/internal/logger"
)

// TextCompleter 是文本补全后端的唯一能力：输入提示词，返回模型回复。
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type aiChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

type aiChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultDeepSeekModel = "deepseek-chat"
	defaultGeminiModel   = "gemini-2.5-flash"

	defaultCompletionMaxTokens   = 800
	defaultCompletionTemperature = 0.7
	completionSystemPrompt       = "你是一名温暖、专业的心理咨询师。请严格按照用户消息中的要求作答。"
)

// AIChatClient 通过 OpenAI 兼容的 chat/completions 接口调用大模型。
// 每次调用都会重新读取系统设置，因此后台切换平台或 Key 后立即生效。
type AIChatClient struct {
	settings *SystemSettingService
	http     httpDoer
	log      *logger.Logger
	models   map[string]string
}

// NewAIChatClient 构造 AIChatClient。
func NewAIChatClient(settings *SystemSettingService, log *logger.Logger) *AIChatClient {
	if log == nil {
		log = logger.Nop()
	}
	return &AIChatClient{
		settings: settings,
		http:     &http.Client{Timeout: 180 * time.Second},
		log:      log,
		models: map[string]string{
			AIProviderOpenAI:   defaultOpenAIModel,
			AIProviderDeepSeek: defaultDeepSeekModel,
			AIProviderGemini:   defaultGeminiModel,
		},
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (c *AIChatClient) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: 180 * time.Second}
		return
	}
	c.http = client
}

// SetModel 指定某个平台使用的模型名称，空值忽略。
func (c *AIChatClient) SetModel(provider, model string) {
	prov := normalizeAIProvider(provider)
	model = strings.TrimSpace(model)
	if prov == "" || model == "" {
		return
	}
	c.models[prov] = model
}

// Complete 使用当前设置的平台完成一次补全。
func (c *AIChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.settings == nil {
		return "", ErrAIAPIKeyMissing
	}
	settings, err := c.settings.GetSettings()
	if err != nil {
		return "", fmt.Errorf("读取系统设置失败: %w", err)
	}

	resp, err := c.callWithSettings(ctx, settings, aiChatRequest{
		SystemPrompt: completionSystemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    defaultCompletionMaxTokens,
		Temperature:  defaultCompletionTemperature,
	})
	if err != nil {
		return "", err
	}
	c.log.Debug("ai usage",
		"provider", settings.AIProvider,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
	)
	return resp.Content, nil
}

func (c *AIChatClient) callWithSettings(ctx context.Context, settings SystemSettings, req aiChatRequest) (aiChatResponse, error) {
	provider := normalizeAIProvider(settings.AIProvider)
	if provider == "" {
		provider = AIProviderOpenAI
	}

	apiKey := settings.APIKeyFor(provider)
	if apiKey == "" {
		return aiChatResponse{}, ErrAIAPIKeyMissing
	}

	base, label := c.settings.baseURLFor(provider)
	model := strings.TrimSpace(c.models[provider])

	client := c.http
	if client == nil {
		client = http.DefaultClient
	}

	maxTokens := req.MaxTokens
	if maxTokens < 0 {
		maxTokens = 0
	}

	payload := chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(req.SystemPrompt)},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("构造请求失败: %w", err)
	}

	endpoint := strings.TrimRight(base, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("创建 %s 请求失败: %w", label, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "moodjournal-ai/1.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("请求 %s 接口失败: %w", label, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return aiChatResponse{}, fmt.Errorf("读取 %s 响应失败: %w", label, err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return aiChatResponse{}, fmt.Errorf("解析 %s 响应失败: %w", label, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errMsg := strings.TrimSpace(completion.Error.Message)
		if errMsg == "" {
			errMsg = resp.Status
		}
		return aiChatResponse{}, fmt.Errorf("%s 接口返回错误：%s", label, errMsg)
	}

	if len(completion.Choices) == 0 {
		return aiChatResponse{}, fmt.Errorf("%s 接口未返回结果", label)
	}

	return aiChatResponse{
		Content:          strings.TrimSpace(completion.Choices[0].Message.Content),
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
	}, nil
}
