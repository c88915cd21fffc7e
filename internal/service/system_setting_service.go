package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moodjournal/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// AIProviderOpenAI 表示使用 OpenAI 能力。
	AIProviderOpenAI = "openai"
	// AIProviderDeepSeek 表示使用 DeepSeek 能力。
	AIProviderDeepSeek = "deepseek"
	// AIProviderGemini 表示通过 OpenAI 兼容接口使用 Gemini。
	AIProviderGemini = "gemini"

	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta/openai"
)

var supportedAIProviders = []string{AIProviderOpenAI, AIProviderDeepSeek, AIProviderGemini}

// SystemSettings 描述后台可配置的 AI 相关设置。
type SystemSettings struct {
	AIProvider     string
	OpenAIAPIKey   string
	DeepSeekAPIKey string
	GeminiAPIKey   string
	AdvicePrompt   string
}

// APIKeyFor 返回指定平台的 API Key。
func (s SystemSettings) APIKeyFor(provider string) string {
	switch normalizeAIProvider(provider) {
	case AIProviderDeepSeek:
		return strings.TrimSpace(s.DeepSeekAPIKey)
	case AIProviderGemini:
		return strings.TrimSpace(s.GeminiAPIKey)
	default:
		return strings.TrimSpace(s.OpenAIAPIKey)
	}
}

// ErrAIAPIKeyMissing 表示未提供必需的 AI 平台 API Key。
var ErrAIAPIKeyMissing = errors.New("api key is required")

// ErrSettingsUnavailable 表示当前运行模式没有可写入的设置存储。
var ErrSettingsUnavailable = errors.New("settings storage unavailable")

// SystemSettingsInput 用于更新系统设置。
type SystemSettingsInput struct {
	AIProvider     string
	OpenAIAPIKey   string
	DeepSeekAPIKey string
	GeminiAPIKey   string
	AdvicePrompt   string
}

// SystemSettingService 提供系统设置的读取与更新能力。
// 数据库中的值覆盖启动时从环境变量读取的默认值。
type SystemSettingService struct {
	db              *gorm.DB
	defaults        SystemSettings
	httpClient      httpDoer
	openAIBaseURL   string
	deepSeekBaseURL string
	geminiBaseURL   string
}

// NewSystemSettingService 构造 SystemSettingService，gdb 为 nil 时只返回默认值。
func NewSystemSettingService(gdb *gorm.DB, defaults SystemSettings) *SystemSettingService {
	if provider := normalizeAIProvider(defaults.AIProvider); provider != "" {
		defaults.AIProvider = provider
	} else {
		defaults.AIProvider = AIProviderOpenAI
	}
	return &SystemSettingService{
		db:              gdb,
		defaults:        defaults,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		openAIBaseURL:   defaultOpenAIBaseURL,
		deepSeekBaseURL: defaultDeepSeekBaseURL,
		geminiBaseURL:   defaultGeminiBaseURL,
	}
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var settingKeys = []string{
	db.SettingKeyAIProvider,
	db.SettingKeyOpenAIAPIKey,
	db.SettingKeyDeepSeekAPIKey,
	db.SettingKeyGeminiAPIKey,
	db.SettingKeyAdvicePrompt,
}

// GetSettings 读取系统设置，未保存的项回退到默认值。
func (s *SystemSettingService) GetSettings() (SystemSettings, error) {
	result := s.defaults
	if s.db == nil {
		return result, nil
	}

	var records []db.SystemSetting
	if err := s.db.Where("key IN ?", settingKeys).Find(&records).Error; err != nil {
		return result, fmt.Errorf("load system settings: %w", err)
	}

	for _, record := range records {
		value := strings.TrimSpace(record.Value)
		if value == "" {
			continue
		}
		switch record.Key {
		case db.SettingKeyAIProvider:
			if provider := normalizeAIProvider(value); provider != "" {
				result.AIProvider = provider
			}
		case db.SettingKeyOpenAIAPIKey:
			result.OpenAIAPIKey = value
		case db.SettingKeyDeepSeekAPIKey:
			result.DeepSeekAPIKey = value
		case db.SettingKeyGeminiAPIKey:
			result.GeminiAPIKey = value
		case db.SettingKeyAdvicePrompt:
			result.AdvicePrompt = value
		}
	}

	return result, nil
}

// UpdateSettings 保存系统设置。留空的 API Key 会清除数据库中的覆盖值，回退到环境变量。
func (s *SystemSettingService) UpdateSettings(input SystemSettingsInput) (SystemSettings, error) {
	if s.db == nil {
		return SystemSettings{}, ErrSettingsUnavailable
	}

	provider := normalizeAIProvider(input.AIProvider)
	if provider == "" {
		provider = AIProviderOpenAI
	}

	values := map[string]string{
		db.SettingKeyAIProvider:     provider,
		db.SettingKeyOpenAIAPIKey:   strings.TrimSpace(input.OpenAIAPIKey),
		db.SettingKeyDeepSeekAPIKey: strings.TrimSpace(input.DeepSeekAPIKey),
		db.SettingKeyGeminiAPIKey:   strings.TrimSpace(input.GeminiAPIKey),
		db.SettingKeyAdvicePrompt:   strings.TrimSpace(input.AdvicePrompt),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, key := range settingKeys {
			if err := upsertSetting(tx, key, values[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SystemSettings{}, fmt.Errorf("update system settings: %w", err)
	}

	return s.GetSettings()
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// SetHTTPClient 替换用于访问第三方服务的 HTTP 客户端，主要面向测试场景。
func (s *SystemSettingService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.httpClient = &http.Client{Timeout: 10 * time.Second}
		return
	}
	s.httpClient = client
}

// SetBaseURL 覆盖指定平台 API 的基础地址，便于测试或自定义代理。
func (s *SystemSettingService) SetBaseURL(provider, base string) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	switch normalizeAIProvider(provider) {
	case AIProviderDeepSeek:
		s.deepSeekBaseURL = trimmed
	case AIProviderGemini:
		s.geminiBaseURL = trimmed
	default:
		s.openAIBaseURL = trimmed
	}
}

func (s *SystemSettingService) baseURLFor(provider string) (string, string) {
	switch normalizeAIProvider(provider) {
	case AIProviderDeepSeek:
		return fallbackString(s.deepSeekBaseURL, defaultDeepSeekBaseURL), "DeepSeek"
	case AIProviderGemini:
		return fallbackString(s.geminiBaseURL, defaultGeminiBaseURL), "Gemini"
	default:
		return fallbackString(s.openAIBaseURL, defaultOpenAIBaseURL), "OpenAI"
	}
}

// TestAIConnection 调用指定 AI 平台的模型接口验证 API Key 的有效性。
// apiKey 为空时使用已保存的设置。
func (s *SystemSettingService) TestAIConnection(ctx context.Context, provider, apiKey string) error {
	prov := normalizeAIProvider(provider)
	if prov == "" {
		prov = AIProviderOpenAI
	}

	key := strings.TrimSpace(apiKey)
	if key == "" {
		if settings, err := s.GetSettings(); err == nil {
			key = settings.APIKeyFor(prov)
		}
	}
	if key == "" {
		return ErrAIAPIKeyMissing
	}

	client := s.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	base, label := s.baseURLFor(prov)
	endpoint := strings.TrimRight(base, "/") + "/models"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", strings.ToLower(label), err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "moodjournal-admin/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s 接口失败: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%s 返回错误：%s (%s)", label, resp.Status, msg)
		}
		return fmt.Errorf("%s 返回错误：%s", label, resp.Status)
	}

	return nil
}

func normalizeAIProvider(provider string) string {
	trimmed := strings.ToLower(strings.TrimSpace(provider))
	for _, candidate := range supportedAIProviders {
		if trimmed == candidate {
			return candidate
		}
	}
	return ""
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// MaskAPIKey 仅保留 API Key 的末四位，用于后台展示。
func MaskAPIKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	runes := []rune(trimmed)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", 8) + string(runes[len(runes)-4:])
}
