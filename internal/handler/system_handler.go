package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/service"
)

// HealthCheck 提供部署平台与监控系统使用的健康检查端点。
func (a *API) HealthCheck(c *gin.Context) {
	if a.db == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"database": "disabled",
		})
		return
	}

	sqlDB, err := a.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database handle unavailable",
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "up",
	})
}

type systemSettingsRequest struct {
	AIProvider     string `json:"aiProvider"`
	OpenAIAPIKey   string `json:"openaiApiKey"`
	DeepSeekAPIKey string `json:"deepseekApiKey"`
	GeminiAPIKey   string `json:"geminiApiKey"`
	AdvicePrompt   string `json:"advicePrompt"`
}

type aiTestRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
}

// GetSystemSettings 返回当前系统设置，API Key 只返回掩码。
func (a *API) GetSystemSettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": systemSettingsPayload(settings)})
}

// UpdateSystemSettings 保存系统设置。原样回传的掩码视为未修改。
func (a *API) UpdateSystemSettings(c *gin.Context) {
	var payload systemSettingsRequest
	if !bindJSON(c, &payload, "请填写完整的系统设置") {
		return
	}

	current, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取系统设置失败")
		return
	}

	settings, err := a.system.UpdateSettings(payload.toInput(current))
	if err != nil {
		if errors.Is(err, service.ErrSettingsUnavailable) {
			respondError(c, http.StatusConflict, "当前存储模式不支持修改系统设置")
			return
		}
		a.log.Error("update system settings failed", "error", err)
		respondError(c, http.StatusInternalServerError, "保存系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "系统设置已保存",
		"settings": systemSettingsPayload(settings),
	})
}

func (r systemSettingsRequest) toInput(current service.SystemSettings) service.SystemSettingsInput {
	return service.SystemSettingsInput{
		AIProvider:     r.AIProvider,
		OpenAIAPIKey:   keepIfMasked(r.OpenAIAPIKey, current.OpenAIAPIKey),
		DeepSeekAPIKey: keepIfMasked(r.DeepSeekAPIKey, current.DeepSeekAPIKey),
		GeminiAPIKey:   keepIfMasked(r.GeminiAPIKey, current.GeminiAPIKey),
		AdvicePrompt:   r.AdvicePrompt,
	}
}

func keepIfMasked(incoming, current string) string {
	trimmed := strings.TrimSpace(incoming)
	if trimmed != "" && trimmed == service.MaskAPIKey(current) {
		return current
	}
	return trimmed
}

func systemSettingsPayload(settings service.SystemSettings) gin.H {
	return gin.H{
		"aiProvider":     settings.AIProvider,
		"openaiApiKey":   service.MaskAPIKey(settings.OpenAIAPIKey),
		"deepseekApiKey": service.MaskAPIKey(settings.DeepSeekAPIKey),
		"geminiApiKey":   service.MaskAPIKey(settings.GeminiAPIKey),
		"advicePrompt":   settings.AdvicePrompt,
	}
}

// TestAIConnection 测试不同 AI 平台 API Key 的连通性。
func (a *API) TestAIConnection(c *gin.Context) {
	var payload aiTestRequest
	if !bindJSON(c, &payload, "请填写有效的 AI 配置信息") {
		return
	}

	// 掩码表示沿用已保存的 Key。
	apiKey := payload.APIKey
	if strings.HasPrefix(strings.TrimSpace(apiKey), "****") {
		apiKey = ""
	}

	if err := a.system.TestAIConnection(c.Request.Context(), payload.Provider, apiKey); err != nil {
		switch {
		case errors.Is(err, service.ErrAIAPIKeyMissing):
			respondError(c, http.StatusBadRequest, "请填写有效的 AI API Key")
		default:
			respondError(c, http.StatusBadGateway, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "AI 接口连接正常"})
}
