package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moodjournal/internal/logger"
)

const (
	// AdviceDelimiter 分隔模型回复中的建议与分数。
	AdviceDelimiter = "|||"
	// FallbackScore 是无法可靠得到分数时使用的默认心情分数。
	FallbackScore = 3
	// MinScore 与 MaxScore 限定心情分数的闭区间。
	MinScore = 1
	MaxScore = 5

	defaultAITimeout = 60 * time.Second

	defaultAdviceInstruction = "你是一位温暖而富有洞察力的心理咨询师。请阅读用户的日记并进行分析。"

	adviceTimeoutMessage    = "AI 分析超时，请稍后重新提交以获取建议。"
	adviceKeyMissingMessage = "尚未配置 AI 平台的 API Key，暂时无法生成建议。"
	adviceFailureMessage    = "AI 分析失败，请稍后重试。"
	adviceEmptyMessage      = "今天也辛苦了，谢谢你愿意记录下自己的心情。"
)

// AdviceResult 是一次分析得到的建议文本与心情分数。
type AdviceResult struct {
	Advice   string
	Score    int
	Degraded bool
}

// AdviceService 调用文本补全后端生成共情建议与心情分数。
// 服务本身无状态，每次调用相互独立。
type AdviceService struct {
	completer TextCompleter
	settings  *SystemSettingService
	timeout   time.Duration
	log       *logger.Logger
}

// NewAdviceService 构造 AdviceService，settings 可为 nil。
func NewAdviceService(completer TextCompleter, settings *SystemSettingService, timeout time.Duration, log *logger.Logger) *AdviceService {
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AdviceService{completer: completer, settings: settings, timeout: timeout, log: log}
}

// Analyze 分析日记内容，后端失败或超时时返回降级结果，从不返回错误。
func (s *AdviceService) Analyze(ctx context.Context, entryText, displayName, historyDigest string) AdviceResult {
	prompt := buildAdvicePrompt(s.instruction(), entryText, displayName, historyDigest)
	logAIExchange(s.log, "ADVICE", "prompt", prompt)

	if s.completer == nil {
		return degradedAdvice(ErrAIAPIKeyMissing)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.completer.Complete(callCtx, prompt)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		s.log.Warn("advice generation failed", "error", err)
		return degradedAdvice(err)
	}
	logAIExchange(s.log, "ADVICE", "response", raw)

	advice, score := ParseAdviceResponse(raw)
	if advice == "" {
		advice = adviceEmptyMessage
	}
	return AdviceResult{Advice: advice, Score: score}
}

func (s *AdviceService) instruction() string {
	if s.settings == nil {
		return defaultAdviceInstruction
	}
	settings, err := s.settings.GetSettings()
	if err != nil {
		s.log.Warn("load advice prompt failed", "error", err)
		return defaultAdviceInstruction
	}
	if prompt := strings.TrimSpace(settings.AdvicePrompt); prompt != "" {
		return prompt
	}
	return defaultAdviceInstruction
}

func degradedAdvice(err error) AdviceResult {
	message := adviceFailureMessage
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		message = adviceTimeoutMessage
	case errors.Is(err, ErrAIAPIKeyMissing):
		message = adviceKeyMissingMessage
	}
	return AdviceResult{Advice: message, Score: FallbackScore, Degraded: true}
}

func buildAdvicePrompt(instruction, entryText, displayName, historyDigest string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\n")
	if name := strings.TrimSpace(displayName); name != "" {
		fmt.Fprintf(&b, "日记作者：%s\n\n", name)
	}
	if digest := strings.TrimSpace(historyDigest); digest != "" {
		b.WriteString("[近期日记]\n")
		b.WriteString(digest)
		b.WriteString("\n\n")
	}
	b.WriteString("[要求]\n")
	b.WriteString("1. 给出包含共情、安慰或鼓励的温暖建议（不超过三句话），可以结合近期日记的变化。\n")
	b.WriteString("2. 用 1~5 的整数评价作者今天的心情（1 非常糟糕，2 糟糕，3 还行，4 不错，5 非常好）。\n\n")
	b.WriteString("[输出格式]\n")
	b.WriteString("建议内容\n")
	b.WriteString(AdviceDelimiter)
	b.WriteString("\n分数（只输出数字）\n\n")
	b.WriteString("[今天的日记]\n")
	b.WriteString(entryText)
	return b.String()
}

// ParseAdviceResponse 按第一个分隔符拆分模型回复。
// 缺少分隔符时整段作为建议；分数无法解析时取 FallbackScore；越界分数被拉回区间端点。
func ParseAdviceResponse(raw string) (string, int) {
	idx := strings.Index(raw, AdviceDelimiter)
	if idx < 0 {
		return strings.TrimSpace(raw), FallbackScore
	}

	advice := strings.TrimSpace(raw[:idx])
	scoreText := strings.TrimSpace(raw[idx+len(AdviceDelimiter):])
	score, err := strconv.Atoi(scoreText)
	if err != nil {
		// 溢出时 Atoi 返回带符号的极值，按越界分数处理。
		if errors.Is(err, strconv.ErrRange) {
			return advice, ClampScore(score)
		}
		return advice, FallbackScore
	}
	return advice, ClampScore(score)
}

// ClampScore 把分数限制在 [MinScore, MaxScore]。
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
