package service

import (
	"strings"
	"unicode/utf8"

	"github.com/moodjournal/internal/logger"
)

const maxAILogSnippetRunes = 1024

// logAIExchange 输出 AI 请求与响应的片段，方便排查模型行为。
func logAIExchange(log *logger.Logger, kind, phase, content string) {
	if log == nil {
		return
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Debug("ai exchange", "kind", kind, "phase", phase, "runes", 0)
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxAILogSnippetRunes {
		snippet = truncateRunes(trimmed, maxAILogSnippetRunes) + "…(truncated)"
	}
	log.Debug("ai exchange",
		"kind", kind,
		"phase", phase,
		"runes", runeCount,
		"snippet", snippet,
	)
}

func truncateRunes(input string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(input)
	if len(runes) <= limit {
		return input
	}
	return string(runes[:limit])
}
