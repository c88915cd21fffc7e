package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/store"
)

const (
	// TurnRoleUser 与 TurnRoleModel 是对话中允许的两种角色。
	TurnRoleUser  = "user"
	TurnRoleModel = "model"

	// MaxThreadTurns 限制单篇日记可保存的对话轮次。
	MaxThreadTurns = 200
	// maxPromptTurns 是拼入提示词的最近轮次数。
	maxPromptTurns = 40
	// maxMessageRunes 限制单条用户消息长度。
	maxMessageRunes = 2000

	emptyThreadJSON = "[]"

	counselorLabel = "咨询师"
	clientLabel    = "来访者"

	// ChatApologyMessage 在后端失败时作为模型回复写入对话。
	ChatApologyMessage = "抱歉，我现在暂时无法回复，请稍后再试。"
)

var (
	// ErrEmptyMessage 表示发送了空白消息。
	ErrEmptyMessage = errors.New("message is required")
	// ErrMessageTooLong 表示单条消息过长。
	ErrMessageTooLong = errors.New("message too long")
	// ErrThreadTooLong 表示对话轮次已达到上限，需要先清空。
	ErrThreadTooLong = errors.New("conversation thread is full")
)

// Turn 是对话中的一轮发言。
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// LoadThread 解析存储中的对话记录。
// 空串、null 标记、格式错误、非数组或包含未知角色时一律返回空对话，从不报错。
func LoadThread(raw string) []Turn {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "", "null", "none", "nan":
		return []Turn{}
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(trimmed), &turns); err != nil || turns == nil {
		return []Turn{}
	}
	for _, turn := range turns {
		if turn.Role != TurnRoleUser && turn.Role != TurnRoleModel {
			return []Turn{}
		}
	}
	return turns
}

// SerializeThread 把对话编码为存储格式，空对话为 "[]"。
func SerializeThread(thread []Turn) string {
	if len(thread) == 0 {
		return emptyThreadJSON
	}
	data, err := json.Marshal(thread)
	if err != nil {
		return emptyThreadJSON
	}
	return string(data)
}

// AppendTurn 返回追加一轮之后的新对话，不修改入参。
func AppendTurn(thread []Turn, role, text string) []Turn {
	out := make([]Turn, len(thread), len(thread)+1)
	copy(out, thread)
	return append(out, Turn{Role: role, Text: text})
}

// ConversationService 管理每篇日记附带的对话。
type ConversationService struct {
	store     store.TableStore
	completer TextCompleter
	timeout   time.Duration
	log       *logger.Logger
}

// NewConversationService 构造 ConversationService。
func NewConversationService(tables store.TableStore, completer TextCompleter, timeout time.Duration, log *logger.Logger) *ConversationService {
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ConversationService{store: tables, completer: completer, timeout: timeout, log: log}
}

// Reply 基于日记内容与已有对话生成回复，后端失败时返回固定的致歉文本。
func (s *ConversationService) Reply(ctx context.Context, entryText string, thread []Turn, newUserText, displayName string) string {
	prompt := buildChatPrompt(entryText, thread, newUserText, displayName)
	logAIExchange(s.log, "CHAT", "prompt", prompt)

	if s.completer == nil {
		return ChatApologyMessage
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.completer.Complete(callCtx, prompt)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		s.log.Warn("chat reply failed", "error", err)
		return ChatApologyMessage
	}
	reply = strings.TrimSpace(reply)
	logAIExchange(s.log, "CHAT", "response", reply)
	if reply == "" {
		return ChatApologyMessage
	}
	return reply
}

func buildChatPrompt(entryText string, thread []Turn, newUserText, displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "朋友"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "你是一位温暖的心理咨询师，正在和%s继续聊今天的日记。\n", name)
	fmt.Fprintf(&b, "请结合日记和之前的对话自然地回应，称呼对方为“%s”，回答简洁、真诚，不要重复之前说过的话。\n\n", name)
	b.WriteString("[今天的日记]\n")
	b.WriteString(entryText)
	b.WriteString("\n\n")

	if len(thread) > maxPromptTurns {
		thread = thread[len(thread)-maxPromptTurns:]
	}
	if len(thread) > 0 {
		b.WriteString("[之前的对话]\n")
		for _, turn := range thread {
			label := clientLabel
			if turn.Role == TurnRoleModel {
				label = counselorLabel
			}
			fmt.Fprintf(&b, "%s：%s\n", label, turn.Text)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "[%s的新消息]\n%s\n", clientLabel, newUserText)
	return b.String()
}

// Thread 读取日记当前的对话。
func (s *ConversationService) Thread(ctx context.Context, owner Identity, entryID int) ([]Turn, error) {
	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return nil, fmt.Errorf("read diary entries: %w", err)
	}
	idx := findEntryRow(rows, owner, entryID)
	if idx < 0 {
		return nil, ErrEntryNotFound
	}
	return LoadThread(rows[idx].Value(store.ColChatHistory)), nil
}

// ValidateMessage 检查用户消息是否为空或过长。
func ValidateMessage(text string) error {
	message := strings.TrimSpace(text)
	if message == "" {
		return ErrEmptyMessage
	}
	if len([]rune(message)) > maxMessageRunes {
		return ErrMessageTooLong
	}
	return nil
}

// Send 追加用户消息与模型回复并写回整张表，返回更新后的对话。
// 日记内容、建议与分数保持不变。
func (s *ConversationService) Send(ctx context.Context, owner Identity, entryID int, text string) ([]Turn, error) {
	if err := ValidateMessage(text); err != nil {
		return nil, err
	}
	message := strings.TrimSpace(text)

	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return nil, fmt.Errorf("read diary entries: %w", err)
	}
	idx := findEntryRow(rows, owner, entryID)
	if idx < 0 {
		return nil, ErrEntryNotFound
	}
	thread := LoadThread(rows[idx].Value(store.ColChatHistory))
	if len(thread)+2 > MaxThreadTurns {
		return nil, ErrThreadTooLong
	}

	reply := s.Reply(ctx, rows[idx].Value(store.ColContent), thread, message, displayNameOf(owner))

	// 生成回复期间表可能已被其他会话改写，写入前重新读取。
	rows, err = s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return nil, fmt.Errorf("read diary entries: %w", err)
	}
	idx = findEntryRow(rows, owner, entryID)
	if idx < 0 {
		return nil, ErrEntryNotFound
	}
	thread = LoadThread(rows[idx].Value(store.ColChatHistory))
	thread = AppendTurn(thread, TurnRoleUser, message)
	thread = AppendTurn(thread, TurnRoleModel, reply)
	rows[idx][store.ColChatHistory] = SerializeThread(thread)

	if err := s.store.Overwrite(ctx, store.TableDiaryEntries, rows); err != nil {
		return nil, fmt.Errorf("write diary entries: %w", err)
	}
	s.log.Info("chat turn saved", "user_id", owner.UserID, "entry_id", entryID, "turns", len(thread))
	return thread, nil
}

// Reset 清空对话，不影响日记内容、建议与分数。
func (s *ConversationService) Reset(ctx context.Context, owner Identity, entryID int) error {
	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return fmt.Errorf("read diary entries: %w", err)
	}
	idx := findEntryRow(rows, owner, entryID)
	if idx < 0 {
		return ErrEntryNotFound
	}
	rows[idx][store.ColChatHistory] = emptyThreadJSON
	if err := s.store.Overwrite(ctx, store.TableDiaryEntries, rows); err != nil {
		return fmt.Errorf("write diary entries: %w", err)
	}
	s.log.Info("chat thread reset", "user_id", owner.UserID, "entry_id", entryID)
	return nil
}
