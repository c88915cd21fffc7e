package service

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/moodjournal/internal/store"
)

const (
	// RoleUser 为普通用户角色，缺省值。
	RoleUser = "user"
	// RoleAdmin 为管理员角色。
	RoleAdmin = "admin"

	dateLayout      = "2006-01-02"
	monthLayout     = "2006-01"
	timestampLayout = "2006-01-02 15:04:05"

	// formulaEscapeMarker 放在公式触发字符之前，表格引擎会把整格当作纯文本。
	formulaEscapeMarker = "'"
)

var (
	// ErrInvalidDate 表示日期不是合法的 YYYY-MM-DD。
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidMonth 表示月份不是合法的 YYYY-MM。
	ErrInvalidMonth = errors.New("invalid month")
)

// Identity 是登录后需要在请求之间携带的身份信息。
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// IsAdmin 判断是否为管理员。
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Entry 是 diary_entries 中一行解码后的日记。
type Entry struct {
	ID        int
	UserID    string
	Username  string
	Date      time.Time
	Content   string
	Advice    string
	Score     int
	Timestamp string
	Thread    []Turn
}

// DateString 返回 YYYY-MM-DD 格式的日期。
func (e Entry) DateString() string {
	return e.Date.Format(dateLayout)
}

func identityFromRow(row store.Row) Identity {
	return Identity{
		UserID:   strings.TrimSpace(row.Value(store.ColUserID)),
		Username: strings.TrimSpace(row.Value(store.ColUsername)),
		Name:     row.Value(store.ColName),
		Role:     normalizeRole(row.Value(store.ColRole)),
	}
}

func normalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// rowOwnedBy 判断日记行是否属于 owner。
// 早期数据没有 user_id 列，此时回退到 username 比较。
func rowOwnedBy(row store.Row, owner Identity) bool {
	if uid, ok := row.Get(store.ColUserID); ok && strings.TrimSpace(uid) != "" {
		return owner.UserID != "" && strings.TrimSpace(uid) == owner.UserID
	}
	return owner.Username != "" && strings.EqualFold(strings.TrimSpace(row.Value(store.ColUsername)), owner.Username)
}

// parseEntryID 把存储中的 id 统一转换为整数，兼容 "3"、"3.0" 这类文本。
func parseEntryID(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

var entryDateLayouts = []string{
	dateLayout,
	timestampLayout,
	time.RFC3339,
	"2006/01/02",
}

// parseEntryDate 解析存储中的日期并归一化到当天零点。
func parseEntryDate(raw string, loc *time.Location) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range entryDateLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return normalizeToDate(t.In(loc)), true
		}
	}
	return time.Time{}, false
}

// ParseDate 解析调用方传入的 YYYY-MM-DD 日期。
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

func normalizeToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// parseScore 解析存储中的心情分数，无法解析时回退到 FallbackScore。
func parseScore(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(trimmed); err == nil {
		return ClampScore(n)
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return ClampScore(int(math.Round(f)))
	}
	return FallbackScore
}

// decodeEntry 把一行解码为 Entry，id 或日期无法解析的行会被忽略。
func decodeEntry(row store.Row, loc *time.Location) (Entry, bool) {
	id, ok := parseEntryID(row.Value(store.ColID))
	if !ok {
		return Entry{}, false
	}
	date, ok := parseEntryDate(row.Value(store.ColDate), loc)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		ID:        id,
		UserID:    strings.TrimSpace(row.Value(store.ColUserID)),
		Username:  strings.TrimSpace(row.Value(store.ColUsername)),
		Date:      date,
		Content:   row.Value(store.ColContent),
		Advice:    row.Value(store.ColAdvice),
		Score:     parseScore(row.Value(store.ColEmotionTag)),
		Timestamp: row.Value(store.ColTimestamp),
		Thread:    LoadThread(row.Value(store.ColChatHistory)),
	}, true
}

// ownedEntries 返回 owner 名下所有可解析的日记。
func ownedEntries(rows []store.Row, owner Identity, loc *time.Location) []Entry {
	entries := make([]Entry, 0)
	for _, row := range rows {
		if !rowOwnedBy(row, owner) {
			continue
		}
		if entry, ok := decodeEntry(row, loc); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// findEntryRow 按数字 id 定位属于 owner 的行，返回行下标。
func findEntryRow(rows []store.Row, owner Identity, id int) int {
	for i, row := range rows {
		rowID, ok := parseEntryID(row.Value(store.ColID))
		if !ok || rowID != id {
			continue
		}
		if rowOwnedBy(row, owner) {
			return i
		}
	}
	return -1
}

// findEntryRowByDate 定位 owner 在指定日期的行，返回行下标。
func findEntryRowByDate(rows []store.Row, owner Identity, date time.Time, loc *time.Location) int {
	target := normalizeToDate(date.In(loc))
	for i, row := range rows {
		if !rowOwnedBy(row, owner) {
			continue
		}
		rowDate, ok := parseEntryDate(row.Value(store.ColDate), loc)
		if ok && rowDate.Equal(target) {
			return i
		}
	}
	return -1
}

// nextEntryID 返回 max(已有 id)+1，表为空或缺少 id 列时返回 1。
func nextEntryID(rows []store.Row) int {
	maxID := 0
	for _, row := range rows {
		if id, ok := parseEntryID(row.Value(store.ColID)); ok && id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}

// EscapeFormula 对以公式触发字符开头的文本加前缀，避免被表格引擎当作公式执行。
func EscapeFormula(text string) string {
	if text == "" {
		return text
	}
	switch text[0] {
	case '=', '+', '-', '@':
		return formulaEscapeMarker + text
	default:
		return text
	}
}
