package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/store"
)

var (
	// ErrEmptyContent 表示提交的日记内容为空。
	ErrEmptyContent = errors.New("content is required")
	// ErrEntryNotFound 表示按 id 查找日记失败，通常是表被其他会话改写，需要刷新后重试。
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryConflict 表示创建期间同一天的日记已被其他会话写入。
	ErrEntryConflict = errors.New("entry already exists for this date")
)

// EntryState 表示 (用户, 日期) 查询的结果。
type EntryState string

const (
	// EntryAbsent 表示当天还没有日记，提交将创建新日记。
	EntryAbsent EntryState = "absent"
	// EntryPresent 表示当天已有日记，提交将重新分析。
	EntryPresent EntryState = "present"
)

// Resolution 是 Resolve 的结果，State 为 EntryPresent 时 Entry 非空。
type Resolution struct {
	State EntryState
	Entry *Entry
}

// SubmitResult 描述一次提交的结果。
type SubmitResult struct {
	Entry    Entry
	Created  bool
	Degraded bool
}

// MonthSummary 汇总某个月的日记。
type MonthSummary struct {
	Month        string
	Entries      []Entry
	AverageScore float64
}

// EntryService 是唯一可以创建日记或重新计算建议与分数的组件。
// 每个操作都独立读取整表、修改副本、整表写回。
type EntryService struct {
	store    store.TableStore
	digest   *DigestService
	advice   *AdviceService
	loc      *time.Location
	lookback int
	now      func() time.Time
	log      *logger.Logger
}

// NewEntryService 构造 EntryService。
func NewEntryService(tables store.TableStore, digest *DigestService, advice *AdviceService, loc *time.Location, lookbackDays int, log *logger.Logger) *EntryService {
	if loc == nil {
		loc = time.UTC
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EntryService{
		store:    tables,
		digest:   digest,
		advice:   advice,
		loc:      loc,
		lookback: lookbackDays,
		now:      time.Now,
		log:      log,
	}
}

// SetNow 替换时钟，主要用于测试。
func (s *EntryService) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Location 返回日期计算所用的时区。
func (s *EntryService) Location() *time.Location {
	return s.loc
}

// Today 返回当前时区的日期。
func (s *EntryService) Today() time.Time {
	return normalizeToDate(s.now().In(s.loc))
}

// Resolve 判断 owner 在 date 当天是否已有日记。读取失败会直接返回错误。
func (s *EntryService) Resolve(ctx context.Context, owner Identity, date time.Time) (Resolution, error) {
	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return Resolution{}, fmt.Errorf("read diary entries: %w", err)
	}
	idx := findEntryRowByDate(rows, owner, date, s.loc)
	if idx < 0 {
		return Resolution{State: EntryAbsent}, nil
	}
	entry, ok := decodeEntry(rows[idx], s.loc)
	if !ok {
		// 早期导入的行可能没有 id，补一个新 id 写回，之后按已有日记处理。
		rows[idx][store.ColID] = strconv.Itoa(nextEntryID(rows))
		if err := s.store.Overwrite(ctx, store.TableDiaryEntries, rows); err != nil {
			return Resolution{}, fmt.Errorf("backfill diary entry id: %w", err)
		}
		s.log.Info("backfilled diary entry id", "entry_id", rows[idx].Value(store.ColID), "date", rows[idx].Value(store.ColDate))
		if entry, ok = decodeEntry(rows[idx], s.loc); !ok {
			return Resolution{}, fmt.Errorf("decode diary entry %s: %w", rows[idx].Value(store.ColDate), ErrEntryNotFound)
		}
	}
	return Resolution{State: EntryPresent, Entry: &entry}, nil
}

// Submit 按当天是否已有日记路由到创建或重新分析。
func (s *EntryService) Submit(ctx context.Context, owner Identity, date time.Time, content string) (SubmitResult, error) {
	if strings.TrimSpace(content) == "" {
		return SubmitResult{}, ErrEmptyContent
	}

	resolution, err := s.Resolve(ctx, owner, date)
	if err != nil {
		return SubmitResult{}, err
	}
	if resolution.State == EntryPresent {
		entry, degraded, err := s.reanalyze(ctx, owner, resolution.Entry.ID, content)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Entry: entry, Degraded: degraded}, nil
	}
	return s.create(ctx, owner, date, content)
}

func (s *EntryService) create(ctx context.Context, owner Identity, date time.Time, content string) (SubmitResult, error) {
	text := strings.TrimSpace(content)
	digest := s.digest.BuildDigest(ctx, owner, s.lookback)
	result := s.advice.Analyze(ctx, text, displayNameOf(owner), digest)

	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("read diary entries: %w", err)
	}
	// 分析期间其他会话可能已写入同一天的日记，此时拒绝而不是重复创建。
	if findEntryRowByDate(rows, owner, date, s.loc) >= 0 {
		return SubmitResult{}, ErrEntryConflict
	}

	id := nextEntryID(rows)
	row := store.Row{
		store.ColID:          strconv.Itoa(id),
		store.ColUserID:      owner.UserID,
		store.ColUsername:    owner.Username,
		store.ColDate:        normalizeToDate(date.In(s.loc)).Format(dateLayout),
		store.ColContent:     EscapeFormula(text),
		store.ColAdvice:      result.Advice,
		store.ColEmotionTag:  strconv.Itoa(ClampScore(result.Score)),
		store.ColTimestamp:   s.now().In(s.loc).Format(timestampLayout),
		store.ColChatHistory: emptyThreadJSON,
	}
	rows = append(rows, row)

	if err := s.store.Overwrite(ctx, store.TableDiaryEntries, rows); err != nil {
		return SubmitResult{}, fmt.Errorf("write diary entries: %w", err)
	}

	entry, _ := decodeEntry(row, s.loc)
	s.log.Info("entry created", "user_id", owner.UserID, "entry_id", id, "score", entry.Score, "degraded", result.Degraded)
	return SubmitResult{Entry: entry, Created: true, Degraded: result.Degraded}, nil
}

// Reanalyze 更新已有日记的内容并重新分析，同时清空对话。
// 重新分析只看本次内容，不附带近期摘要。
func (s *EntryService) Reanalyze(ctx context.Context, owner Identity, entryID int, content string) (Entry, error) {
	entry, _, err := s.reanalyze(ctx, owner, entryID, content)
	return entry, err
}

func (s *EntryService) reanalyze(ctx context.Context, owner Identity, entryID int, content string) (Entry, bool, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return Entry{}, false, ErrEmptyContent
	}

	result := s.advice.Analyze(ctx, text, displayNameOf(owner), "")

	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read diary entries: %w", err)
	}
	idx := findEntryRow(rows, owner, entryID)
	if idx < 0 {
		return Entry{}, false, ErrEntryNotFound
	}

	row := rows[idx]
	row[store.ColContent] = EscapeFormula(text)
	row[store.ColAdvice] = result.Advice
	row[store.ColEmotionTag] = strconv.Itoa(ClampScore(result.Score))
	row[store.ColTimestamp] = s.now().In(s.loc).Format(timestampLayout)
	row[store.ColChatHistory] = emptyThreadJSON

	if err := s.store.Overwrite(ctx, store.TableDiaryEntries, rows); err != nil {
		return Entry{}, false, fmt.Errorf("write diary entries: %w", err)
	}

	entry, ok := decodeEntry(row, s.loc)
	if !ok {
		return Entry{}, false, ErrEntryNotFound
	}
	s.log.Info("entry reanalyzed", "user_id", owner.UserID, "entry_id", entryID, "score", entry.Score, "degraded", result.Degraded)
	return entry, result.Degraded, nil
}

// Get 按 id 读取 owner 的日记。
func (s *EntryService) Get(ctx context.Context, owner Identity, entryID int) (Entry, error) {
	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return Entry{}, fmt.Errorf("read diary entries: %w", err)
	}
	idx := findEntryRow(rows, owner, entryID)
	if idx < 0 {
		return Entry{}, ErrEntryNotFound
	}
	entry, ok := decodeEntry(rows[idx], s.loc)
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return entry, nil
}

// Months 返回 owner 有日记的月份（YYYY-MM），由新到旧。
func (s *EntryService) Months(ctx context.Context, owner Identity) ([]string, error) {
	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return nil, fmt.Errorf("read diary entries: %w", err)
	}

	seen := map[string]struct{}{}
	months := make([]string, 0)
	for _, entry := range ownedEntries(rows, owner, s.loc) {
		month := entry.Date.Format(monthLayout)
		if _, ok := seen[month]; ok {
			continue
		}
		seen[month] = struct{}{}
		months = append(months, month)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

// MonthSummary 返回某月的日记（按日期升序）与平均分。
func (s *EntryService) MonthSummary(ctx context.Context, owner Identity, month string) (MonthSummary, error) {
	start, err := time.ParseInLocation(monthLayout, strings.TrimSpace(month), s.loc)
	if err != nil {
		return MonthSummary{}, ErrInvalidMonth
	}
	end := start.AddDate(0, 1, 0)

	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		return MonthSummary{}, fmt.Errorf("read diary entries: %w", err)
	}

	summary := MonthSummary{Month: start.Format(monthLayout), Entries: make([]Entry, 0)}
	total := 0
	for _, entry := range ownedEntries(rows, owner, s.loc) {
		if entry.Date.Before(start) || !entry.Date.Before(end) {
			continue
		}
		summary.Entries = append(summary.Entries, entry)
		total += entry.Score
	}
	sort.SliceStable(summary.Entries, func(i, j int) bool {
		return summary.Entries[i].Date.Before(summary.Entries[j].Date)
	})
	if n := len(summary.Entries); n > 0 {
		summary.AverageScore = math.Round(float64(total)/float64(n)*10) / 10
	}
	return summary, nil
}

func displayNameOf(owner Identity) string {
	if name := strings.TrimSpace(owner.Name); name != "" {
		return name
	}
	return owner.Username
}
