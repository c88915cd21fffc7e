package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/store"
)

const (
	// DefaultLookbackDays 是生成近期摘要时回看的天数。
	DefaultLookbackDays = 30
	// digestContentRunes 是摘要中每篇日记保留的字符数。
	digestContentRunes = 200
	// NoHistoryDigest 在没有可用历史时嵌入提示词。
	NoHistoryDigest = "（最近没有日记记录）"
)

// DigestService 汇总用户近期日记，作为生成建议时的上下文。
type DigestService struct {
	store store.TableStore
	loc   *time.Location
	now   func() time.Time
	log   *logger.Logger
}

// NewDigestService 构造 DigestService。
func NewDigestService(tables store.TableStore, loc *time.Location, log *logger.Logger) *DigestService {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DigestService{store: tables, loc: loc, now: time.Now, log: log}
}

// SetNow 替换时钟，主要用于测试。
func (s *DigestService) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// BuildDigest 返回 owner 最近 lookbackDays 天的日记摘要，按日期升序每行一篇。
// 没有记录或读取失败时返回 NoHistoryDigest，不会返回错误。
func (s *DigestService) BuildDigest(ctx context.Context, owner Identity, lookbackDays int) string {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	rows, err := s.store.ReadTable(ctx, store.TableDiaryEntries)
	if err != nil {
		s.log.Warn("digest read failed", "user_id", owner.UserID, "error", err)
		return NoHistoryDigest
	}

	today := normalizeToDate(s.now().In(s.loc))
	cutoff := today.AddDate(0, 0, -lookbackDays)

	recent := make([]Entry, 0)
	for _, entry := range ownedEntries(rows, owner, s.loc) {
		if !entry.Date.Before(cutoff) {
			recent = append(recent, entry)
		}
	}
	if len(recent) == 0 {
		return NoHistoryDigest
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Date.Before(recent[j].Date)
	})

	lines := make([]string, 0, len(recent))
	for _, entry := range recent {
		content := strings.Join(strings.Fields(entry.Content), " ")
		lines = append(lines, fmt.Sprintf("[%s] (score %d): %s",
			entry.DateString(), entry.Score, truncateRunes(content, digestContentRunes)))
	}
	return strings.Join(lines, "\n")
}
