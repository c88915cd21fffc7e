package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/moodjournal/internal/store"
)

func fixedClock(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 21, 30, 0, 0, time.UTC)
	}
}

func seedEntries(t *testing.T, tables store.TableStore, rows []store.Row) {
	t.Helper()
	if err := tables.Overwrite(context.Background(), store.TableDiaryEntries, rows); err != nil {
		t.Fatalf("seed entries: %v", err)
	}
}

func TestDigestFiltersSortsAndFormats(t *testing.T) {
	tables := store.NewMemoryStore()
	seedEntries(t, tables, []store.Row{
		{store.ColID: "1", store.ColUserID: "u1", store.ColDate: "2025-01-09", store.ColContent: "新年第二周", store.ColEmotionTag: "4"},
		{store.ColID: "2", store.ColUserID: "u1", store.ColDate: "2024-12-28", store.ColContent: "年末总结", store.ColEmotionTag: "3"},
		{store.ColID: "3", store.ColUserID: "u2", store.ColDate: "2025-01-08", store.ColContent: "别人的日记", store.ColEmotionTag: "5"},
		{store.ColID: "4", store.ColUserID: "u1", store.ColDate: "2024-11-01", store.ColContent: "太久以前", store.ColEmotionTag: "2"},
		{store.ColID: "5", store.ColUserID: "u1", store.ColDate: "not a date", store.ColContent: "坏数据"},
	})

	svc := NewDigestService(tables, time.UTC, nil)
	svc.SetNow(fixedClock(2025, time.January, 10))

	got := svc.BuildDigest(context.Background(), Identity{UserID: "u1", Username: "mina"}, 30)
	want := "[2024-12-28] (score 3): 年末总结\n[2025-01-09] (score 4): 新年第二周"
	if got != want {
		t.Fatalf("digest mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestDigestComparesDatesAcrossYearBoundary(t *testing.T) {
	tables := store.NewMemoryStore()
	seedEntries(t, tables, []store.Row{
		{store.ColID: "1", store.ColUserID: "u1", store.ColDate: "2024-12-11", store.ColContent: "边界当天", store.ColEmotionTag: "3"},
		{store.ColID: "2", store.ColUserID: "u1", store.ColDate: "2024-12-10", store.ColContent: "刚好超出", store.ColEmotionTag: "3"},
		{store.ColID: "3", store.ColUserID: "u1", store.ColDate: "2025-01-02", store.ColContent: "新年", store.ColEmotionTag: "5"},
		{store.ColID: "4", store.ColUserID: "u1", store.ColDate: "2024-12-31 23:00:00", store.ColContent: "跨年夜", store.ColEmotionTag: "4"},
	})

	svc := NewDigestService(tables, time.UTC, nil)
	svc.SetNow(fixedClock(2025, time.January, 10))

	got := svc.BuildDigest(context.Background(), Identity{UserID: "u1"}, 30)
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", got)
	}
	if !strings.HasPrefix(lines[0], "[2024-12-11]") || !strings.HasPrefix(lines[1], "[2024-12-31]") || !strings.HasPrefix(lines[2], "[2025-01-02]") {
		t.Fatalf("unexpected order: %q", got)
	}
}

func TestDigestTruncatesContent(t *testing.T) {
	tables := store.NewMemoryStore()
	seedEntries(t, tables, []store.Row{
		{store.ColID: "1", store.ColUserID: "u1", store.ColDate: "2025-01-09", store.ColContent: strings.Repeat("心", 500), store.ColEmotionTag: "2"},
	})

	svc := NewDigestService(tables, time.UTC, nil)
	svc.SetNow(fixedClock(2025, time.January, 10))

	got := svc.BuildDigest(context.Background(), Identity{UserID: "u1"}, 0)
	want := "[2025-01-09] (score 2): " + strings.Repeat("心", digestContentRunes)
	if got != want {
		t.Fatalf("expected truncated content, got %d runes", len([]rune(got)))
	}
}

func TestDigestMatchesLegacyRowsByUsername(t *testing.T) {
	tables := store.NewMemoryStore()
	seedEntries(t, tables, []store.Row{
		{store.ColID: "1", store.ColUsername: "mina", store.ColDate: "2025-01-05", store.ColContent: "旧数据", store.ColEmotionTag: "4.0"},
	})

	svc := NewDigestService(tables, time.UTC, nil)
	svc.SetNow(fixedClock(2025, time.January, 10))

	got := svc.BuildDigest(context.Background(), Identity{UserID: "u1", Username: "mina"}, 30)
	if got != "[2025-01-05] (score 4): 旧数据" {
		t.Fatalf("unexpected digest %q", got)
	}
}

func TestDigestSentinels(t *testing.T) {
	tables := store.NewMemoryStore()
	svc := NewDigestService(tables, time.UTC, nil)
	svc.SetNow(fixedClock(2025, time.January, 10))

	if got := svc.BuildDigest(context.Background(), Identity{UserID: "u1"}, 30); got != NoHistoryDigest {
		t.Fatalf("expected sentinel for empty table, got %q", got)
	}

	tables.FailReads(errors.New("sheet offline"))
	if got := svc.BuildDigest(context.Background(), Identity{UserID: "u1"}, 30); got != NoHistoryDigest {
		t.Fatalf("expected sentinel for read failure, got %q", got)
	}
}
