package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/moodjournal/internal/store"
)

func TestLoadThreadNormalizesBadInput(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"null",
		"None",
		"nan",
		"not-a-list",
		`{"role":"user","text":"hi"}`,
		`[{"role":"user","text":"hi"}`,
		`[{"role":"assistant","text":"hi"}]`,
		`"[]"`,
		`42`,
	}
	for _, raw := range inputs {
		got := LoadThread(raw)
		if got == nil || len(got) != 0 {
			t.Fatalf("LoadThread(%q) = %#v, want empty thread", raw, got)
		}
	}
}

func TestThreadRoundTrip(t *testing.T) {
	thread := []Turn{
		{Role: TurnRoleUser, Text: "I feel better now"},
		{Role: TurnRoleModel, Text: "太好了，\"慢慢来\"。"},
		{Role: TurnRoleUser, Text: ""},
	}
	if got := LoadThread(SerializeThread(thread)); !reflect.DeepEqual(got, thread) {
		t.Fatalf("round trip mismatch: %#v", got)
	}
	if SerializeThread(nil) != "[]" || SerializeThread([]Turn{}) != "[]" {
		t.Fatal("empty thread should serialize to []")
	}
}

func TestAppendTurnDoesNotMutateInput(t *testing.T) {
	base := make([]Turn, 1, 4)
	base[0] = Turn{Role: TurnRoleUser, Text: "a"}

	first := AppendTurn(base, TurnRoleModel, "b")
	second := AppendTurn(base, TurnRoleModel, "c")
	if first[1].Text != "b" || second[1].Text != "c" || len(base) != 1 {
		t.Fatalf("append should not share backing storage: %#v %#v", first, second)
	}
}

func TestConversationSendAppendsAndPersists(t *testing.T) {
	f := newEntryFixture(t, "记下了 ||| 2", "很高兴听到这个")
	ctx := context.Background()

	created, err := f.entries.Submit(ctx, userOne, mustDate(t, "2025-01-10"), "today was hard")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	thread, err := f.chats.Send(ctx, userOne, created.Entry.ID, "I feel better now")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	want := []Turn{
		{Role: TurnRoleUser, Text: "I feel better now"},
		{Role: TurnRoleModel, Text: "很高兴听到这个"},
	}
	if !reflect.DeepEqual(thread, want) {
		t.Fatalf("unexpected thread %#v", thread)
	}

	stored, err := f.entries.Get(ctx, userOne, created.Entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(stored.Thread, want) {
		t.Fatalf("thread not persisted: %#v", stored.Thread)
	}
	if stored.Content != created.Entry.Content || stored.Advice != created.Entry.Advice || stored.Score != created.Entry.Score {
		t.Fatalf("chat must not touch content/advice/score: %#v", stored)
	}

	prompt := f.completer.lastPrompt()
	for _, want := range []string{"today was hard", "민아", "I feel better now"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("chat prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestConversationTranscriptLabels(t *testing.T) {
	prompt := buildChatPrompt("日记", []Turn{
		{Role: TurnRoleUser, Text: "第一句"},
		{Role: TurnRoleModel, Text: "回应"},
	}, "新消息", "민아")

	if !strings.Contains(prompt, clientLabel+"：第一句") || !strings.Contains(prompt, counselorLabel+"：回应") {
		t.Fatalf("unexpected transcript:\n%s", prompt)
	}
}

func TestConversationReplyFallsBackOnFailure(t *testing.T) {
	svc := NewConversationService(store.NewMemoryStore(), &stubCompleter{err: errors.New("quota")}, time.Second, nil)
	if got := svc.Reply(context.Background(), "日记", nil, "你好", "민아"); got != ChatApologyMessage {
		t.Fatalf("expected apology, got %q", got)
	}

	svc = NewConversationService(store.NewMemoryStore(), &stubCompleter{block: true}, 10*time.Millisecond, nil)
	if got := svc.Reply(context.Background(), "日记", nil, "你好", "민아"); got != ChatApologyMessage {
		t.Fatalf("expected apology on timeout, got %q", got)
	}
}

func TestConversationMatchesTextIDs(t *testing.T) {
	f := newEntryFixture(t, "好的")
	seedEntries(t, f.tables, []store.Row{
		{store.ColID: "3.0", store.ColUserID: "u1", store.ColDate: "2025-01-10", store.ColContent: "旧日记", store.ColChatHistory: "nan"},
	})

	thread, err := f.chats.Send(context.Background(), userOne, 3, "你好")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("expected two turns, got %#v", thread)
	}
	if got := f.rows(t)[0].Value(store.ColID); got != "3.0" {
		t.Fatalf("id should be untouched, got %q", got)
	}
}

func TestConversationResetAndErrors(t *testing.T) {
	f := newEntryFixture(t, "好的")
	seedEntries(t, f.tables, []store.Row{
		{store.ColID: "1", store.ColUserID: "u1", store.ColDate: "2025-01-10", store.ColContent: "内容",
			store.ColEmotionTag: "4", store.ColChatHistory: `[{"role":"user","text":"a"},{"role":"model","text":"b"}]`},
	})
	ctx := context.Background()

	if err := f.chats.Reset(ctx, userOne, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	row := f.rows(t)[0]
	if row.Value(store.ColChatHistory) != "[]" || row.Value(store.ColEmotionTag) != "4" {
		t.Fatalf("unexpected row after reset %#v", row)
	}

	if _, err := f.chats.Send(ctx, userOne, 1, "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := f.chats.Send(ctx, userTwo, 1, "hi"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if err := f.chats.Reset(ctx, userOne, 99); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if _, err := f.chats.Thread(ctx, userOne, 99); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestConversationThreadCap(t *testing.T) {
	f := newEntryFixture(t, "好的")
	full := make([]Turn, 0, MaxThreadTurns)
	for len(full) < MaxThreadTurns {
		full = AppendTurn(full, TurnRoleUser, "q")
		full = AppendTurn(full, TurnRoleModel, "a")
	}
	seedEntries(t, f.tables, []store.Row{
		{store.ColID: "1", store.ColUserID: "u1", store.ColDate: "2025-01-10", store.ColChatHistory: SerializeThread(full)},
	})

	if _, err := f.chats.Send(context.Background(), userOne, 1, "还有一句"); !errors.Is(err, ErrThreadTooLong) {
		t.Fatalf("expected ErrThreadTooLong, got %v", err)
	}
	if len(f.completer.prompts) != 0 {
		t.Fatal("a full thread must not reach the backend")
	}
}
