package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubCompleter 按顺序返回预设的回复，并记录收到的提示词。
type stubCompleter struct {
	replies []string
	err     error
	prompts []string
	block   bool
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *stubCompleter) lastPrompt() string {
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

func TestParseAdviceResponse(t *testing.T) {
	cases := []struct {
		name       string
		raw        string
		wantAdvice string
		wantScore  int
	}{
		{"delimited", "Advice text ||| 4", "Advice text", 4},
		{"no delimiter", "no delimiter here", "no delimiter here", 3},
		{"clamp high", "Advice ||| 9", "Advice", 5},
		{"clamp low", "Advice ||| -3", "Advice", 1},
		{"non numeric", "Advice ||| great", "Advice", 3},
		{"empty score", "Advice |||", "Advice", 3},
		{"empty response", "", "", 3},
		{"split on first", "a ||| b ||| 2", "a", 3},
		{"multiline", "第一句。\n第二句。\n|||\n5\n", "第一句。\n第二句。", 5},
		{"zero", "x ||| 0", "x", 1},
		{"overflow high", "Advice ||| 99999999999999999999", "Advice", 5},
		{"overflow low", "Advice ||| -99999999999999999999", "Advice", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			advice, score := ParseAdviceResponse(tc.raw)
			if advice != tc.wantAdvice {
				t.Fatalf("advice = %q, want %q", advice, tc.wantAdvice)
			}
			if score != tc.wantScore {
				t.Fatalf("score = %d, want %d", score, tc.wantScore)
			}
		})
	}
}

func TestParseAdviceResponseScoreAlwaysInRange(t *testing.T) {
	inputs := []string{"|||", "||| 100", "||| -100", "||| 3.5", "||| 99999999999999999999", "|||五", "4"}
	for _, raw := range inputs {
		if _, score := ParseAdviceResponse(raw); score < MinScore || score > MaxScore {
			t.Fatalf("score %d out of range for %q", score, raw)
		}
	}
}

func TestAdviceServiceAnalyze(t *testing.T) {
	completer := &stubCompleter{replies: []string{"你今天很勇敢 ||| 2"}}
	svc := NewAdviceService(completer, nil, time.Second, nil)

	result := svc.Analyze(context.Background(), "today was hard", "민아", "[2025-01-09] (score 3): 平常的一天")
	if result.Advice != "你今天很勇敢" || result.Score != 2 || result.Degraded {
		t.Fatalf("unexpected result %#v", result)
	}

	prompt := completer.lastPrompt()
	for _, want := range []string{"today was hard", "민아", "[2025-01-09] (score 3)", AdviceDelimiter} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAdviceServiceOmitsEmptyDigest(t *testing.T) {
	completer := &stubCompleter{replies: []string{"ok ||| 4"}}
	svc := NewAdviceService(completer, nil, time.Second, nil)

	svc.Analyze(context.Background(), "内容", "", "")
	if strings.Contains(completer.lastPrompt(), "[近期日记]") {
		t.Fatalf("prompt should not include a history section:\n%s", completer.lastPrompt())
	}
}

func TestAdviceServiceDegradesOnFailure(t *testing.T) {
	svc := NewAdviceService(&stubCompleter{err: errors.New("quota exceeded")}, nil, time.Second, nil)
	result := svc.Analyze(context.Background(), "内容", "", "")
	if !result.Degraded || result.Score != FallbackScore || result.Advice != adviceFailureMessage {
		t.Fatalf("unexpected degraded result %#v", result)
	}

	svc = NewAdviceService(&stubCompleter{err: ErrAIAPIKeyMissing}, nil, time.Second, nil)
	if result := svc.Analyze(context.Background(), "内容", "", ""); result.Advice != adviceKeyMissingMessage {
		t.Fatalf("expected key missing message, got %q", result.Advice)
	}
}

func TestAdviceServiceTimeout(t *testing.T) {
	svc := NewAdviceService(&stubCompleter{block: true}, nil, 20*time.Millisecond, nil)

	start := time.Now()
	result := svc.Analyze(context.Background(), "内容", "", "")
	if time.Since(start) > 2*time.Second {
		t.Fatal("analyze should return once the timeout fires")
	}
	if result.Advice != adviceTimeoutMessage || result.Score != FallbackScore {
		t.Fatalf("unexpected timeout result %#v", result)
	}
}

func TestAdviceServiceFillsBlankAdvice(t *testing.T) {
	svc := NewAdviceService(&stubCompleter{replies: []string{"  ||| 5"}}, nil, time.Second, nil)
	result := svc.Analyze(context.Background(), "内容", "", "")
	if result.Advice != adviceEmptyMessage || result.Score != 5 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestAdviceServiceUsesConfiguredInstruction(t *testing.T) {
	settings := NewSystemSettingService(setupSystemSettingTestDB(t), SystemSettings{})
	if _, err := settings.UpdateSettings(SystemSettingsInput{AdvicePrompt: "请像老朋友一样回应"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	completer := &stubCompleter{replies: []string{"ok ||| 4"}}
	svc := NewAdviceService(completer, settings, time.Second, nil)
	svc.Analyze(context.Background(), "内容", "", "")

	prompt := completer.lastPrompt()
	if !strings.HasPrefix(prompt, "请像老朋友一样回应") {
		t.Fatalf("expected configured instruction first, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, AdviceDelimiter) {
		t.Fatal("output format must be kept even with a custom instruction")
	}
}
