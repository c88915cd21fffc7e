package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	got := sanitizeKVs([]interface{}{"password", "hunter2", "openai_api_key", "sk-1", "username", "mina", "user_id", "u-1"})

	if got[1] != "[REDACTED]" {
		t.Fatalf("password should be redacted, got %v", got[1])
	}
	if got[3] != "[REDACTED]" {
		t.Fatalf("api key should be redacted, got %v", got[3])
	}
	if got[5] != "mina" {
		t.Fatalf("username should pass through, got %v", got[5])
	}
	hashed, ok := got[7].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") || strings.Contains(hashed, "u-1") {
		t.Fatalf("user_id should be hashed, got %v", got[7])
	}
}

func TestSanitizeKVsKeepsDanglingKey(t *testing.T) {
	got := sanitizeKVs([]interface{}{"status", 200, "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Fatalf("unexpected output: %#v", got)
	}
}
