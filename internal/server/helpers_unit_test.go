package server

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"keyi/apps/backend/internal/emotion"
	"keyi/apps/backend/internal/risk"
)

func TestClaimHasAudience(t *testing.T) {
	if !claimHasAudience("expected", "expected") {
		t.Fatalf("expected string audience to match")
	}
	if claimHasAudience("other", "expected") {
		t.Fatalf("expected mismatched string audience to fail")
	}
	if !claimHasAudience([]any{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []any audience to match")
	}
	if !claimHasAudience([]string{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []string audience to match")
	}
	if claimHasAudience(nil, "expected") {
		t.Fatalf("expected nil audience to fail")
	}
}

func TestNormalizeMessage(t *testing.T) {
	got, ok := normalizeMessage("  你好  ")
	if !ok || got != "你好" {
		t.Fatalf("expected trimmed message, got %q ok=%v", got, ok)
	}
	if _, ok := normalizeMessage(" \n\t "); ok {
		t.Fatalf("expected blank message to fail")
	}
	if _, ok := normalizeMessage(strings.Repeat("字", messageMaxRunes)); !ok {
		t.Fatalf("expected message at the rune limit to pass")
	}
	if _, ok := normalizeMessage(strings.Repeat("字", messageMaxRunes+1)); ok {
		t.Fatalf("expected message over the rune limit to fail")
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 50},
		{"abc", 50},
		{"-3", 50},
		{"0", 50},
		{"20", 20},
		{"500", 200},
	}
	for _, tc := range cases {
		if got := parseLimit(tc.raw, 50, 200); got != tc.want {
			t.Fatalf("parseLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestDeriveSessionTitle(t *testing.T) {
	if got := deriveSessionTitle("   "); got != defaultSessionTitle {
		t.Fatalf("expected default title, got %q", got)
	}
	if got := deriveSessionTitle("最近  睡不好"); got != "最近 睡不好" {
		t.Fatalf("expected whitespace to collapse, got %q", got)
	}
	long := strings.Repeat("长", 30)
	if got := deriveSessionTitle(long); got != strings.Repeat("长", 20)+"..." {
		t.Fatalf("expected truncated title, got %q", got)
	}
}

func TestParseUUID(t *testing.T) {
	id := testID()
	got, ok := parseUUID("  " + strings.ToUpper(id) + " ")
	if !ok || got != id {
		t.Fatalf("expected canonical uuid %s, got %q ok=%v", id, got, ok)
	}
	if _, ok := parseUUID("not-a-uuid"); ok {
		t.Fatalf("expected invalid uuid to fail")
	}
}

func TestResolvePreferences(t *testing.T) {
	prefs := resolvePreferences(nil)
	if prefs != defaultUserPreferences() {
		t.Fatalf("expected defaults, got %+v", prefs)
	}

	prefs = resolvePreferences(map[string]any{
		"reply_style":           "CONCISE",
		"share_emotion_context": false,
	})
	if prefs.ReplyStyle != replyStyleConcise || prefs.ShareEmotionContext {
		t.Fatalf("unexpected preferences: %+v", prefs)
	}

	prefs = resolvePreferences(map[string]any{"reply_style": "sarcastic"})
	if prefs.ReplyStyle != replyStyleWarm {
		t.Fatalf("expected unknown style to fall back to warm, got %q", prefs.ReplyStyle)
	}
}

func TestBuildChatSystemPrompt(t *testing.T) {
	turn := evaluateTurn("我好孤独")

	prompt := buildChatSystemPrompt(defaultUserPreferences(), turn)
	if !strings.HasPrefix(prompt, psychologistSystemPrompt) {
		t.Fatalf("expected base prompt first")
	}
	if !strings.Contains(prompt, "用户当前主要情绪为孤独") {
		t.Fatalf("expected emotion context, got %q", prompt)
	}

	prompt = buildChatSystemPrompt(userPreferences{ReplyStyle: replyStyleConcise}, turn)
	if strings.Contains(prompt, "参考信息") {
		t.Fatalf("expected emotion context to be omitted")
	}
	if !strings.Contains(prompt, "简短直接") {
		t.Fatalf("expected concise style instruction, got %q", prompt)
	}
}

func TestTurnEvaluationResources(t *testing.T) {
	calm := evaluateTurn("今天挺开心的")
	if calm.RequiresAlert() || len(calm.Resources()) != 0 {
		t.Fatalf("expected calm turn to carry no resources")
	}

	crisis := evaluateTurn("我想自杀")
	if !crisis.RequiresAlert() || crisis.Risk.Level != risk.Level1 {
		t.Fatalf("expected level_1 alert, got %+v", crisis.Risk)
	}
	if len(crisis.Resources()) != len(risk.Resources(risk.Level1)) {
		t.Fatalf("expected level_1 resources")
	}
}

func TestEmotionExportRow(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 8, 30, 0, 0, time.FixedZone("CST", 8*60*60))
	row := emotionExportRow("m-1", "s-1", createdAt, emotion.Result{
		PrimaryEmotion:    emotion.Anxiety,
		SecondaryEmotions: []emotion.Type{emotion.Fear, emotion.Sadness},
		Intensity:         emotion.IntensityMedium,
		Confidence:        0.7,
	}, "level_3")

	want := []string{"m-1", "s-1", "2026-03-01T00:30:00Z", "anxiety", "fear|sadness", "medium", "0.70", "level_3"}
	if len(row) != len(emotionExportHeader) {
		t.Fatalf("row has %d columns, header has %d", len(row), len(emotionExportHeader))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("column %s: got %q want %q", emotionExportHeader[i], row[i], want[i])
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	for _, email := range []string{"a@example.com", "first.last@sub.example.cn"} {
		if !isValidEmail(email) {
			t.Fatalf("expected %q to be valid", email)
		}
	}
	for _, email := range []string{"", "plain", "a@localhost", "Name <a@example.com>"} {
		if isValidEmail(email) {
			t.Fatalf("expected %q to be invalid", email)
		}
	}
}

func TestIdentityErrorMessage(t *testing.T) {
	if got := identityErrorMessage([]byte(`{"error_description":"Invalid login credentials"}`)); got != "Invalid login credentials" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := identityErrorMessage([]byte(`{"msg":"User already registered"}`)); got != "User already registered" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := identityErrorMessage(nil); got != "request rejected" {
		t.Fatalf("unexpected message %q", got)
	}

	body := []byte(strings.Repeat("服务暂时不可用", 40))
	got := identityErrorMessage(body)
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid UTF-8 after truncation, got %q", got)
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != 200 {
		t.Fatalf("expected 200 runes before the ellipsis, got %d", n)
	}
}
