package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	messageMaxRunes     = 2000
	sessionTitleMaxRune = 100
	historyDefaultLimit = 50
	historyMaxLimit     = 200
)

type messageRequest struct {
	Message string `json:"message"`
}

type textRequest struct {
	Text string `json:"text"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

type assessmentSubmitRequest struct {
	ScaleType string `json:"scale_type"`
	Answers   []int  `json:"answers"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateMySettingsRequest struct {
	ReplyStyle          *string `json:"reply_style"`
	ShareEmotionContext *bool   `json:"share_emotion_context"`
}

// normalizeMessage trims input and checks the 1..2000 rune bound.
func normalizeMessage(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > messageMaxRunes {
		return "", false
	}
	return trimmed, true
}

func parseLimit(raw string, fallback, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

func mustMarshalJSON(input any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func parseJSONStringMap(input []byte) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(input, &result); err != nil || result == nil {
		return map[string]any{}
	}
	return result
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func truncateRunes(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || max <= 0 {
		return ""
	}
	runes := []rune(trimmed)
	if len(runes) <= max {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
