// Package risk triages chat messages into crisis levels and provides the
// static crisis resources and scripted responses for each level.
package risk

import (
	"strings"
)

// Level keeps the historical numbering: Level1 is the most severe and Level3
// means no risk signal was found. Use Severity for ordering.
type Level string

const (
	Level1 Level = "level_1"
	Level2 Level = "level_2"
	Level3 Level = "level_3"
)

const (
	CategorySelfHarm = "self_harm"
	CategoryDespair  = "despair"
)

var highRiskKeywords = []string{
	"自杀",
	"结束生命",
	"不想活了",
	"自残",
	"伤害自己",
	"活着没意义",
	"再见",
	"最后一次",
}

var despairKeywords = []string{
	"绝望",
	"无望",
	"没有希望",
	"没有出路",
	"无法承受",
	"坚持不下去了",
}

// Assessment is the outcome of a triage pass. Keyword and Category are empty
// for Level3.
type Assessment struct {
	Level    Level  `json:"level"`
	Keyword  string `json:"keyword,omitempty"`
	Category string `json:"category,omitempty"`
}

// Check maps text to exactly one level. High-risk keywords always take
// precedence over despair keywords.
func Check(text string) Level {
	return Evaluate(text).Level
}

func Evaluate(text string) Assessment {
	for _, keyword := range highRiskKeywords {
		if strings.Contains(text, keyword) {
			return Assessment{Level: Level1, Keyword: keyword, Category: CategorySelfHarm}
		}
	}
	for _, keyword := range despairKeywords {
		if strings.Contains(text, keyword) {
			return Assessment{Level: Level2, Keyword: keyword, Category: CategoryDespair}
		}
	}
	return Assessment{Level: Level3}
}

// TriggerReason renders the alert reason stored alongside an alert.
func (a Assessment) TriggerReason() string {
	if a.Category == "" {
		return ""
	}
	return a.Category + ": " + a.Keyword
}

// RequiresAlert reports whether the surrounding system must raise an alert
// and answer with the scripted crisis response.
func (l Level) RequiresAlert() bool {
	return l == Level1 || l == Level2
}

// Severity is 3 for Level1, 2 for Level2, 1 for Level3 and 0 otherwise.
func (l Level) Severity() int {
	switch l {
	case Level1:
		return 3
	case Level2:
		return 2
	case Level3:
		return 1
	}
	return 0
}

// RiskProfile maps a level onto the coarse user risk label kept on the user record.
func (l Level) RiskProfile() string {
	switch l {
	case Level1:
		return "high"
	case Level2:
		return "medium"
	default:
		return "low"
	}
}

func ParseLevel(input string) (Level, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "level_1", "level1", "1":
		return Level1, true
	case "level_2", "level2", "2":
		return Level2, true
	case "level_3", "level3", "3":
		return Level3, true
	}
	return "", false
}
