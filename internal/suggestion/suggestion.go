// Package suggestion selects coping suggestions from a static library based on
// the classified emotion and its intensity.
package suggestion

import (
	"strings"

	"keyi/apps/backend/internal/emotion"
)

type Type string

const (
	EmotionRegulation    Type = "emotion_regulation"
	CognitiveAdjustment  Type = "cognitive_adjustment"
	BehavioralActivation Type = "behavioral_activation"
	StressManagement     Type = "stress_management"
)

const MaxSuggestions = 3

type Suggestion struct {
	Type        Type     `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

// Generate returns at most MaxSuggestions entries. High intensity puts one
// stress-management suggestion first, followed by up to two others.
func Generate(e emotion.Type, intensity emotion.Intensity) []Suggestion {
	var candidates []Suggestion
	for _, poolType := range poolsFor(e) {
		candidates = append(candidates, Library(poolType)...)
	}

	if intensity != emotion.IntensityHigh {
		if len(candidates) > MaxSuggestions {
			candidates = candidates[:MaxSuggestions]
		}
		return candidates
	}

	candidates = append(candidates, Library(StressManagement)...)
	stress := make([]Suggestion, 0, 1)
	others := make([]Suggestion, 0, 2)
	for _, candidate := range candidates {
		if candidate.Type == StressManagement {
			if len(stress) < 1 {
				stress = append(stress, candidate)
			}
			continue
		}
		if len(others) < 2 {
			others = append(others, candidate)
		}
	}
	return append(stress, others...)
}

func poolsFor(e emotion.Type) []Type {
	switch e {
	case emotion.Anxiety, emotion.Fear:
		return []Type{EmotionRegulation, CognitiveAdjustment}
	case emotion.Depression, emotion.Sadness:
		return []Type{BehavioralActivation, CognitiveAdjustment}
	case emotion.Anger:
		return []Type{EmotionRegulation, CognitiveAdjustment}
	case emotion.Loneliness:
		return []Type{BehavioralActivation}
	default:
		return []Type{EmotionRegulation}
	}
}

// Library returns a deep copy of the catalog entries for a suggestion type.
func Library(t Type) []Suggestion {
	source := library[t]
	out := make([]Suggestion, 0, len(source))
	for _, item := range source {
		item.Steps = append([]string(nil), item.Steps...)
		out = append(out, item)
	}
	return out
}

func AllTypes() []Type {
	return []Type{EmotionRegulation, CognitiveAdjustment, BehavioralActivation, StressManagement}
}

func ParseType(input string) (Type, bool) {
	candidate := Type(strings.ToLower(strings.TrimSpace(input)))
	if _, ok := library[candidate]; ok {
		return candidate, true
	}
	return "", false
}
