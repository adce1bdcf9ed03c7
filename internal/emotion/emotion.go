// Package emotion labels chat messages with a primary emotion, secondary
// emotions, an intensity tier and a confidence score using keyword matching.
package emotion

import (
	"strings"
)

type Type string

const (
	Joy        Type = "joy"
	Anger      Type = "anger"
	Sadness    Type = "sadness"
	Fear       Type = "fear"
	Disgust    Type = "disgust"
	Surprise   Type = "surprise"
	Anxiety    Type = "anxiety"
	Depression Type = "depression"
	Loneliness Type = "loneliness"
	Guilt      Type = "guilt"
)

type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

const (
	defaultConfidence = 0.5
	confidenceStep    = 0.1
	maxConfidence     = 0.9
)

// Result is the classification of a single message.
type Result struct {
	PrimaryEmotion    Type      `json:"primary_emotion"`
	SecondaryEmotions []Type    `json:"secondary_emotions"`
	Intensity         Intensity `json:"intensity"`
	Confidence        float64   `json:"confidence"`
}

type keywordSet struct {
	emotion  Type
	keywords []string
}

// Order matters: it is both the scan order for secondary emotions and the
// tie-break order for the primary emotion.
var keywordTable = []keywordSet{
	{emotion: Joy, keywords: []string{"开心", "快乐", "高兴", "幸福", "满足", "愉快"}},
	{emotion: Anger, keywords: []string{"生气", "愤怒", "恼火", "烦躁", "恨", "不满"}},
	{emotion: Sadness, keywords: []string{"难过", "悲伤", "痛苦", "伤心", "沮丧", "失落"}},
	{emotion: Fear, keywords: []string{"害怕", "恐惧", "担心", "焦虑", "紧张", "不安"}},
	{emotion: Disgust, keywords: []string{"恶心", "讨厌", "反感", "厌恶", "排斥"}},
	{emotion: Surprise, keywords: []string{"惊讶", "意外", "震惊", "吃惊", "诧异"}},
	{emotion: Anxiety, keywords: []string{"焦虑", "担心", "紧张", "不安", "忧虑", "压力"}},
	{emotion: Depression, keywords: []string{"抑郁", "消沉", "绝望", "无望", "空虚", "麻木"}},
	{emotion: Loneliness, keywords: []string{"孤独", "寂寞", "孤单", "没人陪伴", "独自"}},
	{emotion: Guilt, keywords: []string{"内疚", "自责", "后悔", "愧疚", "对不起"}},
}

// AllTypes lists every emotion in declaration order.
func AllTypes() []Type {
	types := make([]Type, 0, len(keywordTable))
	for _, entry := range keywordTable {
		types = append(types, entry.emotion)
	}
	return types
}

// Keywords returns a copy of the keyword list for an emotion.
func Keywords(emotion Type) []string {
	for _, entry := range keywordTable {
		if entry.emotion == emotion {
			return append([]string(nil), entry.keywords...)
		}
	}
	return nil
}

// Analyze never fails. Text without any keyword yields the fear/low/0.5
// fallback result.
func Analyze(text string) Result {
	type scored struct {
		emotion Type
		score   int
	}

	hits := make([]scored, 0, len(keywordTable))
	for _, entry := range keywordTable {
		score := 0
		for _, keyword := range entry.keywords {
			if strings.Contains(text, keyword) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{emotion: entry.emotion, score: score})
		}
	}

	if len(hits) == 0 {
		return Result{
			PrimaryEmotion:    Fear,
			SecondaryEmotions: []Type{},
			Intensity:         IntensityLow,
			Confidence:        defaultConfidence,
		}
	}

	best := hits[0]
	for _, candidate := range hits[1:] {
		if candidate.score > best.score {
			best = candidate
		}
	}

	secondary := make([]Type, 0, len(hits)-1)
	for _, candidate := range hits {
		if candidate.emotion != best.emotion {
			secondary = append(secondary, candidate.emotion)
		}
	}

	return Result{
		PrimaryEmotion:    best.emotion,
		SecondaryEmotions: secondary,
		Intensity:         intensityForScore(best.score),
		Confidence:        confidenceForScore(best.score),
	}
}

func intensityForScore(score int) Intensity {
	switch {
	case score >= 3:
		return IntensityHigh
	case score == 2:
		return IntensityMedium
	default:
		return IntensityLow
	}
}

func confidenceForScore(score int) float64 {
	confidence := defaultConfidence + confidenceStep*float64(score)
	if confidence > maxConfidence {
		return maxConfidence
	}
	return confidence
}

func ParseType(input string) (Type, bool) {
	candidate := Type(strings.ToLower(strings.TrimSpace(input)))
	for _, entry := range keywordTable {
		if entry.emotion == candidate {
			return candidate, true
		}
	}
	return "", false
}

func ParseIntensity(input string) (Intensity, bool) {
	switch Intensity(strings.ToLower(strings.TrimSpace(input))) {
	case IntensityLow:
		return IntensityLow, true
	case IntensityMedium:
		return IntensityMedium, true
	case IntensityHigh:
		return IntensityHigh, true
	}
	return "", false
}

// Rank orders intensities: low 0, medium 1, high 2. Unknown values rank -1.
func (i Intensity) Rank() int {
	switch i {
	case IntensityLow:
		return 0
	case IntensityMedium:
		return 1
	case IntensityHigh:
		return 2
	}
	return -1
}
