// Package assessment defines the PHQ-9, GAD-7 and PSS-10 questionnaires and
// scores submitted answers against their severity bands.
package assessment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ScaleType string

const (
	PHQ9  ScaleType = "phq_9"
	GAD7  ScaleType = "gad_7"
	PSS10 ScaleType = "pss_10"
)

// UnknownLevel is returned by GetLevel when no band matches.
const UnknownLevel = "unknown"

var (
	ErrUnknownScale     = errors.New("unknown assessment scale")
	ErrAnswerCount      = errors.New("answer count does not match question count")
	ErrAnswerOutOfRange = errors.New("answer is outside the option range")
)

// Band is an inclusive score range mapped to a severity label.
type Band struct {
	Min   int    `json:"min"`
	Max   int    `json:"max"`
	Label string `json:"label"`
}

type Scale struct {
	Type        ScaleType `json:"scale_type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Questions   []string  `json:"questions"`
	Options     []string  `json:"options"`
	Bands       []Band    `json:"levels"`
}

type Result struct {
	ScaleType   ScaleType `json:"scale_type"`
	Score       int       `json:"score"`
	Level       string    `json:"level"`
	Answers     []int     `json:"answers"`
	CompletedAt time.Time `json:"completed_at"`
}

// MaxScore is the highest reachable score: every answer at the last option.
func (s Scale) MaxScore() int {
	if len(s.Options) == 0 {
		return 0
	}
	return len(s.Questions) * (len(s.Options) - 1)
}

// GetScale returns a copy of the scale definition.
func GetScale(t ScaleType) (Scale, bool) {
	scale, ok := scales[t]
	if !ok {
		return Scale{}, false
	}
	scale.Questions = append([]string(nil), scale.Questions...)
	scale.Options = append([]string(nil), scale.Options...)
	scale.Bands = append([]Band(nil), scale.Bands...)
	return scale, true
}

func AllScaleTypes() []ScaleType {
	return []ScaleType{PHQ9, GAD7, PSS10}
}

// CalculateScore sums the answers as given; it performs no validation.
func CalculateScore(_ ScaleType, answers []int) int {
	total := 0
	for _, answer := range answers {
		total += answer
	}
	return total
}

func GetLevel(t ScaleType, score int) string {
	scale, ok := scales[t]
	if !ok {
		return UnknownLevel
	}
	for _, band := range scale.Bands {
		if band.Min <= score && score <= band.Max {
			return band.Label
		}
	}
	return UnknownLevel
}

func ValidateAnswers(scale Scale, answers []int) error {
	if len(answers) != len(scale.Questions) {
		return fmt.Errorf("%w: expected %d, got %d", ErrAnswerCount, len(scale.Questions), len(answers))
	}
	maxOption := len(scale.Options) - 1
	for idx, answer := range answers {
		if answer < 0 || answer > maxOption {
			return fmt.Errorf("%w: question %d answered %d, allowed 0-%d", ErrAnswerOutOfRange, idx+1, answer, maxOption)
		}
	}
	return nil
}

// Submit validates and scores a completed questionnaire.
func Submit(t ScaleType, answers []int, now time.Time) (Result, error) {
	scale, ok := scales[t]
	if !ok {
		return Result{}, ErrUnknownScale
	}
	if err := ValidateAnswers(scale, answers); err != nil {
		return Result{}, err
	}
	score := CalculateScore(t, answers)
	return Result{
		ScaleType:   t,
		Score:       score,
		Level:       GetLevel(t, score),
		Answers:     append([]int(nil), answers...),
		CompletedAt: now.UTC(),
	}, nil
}

// ParseScaleType accepts "phq_9", "phq9", "PHQ-9" and the like.
func ParseScaleType(input string) (ScaleType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)
	switch normalized {
	case "phq9":
		return PHQ9, true
	case "gad7":
		return GAD7, true
	case "pss10":
		return PSS10, true
	}
	return "", false
}
