package emotion

// Summary aggregates per-message results across a chat session.
type Summary struct {
	Counts        map[Type]int `json:"counts"`
	Analyzed      int          `json:"analyzed"`
	LastEmotion   Type         `json:"last_emotion,omitempty"`
	LastIntensity Intensity    `json:"last_intensity,omitempty"`
	PeakIntensity Intensity    `json:"peak_intensity,omitempty"`
}

func NewSummary() Summary {
	return Summary{Counts: map[Type]int{}}
}

// Tally returns a new summary that includes result; the receiver is not modified.
func (s Summary) Tally(result Result) Summary {
	next := Summary{
		Counts:        make(map[Type]int, len(s.Counts)+1),
		Analyzed:      s.Analyzed + 1,
		LastEmotion:   result.PrimaryEmotion,
		LastIntensity: result.Intensity,
		PeakIntensity: s.PeakIntensity,
	}
	for emotion, count := range s.Counts {
		next.Counts[emotion] = count
	}
	next.Counts[result.PrimaryEmotion]++
	if result.Intensity.Rank() > next.PeakIntensity.Rank() {
		next.PeakIntensity = result.Intensity
	}
	return next
}

// Dominant returns the most frequent primary emotion, ties broken by
// declaration order. ok is false for an empty summary.
func (s Summary) Dominant() (Type, bool) {
	var (
		best      Type
		bestCount int
	)
	for _, emotion := range AllTypes() {
		if count := s.Counts[emotion]; count > bestCount {
			best = emotion
			bestCount = count
		}
	}
	return best, bestCount > 0
}
