package memory

import (
	"math"
	"time"
)

const (
	scoredOverfetch     = 3
	scoredMaxCandidates = 50

	decayHalfLife    = 30 * 24 * time.Hour
	decayWeight      = 0.3
	emotionWeight    = 0.2
	importanceWeight = 0.2
)

var emotionBoost = map[Emotion]float64{
	EmotionExcited:   0.4,
	EmotionSurprised: 0.35,
	EmotionMoved:     0.3,
	EmotionSad:       0.25,
	EmotionHappy:     0.2,
	EmotionNostalgic: 0.15,
	EmotionCurious:   0.1,
	EmotionNeutral:   0,
}

// timeDecay is 1 for a memory created now and halves every decayHalfLife.
func timeDecay(created, now time.Time) float64 {
	age := now.Sub(created)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(decayHalfLife))
}

func importanceBoost(imp int) float64 {
	return float64(imp-MinImportance) / 10
}

func recallScore(distance float64, m Memory, now time.Time) float64 {
	s := distance +
		(1-timeDecay(m.CreatedAt, now))*decayWeight -
		(emotionBoost[m.Emotion]*emotionWeight + importanceBoost(m.Importance)*importanceWeight)
	return math.Max(s, 0)
}
