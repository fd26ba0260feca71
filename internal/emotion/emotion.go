package emotion

import (
	"context"
	"sort"
)

type Prediction struct {
	Start         float64            `json:"start"`
	End           float64            `json:"end"`
	Emotions      map[string]float64 `json:"emotions"`
	Dominant      string             `json:"dominant"`
	DominantScore float64            `json:"dominant_score"`
}

type Result struct {
	Predictions     []Prediction       `json:"predictions"`
	Averaged        map[string]float64 `json:"averaged"`
	OverallDominant string             `json:"overall_dominant"`
	Duration        float64            `json:"duration"`
	SentimentScore  float64            `json:"sentiment_score"`
}

type Analyzer interface {
	Analyze(ctx context.Context, audio []byte, filename string) (Result, error)
}

// Names is the prosody model's emotion vocabulary. Averages always carry
// every entry, zero when the recording never produced it.
var Names = []string{
	"Admiration", "Adoration", "Aesthetic Appreciation", "Amusement", "Anger", "Anxiety",
	"Awe", "Awkwardness", "Boredom", "Calmness", "Concentration", "Confusion",
	"Contemplation", "Contempt", "Contentment", "Craving", "Desire", "Determination",
	"Disappointment", "Disgust", "Distress", "Doubt", "Ecstasy", "Embarrassment",
	"Empathic Pain", "Entrancement", "Envy", "Excitement", "Fear", "Guilt",
	"Horror", "Interest", "Joy", "Love", "Nostalgia", "Pain",
	"Pride", "Realization", "Relief", "Romance", "Sadness", "Satisfaction",
	"Shame", "Surprise (negative)", "Surprise (positive)", "Sympathy", "Tiredness", "Triumph",
}

var (
	positiveEmotions = []string{"Calmness", "Contentment", "Excitement", "Interest", "Joy", "Satisfaction", "Surprise (positive)"}
	negativeEmotions = []string{"Anger", "Anxiety", "Confusion", "Disappointment", "Distress", "Fear", "Frustration", "Sadness", "Surprise (negative)"}
)

// SentimentScore maps averaged emotions onto [-1, 1] as the normalized
// difference between the positive and negative sums.
func SentimentScore(averages map[string]float64) float64 {
	var pos, neg float64
	for _, e := range positiveEmotions {
		pos += averages[e]
	}
	for _, e := range negativeEmotions {
		neg += averages[e]
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return (pos - neg) / total
}

// Summarize fills averages, dominant emotion, duration and sentiment from the
// per-segment predictions.
func Summarize(preds []Prediction) Result {
	sums := make(map[string]float64, len(Names))
	counts := make(map[string]int, len(Names))
	var duration float64
	for _, p := range preds {
		if p.End > duration {
			duration = p.End
		}
		for name, score := range p.Emotions {
			sums[name] += score
			counts[name]++
		}
	}

	averaged := make(map[string]float64, len(Names))
	for _, name := range Names {
		averaged[name] = 0
	}
	for name, sum := range sums {
		averaged[name] = sum / float64(counts[name])
	}

	if preds == nil {
		preds = []Prediction{}
	}
	return Result{
		Predictions:     preds,
		Averaged:        averaged,
		OverallDominant: dominant(averaged),
		Duration:        duration,
		SentimentScore:  SentimentScore(averaged),
	}
}

// dominant picks the highest score; ties go to the alphabetically first name
// so the result does not depend on map order.
func dominant(scores map[string]float64) string {
	names := make([]string, 0, len(scores))
	for n := range scores {
		names = append(names, n)
	}
	sort.Strings(names)
	best, bestScore := "", -1.0
	for _, n := range names {
		if scores[n] > bestScore {
			best, bestScore = n, scores[n]
		}
	}
	if best == "" {
		return "neutral"
	}
	return best
}
