package emotion

import (
	"context"

	"github.com/callquality/backend/internal/utils"
)

// Mock produces a stable emotion track derived from the filename.
type Mock struct {
	Segments int
}

func (m Mock) Analyze(ctx context.Context, audio []byte, filename string) (Result, error) {
	n := m.Segments
	if n <= 0 {
		n = 4
	}
	seed := utils.HashStringToUint64(filename)
	preds := make([]Prediction, 0, n)
	for i := 0; i < n; i++ {
		v := float64((seed>>(uint(i)*8))&0xff) / 255
		preds = append(preds, Prediction{
			Start: float64(i * 5),
			End:   float64(i*5 + 5),
			Emotions: map[string]float64{
				"Calmness":      0.4 + v*0.4,
				"Interest":      0.3,
				"Anxiety":       0.2 * (1 - v),
				"Concentration": 0.35,
			},
		})
		p := &preds[i]
		p.Dominant = dominant(p.Emotions)
		p.DominantScore = p.Emotions[p.Dominant]
	}
	return Summarize(preds), nil
}
