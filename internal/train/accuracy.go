package train

import (
	"github.com/pkg/errors"

	"github.com/cnclabs/hetlink/pkg/hetero"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// ErrEmptySplit is returned when a split has no candidate edges to score
var ErrEmptySplit = errors.New("split has no candidate edges")

// Threshold separates positive from negative predictions; a probability
// equal to it counts as negative
const Threshold = 0.5

// Counter accumulates correct and total predictions
type Counter struct {
	Correct int
	Total   int
}

// PredictLabel maps a probability to a 0/1 label
func PredictLabel(prob float64) float64 {
	if prob > Threshold {
		return 1
	}
	return 0
}

// AddProbs counts matches between thresholded probabilities and labels
func (c *Counter) AddProbs(probs, labels []float64) {
	for i, p := range probs {
		if PredictLabel(p) == labels[i] {
			c.Correct++
		}
		c.Total++
	}
}

// AddScores applies the sigmoid to raw scores of every message type and counts matches
func (c *Counter) AddScores(pred map[hetero.MessageType][]float64, labels map[hetero.MessageType][]float64) {
	for mt, scores := range pred {
		probs := make([]float64, len(scores))
		for i, s := range scores {
			probs[i] = nn.Sigmoid(s)
		}
		c.AddProbs(probs, labels[mt])
	}
}

// Accuracy returns Correct/Total
func (c Counter) Accuracy() (float64, error) {
	if c.Total == 0 {
		return 0, ErrEmptySplit
	}
	return float64(c.Correct) / float64(c.Total), nil
}
