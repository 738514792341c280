package risk

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

const (
	highThreshold   = 0.6
	mediumThreshold = 0.4
)

// PredictionRow is one scored customer. ChurnLabel is nil when the provider
// returned no label.
type PredictionRow struct {
	CustomerID       string
	ChurnProbability float64
	ChurnLabel       *int
}

// Summary is the batch aggregate. LowCount counts every row that is not high,
// medium rows included.
type Summary struct {
	Total              int     `json:"total"`
	HighCount          int     `json:"high_count"`
	LowCount           int     `json:"low_count"`
	AverageProbability float64 `json:"average_probability"`
}

// Classify assigns a tier. A positive label forces high regardless of the
// probability.
func Classify(row PredictionRow) Tier {
	switch {
	case row.ChurnLabel != nil && *row.ChurnLabel == 1:
		return TierHigh
	case row.ChurnProbability > highThreshold:
		return TierHigh
	case row.ChurnProbability >= mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

func Aggregate(rows []PredictionRow) Summary {
	if len(rows) == 0 {
		return Summary{}
	}

	probs := make([]float64, len(rows))
	high := 0
	for i, row := range rows {
		probs[i] = row.ChurnProbability
		if Classify(row) == TierHigh {
			high++
		}
	}

	return Summary{
		Total:              len(rows),
		HighCount:          high,
		LowCount:           len(rows) - high,
		AverageProbability: stat.Mean(probs, nil),
	}
}

// DisplayPercent converts a probability to a whole percentage for display.
func DisplayPercent(p float64) int {
	return int(math.Round(math.Max(0, math.Min(100, p*100))))
}
