package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/config"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/schema"
)

// Score is the provider output for one record. Label is nil when the model
// only produces a probability.
type Score struct {
	Probability float64 `json:"churn_probability" validate:"gte=0,lte=1"`
	Label       *int    `json:"churn_label,omitempty" validate:"omitempty,oneof=0 1"`
}

// Provider turns canonical records into churn scores, one per record and in
// the same order.
type Provider interface {
	Score(ctx context.Context, records []schema.CustomerRecord) ([]Score, error)
}

var ErrInvalidOutput = errors.New("invalid provider output")

var validate = validator.New()

// CheckScores rejects output whose length differs from the input, or that
// holds probabilities outside [0,1] (NaN included) or labels other than 0/1.
func CheckScores(records []schema.CustomerRecord, scores []Score) error {
	if len(scores) != len(records) {
		return fmt.Errorf("%w: %d scores for %d records", ErrInvalidOutput, len(scores), len(records))
	}
	for i := range scores {
		if err := validate.Struct(scores[i]); err != nil {
			return fmt.Errorf("%w: row %d: %v", ErrInvalidOutput, i+1, err)
		}
	}
	return nil
}

// ResolveLabel returns the provider label, or derives one from the decision
// threshold.
func ResolveLabel(s Score, threshold float64) int {
	if s.Label != nil {
		return *s.Label
	}
	if s.Probability >= threshold {
		return 1
	}
	return 0
}

// New builds the provider selected by configuration.
func New(cfg config.ScoringConfig) (Provider, error) {
	switch cfg.Provider {
	case "baseline":
		return NewBaselineModel(), nil
	case "http":
		return NewHTTPProvider(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown scoring provider %q", cfg.Provider)
	}
}
