package scoring

import (
	"context"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/schema"
)

type numericFeature struct {
	column string
	center float64
	scale  float64
	weight float64
}

// BaselineModel is a fixed-coefficient logistic model over the default
// telecom columns. Columns absent from a record, or holding values that do
// not parse, contribute nothing.
type BaselineModel struct {
	intercept      float64
	numeric        []numericFeature
	weights        []float64
	contractColumn string
	contract       map[string]float64
}

func NewBaselineModel() *BaselineModel {
	m := &BaselineModel{
		intercept: -1.1,
		numeric: []numericFeature{
			{column: "tenure", center: 32, scale: 24, weight: -0.9},
			{column: "monthly_charges", center: 65, scale: 30, weight: 0.6},
			{column: "total_charges", center: 2280, scale: 2260, weight: -0.3},
		},
		contractColumn: "contract_type",
		contract: map[string]float64{
			"monthtomonth": 0.8,
			"oneyear":      -0.6,
			"twoyear":      -1.4,
		},
	}
	m.weights = make([]float64, len(m.numeric))
	for i, f := range m.numeric {
		m.weights[i] = f.weight
	}
	return m
}

func (m *BaselineModel) Score(ctx context.Context, records []schema.CustomerRecord) ([]Score, error) {
	scores := make([]Score, len(records))
	values := make([]float64, len(m.numeric))

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j, f := range m.numeric {
			values[j] = 0
			if v, ok := parseNumber(rec[f.column]); ok {
				values[j] = (v - f.center) / f.scale
			}
		}
		z := m.intercept + floats.Dot(m.weights, values) + m.contract[contractKey(rec[m.contractColumn])]
		scores[i] = Score{Probability: sigmoid(z)}
	}
	return scores, nil
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func contractKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
