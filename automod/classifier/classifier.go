// Package classifier scores message text for policy risk. The
// production implementation calls an external LLM endpoint; a
// rule-based estimator stands in when that call fails or times out,
// so scoring never blocks on the external service.
package classifier

import (
	"context"
)

// Factor names shared with the risk engine.
const (
	FactorSpam     = "spam"
	FactorToxicity = "toxicity"
	FactorScam     = "scam"
	FactorIllegal  = "illegal"
	FactorPhishing = "phishing"
	FactorNSFW     = "nsfw"
	FactorLinks    = "suspicious_links"
)

// Result carries normalized scores in [0,1] keyed by factor name.
// Missing keys mean "no signal", not zero confidence.
type Result struct {
	Safe       bool               `json:"is_safe"`
	Scores     map[string]float64 `json:"scores"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

// StaticClassifier returns a fixed result (or error); test double.
type StaticClassifier struct {
	Result *Result
	Err    error
}

var _ Classifier = (*StaticClassifier)(nil)

func (c *StaticClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Result == nil {
		return &Result{Safe: true, Scores: map[string]float64{}, Confidence: 1.0}, nil
	}
	return c.Result, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
