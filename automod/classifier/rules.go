package classifier

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/Oxeigns/Rak/automod/setstore"
)

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s]+`)
	suspiciousPattern = regexp.MustCompile(`(?i)(?:bit\.ly|tinyurl|phish|free.*money|verify.*account|claim.*prize|airdrop)`)
	spamKeywords      = []string{"buy now", "limited offer", "click here", "earn money", "work from home", "dm me"}
	scamKeywords      = []string{"investment opportunity", "double your", "guaranteed profit", "send crypto", "seed phrase"}
	toxicKeywords     = []string{"kill yourself", "kys", "idiot", "moron", "trash human"}
)

// RuleClassifier is the fallback estimator: cheap lexical heuristics
// that approximate the external classifier's factor scores when it is
// unavailable. Deliberately conservative; it exists so the scoring
// pipeline can keep running, not to match model quality.
type RuleClassifier struct {
	// optional blocklist lookup, set name "suspicious-domains"
	Sets setstore.SetStore
}

var _ Classifier = (*RuleClassifier)(nil)

const SuspiciousDomainsSet = "suspicious-domains"

func (c *RuleClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	lower := strings.ToLower(text)

	spam := keywordScore(lower, spamKeywords, 0.35)
	scam := keywordScore(lower, scamKeywords, 0.45)
	toxicity := keywordScore(lower, toxicKeywords, 0.5)

	// shouting plus repetition reads as spam
	if len(text) > 20 && upperRatio(text) > 0.7 {
		spam = clampScore(spam + 0.2)
	}

	var links float64
	var phishing float64
	for _, raw := range urlPattern.FindAllString(text, -1) {
		if suspiciousPattern.MatchString(raw) {
			links = clampScore(links + 0.5)
			phishing = clampScore(phishing + 0.4)
		}
		if c.Sets != nil {
			if host := hostOf(raw); host != "" {
				listed, err := c.Sets.InSet(ctx, SuspiciousDomainsSet, host)
				if err == nil && listed {
					links = 1.0
					phishing = clampScore(phishing + 0.5)
				}
			}
		}
	}
	if suspiciousPattern.MatchString(lower) {
		phishing = clampScore(phishing + 0.3)
	}

	scores := map[string]float64{
		FactorSpam:     spam,
		FactorToxicity: toxicity,
		FactorScam:     scam,
		FactorPhishing: phishing,
		FactorLinks:    links,
	}
	safe := true
	for _, v := range scores {
		if v >= 0.5 {
			safe = false
			break
		}
	}
	return &Result{
		Safe:       safe,
		Scores:     scores,
		Confidence: 0.5,
		Reason:     "rule-based estimate",
	}, nil
}

func keywordScore(lower string, keywords []string, perHit float64) float64 {
	var score float64
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score += perHit
		}
	}
	return clampScore(score)
}

func upperRatio(text string) float64 {
	var upper, letters int
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
