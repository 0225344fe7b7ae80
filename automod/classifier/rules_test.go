package classifier

import (
	"context"
	"testing"

	"github.com/Oxeigns/Rak/automod/setstore"

	"github.com/stretchr/testify/assert"
)

func TestRuleClassifierBenign(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	rc := &RuleClassifier{}

	res, err := rc.Classify(ctx, "good morning everyone, hope the release goes well")
	assert.NoError(err)
	assert.True(res.Safe)
	assert.Equal(0.5, res.Confidence)
	for name, v := range res.Scores {
		assert.LessOrEqual(v, 0.2, "factor %s", name)
	}
}

func TestRuleClassifierSuspiciousLink(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	rc := &RuleClassifier{}

	res, err := rc.Classify(ctx, "verify your account here http://bit.ly/x2f free money")
	assert.NoError(err)
	assert.False(res.Safe)
	assert.Greater(res.Scores[FactorLinks], 0.0)
	assert.Greater(res.Scores[FactorPhishing], 0.0)
}

func TestRuleClassifierDomainBlocklist(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sets := setstore.NewMemSetStore()
	assert.NoError(sets.AddToSet(ctx, SuspiciousDomainsSet, []string{"scampage.example"}))

	rc := &RuleClassifier{Sets: sets}

	res, err := rc.Classify(ctx, "check this https://www.scampage.example/login")
	assert.NoError(err)
	assert.False(res.Safe)
	assert.Equal(1.0, res.Scores[FactorLinks])
}

func TestRuleClassifierScamKeywords(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	rc := &RuleClassifier{}

	res, err := rc.Classify(ctx, "investment opportunity: guaranteed profit, send crypto now")
	assert.NoError(err)
	assert.False(res.Safe)
	assert.GreaterOrEqual(res.Scores[FactorScam], 0.9)
}
