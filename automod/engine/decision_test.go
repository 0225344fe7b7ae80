package engine

import (
	"testing"

	"github.com/Oxeigns/Rak/automod/raid"
	"github.com/Oxeigns/Rak/automod/risk"
	"github.com/Oxeigns/Rak/automod/store"

	"github.com/stretchr/testify/assert"
)

func TestDecideMessageBands(t *testing.T) {
	assert := assert.New(t)
	settings := store.DefaultGroupSettings(1)

	low := DecideMessage(MessageInput{Band: risk.BandLow, Trust: 50}, settings)
	assert.Equal(ActionAllow, low.Action)

	medium := DecideMessage(MessageInput{Band: risk.BandMedium, Trust: 50}, settings)
	assert.Equal(ActionSoftWarn, medium.Action)

	high := DecideMessage(MessageInput{Band: risk.BandHigh, Trust: 50}, settings)
	assert.Equal(ActionDeleteWarn, high.Action)

	critical := DecideMessage(MessageInput{Band: risk.BandCritical, Trust: 50}, settings)
	assert.Equal(ActionDeleteMuteNotify, critical.Action)
	assert.NotZero(critical.Duration)
}

func TestDecideMessageWarningEscalation(t *testing.T) {
	assert := assert.New(t)
	settings := store.DefaultGroupSettings(1) // MaxWarnings 3

	under := DecideMessage(MessageInput{Band: risk.BandHigh, Trust: 50, Warnings: 2}, settings)
	assert.Equal(ActionDeleteWarn, under.Action)

	// the warning that would exceed the budget escalates
	over := DecideMessage(MessageInput{Band: risk.BandHigh, Trust: 50, Warnings: 3}, settings)
	assert.Equal(ActionDeleteMuteNotify, over.Action)
	assert.True(over.Escalated)
}

func TestDecideMessageTrustAutoBan(t *testing.T) {
	assert := assert.New(t)
	settings := store.DefaultGroupSettings(1) // TrustAutoBan 10

	// any violation band at rock-bottom trust is a ban
	out := DecideMessage(MessageInput{Band: risk.BandMedium, Trust: 5}, settings)
	assert.Equal(ActionBan, out.Action)

	// low band never auto-bans
	out = DecideMessage(MessageInput{Band: risk.BandLow, Trust: 5}, settings)
	assert.NotEqual(ActionBan, out.Action)
}

func TestDecideMessageMediaRestriction(t *testing.T) {
	assert := assert.New(t)
	settings := store.DefaultGroupSettings(1) // TrustRestrictMedia 25

	out := DecideMessage(MessageInput{Band: risk.BandLow, Trust: 20, HasMedia: true}, settings)
	assert.Equal(ActionRestrictMedia, out.Action)

	out = DecideMessage(MessageInput{Band: risk.BandLow, Trust: 20, HasMedia: false}, settings)
	assert.Equal(ActionAllow, out.Action)

	out = DecideMessage(MessageInput{Band: risk.BandLow, Trust: 60, HasMedia: true}, settings)
	assert.Equal(ActionAllow, out.Action)
}

func TestDecideMessageFailSafe(t *testing.T) {
	assert := assert.New(t)
	settings := store.DefaultGroupSettings(1)

	// degraded assessments allow no matter what else says otherwise
	out := DecideMessage(MessageInput{Band: risk.BandLow, FailSafe: true, Trust: 0, HasMedia: true}, settings)
	assert.Equal(ActionAllow, out.Action)
}

func TestDecideJoin(t *testing.T) {
	assert := assert.New(t)
	settings := store.DefaultGroupSettings(1)

	out := DecideJoin(JoinInput{Raid: raid.StateNormal}, settings)
	assert.Equal(ActionAllow, out.Action)

	out = DecideJoin(JoinInput{Raid: raid.StateAlert}, settings)
	assert.Equal(ActionAllow, out.Action)

	out = DecideJoin(JoinInput{Raid: raid.StateAlert, NewAccount: true}, settings)
	assert.Equal(ActionRestrictJoin, out.Action)

	// lockdown overrides everything, established accounts included
	out = DecideJoin(JoinInput{Raid: raid.StateLockdown}, settings)
	assert.Equal(ActionRejectJoin, out.Action)
	out = DecideJoin(JoinInput{Raid: raid.StateLockdown, NewAccount: true}, settings)
	assert.Equal(ActionRejectJoin, out.Action)
}
