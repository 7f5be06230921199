package bridge

import (
	"testing"

	"github.com/alin9661/govhub/hub"
	"github.com/stretchr/testify/assert"
)

func TestSubjectForChannel(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(
		"govhub.events.treasury.deposit",
		subjectForChannel("govhub.events", hub.ChannelTreasuryDeposit),
	)
	assert.Equal(
		"govhub.events.proposals.vote",
		subjectForChannel("govhub.events", hub.ChannelProposalVote),
	)
	assert.Equal(
		"staging.elections.result",
		subjectForChannel("staging", hub.ChannelElectionResult),
	)
}
