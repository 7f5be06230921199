package hub

import (
	"github.com/alin9661/govhub/common"
)

// Channel a named logical topic that events are published to and
// connections subscribe to. The set of valid channels is closed; channels
// are never created or destroyed at runtime.
type Channel string

// The closed channel set
const (
	ChannelTreasuryDeposit  Channel = "treasury:deposit"
	ChannelTreasuryBalance  Channel = "treasury:balance"
	ChannelProposalCreated  Channel = "proposals:created"
	ChannelProposalVote     Channel = "proposals:vote"
	ChannelProposalApproval Channel = "proposals:approval"
	ChannelElectionResult   Channel = "elections:result"
)

var allChannels = map[Channel]bool{
	ChannelTreasuryDeposit:  true,
	ChannelTreasuryBalance:  true,
	ChannelProposalCreated:  true,
	ChannelProposalVote:     true,
	ChannelProposalApproval: true,
	ChannelElectionResult:   true,
}

// AllChannels list every valid channel
func AllChannels() []Channel {
	return []Channel{
		ChannelTreasuryDeposit,
		ChannelTreasuryBalance,
		ChannelProposalCreated,
		ChannelProposalVote,
		ChannelProposalApproval,
		ChannelElectionResult,
	}
}

// Valid whether the channel is a member of the closed set
func (c Channel) Valid() bool {
	return allChannels[c]
}

// ParseChannels validate a caller supplied channel list against the closed
// set. Fails on the first unknown name without partial results, so callers
// can reject a request before mutating any state.
func ParseChannels(names []string) ([]Channel, error) {
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		channel := Channel(name)
		if !channel.Valid() {
			return nil, common.NewInvalidChannelError(name)
		}
		channels = append(channels, channel)
	}
	return channels, nil
}
