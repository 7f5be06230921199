package hub

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func dummyConnection(id string, channels ...Channel) *connection {
	channelSet := make(map[Channel]bool)
	for _, channel := range channels {
		channelSet[channel] = true
	}
	ctxt, cancel := context.WithCancel(context.Background())
	return &connection{
		id:        id,
		channels:  channelSet,
		identity:  AnonymousIdentity(),
		sendQueue: make(chan Frame, 4),
		ctxt:      ctxt,
		cancel:    cancel,
	}
}

func TestConnectionRegistryBasicOperation(t *testing.T) {
	assert := assert.New(t)

	uut := newConnectionRegistry()
	assert.Equal(0, uut.size())

	// Case 0: add a connection
	conn0 := dummyConnection("conn-0", ChannelTreasuryDeposit)
	assert.Nil(uut.add(conn0, 0))
	assert.Equal(1, uut.size())
	fetched, ok := uut.get("conn-0")
	assert.True(ok)
	assert.Equal(conn0, fetched)

	// Case 1: duplicate ID rejected
	assert.NotNil(uut.add(dummyConnection("conn-0"), 0))
	assert.Equal(1, uut.size())

	// Case 2: subscriber snapshot reflects the channel set
	subscribers := uut.snapshot(ChannelTreasuryDeposit)
	assert.Len(subscribers, 1)
	assert.Empty(uut.snapshot(ChannelProposalVote))

	// Case 3: remove is idempotent
	removed, ok := uut.remove("conn-0")
	assert.True(ok)
	assert.Equal(conn0, removed)
	_, ok = uut.remove("conn-0")
	assert.False(ok)
	assert.Equal(0, uut.size())
	assert.Empty(uut.snapshot(ChannelTreasuryDeposit))
}

func TestConnectionRegistryCapacity(t *testing.T) {
	assert := assert.New(t)

	uut := newConnectionRegistry()
	for itr := 0; itr < 3; itr++ {
		assert.Nil(uut.add(dummyConnection(fmt.Sprintf("conn-%d", itr)), 3))
	}

	// Over capacity
	assert.NotNil(uut.add(dummyConnection("conn-3"), 3))
	assert.Equal(3, uut.size())

	// Freeing a slot admits the next connection
	_, ok := uut.remove("conn-0")
	assert.True(ok)
	assert.Nil(uut.add(dummyConnection("conn-3"), 3))
}

func TestConnectionRegistrySubscriptionChanges(t *testing.T) {
	assert := assert.New(t)

	uut := newConnectionRegistry()
	conn := dummyConnection("conn-0", ChannelTreasuryDeposit)
	assert.Nil(uut.add(conn, 0))

	// Case 0: subscribe extends the channel set
	assert.Nil(uut.subscribe("conn-0", []Channel{ChannelProposalVote, ChannelElectionResult}))
	assert.Len(uut.snapshot(ChannelProposalVote), 1)
	assert.Len(uut.snapshot(ChannelElectionResult), 1)

	// Case 1: re-subscribing an existing channel is a no-op
	assert.Nil(uut.subscribe("conn-0", []Channel{ChannelTreasuryDeposit}))
	assert.Len(uut.snapshot(ChannelTreasuryDeposit), 1)

	// Case 2: unsubscribe shrinks the channel set
	assert.Nil(uut.unsubscribe("conn-0", []Channel{ChannelProposalVote}))
	assert.Empty(uut.snapshot(ChannelProposalVote))
	assert.Len(uut.snapshot(ChannelElectionResult), 1)

	// Case 3: unsubscribing a channel not subscribed to is a no-op
	assert.Nil(uut.unsubscribe("conn-0", []Channel{ChannelProposalApproval}))

	// Case 4: unknown connection
	assert.NotNil(uut.subscribe("who", []Channel{ChannelTreasuryDeposit}))
	assert.NotNil(uut.unsubscribe("who", []Channel{ChannelTreasuryDeposit}))

	// Case 5: subscriber counts cover every channel
	counts := uut.subscriberCounts()
	assert.Len(counts, len(AllChannels()))
	assert.Equal(1, counts[ChannelTreasuryDeposit])
	assert.Equal(0, counts[ChannelProposalVote])
}
