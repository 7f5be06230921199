package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func testHubConfig() common.HubConfig {
	return common.HubConfig{
		SendQueueLen:      8,
		MaxConnections:    0,
		KeepaliveInterval: 3600,
		History: common.HistoryConfig{
			RetentionWindow: 300, MaxEntries: 64, SweepInterval: 3600,
		},
		InboundRateLimit: common.RateLimitConfig{
			MaxMessages: 2, Window: 10,
		},
	}
}

// mockSink collects written frames for inspection
type mockSink struct {
	frames    chan Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockSink() *mockSink {
	return &mockSink{frames: make(chan Frame, 64), closed: make(chan struct{})}
}

func (s *mockSink) Write(frame Frame) error {
	s.frames <- frame
	return nil
}

func (s *mockSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *mockSink) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case frame := <-s.frames:
		return frame
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for frame")
		return Frame{}
	}
}

func (s *mockSink) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case frame := <-s.frames:
		t.Fatalf("Unexpected frame %s", frame.String())
	case <-time.After(time.Millisecond * 100):
	}
}

func startTestHub(t *testing.T, config common.HubConfig) (EventHub, *sync.WaitGroup) {
	t.Helper()
	wg := &sync.WaitGroup{}
	uut, err := GetEventHub(config, context.Background(), wg)
	assert.Nil(t, err)
	assert.Nil(t, uut.Start())
	return uut, wg
}

func TestEventHubRegisterAndBroadcast(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.ErrorLevel)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	depositSink := newMockSink()
	voteSink := newMockSink()

	// Case 0: register two connections on different channels
	_, err := uut.Register(
		"conn-0", depositSink, []string{"treasury:deposit"}, AnonymousIdentity(),
	)
	assert.Nil(err)
	_, err = uut.Register(
		"conn-1", voteSink, []string{"proposals:vote"},
		Identity{Principal: "alice", Authenticated: true},
	)
	assert.Nil(err)

	// Both get the registration acknowledgement first
	connected := depositSink.nextFrame(t)
	assert.Equal(FrameEventConnected, connected.Event)
	connected = voteSink.nextFrame(t)
	assert.Equal(FrameEventConnected, connected.Event)

	metrics := uut.Metrics()
	assert.Equal(2, metrics.ActiveConnections)
	assert.EqualValues(2, metrics.TotalConnections)
	assert.Equal(1, metrics.SubscribersByChannel[ChannelTreasuryDeposit])

	// Case 1: broadcast reaches subscribers only
	assert.Nil(uut.Emit(NewDepositEvent(DepositPayload{
		TxHash: "0x1", Depositor: "0xabc", Amount: "1000",
	})))
	frame := depositSink.nextFrame(t)
	assert.Equal("deposit_made", frame.Event)
	assert.Equal(ChannelTreasuryDeposit, frame.Channel)
	assert.NotZero(frame.Timestamp)
	voteSink.expectNoFrame(t)

	// Case 2: duplicate connection ID rejected
	_, err = uut.Register("conn-0", newMockSink(), nil, AnonymousIdentity())
	assert.NotNil(err)

	// Case 3: unknown channel rejected with no registration
	_, err = uut.Register(
		"conn-2", newMockSink(), []string{"treasury:deposit", "bogus"}, AnonymousIdentity(),
	)
	assert.NotNil(err)
	assert.ErrorIs(err, common.ErrInvalidChannel)
	assert.Equal(2, uut.Metrics().ActiveConnections)
}

func TestEventHubSubscriptionChanges(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	sink := newMockSink()
	_, err := uut.Register("conn-0", sink, []string{"treasury:deposit"}, AnonymousIdentity())
	assert.Nil(err)
	assert.Equal(FrameEventConnected, sink.nextFrame(t).Event)

	// Case 0: not yet subscribed
	assert.Nil(uut.Emit(NewVoteEvent(VotePayload{
		TxHash: "0x1", ProposalID: 7, Voter: "0xabc", Approve: true, Stake: "50",
	})))
	sink.expectNoFrame(t)

	// Case 1: subscribe, then receive
	assert.Nil(uut.Subscribe("conn-0", []string{"proposals:vote"}))
	assert.Nil(uut.Emit(NewVoteEvent(VotePayload{
		TxHash: "0x2", ProposalID: 7, Voter: "0xdef", Approve: false, Stake: "10",
	})))
	assert.Equal("vote_cast", sink.nextFrame(t).Event)

	// Case 2: invalid channel leaves the set untouched
	err = uut.Subscribe("conn-0", []string{"elections:result", "bogus"})
	assert.NotNil(err)
	assert.Equal(0, uut.Metrics().SubscribersByChannel[ChannelElectionResult])

	// Case 3: unsubscribe stops delivery
	assert.Nil(uut.Unsubscribe("conn-0", []string{"proposals:vote"}))
	assert.Nil(uut.Emit(NewVoteEvent(VotePayload{
		TxHash: "0x3", ProposalID: 7, Voter: "0xabc", Approve: true, Stake: "5",
	})))
	sink.expectNoFrame(t)

	// Case 4: unknown connection
	assert.ErrorIs(uut.Subscribe("who", []string{"proposals:vote"}), common.ErrUnknownConnection)
}

func TestEventHubDeregister(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	sink := newMockSink()
	done, err := uut.Register("conn-0", sink, []string{"treasury:deposit"}, AnonymousIdentity())
	assert.Nil(err)

	assert.Nil(uut.Deregister("conn-0"))
	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail("teardown signal never fired")
	}
	select {
	case <-sink.closed:
	case <-time.After(time.Second):
		assert.Fail("sink never closed")
	}
	assert.Equal(0, uut.Metrics().ActiveConnections)

	// Deregistering again or with an unknown ID is a no-op
	assert.Nil(uut.Deregister("conn-0"))
	assert.Nil(uut.Deregister("never-existed"))
	assert.Equal(0, uut.Metrics().ActiveConnections)

	// Events after removal just go to history
	assert.Nil(uut.Emit(NewDepositEvent(DepositPayload{
		TxHash: "0x1", Depositor: "0xabc", Amount: "10",
	})))
	sink.expectNoFrame(t)
}

// blockingSink holds every write until released, to back up the delivery
// queue
type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Write(frame Frame) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close() error {
	return nil
}

func TestEventHubSlowConsumerIsolation(t *testing.T) {
	assert := assert.New(t)

	config := testHubConfig()
	config.SendQueueLen = 2
	uut, wg := startTestHub(t, config)
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	release := make(chan struct{})
	// Unblock the stuck pump even on a failed assertion, so shutdown can
	// drain and a failure cannot hang the package run
	defer close(release)
	slow := &blockingSink{release: release}
	healthy := newMockSink()

	_, err := uut.Register("slow", slow, []string{"treasury:deposit"}, AnonymousIdentity())
	assert.Nil(err)
	_, err = uut.Register("healthy", healthy, []string{"treasury:deposit"}, AnonymousIdentity())
	assert.Nil(err)
	assert.Equal(FrameEventConnected, healthy.nextFrame(t).Event)

	// The slow sink's pump is stuck on the connected frame; its queue
	// holds SendQueueLen more, everything past that drops
	for itr := 0; itr < 5; itr++ {
		assert.Nil(uut.Emit(NewDepositEvent(DepositPayload{
			TxHash: "0x1", Depositor: "0xabc", Amount: "10",
		})))
	}
	for itr := 0; itr < 5; itr++ {
		assert.Equal("deposit_made", healthy.nextFrame(t).Event)
	}
	assert.Eventually(func() bool {
		return uut.Metrics().DroppedFrames >= 3
	}, time.Second, time.Millisecond*10)
}

// failingSink rejects every write
type failingSink struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *failingSink) Write(frame Frame) error {
	return assert.AnError
}

func (s *failingSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func TestEventHubBrokenConnectionCleanup(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	broken := &failingSink{closed: make(chan struct{})}
	_, err := uut.Register("broken", broken, []string{"treasury:deposit"}, AnonymousIdentity())
	assert.Nil(err)

	// The write failure on the connected frame tears the connection down
	assert.Eventually(func() bool {
		return uut.Metrics().ActiveConnections == 0
	}, time.Second, time.Millisecond*10)
	select {
	case <-broken.closed:
	case <-time.After(time.Second):
		assert.Fail("sink never closed")
	}
}

func TestEventHubRecentEvents(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	before := time.Now().Add(-time.Millisecond)
	assert.Nil(uut.Emit(NewDepositEvent(DepositPayload{
		TxHash: "0x1", Depositor: "0xabc", Amount: "10",
	})))
	assert.Nil(uut.Emit(NewVoteEvent(VotePayload{
		TxHash: "0x2", ProposalID: 1, Voter: "0xdef", Approve: true, Stake: "1",
	})))

	// Case 0: no filter returns both
	events, err := uut.RecentEvents(nil, &before)
	assert.Nil(err)
	assert.Len(events, 2)

	// Case 1: channel filter
	events, err = uut.RecentEvents([]string{"treasury:deposit"}, &before)
	assert.Nil(err)
	assert.Len(events, 1)
	assert.Equal("deposit_made", events[0].Event)

	// Case 2: since is exclusive of the event's own timestamp
	cutoff := time.UnixMilli(events[0].Timestamp)
	events, err = uut.RecentEvents([]string{"treasury:deposit"}, &cutoff)
	assert.Nil(err)
	assert.Empty(events)

	// Case 3: invalid channel
	_, err = uut.RecentEvents([]string{"bogus"}, nil)
	assert.ErrorIs(err, common.ErrInvalidChannel)

	// Case 4: emissions count on the metrics even with no subscribers
	metrics := uut.Metrics()
	assert.EqualValues(2, metrics.TotalEvents)
	assert.EqualValues(1, metrics.EventsByChannel[ChannelTreasuryDeposit])
}

func TestEventHubInboundAllowance(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	// Configured allowance is 2 per window
	assert.Nil(uut.AllowInbound("conn-0"))
	assert.Nil(uut.AllowInbound("conn-0"))
	assert.ErrorIs(uut.AllowInbound("conn-0"), common.ErrRateLimited)
	assert.Nil(uut.AllowInbound("conn-1"))
}

func TestEventHubNotify(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	sink := newMockSink()
	_, err := uut.Register("conn-0", sink, nil, AnonymousIdentity())
	assert.Nil(err)
	assert.Equal(FrameEventConnected, sink.nextFrame(t).Event)

	assert.Nil(uut.Notify("conn-0", NewPongFrame(time.Now())))
	assert.Equal(FrameEventPong, sink.nextFrame(t).Event)

	assert.ErrorIs(uut.Notify("who", NewPongFrame(time.Now())), common.ErrUnknownConnection)
}

func TestEventHubKeepalive(t *testing.T) {
	assert := assert.New(t)

	config := testHubConfig()
	config.KeepaliveInterval = 1
	uut, wg := startTestHub(t, config)
	defer wg.Wait()
	defer func() {
		assert.Nil(uut.Shutdown())
	}()

	sink := newMockSink()
	_, err := uut.Register("conn-0", sink, []string{"treasury:deposit"}, AnonymousIdentity())
	assert.Nil(err)
	assert.Equal(FrameEventConnected, sink.nextFrame(t).Event)

	// Case 0: the liveness probe fires on the configured interval
	select {
	case frame := <-sink.frames:
		assert.Equal(FrameEventPing, frame.Event)
		assert.NotZero(frame.Timestamp)
	case <-time.After(time.Second * 3):
		assert.Fail("keepalive probe never fired")
	}

	// Case 1: probes stop once the connection is deregistered
	assert.Nil(uut.Deregister("conn-0"))
	select {
	case <-sink.closed:
	case <-time.After(time.Second):
		assert.Fail("sink never closed")
	}
	drained := false
	for !drained {
		select {
		case <-sink.frames:
		default:
			drained = true
		}
	}
	select {
	case frame := <-sink.frames:
		t.Fatalf("probe %s after deregistration", frame.String())
	case <-time.After(time.Millisecond * 1500):
	}
}

func TestEventHubShutdown(t *testing.T) {
	assert := assert.New(t)

	uut, wg := startTestHub(t, testHubConfig())
	defer wg.Wait()

	sinks := make([]*mockSink, 3)
	for itr, id := range []string{"conn-0", "conn-1", "conn-2"} {
		sinks[itr] = newMockSink()
		_, err := uut.Register(id, sinks[itr], []string{"treasury:deposit"}, AnonymousIdentity())
		assert.Nil(err)
		assert.Equal(FrameEventConnected, sinks[itr].nextFrame(t).Event)
	}

	assert.Nil(uut.Shutdown())

	// Every connection got the shutdown notice and its sink was closed
	for _, sink := range sinks {
		assert.Equal(FrameEventSystem, sink.nextFrame(t).Event)
		select {
		case <-sink.closed:
		case <-time.After(time.Second):
			assert.Fail("sink never closed")
		}
	}

	// Metrics stay readable after shutdown
	metrics := uut.Metrics()
	assert.Equal(0, metrics.ActiveConnections)
	assert.EqualValues(3, metrics.TotalConnections)

	// Operations after shutdown are rejected
	_, err := uut.Register("conn-3", newMockSink(), nil, AnonymousIdentity())
	assert.ErrorIs(err, common.ErrNotRunning)
	assert.ErrorIs(uut.Emit(NewDepositEvent(DepositPayload{
		TxHash: "0x1", Depositor: "0xabc", Amount: "10",
	})), common.ErrNotRunning)
	assert.ErrorIs(uut.Subscribe("conn-0", []string{"treasury:deposit"}), common.ErrNotRunning)

	// Shutdown is idempotent
	assert.Nil(uut.Shutdown())

	// Restart after shutdown is not supported
	assert.NotNil(uut.Start())
}
