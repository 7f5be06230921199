package apis

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alin9661/govhub/hub"
	"github.com/stretchr/testify/assert"
)

// readSSEFrame scan forward to the next data line and decode the frame
func readSSEFrame(t *testing.T, scanner *bufio.Scanner) hub.Frame {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			var frame hub.Frame
			assert.Nil(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
			return frame
		}
	}
	t.Fatal("stream ended before a frame arrived")
	return hub.Frame{}
}

func TestEventStreamSSE(t *testing.T) {
	assert := assert.New(t)

	eventHub, wg := testHubForAPIs(t)
	defer wg.Wait()

	uut, err := GetAPIRestEventStreamHandler(eventHub, context.Background(), testHTTPConfig())
	assert.Nil(err)

	server := httptest.NewServer(uut.StreamHandler())
	defer server.Close()

	req, err := http.NewRequest(
		http.MethodGet, server.URL+"?channels=treasury:deposit", nil,
	)
	assert.Nil(err)
	req.Header.Set(principalHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(err)
	defer func() {
		_ = resp.Body.Close()
	}()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)

	// Registration acknowledgement comes first
	connected := readSSEFrame(t, scanner)
	assert.Equal(hub.FrameEventConnected, connected.Event)
	var ack struct {
		ConnectionID string `json:"connection_id"`
		Principal    string `json:"principal"`
	}
	assert.Nil(json.Unmarshal(connected.Payload, &ack))
	assert.NotEmpty(ack.ConnectionID)
	assert.Equal("alice", ack.Principal)

	// Live broadcast
	assert.Nil(eventHub.Emit(hub.NewDepositEvent(hub.DepositPayload{
		TxHash: "0x1", Depositor: "0xabc", Amount: "10",
	})))
	frame := readSSEFrame(t, scanner)
	assert.Equal("deposit_made", frame.Event)
	assert.Equal(hub.ChannelTreasuryDeposit, frame.Channel)

	// Shutdown pushes the system notice before the stream ends
	assert.Nil(eventHub.Shutdown())
	frame = readSSEFrame(t, scanner)
	assert.Equal(hub.FrameEventSystem, frame.Event)
}

func TestSSESinkReleaseOnClose(t *testing.T) {
	assert := assert.New(t)

	recorder := httptest.NewRecorder()
	uut := newSSESink(recorder, recorder)

	assert.Nil(uut.Write(hub.Frame{Event: hub.FrameEventPing, Timestamp: 1}))
	select {
	case <-uut.released:
		assert.Fail("sink released before close")
	default:
	}

	assert.Nil(uut.Close())
	select {
	case <-uut.released:
	default:
		assert.Fail("close must release the sink")
	}

	// Closed sinks refuse further writes, and closing again is a no-op
	assert.NotNil(uut.Write(hub.Frame{Event: hub.FrameEventPing, Timestamp: 2}))
	assert.Nil(uut.Close())
}

func TestEventStreamShutdownFlush(t *testing.T) {
	assert := assert.New(t)

	eventHub, wg := testHubForAPIs(t)
	defer wg.Wait()

	uut, err := GetAPIRestEventStreamHandler(eventHub, context.Background(), testHTTPConfig())
	assert.Nil(err)

	server := httptest.NewServer(uut.StreamHandler())
	defer server.Close()

	resp, err := http.Get(server.URL + "?channels=treasury:deposit")
	assert.Nil(err)
	defer func() {
		_ = resp.Body.Close()
	}()
	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(hub.FrameEventConnected, readSSEFrame(t, scanner).Event)

	assert.Nil(eventHub.Shutdown())

	// The handler holds the response open until the writer pump has
	// flushed everything, so the shutdown notice always arrives before
	// the stream ends
	sawNotice := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame hub.Frame
		assert.Nil(json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		if frame.Event == hub.FrameEventSystem {
			sawNotice = true
		}
	}
	assert.True(sawNotice)
	assert.Equal(0, eventHub.Metrics().ActiveConnections)
}

func TestEventStreamReplay(t *testing.T) {
	assert := assert.New(t)

	eventHub, wg := testHubForAPIs(t)
	defer wg.Wait()
	defer func() {
		assert.Nil(eventHub.Shutdown())
	}()

	uut, err := GetAPIRestEventStreamHandler(eventHub, context.Background(), testHTTPConfig())
	assert.Nil(err)

	before := time.Now().Add(-time.Millisecond)
	assert.Nil(eventHub.Emit(hub.NewDepositEvent(hub.DepositPayload{
		TxHash: "0xaa", Depositor: "0xabc", Amount: "10",
	})))

	server := httptest.NewServer(uut.StreamHandler())
	defer server.Close()

	target := server.URL + "?channels=treasury:deposit&since=" +
		strconv.FormatInt(before.UnixMilli(), 10)
	req, err := http.NewRequest(http.MethodGet, target, nil)
	assert.Nil(err)
	resp, err := http.DefaultClient.Do(req)
	assert.Nil(err)
	defer func() {
		_ = resp.Body.Close()
	}()
	assert.Equal(http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	connected := readSSEFrame(t, scanner)
	assert.Equal(hub.FrameEventConnected, connected.Event)

	// The pre-connection event is replayed
	frame := readSSEFrame(t, scanner)
	assert.Equal("deposit_made", frame.Event)
}

func TestEventStreamRejectsUnknownChannel(t *testing.T) {
	assert := assert.New(t)

	eventHub, wg := testHubForAPIs(t)
	defer wg.Wait()
	defer func() {
		assert.Nil(eventHub.Shutdown())
	}()

	uut, err := GetAPIRestEventStreamHandler(eventHub, context.Background(), testHTTPConfig())
	assert.Nil(err)

	req := httptest.NewRequest(http.MethodGet, "/v1/stream?channels=bogus", nil)
	recorder := httptest.NewRecorder()
	uut.StreamHandler().ServeHTTP(recorder, req)
	assert.Equal(http.StatusBadRequest, recorder.Code)
	assert.Equal(0, eventHub.Metrics().ActiveConnections)
}
