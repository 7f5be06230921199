package apis

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alin9661/govhub/hub"
	"github.com/stretchr/testify/assert"
)

// recordingEmitter collects events for inspection
type recordingEmitter struct {
	events []hub.Event
}

func (e *recordingEmitter) Emit(event hub.Event) error {
	e.events = append(e.events, event)
	return nil
}

func TestEmitHandlerDeposit(t *testing.T) {
	assert := assert.New(t)

	emitter := &recordingEmitter{}
	notifier, err := hub.GetEventNotifier(emitter)
	assert.Nil(err)
	uut, err := GetAPIRestEmitHandler(notifier, testHTTPConfig())
	assert.Nil(err)

	// Case 0: valid request produces both treasury events
	body, err := json.Marshal(APIRestReqDeposit{
		Deposit: hub.DepositPayload{TxHash: "0x1", Depositor: "0xabc", Amount: "500"},
		Balance: hub.BalanceChangePayload{TxHash: "0x1", Balance: "1500", Delta: "500"},
	})
	assert.Nil(err)
	req := httptest.NewRequest(http.MethodPost, "/v1/emit/deposit", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	uut.EmitDepositHandler().ServeHTTP(recorder, req)
	assert.Equal(http.StatusOK, recorder.Code)
	assert.Len(emitter.events, 2)

	// Case 1: malformed body
	req = httptest.NewRequest(
		http.MethodPost, "/v1/emit/deposit", bytes.NewReader([]byte("not json")),
	)
	recorder = httptest.NewRecorder()
	uut.EmitDepositHandler().ServeHTTP(recorder, req)
	assert.Equal(http.StatusBadRequest, recorder.Code)
	assert.Len(emitter.events, 2)

	// Case 2: validation failure
	body, err = json.Marshal(APIRestReqDeposit{
		Deposit: hub.DepositPayload{TxHash: "0x2"},
		Balance: hub.BalanceChangePayload{TxHash: "0x2", Balance: "1500", Delta: "0"},
	})
	assert.Nil(err)
	req = httptest.NewRequest(http.MethodPost, "/v1/emit/deposit", bytes.NewReader(body))
	recorder = httptest.NewRecorder()
	uut.EmitDepositHandler().ServeHTTP(recorder, req)
	assert.Equal(http.StatusBadRequest, recorder.Code)
	assert.Len(emitter.events, 2)
}

func TestEmitHandlerGovernance(t *testing.T) {
	assert := assert.New(t)

	emitter := &recordingEmitter{}
	notifier, err := hub.GetEventNotifier(emitter)
	assert.Nil(err)
	uut, err := GetAPIRestEmitHandler(notifier, testHTTPConfig())
	assert.Nil(err)

	post := func(handler http.HandlerFunc, target string, payload interface{}) *httptest.ResponseRecorder {
		body, err := json.Marshal(payload)
		assert.Nil(err)
		req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		return recorder
	}

	recorder := post(uut.EmitProposalHandler(), "/v1/emit/proposal", hub.ProposalCreatedPayload{
		TxHash: "0x1", ProposalID: 4, Proposer: "0xabc", Title: "rotate the council",
	})
	assert.Equal(http.StatusOK, recorder.Code)

	recorder = post(uut.EmitVoteHandler(), "/v1/emit/vote", hub.VotePayload{
		TxHash: "0x2", ProposalID: 4, Voter: "0xdef", Approve: true, Stake: "25",
	})
	assert.Equal(http.StatusOK, recorder.Code)

	recorder = post(uut.EmitApprovalHandler(), "/v1/emit/approval", hub.ApprovalPayload{
		TxHash: "0x3", ProposalID: 4, Approver: "0xdef", Approvals: 1, Threshold: 2,
	})
	assert.Equal(http.StatusOK, recorder.Code)

	recorder = post(uut.EmitElectionHandler(), "/v1/emit/election", hub.ElectionResultPayload{
		ElectionID: 2, Winner: "0xabc", TotalVotes: 99,
	})
	assert.Equal(http.StatusOK, recorder.Code)

	assert.Len(emitter.events, 4)

	// Incomplete payload rejected
	recorder = post(uut.EmitVoteHandler(), "/v1/emit/vote", hub.VotePayload{ProposalID: 4})
	assert.Equal(http.StatusBadRequest, recorder.Code)
	assert.Len(emitter.events, 4)
}
