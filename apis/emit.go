package apis

import (
	"encoding/json"
	"net/http"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
)

// APIRestEmitHandler REST handler for in-process event emission. Used by
// the platform's CRUD services to announce state changes they committed.
type APIRestEmitHandler struct {
	APIRestHandler
	notifier hub.EventNotifier
}

// GetAPIRestEmitHandler define APIRestEmitHandler
func GetAPIRestEmitHandler(
	notifier hub.EventNotifier, httpConfig *common.HTTPConfig,
) (APIRestEmitHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "emit",
	}
	return APIRestEmitHandler{
		APIRestHandler: APIRestHandler{
			Component:       common.Component{LogTags: logTags},
			requestIDHeader: httpConfig.Logging.RequestIDHeader,
		},
		notifier: notifier,
	}, nil
}

// emitRequest decode one request body, replying 400 on parse failure
func (h APIRestEmitHandler) emitRequest(
	w http.ResponseWriter, r *http.Request, restCall string, params interface{},
) bool {
	if err := json.NewDecoder(r.Body).Decode(params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(h.LogTags).Error(msg)
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg),
			restCall,
		)
		return false
	}
	return true
}

// emitResult standard reply for an emission attempt
func (h APIRestEmitHandler) emitResult(
	w http.ResponseWriter, r *http.Request, restCall string, err error,
) {
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf("Emission rejected for %s", restCall)
		h.reply(
			w, http.StatusBadRequest,
			h.getStdRESTErrorMsg(r.Context(), http.StatusBadRequest, err.Error()),
			restCall,
		)
		return
	}
	h.reply(w, http.StatusOK, h.getStdRESTSuccessMsg(r.Context()), restCall)
}

// APIRestReqDeposit request body for announcing a treasury deposit
type APIRestReqDeposit struct {
	// Deposit the confirmed deposit
	Deposit hub.DepositPayload `json:"deposit"`
	// Balance the treasury balance after the deposit
	Balance hub.BalanceChangePayload `json:"balance"`
}

// EmitDeposit announce a confirmed treasury deposit and the resulting
// balance change
func (h APIRestEmitHandler) EmitDeposit(w http.ResponseWriter, r *http.Request) {
	restCall := "POST /v1/emit/deposit"
	var params APIRestReqDeposit
	if !h.emitRequest(w, r, restCall, &params) {
		return
	}
	h.emitResult(w, r, restCall, h.notifier.NotifyDeposit(params.Deposit, params.Balance))
}

// EmitDepositHandler Wrapper around EmitDeposit
func (h APIRestEmitHandler) EmitDepositHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.EmitDeposit(w, r)
	})
}

// EmitProposal announce a new governance proposal
func (h APIRestEmitHandler) EmitProposal(w http.ResponseWriter, r *http.Request) {
	restCall := "POST /v1/emit/proposal"
	var params hub.ProposalCreatedPayload
	if !h.emitRequest(w, r, restCall, &params) {
		return
	}
	h.emitResult(w, r, restCall, h.notifier.NotifyProposalCreated(params))
}

// EmitProposalHandler Wrapper around EmitProposal
func (h APIRestEmitHandler) EmitProposalHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.EmitProposal(w, r)
	})
}

// EmitVote announce a vote cast on a proposal
func (h APIRestEmitHandler) EmitVote(w http.ResponseWriter, r *http.Request) {
	restCall := "POST /v1/emit/vote"
	var params hub.VotePayload
	if !h.emitRequest(w, r, restCall, &params) {
		return
	}
	h.emitResult(w, r, restCall, h.notifier.NotifyVoteCast(params))
}

// EmitVoteHandler Wrapper around EmitVote
func (h APIRestEmitHandler) EmitVoteHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.EmitVote(w, r)
	})
}

// EmitApproval announce a proposal approval
func (h APIRestEmitHandler) EmitApproval(w http.ResponseWriter, r *http.Request) {
	restCall := "POST /v1/emit/approval"
	var params hub.ApprovalPayload
	if !h.emitRequest(w, r, restCall, &params) {
		return
	}
	h.emitResult(w, r, restCall, h.notifier.NotifyApprovalGranted(params))
}

// EmitApprovalHandler Wrapper around EmitApproval
func (h APIRestEmitHandler) EmitApprovalHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.EmitApproval(w, r)
	})
}

// EmitElection announce a resolved council election
func (h APIRestEmitHandler) EmitElection(w http.ResponseWriter, r *http.Request) {
	restCall := "POST /v1/emit/election"
	var params hub.ElectionResultPayload
	if !h.emitRequest(w, r, restCall, &params) {
		return
	}
	h.emitResult(w, r, restCall, h.notifier.NotifyElectionResolved(params))
}

// EmitElectionHandler Wrapper around EmitElection
func (h APIRestEmitHandler) EmitElectionHandler() http.HandlerFunc {
	return h.attachRequestID(func(w http.ResponseWriter, r *http.Request) {
		h.EmitElection(w, r)
	})
}
