package chain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/hub"
	"github.com/alin9661/govhub/storage"
	"github.com/apex/log"
)

// journaledEmitter hub.Emitter decorator persisting every envelope before
// it goes out on the wire
type journaledEmitter struct {
	ctxt    context.Context
	next    hub.Emitter
	journal storage.EventJournal
}

func (e journaledEmitter) Emit(event hub.Event) error {
	envelope, err := event.Envelope(time.Now())
	if err != nil {
		return err
	}
	// Journal failure is not fatal for distribution
	_ = e.journal.Record(e.ctxt, envelope)
	return e.next.Emit(event)
}

// ChainWatcher polls the fullnode event index and republishes governance
// and treasury activity as domain events
type ChainWatcher interface {
	// Start begin the poll loop
	Start() error
	// Stop end the poll loop
	Stop() error
}

// chainWatcherImpl implements ChainWatcher
type chainWatcherImpl struct {
	common.Component
	config    common.ChainWatcherConfig
	fullnode  FullnodeClient
	notifier  hub.EventNotifier
	ctxt      context.Context
	cancel    context.CancelFunc
	pollTimer common.IntervalTimer
	// cursor next event sequence number to fetch
	cursor uint64
}

// GetChainWatcher define a new chain watcher. Envelopes go through the
// journal first, then out on the publisher.
func GetChainWatcher(
	config common.ChainWatcherConfig,
	fullnode FullnodeClient,
	publisher hub.Emitter,
	journal storage.EventJournal,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) (ChainWatcher, error) {
	logTags := log.Fields{
		"module":    "chain",
		"component": "watcher",
		"instance":  config.TreasuryAddress,
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	notifier, err := hub.GetEventNotifier(journaledEmitter{
		ctxt: ctxt, next: publisher, journal: journal,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	pollTimer, err := common.GetIntervalTimerInstance("chain-poll", ctxt, wg)
	if err != nil {
		cancel()
		return nil, err
	}
	return &chainWatcherImpl{
		Component: common.Component{LogTags: logTags},
		config:    config,
		fullnode:  fullnode,
		notifier:  notifier,
		ctxt:      ctxt,
		cancel:    cancel,
		pollTimer: pollTimer,
	}, nil
}

// Start begin the poll loop
func (w *chainWatcherImpl) Start() error {
	interval := time.Second * time.Duration(w.config.PollInterval)
	return w.pollTimer.Start(interval, func() error {
		w.poll()
		return nil
	}, false)
}

// Stop end the poll loop
func (w *chainWatcherImpl) Stop() error {
	if err := w.pollTimer.Stop(); err != nil {
		return err
	}
	w.cancel()
	return nil
}

// poll fetch one page of chain events and republish them
func (w *chainWatcherImpl) poll() {
	events, err := w.fullnode.FetchEvents(w.ctxt, w.cursor, w.config.PageSize)
	if err != nil {
		log.WithError(err).WithFields(w.LogTags).Error("Poll failed")
		return
	}
	for _, event := range events {
		if err := w.republish(event); err != nil {
			log.WithError(err).WithFields(w.LogTags).Errorf(
				"Unable to republish chain event %d", event.SequenceNumber,
			)
		}
		// Advance past the event even on failure so one malformed entry
		// can't wedge the stream
		if event.SequenceNumber >= w.cursor {
			w.cursor = event.SequenceNumber + 1
		}
	}
	if len(events) > 0 {
		log.WithFields(w.LogTags).Debugf(
			"Republished %d chain events, cursor now %d", len(events), w.cursor,
		)
	}
}

// depositEventData fullnode fields of a treasury deposit event
type depositEventData struct {
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
}

// proposalEventData fullnode fields of a proposal creation event
type proposalEventData struct {
	ProposalID uint64 `json:"proposal_id,string"`
	Proposer   string `json:"proposer"`
	Title      string `json:"title"`
}

// voteEventData fullnode fields of a vote event
type voteEventData struct {
	ProposalID uint64 `json:"proposal_id,string"`
	Voter      string `json:"voter"`
	Approve    bool   `json:"approve"`
	Stake      string `json:"stake"`
}

// approvalEventData fullnode fields of an approval event
type approvalEventData struct {
	ProposalID uint64 `json:"proposal_id,string"`
	Approver   string `json:"approver"`
	Approvals  uint32 `json:"approvals"`
	Threshold  uint32 `json:"threshold"`
}

// electionEventData fullnode fields of an election result event
type electionEventData struct {
	ElectionID uint64 `json:"election_id,string"`
	Winner     string `json:"winner"`
	TotalVotes uint64 `json:"total_votes,string"`
}

// republish convert one chain event into its domain events
func (w *chainWatcherImpl) republish(event ChainEvent) error {
	switch event.Type {
	case chainEventDeposit:
		var data depositEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		return w.notifier.NotifyDeposit(
			hub.DepositPayload{
				TxHash: event.TxHash, Depositor: data.Depositor, Amount: data.Amount,
			},
			hub.BalanceChangePayload{
				TxHash: event.TxHash, Balance: data.Balance, Delta: data.Amount,
			},
		)
	case chainEventProposalCreated:
		var data proposalEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		return w.notifier.NotifyProposalCreated(hub.ProposalCreatedPayload{
			TxHash:     event.TxHash,
			ProposalID: data.ProposalID,
			Proposer:   data.Proposer,
			Title:      data.Title,
		})
	case chainEventVote:
		var data voteEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		return w.notifier.NotifyVoteCast(hub.VotePayload{
			TxHash:     event.TxHash,
			ProposalID: data.ProposalID,
			Voter:      data.Voter,
			Approve:    data.Approve,
			Stake:      data.Stake,
		})
	case chainEventApproval:
		var data approvalEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		return w.notifier.NotifyApprovalGranted(hub.ApprovalPayload{
			TxHash:     event.TxHash,
			ProposalID: data.ProposalID,
			Approver:   data.Approver,
			Approvals:  data.Approvals,
			Threshold:  data.Threshold,
		})
	case chainEventElection:
		var data electionEventData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		return w.notifier.NotifyElectionResolved(hub.ElectionResultPayload{
			ElectionID: data.ElectionID,
			Winner:     data.Winner,
			TotalVotes: data.TotalVotes,
		})
	default:
		log.WithFields(w.LogTags).Debugf("Skipping unhandled chain event type %s", event.Type)
		return nil
	}
}
