package hub

import (
	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// Emitter the part of EventHub the notifier needs. The chain watcher's
// publisher satisfies it too, so the same notifier runs in both the hub
// server and the watcher process.
type Emitter interface {
	Emit(event Event) error
}

// EventNotifier high level entry point for announcing domain state
// changes. It owns the mapping from one state change to the events it
// produces, so callers never assemble channel/event pairs by hand.
type EventNotifier interface {
	// NotifyDeposit a confirmed treasury deposit. Produces the deposit
	// event and the resulting balance change as two separate emissions.
	NotifyDeposit(deposit DepositPayload, balance BalanceChangePayload) error
	// NotifyProposalCreated a new governance proposal opened
	NotifyProposalCreated(payload ProposalCreatedPayload) error
	// NotifyVoteCast a vote recorded against a proposal
	NotifyVoteCast(payload VotePayload) error
	// NotifyApprovalGranted a proposal approval registered
	NotifyApprovalGranted(payload ApprovalPayload) error
	// NotifyElectionResolved a council election concluded
	NotifyElectionResolved(payload ElectionResultPayload) error
}

// eventNotifierImpl implements EventNotifier
type eventNotifierImpl struct {
	common.Component
	emitter  Emitter
	validate *validator.Validate
}

// GetEventNotifier define a new event notifier against an emitter
func GetEventNotifier(emitter Emitter) (EventNotifier, error) {
	logTags := log.Fields{
		"module": "hub", "component": "event-notifier",
	}
	return &eventNotifierImpl{
		Component: common.Component{LogTags: logTags},
		emitter:   emitter,
		validate:  validator.New(),
	}, nil
}

func (n *eventNotifierImpl) NotifyDeposit(
	deposit DepositPayload, balance BalanceChangePayload,
) error {
	if err := n.validate.Struct(&deposit); err != nil {
		return err
	}
	if err := n.validate.Struct(&balance); err != nil {
		return err
	}
	if err := n.emitter.Emit(NewDepositEvent(deposit)); err != nil {
		return err
	}
	// The balance event must still go out even if no one subscribes to
	// deposits; the two channels have independent audiences
	if err := n.emitter.Emit(NewBalanceChangeEvent(balance)); err != nil {
		return err
	}
	log.WithFields(n.LogTags).Infof("Announced deposit %s", deposit.TxHash)
	return nil
}

func (n *eventNotifierImpl) NotifyProposalCreated(payload ProposalCreatedPayload) error {
	if err := n.validate.Struct(&payload); err != nil {
		return err
	}
	return n.emitter.Emit(NewProposalCreatedEvent(payload))
}

func (n *eventNotifierImpl) NotifyVoteCast(payload VotePayload) error {
	if err := n.validate.Struct(&payload); err != nil {
		return err
	}
	return n.emitter.Emit(NewVoteEvent(payload))
}

func (n *eventNotifierImpl) NotifyApprovalGranted(payload ApprovalPayload) error {
	if err := n.validate.Struct(&payload); err != nil {
		return err
	}
	return n.emitter.Emit(NewApprovalEvent(payload))
}

func (n *eventNotifierImpl) NotifyElectionResolved(payload ElectionResultPayload) error {
	if err := n.validate.Struct(&payload); err != nil {
		return err
	}
	return n.emitter.Emit(NewElectionResultEvent(payload))
}
