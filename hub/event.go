package hub

import (
	"encoding/json"
	"time"

	"github.com/alin9661/govhub/common"
)

// Event a domain event bound to its channel. Events are built through the
// per-type constructors below so the payload shape for each channel is
// fixed at compile time.
type Event struct {
	name    string
	channel Channel
	payload interface{}
}

// Name the domain event name carried as the frame event name
func (e Event) Name() string {
	return e.name
}

// Channel the channel the event is published on
func (e Event) Channel() Channel {
	return e.channel
}

// MarshalPayload serialize the payload for transmission and storage
func (e Event) MarshalPayload() (json.RawMessage, error) {
	if raw, ok := e.payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(e.payload)
}

// ==============================================================================
// Domain event payloads, one per channel

// DepositPayload a confirmed deposit into the treasury
type DepositPayload struct {
	TxHash    string `json:"tx_hash" validate:"required"`
	Depositor string `json:"depositor" validate:"required"`
	// Amount in base units, as a decimal string to survive uint64 overflow
	Amount string `json:"amount" validate:"required"`
}

// BalanceChangePayload the treasury balance after a state change
type BalanceChangePayload struct {
	TxHash  string `json:"tx_hash" validate:"required"`
	Balance string `json:"balance" validate:"required"`
	Delta   string `json:"delta" validate:"required"`
}

// ProposalCreatedPayload a new governance proposal
type ProposalCreatedPayload struct {
	TxHash     string `json:"tx_hash" validate:"required"`
	ProposalID uint64 `json:"proposal_id"`
	Proposer   string `json:"proposer" validate:"required"`
	Title      string `json:"title" validate:"required"`
}

// VotePayload a vote cast on a proposal
type VotePayload struct {
	TxHash     string `json:"tx_hash" validate:"required"`
	ProposalID uint64 `json:"proposal_id"`
	Voter      string `json:"voter" validate:"required"`
	Approve    bool   `json:"approve"`
	Stake      string `json:"stake" validate:"required"`
}

// ApprovalPayload a proposal crossing its approval threshold
type ApprovalPayload struct {
	TxHash     string `json:"tx_hash" validate:"required"`
	ProposalID uint64 `json:"proposal_id"`
	Approver   string `json:"approver" validate:"required"`
	Approvals  uint32 `json:"approvals"`
	Threshold  uint32 `json:"threshold"`
}

// ElectionResultPayload a resolved council election
type ElectionResultPayload struct {
	ElectionID uint64 `json:"election_id"`
	Winner     string `json:"winner" validate:"required"`
	TotalVotes uint64 `json:"total_votes"`
}

// ==============================================================================
// Constructors

// NewDepositEvent deposit confirmed on chain
func NewDepositEvent(payload DepositPayload) Event {
	return Event{name: "deposit_made", channel: ChannelTreasuryDeposit, payload: payload}
}

// NewBalanceChangeEvent treasury balance moved
func NewBalanceChangeEvent(payload BalanceChangePayload) Event {
	return Event{name: "balance_changed", channel: ChannelTreasuryBalance, payload: payload}
}

// NewProposalCreatedEvent governance proposal opened
func NewProposalCreatedEvent(payload ProposalCreatedPayload) Event {
	return Event{name: "proposal_created", channel: ChannelProposalCreated, payload: payload}
}

// NewVoteEvent vote recorded against a proposal
func NewVoteEvent(payload VotePayload) Event {
	return Event{name: "vote_cast", channel: ChannelProposalVote, payload: payload}
}

// NewApprovalEvent proposal approval granted
func NewApprovalEvent(payload ApprovalPayload) Event {
	return Event{name: "approval_granted", channel: ChannelProposalApproval, payload: payload}
}

// NewElectionResultEvent election resolved
func NewElectionResultEvent(payload ElectionResultPayload) Event {
	return Event{name: "election_resolved", channel: ChannelElectionResult, payload: payload}
}

// NewRelayedEvent rebuild an event from an envelope received off the wire.
// Only the ingress bridge should need this; in-process emitters use the
// typed constructors.
func NewRelayedEvent(name string, channel Channel, payload json.RawMessage) (Event, error) {
	if !channel.Valid() {
		return Event{}, common.NewInvalidChannelError(string(channel))
	}
	return Event{name: name, channel: channel, payload: payload}, nil
}

// ==============================================================================
// Inter-process envelope

// EventEnvelope wire form of a domain event moving between the chain
// watcher and the hub server
type EventEnvelope struct {
	Event     string          `json:"event" validate:"required"`
	Channel   string          `json:"channel" validate:"required"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	EmittedAt int64           `json:"emitted_at" validate:"required"`
}

// Envelope package the event for transit
func (e Event) Envelope(at time.Time) (EventEnvelope, error) {
	payload, err := e.MarshalPayload()
	if err != nil {
		return EventEnvelope{}, err
	}
	return EventEnvelope{
		Event:     e.name,
		Channel:   string(e.channel),
		Payload:   payload,
		EmittedAt: epochMS(at),
	}, nil
}
