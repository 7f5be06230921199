package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/apex/log"
	"golang.org/x/time/rate"
)

// Chain event type tags as reported by the fullnode event index
const (
	chainEventDeposit         = "treasury::DepositEvent"
	chainEventProposalCreated = "governance::ProposalCreatedEvent"
	chainEventVote            = "governance::VoteEvent"
	chainEventApproval        = "governance::ApprovalEvent"
	chainEventElection        = "governance::ElectionResultEvent"
)

// ChainEvent one entry from the fullnode event index
type ChainEvent struct {
	// SequenceNumber position in the account's event stream
	SequenceNumber uint64 `json:"sequence_number,string"`
	// Type the move event type tag
	Type string `json:"type"`
	// TxHash hash of the transaction that produced the event
	TxHash string `json:"tx_hash"`
	// Data type-specific event fields
	Data json.RawMessage `json:"data"`
}

// FullnodeClient read access to the chain fullnode's event index
type FullnodeClient interface {
	// FetchEvents page through events on the watched address starting at
	// the given sequence number
	FetchEvents(ctxt context.Context, start uint64, limit int) ([]ChainEvent, error)
}

// fullnodeClientImpl implements FullnodeClient over the fullnode REST API
type fullnodeClientImpl struct {
	common.Component
	baseURI string
	address string
	client  *http.Client
	// pacer keeps the poll loop within the fullnode's request budget
	pacer *rate.Limiter
}

// GetFullnodeClient define a new fullnode client
func GetFullnodeClient(config common.ChainWatcherConfig) (FullnodeClient, error) {
	logTags := log.Fields{
		"module":    "chain",
		"component": "fullnode-client",
		"instance":  config.FullnodeURI,
	}
	return &fullnodeClientImpl{
		Component: common.Component{LogTags: logTags},
		baseURI:   config.FullnodeURI,
		address:   config.TreasuryAddress,
		client:    &http.Client{Timeout: time.Second * 30},
		pacer:     rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}, nil
}

// FetchEvents page through events on the watched address
func (c *fullnodeClientImpl) FetchEvents(
	ctxt context.Context, start uint64, limit int,
) ([]ChainEvent, error) {
	if err := c.pacer.Wait(ctxt); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf(
		"%s/v1/accounts/%s/events?start=%d&limit=%d",
		c.baseURI, url.PathEscape(c.address), start, limit,
	)
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Event fetch failed")
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fullnode replied %d", resp.StatusCode)
		log.WithError(err).WithFields(c.LogTags).Error("Event fetch rejected")
		return nil, err
	}
	var events []ChainEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Unable to parse event page")
		return nil, err
	}
	return events, nil
}
