package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/core"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// HubIngress receive side of the watcher-to-hub bridge. Reads event
// envelopes off NATS and emits them into the local hub.
type HubIngress interface {
	// Start begin consuming envelopes
	Start() error
	// Stop end the subscription
	Stop()
}

// hubIngressImpl implements HubIngress
type hubIngressImpl struct {
	common.Component
	natsClient    core.NatsClient
	hub           hub.EventHub
	subjectPrefix string
	ctxt          context.Context
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
	subscription  *nats.Subscription
}

// GetHubIngress define a new hub ingress
func GetHubIngress(
	natsClient core.NatsClient,
	eventHub hub.EventHub,
	subjectPrefix string,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) (HubIngress, error) {
	if subjectPrefix == "" {
		return nil, fmt.Errorf("hub ingress requires a subject prefix")
	}
	logTags := log.Fields{
		"module":    "bridge",
		"component": "hub-ingress",
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	return &hubIngressImpl{
		Component:     common.Component{LogTags: logTags},
		natsClient:    natsClient,
		hub:           eventHub,
		subjectPrefix: subjectPrefix,
		ctxt:          ctxt,
		cancel:        cancel,
		wg:            wg,
	}, nil
}

// Start begin consuming envelopes
func (i *hubIngressImpl) Start() error {
	subject := fmt.Sprintf("%s.>", i.subjectPrefix)
	subscription, err := i.natsClient.NATs().SubscribeSync(subject)
	if err != nil {
		log.WithError(err).WithFields(i.LogTags).Errorf("Subscribe on %s failed", subject)
		return err
	}
	i.subscription = subscription
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.consume()
	}()
	log.WithFields(i.LogTags).Infof("Consuming envelopes on %s", subject)
	return nil
}

// consume read envelopes until the context ends
func (i *hubIngressImpl) consume() {
	for {
		msg, err := i.subscription.NextMsgWithContext(i.ctxt)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.WithError(err).WithFields(i.LogTags).Error("Envelope read failed")
			return
		}
		i.process(msg)
	}
}

// process decode one envelope and emit it into the hub. Malformed
// envelopes are logged and skipped; the stream keeps flowing.
func (i *hubIngressImpl) process(msg *nats.Msg) {
	var envelope hub.EventEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		log.WithError(err).WithFields(i.LogTags).Errorf(
			"Discarding malformed envelope on %s", msg.Subject,
		)
		return
	}
	event, err := hub.NewRelayedEvent(envelope.Event, hub.Channel(envelope.Channel), envelope.Payload)
	if err != nil {
		log.WithError(err).WithFields(i.LogTags).Errorf(
			"Discarding envelope with unknown channel %s", envelope.Channel,
		)
		return
	}
	if err := i.hub.Emit(event); err != nil {
		log.WithError(err).WithFields(i.LogTags).Errorf(
			"Unable to emit relayed %s event", envelope.Event,
		)
	}
}

// Stop end the subscription
func (i *hubIngressImpl) Stop() {
	if i.subscription != nil {
		if err := i.subscription.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(i.LogTags).Error("Unsubscribe failed")
		}
	}
	i.cancel()
}
