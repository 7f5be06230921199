package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/core"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
)

// subjectForChannel map a hub channel to a NATS subject under the prefix.
// Channel names use ':' as the separator, subjects use '.'.
func subjectForChannel(prefix string, channel hub.Channel) string {
	return fmt.Sprintf("%s.%s", prefix, strings.ReplaceAll(string(channel), ":", "."))
}

// EventPublisher transmit side of the watcher-to-hub bridge. Satisfies
// hub.Emitter, so the notifier drives it the same way it drives a local
// hub.
type EventPublisher interface {
	// Emit publish one event envelope for the hub servers
	Emit(event hub.Event) error
}

// eventPublisherImpl implements EventPublisher
type eventPublisherImpl struct {
	common.Component
	natsClient    core.NatsClient
	subjectPrefix string
}

// GetEventPublisher define a new event publisher
func GetEventPublisher(natsClient core.NatsClient, subjectPrefix string) (EventPublisher, error) {
	if subjectPrefix == "" {
		return nil, fmt.Errorf("event publisher requires a subject prefix")
	}
	logTags := log.Fields{
		"module":    "bridge",
		"component": "event-publisher",
	}
	return &eventPublisherImpl{
		Component:     common.Component{LogTags: logTags},
		natsClient:    natsClient,
		subjectPrefix: subjectPrefix,
	}, nil
}

// Emit publish one event envelope
func (p *eventPublisherImpl) Emit(event hub.Event) error {
	envelope, err := event.Envelope(time.Now())
	if err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf(
			"Unable to package %s event", event.Name(),
		)
		return err
	}
	serialize, err := json.Marshal(&envelope)
	if err != nil {
		return err
	}
	subject := subjectForChannel(p.subjectPrefix, event.Channel())
	if err := p.natsClient.NATs().Publish(subject, serialize); err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf("Publish on %s failed", subject)
		return err
	}
	log.WithFields(p.LogTags).Debugf("Published %s on %s", event.Name(), subject)
	return nil
}
