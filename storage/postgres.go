package storage

import (
	"context"
	"time"

	"github.com/alin9661/govhub/common"
	"github.com/alin9661/govhub/hub"
	"github.com/apex/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// journalSchema durable record of every envelope the watcher produced.
// The hub's in-memory history serves live polling; this table is the
// audit trail.
const journalSchema = `
CREATE TABLE IF NOT EXISTS domain_events (
	id BIGSERIAL PRIMARY KEY,
	event TEXT NOT NULL,
	channel TEXT NOT NULL,
	payload JSONB NOT NULL,
	emitted_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS domain_events_channel_idx ON domain_events (channel, emitted_at);
`

// EventJournal durable record of emitted event envelopes. Write-only from
// this process; the audit trail is read through the platform's reporting
// tooling, not through the hub.
type EventJournal interface {
	// Record persist one envelope
	Record(ctxt context.Context, envelope hub.EventEnvelope) error
	// Close release the connection pool
	Close()
}

// eventJournalImpl implements EventJournal
type eventJournalImpl struct {
	common.Component
	pool *pgxpool.Pool
}

// GetEventJournal connect to Postgres and prepare the journal table
func GetEventJournal(
	ctxt context.Context, config common.PostgresConfig,
) (EventJournal, error) {
	logTags := log.Fields{
		"module":    "storage",
		"component": "event-journal",
	}
	connectCtxt, cancel := context.WithTimeout(
		ctxt, time.Second*time.Duration(config.ConnectTimeout),
	)
	defer cancel()
	pool, err := pgxpool.New(connectCtxt, config.URI)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection pool")
		return nil, err
	}
	if err := pool.Ping(connectCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Error("Postgres unreachable")
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(connectCtxt, journalSchema); err != nil {
		log.WithError(err).WithFields(logTags).Error("Journal schema setup failed")
		pool.Close()
		return nil, err
	}
	log.WithFields(logTags).Info("Event journal ready")
	return &eventJournalImpl{
		Component: common.Component{LogTags: logTags},
		pool:      pool,
	}, nil
}

// Record persist one envelope
func (j *eventJournalImpl) Record(ctxt context.Context, envelope hub.EventEnvelope) error {
	_, err := j.pool.Exec(
		ctxt,
		`INSERT INTO domain_events (event, channel, payload, emitted_at) VALUES ($1, $2, $3, $4)`,
		envelope.Event, envelope.Channel, []byte(envelope.Payload), envelope.EmittedAt,
	)
	if err != nil {
		log.WithError(err).WithFields(j.LogTags).Errorf(
			"Unable to journal %s event", envelope.Event,
		)
	}
	return err
}

// Close release the connection pool
func (j *eventJournalImpl) Close() {
	j.pool.Close()
	log.WithFields(j.LogTags).Info("Event journal closed")
}
