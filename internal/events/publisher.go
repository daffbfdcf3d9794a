// Package events publishes visit lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event types.
const (
	VisitScheduled       = "visit.scheduled"
	VisitCheckedIn       = "visit.checked_in"
	VisitPhotoUploaded   = "visit.photo_uploaded"
	VisitFollowUpCreated = "visit.follow_up_created"
	VisitPaymentRecorded = "visit.payment_recorded"
	VisitCheckedOut      = "visit.checked_out"
	VisitCompleted       = "visit.completed"
	VisitCancelled       = "visit.cancelled"
	VisitUpdated         = "visit.updated"
	DailyReportGenerated = "report.daily_generated"
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
}

// Publisher sends events on <prefix>.<event type>.
//
// Publishing is fire-and-forget: errors are logged and never returned, so a
// broker outage never fails a request. A nil *Publisher or one without a
// connection is a no-op.
type Publisher struct {
	conn   conn
	prefix string
	log    zerolog.Logger
}

// Event is the JSON body published to NATS.
type Event struct {
	Type       string                 `json:"type"`
	ActorID    string                 `json:"actor_id,omitempty"`
	ResourceID string                 `json:"resource_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Connect dials NATS. An empty url returns a disabled publisher.
func Connect(url, prefix string, log zerolog.Logger) (*Publisher, func(), error) {
	if url == "" {
		log.Info().Msg("events: NATS_URL not set, publishing disabled")
		return &Publisher{prefix: prefix, log: log}, func() {}, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("fieldsales-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("events: disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("events: reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("events: drain failed")
		}
	}
	return &Publisher{conn: nc, prefix: prefix, log: log}, closeFn, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(c conn, prefix string, log zerolog.Logger) *Publisher {
	return &Publisher{conn: c, prefix: prefix, log: log}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, eventType, resourceID, actorID string, payload map[string]interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	event := Event{
		Type:       eventType,
		ActorID:    actorID,
		ResourceID: resourceID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("events: failed to marshal event")
		return
	}

	subject := p.Subject(eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("events: failed to publish (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Msg("events: published")
}
