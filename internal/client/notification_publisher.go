package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes leave workflow events to NATS JetStream
// for consumption by the portal's notification service.
//
// Subject convention: notifications.hr.<event_type>
// Event types: request_submitted, approval_required, request_approved,
//              request_rejected, request_edited, vacation_starting,
//              vacation_started, vacation_cancelled, substitute_assigned,
//              carry_over_expiring, zus_document_required, approval_overdue
//
// All publish operations are non-fatal: errors are logged but never propagated
// to the caller, so notification failures never interrupt leave accounting or
// status transitions.
type NotificationPublisher struct {
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType         string                 `json:"event_type"`
	UserID            string                 `json:"user_id"`
	Title             string                 `json:"title"`
	Message           string                 `json:"message"`
	RelatedEntityType string                 `json:"related_entity_type,omitempty"`
	RelatedEntityID   string                 `json:"related_entity_id,omitempty"`
	IsActionable      bool                   `json:"is_actionable,omitempty"`
	ActionURL         string                 `json:"action_url,omitempty"`
	Severity          string                 `json:"severity,omitempty"`
	Category          string                 `json:"category,omitempty"`
	Payload           map[string]interface{} `json:"payload,omitempty"`
}

// Notification is one message addressed to a single user.
type Notification struct {
	UserID            string
	Type              string
	Title             string
	Message           string
	RelatedEntityType string
	RelatedEntityID   string
	ActionURL         string
}

// NewNotificationPublisher creates a publisher backed by the given JetStream
// context. A nil context yields a publisher that drops all events, which keeps
// local development working without a NATS server.
func NewNotificationPublisher(js nats.JetStreamContext, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// Send publishes one notification event. Subject: notifications.hr.<type>.
func (p *NotificationPublisher) Send(ctx context.Context, n Notification) {
	if p.js == nil {
		return
	}
	if n.UserID == "" {
		return
	}

	event := &NotificationEvent{
		EventType:         n.Type,
		UserID:            n.UserID,
		Title:             n.Title,
		Message:           n.Message,
		RelatedEntityType: n.RelatedEntityType,
		RelatedEntityID:   n.RelatedEntityID,
		IsActionable:      n.ActionURL != "",
		ActionURL:         n.ActionURL,
		Severity:          "info",
		Category:          "hr_leave",
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", n.Type).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.hr.%s", n.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("user_id", n.UserID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("user_id", n.UserID).
		Msg("notification: event published")
}
