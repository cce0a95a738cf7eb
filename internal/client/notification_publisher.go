package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atis-edu/be-survey-approvals/internal/logger"
)

// Event types published on <prefix>.<event_type>.
const (
	EventSubmitted           = "survey_response_submitted"
	EventApprovalRequired    = "survey_response_approval_required"
	EventApproved            = "survey_response_approved"
	EventRejected            = "survey_response_rejected"
	EventReturnedForRevision = "survey_response_returned_for_revision"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes approval workflow events to NATS for the
// notification service.
//
// All publish operations are non-fatal: errors are logged but never returned,
// so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn   Conn
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType     string         `json:"event_type"`
	InstitutionID string         `json:"institution_id"`
	ActorID       string         `json:"actor_id"`
	Recipients    []string       `json:"recipients"`
	ResourceType  string         `json:"resource_type,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	IsActionable  bool           `json:"is_actionable,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	Category      string         `json:"category,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// NewNotificationPublisher creates a publisher. A nil conn disables publishing.
func NewNotificationPublisher(conn Conn, prefix string, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log}
}

// PublishApprovalEvent publishes a survey response approval event.
// Subject: <prefix>.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, responseID, institutionID, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:     eventType,
		InstitutionID: institutionID,
		ActorID:       actorID,
		Recipients:    recipients,
		ResourceType:  "survey_response",
		ResourceID:    responseID,
		IsActionable:  eventType == EventApprovalRequired || eventType == EventReturnedForRevision,
		Severity:      severityOf(eventType),
		Category:      "survey_approval",
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("response_id", responseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("response_id", responseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

func severityOf(eventType string) string {
	switch eventType {
	case EventRejected:
		return "warning"
	case EventReturnedForRevision:
		return "notice"
	default:
		return "info"
	}
}
