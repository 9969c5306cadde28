// Package nsqaudit publishes audit records to an NSQ topic.
package nsqaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"

	audit "github.com/kafeiih/go-opaudit"
)

// Publisher is the subset of *nsq.Producer used by Sink.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NewProducer connects a producer to the nsqd at addr with default config.
func NewProducer(addr string) (*nsq.Producer, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("cannot create producer with nsqd=%q: %w", addr, err)
	}
	return p, nil
}

// Message is the body published for one audited call.
type Message struct {
	LatencyMs int64           `json:"latencyMs"`
	Records   []RecordMessage `json:"records"`
}

// RecordMessage is the wire form of an audit.Record.
type RecordMessage struct {
	ID            string    `json:"id"`
	AuditType     string    `json:"auditType"`
	Description   string    `json:"description,omitempty"`
	OperationType string    `json:"operationType"`
	ObjectType    string    `json:"objectType"`
	UserID        string    `json:"userId"`
	Username      string    `json:"username,omitempty"`
	Tenant        string    `json:"tenant,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	ObjectID      *int64    `json:"objectId"`
	ObjectName    string    `json:"objectName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewMessage converts the records of one call into their wire form.
// Unresolved object ids are encoded as null.
func NewMessage(records []audit.Record, latencyMs int64) Message {
	msg := Message{LatencyMs: latencyMs, Records: make([]RecordMessage, 0, len(records))}
	for _, r := range records {
		var objectID *int64
		if r.HasObjectID() {
			id := *r.ObjectID
			objectID = &id
		}
		msg.Records = append(msg.Records, RecordMessage{
			ID:            r.ID.String(),
			AuditType:     string(r.Type),
			Description:   r.Description,
			OperationType: string(r.OperationType),
			ObjectType:    string(r.ObjectType),
			UserID:        r.Actor.UserID,
			Username:      r.Actor.Username,
			Tenant:        r.Actor.Tenant,
			CorrelationID: r.Actor.CorrelationID,
			IP:            r.Actor.IP,
			UserAgent:     r.Actor.UserAgent,
			ObjectID:      objectID,
			ObjectName:    r.ObjectName,
			CreatedAt:     r.CreatedAt,
		})
	}
	return msg
}

// Sink implements audit.Sink by publishing one message per call.
type Sink struct {
	publisher Publisher
	topic     string
}

// NewSink validates topic and returns a Sink publishing to it.
func NewSink(publisher Publisher, topic string) (*Sink, error) {
	if !nsq.IsValidTopicName(topic) {
		return nil, fmt.Errorf("invalid nsq topic %q", topic)
	}
	return &Sink{publisher: publisher, topic: topic}, nil
}

// AddAudit publishes the records. Calls with no records publish nothing.
func (s *Sink) AddAudit(_ context.Context, records []audit.Record, latencyMs int64) error {
	if len(records) == 0 {
		return nil
	}
	body, err := json.Marshal(NewMessage(records, latencyMs))
	if err != nil {
		return fmt.Errorf("cannot marshal audit message: %w", err)
	}
	if err := s.publisher.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.topic, err)
	}
	return nil
}
