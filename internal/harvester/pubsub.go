package harvester

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
)

// PubSubProvider receives Graph change-notification relays from a
// Pub/Sub subscription and pushes them into the stream buffer. Messages
// are acked once buffered; a full buffer nacks for redelivery.
type PubSubProvider struct {
	projectID    string
	subscription string
	stream       *StreamManager
	logger       *log.Logger
}

// NewPubSubProvider wires a subscription onto the stream manager.
func NewPubSubProvider(projectID, subscription string, stream *StreamManager) *PubSubProvider {
	return &PubSubProvider{
		projectID:    projectID,
		subscription: subscription,
		stream:       stream,
		logger:       log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}
}

// notification is the relay message shape.
type notification struct {
	TenantID    string `json:"tenant_id"`
	FilePath    string `json:"file_path"`
	Action      string `json:"action"`
	UserName    string `json:"user_name"`
	ProcessName string `json:"process_name"`
	EventTime   string `json:"event_time"` // RFC 3339
}

// Run receives until ctx is cancelled.
func (p *PubSubProvider) Run(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, p.projectID)
	if err != nil {
		return err
	}
	defer client.Close()

	sub := client.Subscription(p.subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = 1000

	p.logger.Printf("receiving on %s/%s", p.projectID, p.subscription)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		event, tenantID, ok := p.decode(msg.Data)
		if !ok {
			// Poison messages are acked; redelivery cannot fix them.
			msg.Ack()
			return
		}
		if p.stream.Push(tenantID, event) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (p *PubSubProvider) decode(data []byte) (RawAccessEvent, uuid.UUID, bool) {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		p.logger.Printf("undecodable message dropped: %v", err)
		return RawAccessEvent{}, uuid.Nil, false
	}
	tenantID, err := uuid.Parse(n.TenantID)
	if err != nil {
		p.logger.Printf("message without tenant dropped")
		return RawAccessEvent{}, uuid.Nil, false
	}
	ts, err := time.Parse(time.RFC3339, n.EventTime)
	if err != nil {
		ts = time.Now().UTC()
	}
	return RawAccessEvent{
		FilePath:    n.FilePath,
		Action:      core.AccessAction(n.Action),
		UserName:    n.UserName,
		ProcessName: n.ProcessName,
		EventTime:   ts,
	}, tenantID, true
}
