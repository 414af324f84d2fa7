package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (in-process) or NATS (distributed). All methods
// require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response. The responder
	// publishes its reply to the message's ReplyTo topic. Used for the
	// synchronous totals query served by the rollup worker.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message. ReplyTo is set only on request
// messages; a responder publishes its answer to that topic.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the deal fee pipeline.
const (
	TopicFeeCommitted  = "tally.fee.committed"
	TopicFeeOverridden = "tally.fee.overridden"
	TopicDealTotals    = "tally.deal.totals"

	// TopicTotalsQuery is the request topic for on-demand totals.
	// The rollup worker answers with a DealTotals payload. Dashboards on
	// other nodes use this instead of a direct repository connection.
	TopicTotalsQuery = "tally.deal.totals.query"
)

// FeeEvent is the payload published on fee topics after a commit or
// override. The rollup worker consumes it to refresh deal totals.
type FeeEvent struct {
	DealID        string `json:"dealId"`
	RuleVersionID string `json:"ruleVersionId,omitempty"`
	FeeID         string `json:"feeId,omitempty"`
	Actor         string `json:"actor,omitempty"`
	FeeCount      int    `json:"feeCount,omitempty"`
}

// TotalsEvent is published on TopicDealTotals once the rollup worker
// has recomputed and cached totals for a deal.
type TotalsEvent struct {
	DealID   string `json:"dealId"`
	TotalDue string `json:"totalDue"`
}

// TotalsQuery is the request payload on TopicTotalsQuery.
type TotalsQuery struct {
	DealID string `json:"dealId"`
}
