package commbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// =============================================================================
// NATS BRIDGE
// =============================================================================

// DefaultSubjectPrefix is the NATS subject prefix for bridged traffic.
const DefaultSubjectPrefix = "jason"

// RemoteMessage is a dynamically-typed message received from NATS.
// It carries the original type name and the decoded JSON payload.
type RemoteMessage struct {
	Type     string
	Payload  map[string]any
	category string
}

// Category implements the Message interface.
func (m *RemoteMessage) Category() string { return m.category }

// MessageType implements the TypedMessage interface.
func (m *RemoteMessage) MessageType() string { return m.Type }

// NATSBridge connects an in-process CommBus to a NATS deployment.
//
// Outbound: events published through the bridge go to the subject
// "<prefix>.events.<Type>" as JSON; queries use request-reply on
// "<prefix>.queries.<Type>".
//
// Inbound: BridgeInbound subscribes remote subjects and re-publishes
// decoded events on the local bus as RemoteMessage values, so a JASON
// core can follow runs executing in another process.
type NATSBridge struct {
	nc      *nats.Conn
	local   CommBus
	prefix  string
	logger  Logger
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewNATSBridge creates a bridge over an established NATS connection.
// A nil logger disables bridge logging.
func NewNATSBridge(nc *nats.Conn, local CommBus, prefix string, queryTimeout time.Duration, logger Logger) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &NATSBridge{
		nc:      nc,
		local:   local,
		prefix:  prefix,
		logger:  logger.Bind("component", "natsbridge"),
		timeout: queryTimeout,
	}
}

// PublishRemote publishes an event to the NATS deployment.
func (br *NATSBridge) PublishRemote(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	subject := fmt.Sprintf("%s.events.%s", br.prefix, eventType)
	if err := br.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	br.logger.Debug("published remote event", "subject", subject)
	return nil
}

// QueryRemote sends a query over NATS request-reply and decodes the
// response into out (a pointer to the expected response struct).
func (br *NATSBridge) QueryRemote(ctx context.Context, query Query, out any) error {
	queryType := GetMessageType(query)
	data, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", queryType, err)
	}

	subject := fmt.Sprintf("%s.queries.%s", br.prefix, queryType)
	msg, err := br.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", queryType, err)
	}
	return nil
}

// ServeQuery answers remote queries of the given type using a handler on
// the local bus. The handler's result is marshaled as the reply.
func (br *NATSBridge) ServeQuery(queryType string, build func(payload map[string]any) Query) error {
	subject := fmt.Sprintf("%s.queries.%s", br.prefix, queryType)
	sub, err := br.nc.Subscribe(subject, func(msg *nats.Msg) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			br.logger.Warn("bad query payload", "subject", subject, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), br.timeout)
		defer cancel()

		result, err := br.local.QuerySync(ctx, build(payload))
		if err != nil {
			br.logger.Warn("remote query failed", "subject", subject, "error", err)
			return
		}

		reply, err := json.Marshal(result)
		if err != nil {
			br.logger.Warn("marshal reply failed", "subject", subject, "error", err)
			return
		}
		if err := msg.Respond(reply); err != nil {
			br.logger.Warn("respond failed", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	br.subs = append(br.subs, sub)
	return nil
}

// BridgeInbound subscribes remote events of the given types and republishes
// them on the local bus as RemoteMessage values.
func (br *NATSBridge) BridgeInbound(eventTypes ...string) error {
	for _, eventType := range eventTypes {
		subject := fmt.Sprintf("%s.events.%s", br.prefix, eventType)
		et := eventType
		sub, err := br.nc.Subscribe(subject, func(msg *nats.Msg) {
			var payload map[string]any
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				br.logger.Warn("bad event payload", "subject", msg.Subject, "error", err)
				return
			}

			remote := &RemoteMessage{
				Type:     et,
				Payload:  payload,
				category: string(MessageCategoryEvent),
			}
			if err := br.local.Publish(context.Background(), remote); err != nil {
				br.logger.Warn("local republish failed", "subject", msg.Subject, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		br.subs = append(br.subs, sub)
	}
	return nil
}

// Close drains all bridge subscriptions. The NATS connection itself is
// owned by the caller and is not closed.
func (br *NATSBridge) Close() error {
	var firstErr error
	for _, sub := range br.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	br.subs = nil
	return firstErr
}
