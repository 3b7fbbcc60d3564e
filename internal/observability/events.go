package observability

import "context"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Publisher is the subset of the message bus used for websocket lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent sends an envelope through the configured publisher. Headers
// are folded into the envelope payload under "meta".
func PublishEvent(ctx context.Context, routingKey string, message EventEnvelope, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	if len(headers) > 0 {
		if payload, ok := message.Payload.(map[string]interface{}); ok {
			payload["meta"] = headers
		}
	}

	err := defaultPublisher.Publish(ctx, routingKey, message)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
