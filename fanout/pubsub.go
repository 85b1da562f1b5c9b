package fanout

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
)

// PubSubExporter mirrors fanout events to a Google Pub/Sub topic for downstream consumers.
type PubSubExporter struct {
	topic *pubsub.Topic
}

// Events of one room keep their order on the topic.
func NewPubSubExporter(topic *pubsub.Topic) *PubSubExporter {
	topic.EnableMessageOrdering = true
	return &PubSubExporter{topic: topic}
}

func (e *PubSubExporter) Publish(ctx context.Context, room, event string, payload any) error {
	f, err := eventFrame(room, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	res := e.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"room":  room,
			"event": event,
		},
		OrderingKey: room,
	})
	if _, err := res.Get(ctx); err != nil {
		// Ordered publishing pauses the key after a failure until resumed.
		e.topic.ResumePublish(room)
		return err
	}
	return nil
}

func (e *PubSubExporter) Stop() {
	e.topic.Stop()
}
