package fanout

import (
	"context"
	"encoding/json"
)

// Publisher delivers event to every session subscribed to room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Handler receives one event delivered to a subscribed room.
type Handler = func(ctx context.Context, event string, payload []byte)

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSubscribed  = "subscribed"
	FrameEvent       = "event"
	FrameError       = "error"
)

// Frame is the JSON message exchanged on the websocket and carried by the relays.
type Frame struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	// Origin identifies the replica that published a relayed frame.
	Origin string `json:"origin,omitempty"`
}

func eventFrame(room, event string, payload any) (Frame, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		raw = data
	}
	return Frame{Type: FrameEvent, Room: room, Event: event, Payload: raw}, nil
}
