package stream

import (
	"context"
	"encoding/json"
	"net/url"

	"agentscan/internal/agent"
	"agentscan/internal/query"
	"agentscan/pkg/errors"
)

// eventsPath is the explorer endpoint serving the realtime event feed.
const eventsPath = "/api/events"

// EventCallbacks receives realtime registry events. All fields are optional.
type EventCallbacks struct {
	// OnEvent receives each decoded event.
	OnEvent func(evt agent.RealtimeEvent)
	// OnError receives connection-level failures. Malformed events never
	// reach it; they are dropped.
	OnError func(err error)
	// OnComplete fires when the feed ends.
	OnComplete func()
}

// EventStream is a handle on a realtime event subscription.
type EventStream struct {
	c *Client
}

// NewEventStream subscribes to the explorer's realtime feed at baseURL.
// With a non-empty types list only those wire channels are subscribed and
// the list is sent as a comma-joined types parameter; with an empty list
// every event is delivered and no parameter is sent.
func NewEventStream(ctx context.Context, baseURL string, types []string,
	cfg *Config, cb EventCallbacks) *EventStream {

	values := url.Values{}
	conf := cfg.clone()
	if joined := query.JoinTypes(types); joined != "" {
		values.Set("types", joined)
		conf.EventTypes = query.SplitTypes(joined)
	} else {
		conf.EventTypes = []string{AllEvents}
	}
	target := query.BuildURL(baseURL, eventsPath, values)

	es := &EventStream{}
	es.c = New(ctx, target, conf, Callbacks{
		OnMessage: func(msg Message) {
			es.dispatch(msg, cb)
		},
		OnError: func(err error) {
			// Malformed frames are a drop, not an error surface
			if errors.IsType(err, errors.ErrorTypeParse) {
				return
			}
			if cb.OnError != nil {
				cb.OnError(err)
			}
		},
		OnComplete: cb.OnComplete,
	})
	return es
}

// Close unsubscribes. Idempotent.
func (e *EventStream) Close() {
	e.c.Close()
}

// State returns the connection state of the underlying client.
func (e *EventStream) State() State {
	return e.c.State()
}

// dispatch decodes one event frame. Frames that do not decode or carry no
// payload are dropped silently.
func (e *EventStream) dispatch(msg Message, cb EventCallbacks) {
	if cb.OnEvent == nil {
		return
	}

	var evt agent.RealtimeEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	if evt.Type == "" || len(evt.Payload) == 0 {
		return
	}

	cb.OnEvent(evt)
}
